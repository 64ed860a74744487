package model

import (
	"encoding/json"
	"time"
)

// Job represents one generation request flowing through the pipeline.
// CurrentStepData holds the most recently produced stage envelope and is
// overwritten at each stage boundary; queue messages only carry the job id.
type Job struct {
	ID              string          `json:"id"`
	OwnerID         string          `json:"ownerId"`
	Status          JobStatus       `json:"status"`
	Progress        int             `json:"progress"`
	CurrentStep     string          `json:"currentStep,omitempty"`
	Error           *string         `json:"error,omitempty"`
	CurrentStepData json.RawMessage `json:"currentStepData,omitempty"`
	ArtifactURL     string          `json:"artifactUrl,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	StartedAt       *time.Time      `json:"startedAt,omitempty"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
}

// GenerateStartRequest is the body of POST /api/generate/start.
type GenerateStartRequest struct {
	Prompt       string       `json:"prompt" validate:"required,min=3,max=4000"`
	OutputFormat OutputFormat `json:"outputFormat" validate:"required,oneof=presentation document spreadsheet"`
	Audience     string       `json:"audience,omitempty" validate:"max=200"`
	Tone         Tone         `json:"tone,omitempty" validate:"omitempty,oneof=professional casual persuasive academic playful"`
	Language     Language     `json:"language,omitempty" validate:"omitempty,oneof=en tr fr"`
}

// GenerateStartResponse is returned with 202 Accepted.
type GenerateStartResponse struct {
	JobID     string    `json:"jobId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// GenerateStatusResponse mirrors the job record for polling clients.
type GenerateStatusResponse struct {
	JobID       string     `json:"jobId"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// GenerateResultResponse is the final artifact for a completed job.
type GenerateResultResponse struct {
	JobID       string          `json:"jobId"`
	Format      OutputFormat    `json:"format"`
	Title       string          `json:"title"`
	ArtifactURL string          `json:"artifactUrl,omitempty"`
	Document    json.RawMessage `json:"document"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}
