package model

import (
	"encoding/json"
	"fmt"
)

// The pipeline hands typed envelopes from stage to stage through the job's
// CurrentStepData. Each envelope embeds the full previous envelope, so any
// downstream stage can recover upstream context without re-fetching. The
// jobId is copied forward from the input envelope and checked against the
// job record at every boundary; it is never produced by the model.

// UserPrompt is the first envelope, written by the orchestrator at job
// creation.
type UserPrompt struct {
	JobID        string       `json:"jobId"`
	OwnerID      string       `json:"ownerId"`
	Prompt       string       `json:"prompt"`
	OutputFormat OutputFormat `json:"outputFormat"`
	Audience     string       `json:"audience,omitempty"`
	Tone         Tone         `json:"tone,omitempty"`
	Language     Language     `json:"language,omitempty"`
}

// IntentPlan is the model-generated portion of the intent stage output.
type IntentPlan struct {
	Title         string          `json:"title" validate:"required"`
	OutputFormat  OutputFormat    `json:"outputFormat" validate:"required,oneof=presentation document spreadsheet"`
	Audience      string          `json:"audience,omitempty"`
	Tone          Tone            `json:"tone,omitempty"`
	Language      Language        `json:"language,omitempty"`
	StructurePlan []StructureItem `json:"structurePlan" validate:"required,min=3,max=30,dive"`
}

// StructureItem is one planned unit of the final artifact: a slide, a
// document section, or a sheet.
type StructureItem struct {
	ID      string `json:"id" validate:"required"`
	Heading string `json:"heading" validate:"required"`
	Summary string `json:"summary,omitempty"`
}

type IntentResponse struct {
	JobID         string      `json:"jobId"`
	Intent        IntentPlan  `json:"intent"`
	PreviousStage *UserPrompt `json:"previousStage,omitempty"`
}

// LayoutPlan is the model-generated portion of the layout stage output.
type LayoutPlan struct {
	Blocks []LayoutBlock `json:"blocks" validate:"required,min=1,dive"`
}

// LayoutBlock maps one structure item to a concrete arrangement of
// components. StructureID must reference an item from the intent plan.
type LayoutBlock struct {
	ID          string            `json:"id" validate:"required"`
	StructureID string            `json:"structureId" validate:"required"`
	Kind        BlockKind         `json:"kind" validate:"required,oneof=title section content summary"`
	Components  []LayoutComponent `json:"components" validate:"required,min=1,dive"`
}

type LayoutComponent struct {
	ID   string        `json:"id" validate:"required"`
	Type ComponentType `json:"type" validate:"required,oneof=heading body bullet_list image_slot table quote"`
	Hint string        `json:"hint,omitempty"`
}

type LayoutResponse struct {
	JobID         string          `json:"jobId"`
	Layout        LayoutPlan      `json:"layout"`
	PreviousStage *IntentResponse `json:"previousStage,omitempty"`
}

// ContentDraft is the model-generated portion of the content stage output.
// Every component id declared by the layout must be filled, and no ids may
// be invented.
type ContentDraft struct {
	Blocks []BlockContentDraft `json:"blocks" validate:"required,min=1,dive"`
}

type BlockContentDraft struct {
	BlockID    string             `json:"blockId" validate:"required"`
	Components []ComponentContent `json:"components" validate:"required,min=1,dive"`
}

type ComponentContent struct {
	ComponentID string     `json:"componentId" validate:"required"`
	Text        string     `json:"text,omitempty"`
	Items       []string   `json:"items,omitempty"`
	Rows        [][]string `json:"rows,omitempty"`
}

type ContentResponse struct {
	JobID         string          `json:"jobId"`
	Content       ContentDraft    `json:"content"`
	Critiqued     bool            `json:"critiqued"`
	PreviousStage *LayoutResponse `json:"previousStage,omitempty"`
}

// RenderResponse is the terminal envelope: a deterministic conversion of
// the content into one of the editor document formats.
type RenderResponse struct {
	JobID         string           `json:"jobId"`
	Format        OutputFormat     `json:"format"`
	Title         string           `json:"title"`
	ArtifactKey   string           `json:"artifactKey,omitempty"`
	ArtifactURL   string           `json:"artifactUrl,omitempty"`
	Document      json.RawMessage  `json:"document"`
	PreviousStage *ContentResponse `json:"previousStage,omitempty"`
}

// DecodeEnvelope unmarshals a stage envelope out of a job's CurrentStepData
// and verifies that it belongs to the job it was read from.
func DecodeEnvelope[T any](job *Job, jobIDOf func(*T) string) (T, error) {
	var env T
	if len(job.CurrentStepData) == 0 {
		return env, fmt.Errorf("job %s has no stage data", job.ID)
	}
	if err := json.Unmarshal(job.CurrentStepData, &env); err != nil {
		return env, fmt.Errorf("decode stage data for job %s: %w", job.ID, err)
	}
	if got := jobIDOf(&env); got != job.ID {
		return env, fmt.Errorf("stage data belongs to job %q, expected %q", got, job.ID)
	}
	return env, nil
}
