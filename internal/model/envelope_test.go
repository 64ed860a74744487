package model

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeEnvelope(t *testing.T) {
	env := UserPrompt{JobID: "job-1", Prompt: "make a deck", OutputFormat: FormatPresentation}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	job := &Job{ID: "job-1", CurrentStepData: data}

	out, err := DecodeEnvelope[UserPrompt](job, func(e *UserPrompt) string { return e.JobID })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Prompt != "make a deck" {
		t.Errorf("unexpected envelope: %+v", out)
	}
}

func TestDecodeEnvelope_EmptyStepData(t *testing.T) {
	job := &Job{ID: "job-1"}
	_, err := DecodeEnvelope[UserPrompt](job, func(e *UserPrompt) string { return e.JobID })
	if err == nil || !strings.Contains(err.Error(), "no stage data") {
		t.Errorf("expected no-stage-data error, got %v", err)
	}
}

func TestDecodeEnvelope_JobIDMismatch(t *testing.T) {
	env := UserPrompt{JobID: "other-job", Prompt: "make a deck"}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	job := &Job{ID: "job-1", CurrentStepData: data}

	_, err = DecodeEnvelope[UserPrompt](job, func(e *UserPrompt) string { return e.JobID })
	if err == nil || !strings.Contains(err.Error(), "other-job") {
		t.Errorf("expected mismatch error naming the foreign job, got %v", err)
	}
}

func TestEnvelopeChainRoundTrip(t *testing.T) {
	prompt := &UserPrompt{JobID: "job-1", Prompt: "report", OutputFormat: FormatDocument}
	intent := &IntentResponse{
		JobID: "job-1",
		Intent: IntentPlan{
			Title:        "Report",
			OutputFormat: FormatDocument,
			StructurePlan: []StructureItem{
				{ID: "s1", Heading: "Intro"},
				{ID: "s2", Heading: "Body"},
				{ID: "s3", Heading: "Close"},
			},
		},
		PreviousStage: prompt,
	}
	layout := LayoutResponse{
		JobID: "job-1",
		Layout: LayoutPlan{Blocks: []LayoutBlock{
			{ID: "b1", StructureID: "s1", Kind: BlockTitle, Components: []LayoutComponent{{ID: "c1", Type: ComponentHeading}}},
		}},
		PreviousStage: intent,
	}

	data, err := json.Marshal(layout)
	if err != nil {
		t.Fatal(err)
	}
	job := &Job{ID: "job-1", CurrentStepData: data}

	out, err := DecodeEnvelope[LayoutResponse](job, func(e *LayoutResponse) string { return e.JobID })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The whole upstream chain survives the round trip.
	if out.PreviousStage == nil || out.PreviousStage.PreviousStage == nil {
		t.Fatal("expected full envelope chain")
	}
	if out.PreviousStage.Intent.Title != "Report" {
		t.Errorf("intent lost in the chain: %+v", out.PreviousStage.Intent)
	}
	if out.PreviousStage.PreviousStage.Prompt != "report" {
		t.Errorf("user prompt lost in the chain: %+v", out.PreviousStage.PreviousStage)
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	active := []JobStatus{
		JobStatusQueued, JobStatusProcessingIntent, JobStatusProcessingLayout,
		JobStatusProcessingContent, JobStatusCritiquing, JobStatusRendering,
	}
	for _, s := range active {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
