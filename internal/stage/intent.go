// Package stage contains the concrete pipeline stages. Each one is a thin
// specialization of the agent engine: a status tag, an input extractor, a
// prompt-driven (or, for rendering, deterministic) transformation and the
// successor queue.
package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/draftforge/api/internal/agent"
	"github.com/draftforge/api/internal/genai"
	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/queue"
)

// IntentStage turns the raw user prompt into a generation plan: resolved
// metadata plus an ordered structure plan. It is the pipeline's branching
// point: the plan's output format selects the layout track.
type IntentStage struct {
	gen *genai.Client
}

func NewIntentStage(gen *genai.Client) *IntentStage {
	return &IntentStage{gen: gen}
}

func (s *IntentStage) Name() string { return "intent" }

func (s *IntentStage) ProcessingStatus() model.JobStatus { return model.JobStatusProcessingIntent }

func (s *IntentStage) Progress() int { return 10 }

func (s *IntentStage) ExtractInput(job *model.Job) (model.UserPrompt, error) {
	env, err := model.DecodeEnvelope[model.UserPrompt](job, func(e *model.UserPrompt) string { return e.JobID })
	if err != nil {
		return model.UserPrompt{}, err
	}
	// A prompt envelope always carries the prompt text; downstream
	// envelopes decoded into this shape do not.
	if env.Prompt == "" {
		return model.UserPrompt{}, fmt.Errorf("%w: job %s carries no user prompt", agent.ErrStaleMessage, job.ID)
	}
	return env, nil
}

// RecoverOutput detects a redelivery that already produced the plan: the
// stored data decodes as this stage's envelope with a non-empty structure
// plan, which the raw prompt envelope never has.
func (s *IntentStage) RecoverOutput(job *model.Job) (model.IntentResponse, bool) {
	env, err := model.DecodeEnvelope[model.IntentResponse](job, func(e *model.IntentResponse) string { return e.JobID })
	if err != nil || len(env.Intent.StructurePlan) == 0 {
		return model.IntentResponse{}, false
	}
	return env, true
}

func (s *IntentStage) Process(ctx context.Context, in model.UserPrompt, job *model.Job) (model.IntentResponse, error) {
	spec := genai.Spec[model.IntentPlan]{
		System: intentSystemPrompt,
		User:   buildIntentPrompt(in),
		Check:  checkIntentPlan(in),
	}

	plan, err := genai.Generate(ctx, s.gen, spec)
	if err != nil {
		return model.IntentResponse{}, fmt.Errorf("plan generation: %w", err)
	}

	return model.IntentResponse{
		JobID:         in.JobID,
		Intent:        plan,
		PreviousStage: &in,
	}, nil
}

func (s *IntentStage) NextQueue(job *model.Job, out model.IntentResponse) (string, bool) {
	return queue.LayoutQueueFor(out.Intent.OutputFormat), true
}

const intentSystemPrompt = `You are a content strategist for an AI document editor.
Given a user's request, produce a generation plan: a title, the resolved
output format, audience, tone, language, and an ordered structure plan.
Always output your response as valid JSON in the exact format requested.
Do not include any text outside the JSON structure.`

func buildIntentPrompt(in model.UserPrompt) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan a %s for the following request.\n\n", in.OutputFormat)
	fmt.Fprintf(&sb, "Request: %s\n", in.Prompt)
	if in.Audience != "" {
		fmt.Fprintf(&sb, "Audience: %s\n", in.Audience)
	}
	if in.Tone != "" {
		fmt.Fprintf(&sb, "Tone: %s\n", in.Tone)
	}
	if in.Language != "" {
		fmt.Fprintf(&sb, "Language: %s\n", in.Language)
	}
	sb.WriteString(`
The structure plan lists the units of the final artifact in order: slides
for a presentation, sections for a document, sheets for a spreadsheet.
Use between 10 and 20 items for a presentation and between 3 and 12 for the
other formats. Give each item a short unique id (e.g. "s1", "s2"), a
heading and a one-sentence summary.

Output as JSON:
{"title": "...", "outputFormat": "` + string(in.OutputFormat) + `", "audience": "...", "tone": "...", "language": "...", "structurePlan": [{"id": "s1", "heading": "...", "summary": "..."}]}`)
	return sb.String()
}

// checkIntentPlan enforces the cross-field rules struct tags cannot: the
// requested output format must be honored and structure ids must be unique.
func checkIntentPlan(in model.UserPrompt) func(*model.IntentPlan) []genai.FieldError {
	return func(plan *model.IntentPlan) []genai.FieldError {
		var errs []genai.FieldError
		if in.OutputFormat != "" && plan.OutputFormat != in.OutputFormat {
			errs = append(errs, genai.FieldError{
				Field:   "outputFormat",
				Message: fmt.Sprintf("must be %q as requested, got %q", in.OutputFormat, plan.OutputFormat),
			})
		}
		seen := make(map[string]bool, len(plan.StructurePlan))
		for i, item := range plan.StructurePlan {
			if seen[item.ID] {
				errs = append(errs, genai.FieldError{
					Field:   fmt.Sprintf("structurePlan[%d].id", i),
					Message: fmt.Sprintf("duplicate id %q", item.ID),
				})
			}
			seen[item.ID] = true
		}
		return errs
	}
}
