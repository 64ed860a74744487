package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/draftforge/api/internal/agent"
	"github.com/draftforge/api/internal/genai"
	"github.com/draftforge/api/internal/model"
	"github.com/draftforge/api/internal/queue"
	"github.com/draftforge/api/internal/store"
)

// ContentStage fills every component the layout declared. After the first
// draft it runs a critique pass: the model reviews its own draft and
// returns a refined version. The critique is best-effort; if it cannot
// produce a valid refinement the first draft ships.
type ContentStage struct {
	gen    *genai.Client
	jobs   store.JobStore
	format model.OutputFormat
}

func NewContentStage(gen *genai.Client, jobs store.JobStore, format model.OutputFormat) *ContentStage {
	return &ContentStage{gen: gen, jobs: jobs, format: format}
}

func (s *ContentStage) Name() string { return "content-" + string(s.format) }

func (s *ContentStage) ProcessingStatus() model.JobStatus { return model.JobStatusProcessingContent }

func (s *ContentStage) Progress() int { return 60 }

func (s *ContentStage) ExtractInput(job *model.Job) (model.LayoutResponse, error) {
	env, err := model.DecodeEnvelope[model.LayoutResponse](job, func(e *model.LayoutResponse) string { return e.JobID })
	if err != nil {
		return model.LayoutResponse{}, err
	}
	// A valid layout envelope always carries blocks; data from a later
	// stage decoded into this shape leaves them empty.
	if len(env.Layout.Blocks) == 0 {
		return model.LayoutResponse{}, fmt.Errorf("%w: job %s carries no layout blocks", agent.ErrStaleMessage, job.ID)
	}
	return env, nil
}

func (s *ContentStage) RecoverOutput(job *model.Job) (model.ContentResponse, bool) {
	env, err := model.DecodeEnvelope[model.ContentResponse](job, func(e *model.ContentResponse) string { return e.JobID })
	if err != nil || len(env.Content.Blocks) == 0 {
		return model.ContentResponse{}, false
	}
	return env, true
}

func (s *ContentStage) Process(ctx context.Context, in model.LayoutResponse, job *model.Job) (model.ContentResponse, error) {
	if in.PreviousStage == nil {
		return model.ContentResponse{}, fmt.Errorf("layout envelope for job %s has no intent stage", in.JobID)
	}
	intent := in.PreviousStage.Intent

	check := checkContentDraft(in.Layout)
	draft, err := genai.Generate(ctx, s.gen, genai.Spec[model.ContentDraft]{
		System: contentSystemPrompt(s.format),
		User:   buildContentPrompt(intent, in.Layout),
		Check:  check,
	})
	if err != nil {
		return model.ContentResponse{}, fmt.Errorf("content generation: %w", err)
	}

	refined, critiqued := s.critique(ctx, job, intent, draft, check)

	return model.ContentResponse{
		JobID:         in.JobID,
		Content:       refined,
		Critiqued:     critiqued,
		PreviousStage: &in,
	}, nil
}

// critique asks the model to review and tighten its own draft. A failed
// critique keeps the original draft; the job does not fail over polish.
func (s *ContentStage) critique(ctx context.Context, job *model.Job, intent model.IntentPlan, draft model.ContentDraft, check func(*model.ContentDraft) []genai.FieldError) (model.ContentDraft, bool) {
	status := model.JobStatusCritiquing
	progress := 75
	if _, err := s.jobs.Update(ctx, job.ID, store.SystemScope, store.UpdateFields{
		Status:   &status,
		Progress: &progress,
	}); err != nil {
		log.Printf("[%s] job %s: update to critiquing: %v", s.Name(), job.ID, err)
	}

	draftJSON, err := json.Marshal(draft)
	if err != nil {
		return draft, false
	}

	refined, err := genai.Generate(ctx, s.gen, genai.Spec[model.ContentDraft]{
		System:     critiqueSystemPrompt,
		User:       buildCritiquePrompt(intent, string(draftJSON)),
		MaxRetries: 3,
		Check:      check,
	})
	if err != nil {
		log.Printf("[%s] job %s: critique pass failed, keeping draft: %v", s.Name(), job.ID, err)
		return draft, false
	}
	return refined, true
}

func (s *ContentStage) NextQueue(job *model.Job, out model.ContentResponse) (string, bool) {
	return queue.RenderQueueFor(s.format), true
}

func contentSystemPrompt(format model.OutputFormat) string {
	return fmt.Sprintf(`You are a professional writer filling in a %s for an AI document editor.
Write the content for every declared component. Match the requested tone
and audience, follow each component's hint, and keep text concise enough
for its component type.
Always output your response as valid JSON in the exact format requested.
Do not include any text outside the JSON structure.`, format)
}

const critiqueSystemPrompt = `You are an exacting editor reviewing generated content.
Improve clarity, flow and consistency without changing the structure: keep
every block and component id exactly as given, only rewrite the text,
items and rows.
Always output your response as valid JSON in the exact format requested.
Do not include any text outside the JSON structure.`

func buildContentPrompt(intent model.IntentPlan, layout model.LayoutPlan) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write the content for %q", intent.Title)
	if intent.Audience != "" {
		fmt.Fprintf(&sb, " (audience: %s", intent.Audience)
		if intent.Tone != "" {
			fmt.Fprintf(&sb, ", tone: %s", intent.Tone)
		}
		sb.WriteString(")")
	} else if intent.Tone != "" {
		fmt.Fprintf(&sb, " (tone: %s)", intent.Tone)
	}
	sb.WriteString(".\n\nBlocks and components to fill:\n")
	for _, block := range layout.Blocks {
		fmt.Fprintf(&sb, "Block %s (%s):\n", block.ID, block.Kind)
		for _, comp := range block.Components {
			fmt.Fprintf(&sb, "  - component %s (%s)", comp.ID, comp.Type)
			if comp.Hint != "" {
				fmt.Fprintf(&sb, ": %s", comp.Hint)
			}
			sb.WriteString("\n")
		}
	}
	sb.WriteString(`
Fill every component id listed above, and only those ids. Use "text" for
heading/body/quote, "items" for bullet_list, "rows" for table, and a short
"text" caption for image_slot.

Output as JSON:
{"blocks": [{"blockId": "b1", "components": [{"componentId": "c1", "text": "...", "items": ["..."], "rows": [["..."]]}]}]}`)
	return sb.String()
}

func buildCritiquePrompt(intent model.IntentPlan, draftJSON string) string {
	return fmt.Sprintf(`Review and improve this draft for %q. Return the full
revised draft in the same JSON shape, with every id unchanged.

Draft:
%s`, intent.Title, draftJSON)
}

// checkContentDraft enforces exact component coverage: every declared
// component id filled, none invented, none filled twice.
func checkContentDraft(layout model.LayoutPlan) func(*model.ContentDraft) []genai.FieldError {
	declared := make(map[string]bool)
	for _, block := range layout.Blocks {
		for _, comp := range block.Components {
			declared[comp.ID] = true
		}
	}

	return func(draft *model.ContentDraft) []genai.FieldError {
		var errs []genai.FieldError
		filled := make(map[string]bool, len(declared))
		for i, block := range draft.Blocks {
			for j, comp := range block.Components {
				if !declared[comp.ComponentID] {
					errs = append(errs, genai.FieldError{
						Field:   fmt.Sprintf("blocks[%d].components[%d].componentId", i, j),
						Message: fmt.Sprintf("%q was not declared by the layout", comp.ComponentID),
					})
					continue
				}
				if filled[comp.ComponentID] {
					errs = append(errs, genai.FieldError{
						Field:   fmt.Sprintf("blocks[%d].components[%d].componentId", i, j),
						Message: fmt.Sprintf("%q is filled more than once", comp.ComponentID),
					})
				}
				filled[comp.ComponentID] = true
			}
		}
		for id := range declared {
			if !filled[id] {
				errs = append(errs, genai.FieldError{
					Field:   "blocks",
					Message: fmt.Sprintf("component %q declared by the layout was not filled", id),
				})
			}
		}
		return errs
	}
}
