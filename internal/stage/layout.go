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

// LayoutStage expands the structure plan into concrete blocks, one per
// planned item, each declaring the components the content stage must fill.
// One instance runs per output format; the prompt differs, the mechanics do
// not.
type LayoutStage struct {
	gen    *genai.Client
	format model.OutputFormat
}

func NewLayoutStage(gen *genai.Client, format model.OutputFormat) *LayoutStage {
	return &LayoutStage{gen: gen, format: format}
}

func (s *LayoutStage) Name() string { return "layout-" + string(s.format) }

func (s *LayoutStage) ProcessingStatus() model.JobStatus { return model.JobStatusProcessingLayout }

func (s *LayoutStage) Progress() int { return 35 }

func (s *LayoutStage) ExtractInput(job *model.Job) (model.IntentResponse, error) {
	env, err := model.DecodeEnvelope[model.IntentResponse](job, func(e *model.IntentResponse) string { return e.JobID })
	if err != nil {
		return model.IntentResponse{}, err
	}
	// A valid intent envelope always carries a structure plan; data from a
	// later stage decoded into this shape leaves it empty.
	if len(env.Intent.StructurePlan) == 0 {
		return model.IntentResponse{}, fmt.Errorf("%w: job %s carries no generation plan", agent.ErrStaleMessage, job.ID)
	}
	return env, nil
}

func (s *LayoutStage) RecoverOutput(job *model.Job) (model.LayoutResponse, bool) {
	env, err := model.DecodeEnvelope[model.LayoutResponse](job, func(e *model.LayoutResponse) string { return e.JobID })
	if err != nil || len(env.Layout.Blocks) == 0 {
		return model.LayoutResponse{}, false
	}
	return env, true
}

func (s *LayoutStage) Process(ctx context.Context, in model.IntentResponse, job *model.Job) (model.LayoutResponse, error) {
	spec := genai.Spec[model.LayoutPlan]{
		System: layoutSystemPrompt(s.format),
		User:   buildLayoutPrompt(in),
		Check:  checkLayoutPlan(in.Intent.StructurePlan),
	}

	plan, err := genai.Generate(ctx, s.gen, spec)
	if err != nil {
		return model.LayoutResponse{}, fmt.Errorf("layout generation: %w", err)
	}

	return model.LayoutResponse{
		JobID:         in.JobID,
		Layout:        plan,
		PreviousStage: &in,
	}, nil
}

func (s *LayoutStage) NextQueue(job *model.Job, out model.LayoutResponse) (string, bool) {
	return queue.ContentQueueFor(s.format), true
}

func layoutSystemPrompt(format model.OutputFormat) string {
	unit := "section"
	switch format {
	case model.FormatPresentation:
		unit = "slide"
	case model.FormatSpreadsheet:
		unit = "sheet"
	}
	return fmt.Sprintf(`You are a layout designer for an AI %s editor.
Given a generation plan, design one %s per structure item: pick a block
kind and declare the components that will hold the content.
Always output your response as valid JSON in the exact format requested.
Do not include any text outside the JSON structure.`, format, unit)
}

func buildLayoutPrompt(in model.IntentResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Design the layout for %q (%s", in.Intent.Title, in.Intent.OutputFormat)
	if in.Intent.Audience != "" {
		fmt.Fprintf(&sb, ", audience: %s", in.Intent.Audience)
	}
	if in.Intent.Tone != "" {
		fmt.Fprintf(&sb, ", tone: %s", in.Intent.Tone)
	}
	sb.WriteString(").\n\nStructure plan:\n")
	for _, item := range in.Intent.StructurePlan {
		fmt.Fprintf(&sb, "- %s: %s — %s\n", item.ID, item.Heading, item.Summary)
	}
	sb.WriteString(`
Produce exactly one block per structure item, in the same order, with
"structureId" referencing the item's id. Block kinds: title, section,
content, summary. Component types: heading, body, bullet_list, image_slot,
table, quote. Give every block and component a unique id.

Output as JSON:
{"blocks": [{"id": "b1", "structureId": "s1", "kind": "content", "components": [{"id": "c1", "type": "heading", "hint": "..."}]}]}`)
	return sb.String()
}

// checkLayoutPlan verifies block-to-plan correspondence: one block per
// structure item, valid references, unique component ids.
func checkLayoutPlan(plan []model.StructureItem) func(*model.LayoutPlan) []genai.FieldError {
	return func(layout *model.LayoutPlan) []genai.FieldError {
		var errs []genai.FieldError
		if len(layout.Blocks) != len(plan) {
			errs = append(errs, genai.FieldError{
				Field:   "blocks",
				Message: fmt.Sprintf("must contain exactly %d blocks (one per structure item), got %d", len(plan), len(layout.Blocks)),
			})
		}

		planIDs := make(map[string]bool, len(plan))
		for _, item := range plan {
			planIDs[item.ID] = true
		}

		seenComponents := make(map[string]bool)
		for i, block := range layout.Blocks {
			if !planIDs[block.StructureID] {
				errs = append(errs, genai.FieldError{
					Field:   fmt.Sprintf("blocks[%d].structureId", i),
					Message: fmt.Sprintf("%q does not reference a structure plan item", block.StructureID),
				})
			}
			for j, comp := range block.Components {
				if seenComponents[comp.ID] {
					errs = append(errs, genai.FieldError{
						Field:   fmt.Sprintf("blocks[%d].components[%d].id", i, j),
						Message: fmt.Sprintf("duplicate component id %q", comp.ID),
					})
				}
				seenComponents[comp.ID] = true
			}
		}
		return errs
	}
}
