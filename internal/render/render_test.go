package render

import (
	"strings"
	"testing"

	"github.com/draftforge/api/internal/model"
)

// fixture builds a full envelope chain: 2 planned items, each laid out as
// one block, every component filled.
func fixture() *model.ContentResponse {
	prompt := &model.UserPrompt{
		JobID:        "job-1",
		OwnerID:      "owner-1",
		Prompt:       "quarterly report",
		OutputFormat: model.FormatDocument,
	}
	intent := &model.IntentResponse{
		JobID: "job-1",
		Intent: model.IntentPlan{
			Title:        "Q3 Report",
			OutputFormat: model.FormatDocument,
			StructurePlan: []model.StructureItem{
				{ID: "s1", Heading: "Overview"},
				{ID: "s2", Heading: "Numbers"},
			},
		},
		PreviousStage: prompt,
	}
	layout := &model.LayoutResponse{
		JobID: "job-1",
		Layout: model.LayoutPlan{
			Blocks: []model.LayoutBlock{
				{
					ID: "b1", StructureID: "s1", Kind: model.BlockTitle,
					Components: []model.LayoutComponent{
						{ID: "c1", Type: model.ComponentHeading},
						{ID: "c2", Type: model.ComponentBody},
					},
				},
				{
					ID: "b2", StructureID: "s2", Kind: model.BlockContent,
					Components: []model.LayoutComponent{
						{ID: "c3", Type: model.ComponentBulletList},
						{ID: "c4", Type: model.ComponentTable},
					},
				},
			},
		},
		PreviousStage: intent,
	}
	return &model.ContentResponse{
		JobID: "job-1",
		Content: model.ContentDraft{
			Blocks: []model.BlockContentDraft{
				{
					BlockID: "b1",
					Components: []model.ComponentContent{
						{ComponentID: "c1", Text: "Q3 Report"},
						{ComponentID: "c2", Text: "A strong quarter."},
					},
				},
				{
					BlockID: "b2",
					Components: []model.ComponentContent{
						{ComponentID: "c3", Items: []string{"Revenue up", "Costs down"}},
						{ComponentID: "c4", Rows: [][]string{{"Metric", "Value"}, {"Revenue", "12M"}}},
					},
				},
			},
		},
		PreviousStage: layout,
	}
}

func TestPresentation(t *testing.T) {
	doc, err := Presentation(fixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Title != "Q3 Report" {
		t.Errorf("expected title from intent, got %q", doc.Title)
	}
	if len(doc.Slides) != 2 {
		t.Fatalf("expected one slide per block, got %d", len(doc.Slides))
	}

	first := doc.Slides[0]
	if first.ID != "b1" || first.Index != 0 {
		t.Errorf("unexpected first slide identity: %+v", first)
	}
	if len(first.Elements) != 2 {
		t.Fatalf("expected 2 elements, got %d", len(first.Elements))
	}

	heading := first.Elements[0]
	if heading.Type != model.ComponentHeading || heading.Text != "Q3 Report" {
		t.Errorf("unexpected heading element: %+v", heading)
	}
	if heading.Y >= first.Elements[1].Y {
		t.Error("elements must be stacked top to bottom")
	}
	if heading.Width <= 0 || heading.Height <= 0 {
		t.Errorf("element must have positive dimensions: %+v", heading)
	}
}

func TestDocument(t *testing.T) {
	doc, err := Document(fixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(doc.Sections) != 2 {
		t.Fatalf("expected one section per block, got %d", len(doc.Sections))
	}
	if doc.Sections[0].Heading != "Overview" {
		t.Errorf("expected structure heading, got %q", doc.Sections[0].Heading)
	}
	if doc.Sections[1].Heading != "Numbers" {
		t.Errorf("expected structure heading, got %q", doc.Sections[1].Heading)
	}

	blocks := doc.Sections[1].Blocks
	if len(blocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d", len(blocks))
	}
	if len(blocks[0].Items) != 2 {
		t.Errorf("expected bullet items carried through, got %+v", blocks[0])
	}
	if len(blocks[1].Rows) != 2 {
		t.Errorf("expected table rows carried through, got %+v", blocks[1])
	}
}

func TestSpreadsheet(t *testing.T) {
	doc, err := Spreadsheet(fixture())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(doc.Sheets) != 2 {
		t.Fatalf("expected one sheet per block, got %d", len(doc.Sheets))
	}
	if doc.Sheets[0].Name != "Overview" {
		t.Errorf("expected sheet named after structure heading, got %q", doc.Sheets[0].Name)
	}

	// Text components become single rows so nothing is dropped.
	first := doc.Sheets[0]
	if len(first.Rows) != 2 {
		t.Errorf("expected text components as rows, got %+v", first.Rows)
	}

	// The first table row becomes the header.
	second := doc.Sheets[1]
	if len(second.Header) != 2 || second.Header[0] != "Metric" {
		t.Errorf("expected table header promoted, got %+v", second.Header)
	}
	// Bullet items (2) plus the remaining table row (1).
	if len(second.Rows) != 3 {
		t.Errorf("expected 3 data rows, got %+v", second.Rows)
	}
}

func TestMissingContentFails(t *testing.T) {
	content := fixture()
	// Drop the content for c4.
	comps := content.Content.Blocks[1].Components
	content.Content.Blocks[1].Components = comps[:1]

	for name, fn := range map[string]func(*model.ContentResponse) error{
		"presentation": func(c *model.ContentResponse) error { _, err := Presentation(c); return err },
		"document":     func(c *model.ContentResponse) error { _, err := Document(c); return err },
		"spreadsheet":  func(c *model.ContentResponse) error { _, err := Spreadsheet(c); return err },
	} {
		err := fn(content)
		if err == nil {
			t.Errorf("%s: expected error for unfilled component", name)
			continue
		}
		if !strings.Contains(err.Error(), "c4") {
			t.Errorf("%s: error should name the component, got %v", name, err)
		}
	}
}

func TestBrokenChainFails(t *testing.T) {
	content := fixture()
	content.PreviousStage.PreviousStage = nil

	if _, err := Document(content); err == nil {
		t.Error("expected error when the intent stage is missing from the chain")
	}

	content.PreviousStage = nil
	if _, err := Document(content); err == nil {
		t.Error("expected error when the layout stage is missing from the chain")
	}
}
