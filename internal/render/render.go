// Package render converts a validated content envelope into one of the
// fixed editor document formats. The conversion is deterministic; no model
// calls happen here.
package render

import (
	"fmt"

	"github.com/draftforge/api/internal/model"
)

const (
	slideWidth    = 1280
	slideHeight   = 720
	slideMargin   = 64
	elementGap    = 24
	headingHeight = 96
	elementHeight = 140
)

// chainOf unpacks the envelope chain a renderer needs.
func chainOf(content *model.ContentResponse) (*model.LayoutResponse, *model.IntentResponse, error) {
	layout := content.PreviousStage
	if layout == nil {
		return nil, nil, fmt.Errorf("content envelope for job %s has no layout stage", content.JobID)
	}
	intent := layout.PreviousStage
	if intent == nil {
		return nil, nil, fmt.Errorf("layout envelope for job %s has no intent stage", content.JobID)
	}
	return layout, intent, nil
}

// contentIndex maps component id to its filled content.
func contentIndex(content *model.ContentResponse) map[string]model.ComponentContent {
	idx := make(map[string]model.ComponentContent)
	for _, block := range content.Content.Blocks {
		for _, comp := range block.Components {
			idx[comp.ComponentID] = comp
		}
	}
	return idx
}

// Presentation renders the canvas editor format: one slide per layout
// block, components stacked top to bottom.
func Presentation(content *model.ContentResponse) (*model.PresentationDoc, error) {
	layout, intent, err := chainOf(content)
	if err != nil {
		return nil, err
	}
	filled := contentIndex(content)

	doc := &model.PresentationDoc{
		Title: intent.Intent.Title,
		Theme: "default",
	}

	for i, block := range layout.Layout.Blocks {
		slide := model.Slide{
			ID:    block.ID,
			Index: i,
		}
		y := slideMargin
		for _, comp := range block.Components {
			cc, ok := filled[comp.ID]
			if !ok {
				return nil, fmt.Errorf("component %s has no content", comp.ID)
			}
			height := elementHeight
			if comp.Type == model.ComponentHeading {
				height = headingHeight
			}
			slide.Elements = append(slide.Elements, model.SlideElement{
				ComponentID: comp.ID,
				Type:        comp.Type,
				Text:        cc.Text,
				Items:       cc.Items,
				Rows:        cc.Rows,
				X:           slideMargin,
				Y:           y,
				Width:       slideWidth - 2*slideMargin,
				Height:      height,
			})
			y += height + elementGap
		}
		doc.Slides = append(doc.Slides, slide)
	}

	return doc, nil
}

// Document renders the long-form editor format: one section per layout
// block, headed by the planned structure heading.
func Document(content *model.ContentResponse) (*model.DocumentDoc, error) {
	layout, intent, err := chainOf(content)
	if err != nil {
		return nil, err
	}
	filled := contentIndex(content)

	headings := make(map[string]string, len(intent.Intent.StructurePlan))
	for _, item := range intent.Intent.StructurePlan {
		headings[item.ID] = item.Heading
	}

	doc := &model.DocumentDoc{Title: intent.Intent.Title}
	for _, block := range layout.Layout.Blocks {
		section := model.DocSection{
			ID:      block.ID,
			Heading: headings[block.StructureID],
		}
		for _, comp := range block.Components {
			cc, ok := filled[comp.ID]
			if !ok {
				return nil, fmt.Errorf("component %s has no content", comp.ID)
			}
			section.Blocks = append(section.Blocks, model.DocBlock{
				ComponentID: comp.ID,
				Type:        comp.Type,
				Text:        cc.Text,
				Items:       cc.Items,
				Rows:        cc.Rows,
			})
		}
		doc.Sections = append(doc.Sections, section)
	}

	return doc, nil
}

// Spreadsheet renders the grid editor format: one sheet per layout block.
// Table components contribute their rows; text components become single
// rows so nothing the model produced is dropped.
func Spreadsheet(content *model.ContentResponse) (*model.SpreadsheetDoc, error) {
	layout, intent, err := chainOf(content)
	if err != nil {
		return nil, err
	}
	filled := contentIndex(content)

	headings := make(map[string]string, len(intent.Intent.StructurePlan))
	for _, item := range intent.Intent.StructurePlan {
		headings[item.ID] = item.Heading
	}

	doc := &model.SpreadsheetDoc{Title: intent.Intent.Title}
	for _, block := range layout.Layout.Blocks {
		sheet := model.Sheet{
			ID:   block.ID,
			Name: headings[block.StructureID],
		}
		for _, comp := range block.Components {
			cc, ok := filled[comp.ID]
			if !ok {
				return nil, fmt.Errorf("component %s has no content", comp.ID)
			}
			switch {
			case len(cc.Rows) > 0:
				if sheet.Header == nil && len(cc.Rows) > 1 {
					sheet.Header = cc.Rows[0]
					sheet.Rows = append(sheet.Rows, cc.Rows[1:]...)
				} else {
					sheet.Rows = append(sheet.Rows, cc.Rows...)
				}
			case len(cc.Items) > 0:
				for _, item := range cc.Items {
					sheet.Rows = append(sheet.Rows, []string{item})
				}
			case cc.Text != "":
				sheet.Rows = append(sheet.Rows, []string{cc.Text})
			}
		}
		doc.Sheets = append(doc.Sheets, sheet)
	}

	return doc, nil
}
