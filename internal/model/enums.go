package model

// Job status
type JobStatus string

const (
	JobStatusQueued            JobStatus = "queued"
	JobStatusProcessingIntent  JobStatus = "processing_intent"
	JobStatusProcessingLayout  JobStatus = "processing_layout"
	JobStatusProcessingContent JobStatus = "processing_content"
	JobStatusCritiquing        JobStatus = "critiquing"
	JobStatusRendering         JobStatus = "rendering"
	JobStatusCompleted         JobStatus = "completed"
	JobStatusFailed            JobStatus = "failed"
)

// IsTerminal reports whether no further stage transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Output formats
type OutputFormat string

const (
	FormatPresentation OutputFormat = "presentation"
	FormatDocument     OutputFormat = "document"
	FormatSpreadsheet  OutputFormat = "spreadsheet"
)

var ValidOutputFormats = []OutputFormat{
	FormatPresentation, FormatDocument, FormatSpreadsheet,
}

// Layout block kinds
type BlockKind string

const (
	BlockTitle   BlockKind = "title"
	BlockSection BlockKind = "section"
	BlockContent BlockKind = "content"
	BlockSummary BlockKind = "summary"
)

// Component types within a layout block
type ComponentType string

const (
	ComponentHeading    ComponentType = "heading"
	ComponentBody       ComponentType = "body"
	ComponentBulletList ComponentType = "bullet_list"
	ComponentImageSlot  ComponentType = "image_slot"
	ComponentTable      ComponentType = "table"
	ComponentQuote      ComponentType = "quote"
)

// Tone presets
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneCasual       Tone = "casual"
	TonePersuasive   Tone = "persuasive"
	ToneAcademic     Tone = "academic"
	TonePlayful      Tone = "playful"
)

// Language
type Language string

const (
	LanguageEN Language = "en"
	LanguageTR Language = "tr"
	LanguageFR Language = "fr"
)
