package model

// Editor document formats produced by the rendering stage. These are the
// fixed external shapes the frontend editors load; rendering into them is
// deterministic, no model calls involved.

// PresentationDoc is the canvas editor format: one slide per layout block
// with absolutely positioned elements.
type PresentationDoc struct {
	Title  string  `json:"title"`
	Theme  string  `json:"theme"`
	Slides []Slide `json:"slides"`
}

type Slide struct {
	ID       string         `json:"id"`
	Index    int            `json:"index"`
	Elements []SlideElement `json:"elements"`
}

type SlideElement struct {
	ComponentID string        `json:"componentId"`
	Type        ComponentType `json:"type"`
	Text        string        `json:"text,omitempty"`
	Items       []string      `json:"items,omitempty"`
	Rows        [][]string    `json:"rows,omitempty"`
	X           int           `json:"x"`
	Y           int           `json:"y"`
	Width       int           `json:"w"`
	Height      int           `json:"h"`
}

// DocumentDoc is the long-form editor format: a linear list of sections.
type DocumentDoc struct {
	Title    string       `json:"title"`
	Sections []DocSection `json:"sections"`
}

type DocSection struct {
	ID      string     `json:"id"`
	Heading string     `json:"heading"`
	Blocks  []DocBlock `json:"blocks"`
}

type DocBlock struct {
	ComponentID string        `json:"componentId"`
	Type        ComponentType `json:"type"`
	Text        string        `json:"text,omitempty"`
	Items       []string      `json:"items,omitempty"`
	Rows        [][]string    `json:"rows,omitempty"`
}

// SpreadsheetDoc is the grid editor format: one sheet per layout block.
type SpreadsheetDoc struct {
	Title  string  `json:"title"`
	Sheets []Sheet `json:"sheets"`
}

type Sheet struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Header []string   `json:"header,omitempty"`
	Rows   [][]string `json:"rows"`
}
