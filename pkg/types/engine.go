// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// DocumentHeader holds header metadata reported by the structure engine.
type DocumentHeader struct {
	Title   string   `json:"title,omitempty" yaml:"title,omitempty"`
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`
	DOI     string   `json:"doi,omitempty" yaml:"doi,omitempty"`
	Year    int      `json:"year,omitempty" yaml:"year,omitempty"`
}

// EngineCitation is an in-text citation marker as located by the structure
// engine. Target is the engine's bibliographic id without the leading '#'.
type EngineCitation struct {
	Page   int         `json:"page" yaml:"page"`
	BBox   BoundingBox `json:"bbox" yaml:"bbox"`
	Text   string      `json:"text" yaml:"text"`
	Target string      `json:"target,omitempty" yaml:"target,omitempty"`
}

// ElementKind names a non-citation body element.
type ElementKind string

const (
	ElementFigure  ElementKind = "figure"
	ElementFormula ElementKind = "formula"
)

// BodyElement is a figure or formula with its location.
type BodyElement struct {
	Kind  ElementKind  `json:"kind" yaml:"kind"`
	ID    string       `json:"id,omitempty" yaml:"id,omitempty"`
	Label string       `json:"label,omitempty" yaml:"label,omitempty"`
	Text  string       `json:"text,omitempty" yaml:"text,omitempty"`
	BBox  *BoundingBox `json:"bbox,omitempty" yaml:"bbox,omitempty"`
}

// StructuredDocument is the parsed output of the structure engine.
type StructuredDocument struct {
	Header     DocumentHeader        `json:"header" yaml:"header"`
	Citations  []EngineCitation      `json:"citations" yaml:"citations"`
	Elements   []BodyElement         `json:"elements,omitempty" yaml:"elements,omitempty"`
	References []StructuredReference `json:"references" yaml:"references"`

	// PageHeights maps 1-based page numbers to page heights in points.
	PageHeights map[int]float64 `json:"page_heights,omitempty" yaml:"page_heights,omitempty"`
}

// ReferencesStartPage returns the lowest page that carries a reference, or
// 0 when no reference has a page.
func (d *StructuredDocument) ReferencesStartPage() int {
	start := 0
	for _, r := range d.References {
		if r.PageNum > 0 && (start == 0 || r.PageNum < start) {
			start = r.PageNum
		}
	}
	return start
}
