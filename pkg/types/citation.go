// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// CitationStyle classifies the shape of an in-text citation marker.
type CitationStyle string

const (
	StyleNumeric    CitationStyle = "numeric"
	StyleAuthorYear CitationStyle = "author_year"
	StyleUnknown    CitationStyle = "unknown"
)

// SpanProvenance records how a citation span was detected.
type SpanProvenance string

const (
	SpanFromAnnotation SpanProvenance = "annotation"
	SpanFromPattern    SpanProvenance = "pattern"
)

// CitationSpan is a detected in-text citation marker.
type CitationSpan struct {
	ID         string         `json:"id" yaml:"id"`
	DocumentID string         `json:"document_id" yaml:"document_id"`
	PageNum    int            `json:"page_num" yaml:"page_num"`
	BBox       BoundingBox    `json:"bbox" yaml:"bbox"`
	RawText    string         `json:"raw_text" yaml:"raw_text"`
	Style      CitationStyle  `json:"style" yaml:"style"`
	Provenance SpanProvenance `json:"provenance" yaml:"provenance"`
	Confidence float64        `json:"confidence" yaml:"confidence"`

	// DestPage and DestY are set only for annotation spans whose link
	// carried a resolvable jump target.
	DestPage *int     `json:"dest_page,omitempty" yaml:"dest_page,omitempty"`
	DestY    *float64 `json:"dest_y,omitempty" yaml:"dest_y,omitempty"`
}

// HasDestination reports whether the span carries a jump target page.
func (s CitationSpan) HasDestination() bool {
	return s.DestPage != nil && *s.DestPage > 0
}

// LinkMethod names the strategy that produced a citation link.
type LinkMethod string

const (
	LinkStructureTarget    LinkMethod = "structure_target"
	LinkAnnotationGoto     LinkMethod = "annotation_goto"
	LinkAnnotationNumeric  LinkMethod = "annotation_numeric"
	LinkAnnotationPageOnly LinkMethod = "annotation_page_only"
	LinkNumeric            LinkMethod = "numeric"
	LinkAuthorYearFuzzy    LinkMethod = "author_year_fuzzy"
)

// CitationLink ties a span to one reference.
type CitationLink struct {
	CitationSpanID string     `json:"citation_span_id" yaml:"citation_span_id"`
	ReferenceID    string     `json:"reference_id" yaml:"reference_id"`
	Method         LinkMethod `json:"method" yaml:"method"`
	Confidence     float64    `json:"confidence" yaml:"confidence"`
}
