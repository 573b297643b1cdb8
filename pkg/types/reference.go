// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// Provenance records which extraction path produced a reference. Besides
// the structure engine and the language-model fallback, consumers may see
// ProvenanceHeuristic on documents where neither produced references.
type Provenance string

const (
	ProvenanceStructureEngine Provenance = "structure_engine"
	ProvenanceLLMFallback     Provenance = "llm_fallback"

	// ProvenanceHeuristic marks references taken straight from the
	// reference-section parser when no language model produced any.
	ProvenanceHeuristic Provenance = "heuristic"
)

// StructuredReference is one bibliography entry of a document in the shape
// shared by every extraction path. Empty strings and zero numbers mean the
// field is unknown.
type StructuredReference struct {
	// ID is unique across documents (a UUID).
	ID string `json:"id" yaml:"id"`

	// DocumentID identifies the owning document.
	DocumentID string `json:"document_id" yaml:"document_id"`

	// Number is the 1-based position in the bibliography. It identifies the
	// reference within its document for heuristic and LLM paths.
	Number int `json:"number" yaml:"number"`

	// ExternalRefID is the structure engine identifier (e.g. "b12").
	ExternalRefID string `json:"external_ref_id,omitempty" yaml:"external_ref_id,omitempty"`

	RawText string `json:"raw_text" yaml:"raw_text"`
	Authors string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`
	Venue   string `json:"venue,omitempty" yaml:"venue,omitempty"`
	Year    int    `json:"year,omitempty" yaml:"year,omitempty"`
	DOI     string `json:"doi,omitempty" yaml:"doi,omitempty"`

	// PageNum is the page the entry is printed on, 0 when unknown.
	PageNum int `json:"page_num,omitempty" yaml:"page_num,omitempty"`

	// BBox locates the entry on PageNum when the structure engine reported
	// coordinates.
	BBox *BoundingBox `json:"bbox,omitempty" yaml:"bbox,omitempty"`

	Confidence float64    `json:"confidence" yaml:"confidence"`
	Provenance Provenance `json:"provenance" yaml:"provenance"`
}

// BibliographyEntry is a reference entry as segmented by the heuristic
// reference-section parser.
type BibliographyEntry struct {
	// Number is the 1-based position of the entry in the section.
	Number int `json:"number" yaml:"number"`

	// Label is the marker as printed (e.g. "[3]", "3.", "(3)").
	Label string `json:"label,omitempty" yaml:"label,omitempty"`

	// RawText is the full accumulated entry text without the marker.
	RawText string `json:"raw_text" yaml:"raw_text"`

	Authors string `json:"authors,omitempty" yaml:"authors,omitempty"`
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`
	Venue   string `json:"venue,omitempty" yaml:"venue,omitempty"`
	Year    int    `json:"year,omitempty" yaml:"year,omitempty"`
	DOI     string `json:"doi,omitempty" yaml:"doi,omitempty"`

	// PageNum is the page on which the entry starts.
	PageNum int `json:"page_num" yaml:"page_num"`
}

// ToReference converts a heuristic entry into the shared reference shape.
func (e BibliographyEntry) ToReference(documentID string, confidence float64) StructuredReference {
	return StructuredReference{
		DocumentID: documentID,
		Number:     e.Number,
		RawText:    e.RawText,
		Authors:    e.Authors,
		Title:      e.Title,
		Venue:      e.Venue,
		Year:       e.Year,
		DOI:        e.DOI,
		PageNum:    e.PageNum,
		Confidence: confidence,
		Provenance: ProvenanceHeuristic,
	}
}
