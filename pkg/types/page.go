// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ExtractionMethod names the technology that produced a page's text.
type ExtractionMethod string

const (
	MethodNative       ExtractionMethod = "native"
	MethodExternalTool ExtractionMethod = "external_tool"
	MethodOCR          ExtractionMethod = "ocr"

	// MethodHybrid is only used as a document aggregate when pages disagree.
	MethodHybrid ExtractionMethod = "hybrid"
)

// PageText is the extracted text of one page. It is created once per
// extraction pass and replaced, never edited, on re-extraction.
type PageText struct {
	DocumentID string           `json:"document_id" yaml:"document_id"`
	PageNum    int              `json:"page_num" yaml:"page_num"`
	Text       string           `json:"text" yaml:"text"`
	Method     ExtractionMethod `json:"method" yaml:"method"`
	IsGarbled  bool             `json:"is_garbled" yaml:"is_garbled"`

	// QualityScore is in [0,1].
	QualityScore float64 `json:"quality_score" yaml:"quality_score"`

	// OCRConfidence is set only when Method is MethodOCR.
	OCRConfidence *float64 `json:"ocr_confidence,omitempty" yaml:"ocr_confidence,omitempty"`
}

// DocumentText aggregates the pages of one document.
type DocumentText struct {
	Pages          []PageText       `json:"pages" yaml:"pages"`
	TotalPages     int              `json:"total_pages" yaml:"total_pages"`
	OverallMethod  ExtractionMethod `json:"overall_method" yaml:"overall_method"`
	AverageQuality float64          `json:"average_quality" yaml:"average_quality"`

	// SourcePath is the PDF the pages were read from. It differs from the
	// requested path when an alternate copy was downloaded.
	SourcePath      string `json:"source_path" yaml:"source_path"`
	AlternateSource bool   `json:"alternate_source" yaml:"alternate_source"`
}

// Page returns the page with the given 1-based number, if present.
func (d DocumentText) Page(num int) (PageText, bool) {
	for _, p := range d.Pages {
		if p.PageNum == num {
			return p, true
		}
	}
	return PageText{}, false
}

// HasText reports whether any page carries non-blank text.
func (d DocumentText) HasText() bool {
	for _, p := range d.Pages {
		for _, r := range p.Text {
			if r != ' ' && r != '\n' && r != '\t' && r != '\r' {
				return true
			}
		}
	}
	return false
}
