// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/paperstruct/pkg/types"
)

// ExportDocument is the YAML layout written by ExportYAML. Page text is
// left out; spans carry their resolved reference numbers inline.
type ExportDocument struct {
	DocumentID string                  `yaml:"document_id"`
	Status     types.ProcessingStatus  `yaml:"status"`
	Strategy   types.Strategy          `yaml:"strategy,omitempty"`
	SourcePath string                  `yaml:"source_path"`
	TotalPages int                     `yaml:"total_pages"`
	Attempts   []types.StrategyAttempt `yaml:"attempts,omitempty"`
	References []ExportReference       `yaml:"references"`
	Citations  []ExportCitation        `yaml:"citations"`
}

// ExportReference is one bibliography entry in an export.
type ExportReference struct {
	Number     int              `yaml:"number"`
	RawText    string           `yaml:"raw_text"`
	Authors    string           `yaml:"authors,omitempty"`
	Title      string           `yaml:"title,omitempty"`
	Venue      string           `yaml:"venue,omitempty"`
	Year       int              `yaml:"year,omitempty"`
	DOI        string           `yaml:"doi,omitempty"`
	PageNum    int              `yaml:"page_num,omitempty"`
	Confidence float64          `yaml:"confidence"`
	Provenance types.Provenance `yaml:"provenance"`
}

// ExportCitation is one in-text citation with the references it resolves to.
type ExportCitation struct {
	Page       int                 `yaml:"page"`
	Text       string              `yaml:"text"`
	Style      types.CitationStyle `yaml:"style"`
	BBox       types.BoundingBox   `yaml:"bbox"`
	References []int               `yaml:"references,omitempty"`
	Methods    []types.LinkMethod  `yaml:"methods,omitempty"`
}

// ExportYAML writes the stored result of documentID to path as YAML.
func (s *Store) ExportYAML(ctx context.Context, documentID, path string) error {
	result, err := s.LoadResult(ctx, documentID)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(buildExport(result))
	if err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating export directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func buildExport(r *types.ProcessingResult) ExportDocument {
	doc := ExportDocument{
		DocumentID: r.DocumentID,
		Status:     r.Status,
		Strategy:   r.Strategy,
		SourcePath: r.SourcePath,
		TotalPages: r.Text.TotalPages,
		Attempts:   r.Attempts,
		References: make([]ExportReference, 0, len(r.References)),
		Citations:  make([]ExportCitation, 0, len(r.Spans)),
	}

	numbers := make(map[string]int, len(r.References))
	for _, ref := range r.References {
		numbers[ref.ID] = ref.Number
		doc.References = append(doc.References, ExportReference{
			Number:     ref.Number,
			RawText:    ref.RawText,
			Authors:    ref.Authors,
			Title:      ref.Title,
			Venue:      ref.Venue,
			Year:       ref.Year,
			DOI:        ref.DOI,
			PageNum:    ref.PageNum,
			Confidence: ref.Confidence,
			Provenance: ref.Provenance,
		})
	}

	bySpan := make(map[string][]types.CitationLink)
	for _, l := range r.Links {
		bySpan[l.CitationSpanID] = append(bySpan[l.CitationSpanID], l)
	}
	for _, sp := range r.Spans {
		c := ExportCitation{Page: sp.PageNum, Text: sp.RawText, Style: sp.Style, BBox: sp.BBox}
		for _, l := range bySpan[sp.ID] {
			c.References = append(c.References, numbers[l.ReferenceID])
			c.Methods = append(c.Methods, l.Method)
		}
		doc.Citations = append(doc.Citations, c)
	}
	return doc
}
