// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines the data model shared by every pipeline stage:
// geometry, page text, references, citation spans and links, structure
// engine output, processing results, configuration and the error taxonomy.
package types

import "time"

// ProcessingStatus is the terminal state of one document run.
type ProcessingStatus string

const (
	StatusNone    ProcessingStatus = ""
	StatusSuccess ProcessingStatus = "success"
	StatusPartial ProcessingStatus = "partial"
	StatusFailed  ProcessingStatus = "failed"
)

// Strategy names one tier of the extraction fallback chain.
type Strategy string

const (
	StrategyStructureEngine Strategy = "structure_engine"
	StrategyAlternateSource Strategy = "alternate_source"
	StrategyLLMFallback     Strategy = "llm_fallback"
	StrategyHeuristicOnly   Strategy = "heuristic_only"
)

// Document identifies a PDF to process.
type Document struct {
	// ID is the caller's document identifier; all persisted rows are keyed by it.
	ID string `json:"id" yaml:"id"`

	// PDFPath is the local path of the PDF.
	PDFPath string `json:"pdf_path" yaml:"pdf_path"`

	// KnownID is a public identifier (arXiv id, DOI or URL) that allows an
	// alternate copy to be downloaded. Optional.
	KnownID string `json:"known_id,omitempty" yaml:"known_id,omitempty"`
}

// StrategyAttempt records the outcome and timing of one strategy tier.
type StrategyAttempt struct {
	Strategy Strategy      `json:"strategy" yaml:"strategy"`
	OK       bool          `json:"ok" yaml:"ok"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// ProcessingResult is everything one run produced for a document.
type ProcessingResult struct {
	DocumentID string           `json:"document_id" yaml:"document_id"`
	Status     ProcessingStatus `json:"status" yaml:"status"`

	// Strategy is the tier that produced References.
	Strategy   Strategy `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	SourcePath string   `json:"source_path" yaml:"source_path"`

	Text            DocumentText          `json:"text" yaml:"text"`
	References      []StructuredReference `json:"references" yaml:"references"`
	Spans           []CitationSpan        `json:"spans" yaml:"spans"`
	Links           []CitationLink        `json:"links" yaml:"links"`
	EngineCitations []EngineCitation      `json:"engine_citations,omitempty" yaml:"engine_citations,omitempty"`
	Attempts        []StrategyAttempt     `json:"attempts,omitempty" yaml:"attempts,omitempty"`

	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}
