// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline drives one document from PDF to persisted references,
// citation spans and links. Reference extraction walks an ordered list of
// strategies and stops at the first one that yields references:
//
//	structure_engine  GROBID on the document as given
//	alternate_source  GROBID on a copy fetched by public identifier
//	llm_fallback      language model over the heuristic reference section
//	heuristic_only    the heuristic entries themselves
//
// Engine and download failures only move the document to the next tier. A
// document fails only when no text and no references could be obtained.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/paperstruct/internal/acquire"
	"github.com/pdiddy/paperstruct/internal/linker"
	"github.com/pdiddy/paperstruct/internal/llmrefs"
	"github.com/pdiddy/paperstruct/internal/logging"
	"github.com/pdiddy/paperstruct/internal/refsection"
	"github.com/pdiddy/paperstruct/pkg/types"
)

// heuristicConfidence is assigned to references taken straight from the
// reference-section parser.
const heuristicConfidence = 0.4

// TextExtractor produces per-page text for a document.
type TextExtractor interface {
	ExtractAll(ctx context.Context, path, knownID string) (types.DocumentText, error)
}

// StructureEngine parses a PDF into a structured document.
type StructureEngine interface {
	EnsureRunning(ctx context.Context) error
	ProcessFulltext(ctx context.Context, pdfPath string) (*types.StructuredDocument, error)
}

// Downloader fetches an alternate copy of a paper by public identifier.
type Downloader interface {
	DownloadFromKnownID(ctx context.Context, id string) (string, error)
}

// ReferenceParser turns raw bibliography text into references.
type ReferenceParser interface {
	Parse(ctx context.Context, text, documentID string) ([]types.StructuredReference, llmrefs.ChunkStats, error)
}

// SpanExtractor finds in-text citation markers.
type SpanExtractor interface {
	Extract(ctx context.Context, pdfPath, documentID string, refsStartPage int) ([]types.CitationSpan, error)
}

// Linker links citation spans to references.
type Linker interface {
	Link(in linker.Input) []types.CitationLink
}

// Store persists processing results.
type Store interface {
	GetStatus(ctx context.Context, documentID string) (types.ProcessingStatus, error)
	LoadResult(ctx context.Context, documentID string) (*types.ProcessingResult, error)
	SaveResult(ctx context.Context, result *types.ProcessingResult) error
}

// Deps are the collaborators of an Orchestrator. Engine, Downloader and
// LLM may be nil; the matching strategy is then skipped.
type Deps struct {
	Text       TextExtractor
	Engine     StructureEngine
	Downloader Downloader
	LLM        ReferenceParser
	Sections   *refsection.Parser
	Spans      SpanExtractor
	Linker     Linker
	Store      Store
}

// Options control a single Process call.
type Options struct {
	// Force reprocesses documents whose stored status is success.
	Force bool
}

// Orchestrator runs the extraction pipeline.
type Orchestrator struct {
	deps   Deps
	cfg    types.FallbackConfig
	logger *zap.Logger

	// engineDownUntil holds the UnixNano time before which the engine is
	// not tried again after a failed start; zero means no hold.
	engineDownUntil atomic.Int64

	now func() time.Time
}

// EngineRetryInterval is how long the engine is skipped after it failed to
// start.
var EngineRetryInterval = 5 * time.Minute

// New returns an Orchestrator. Text, Spans, Linker and Store are required.
func New(deps Deps, cfg types.FallbackConfig, logger *zap.Logger) *Orchestrator {
	if deps.Sections == nil {
		deps.Sections = refsection.New(cfg.TailPages)
	}
	if cfg.TailPages <= 0 {
		cfg.TailPages = types.DefaultFallbackConfig().TailPages
	}
	return &Orchestrator{
		deps:   deps,
		cfg:    cfg,
		logger: logging.OrNop(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// run is the per-document state threaded through the strategies.
type run struct {
	doc     types.Document
	knownID string
	source  string

	text      types.DocumentText
	heuristic refsection.Result
	engine    *types.StructuredDocument
	refs      []types.StructuredReference
}

// strategy produces references for a run, or an error to pass to the next.
type strategy struct {
	name types.Strategy
	fn   func(o *Orchestrator, ctx context.Context, r *run) error
}

// strategies in priority order.
var strategies = []strategy{
	{types.StrategyStructureEngine, (*Orchestrator).structureEngine},
	{types.StrategyAlternateSource, (*Orchestrator).alternateSource},
	{types.StrategyLLMFallback, (*Orchestrator).llmFallback},
	{types.StrategyHeuristicOnly, (*Orchestrator).heuristicOnly},
}

var (
	errNoReferences = errors.New("no references produced")
	errSkipped      = errors.New("not configured")
)

// Process runs the pipeline on one document and persists the result. A
// document already stored with status success is returned unchanged
// unless opts.Force is set. The returned error wraps types.ErrExtraction
// when the document failed; the failed result is still persisted.
func (o *Orchestrator) Process(ctx context.Context, doc types.Document, opts Options) (*types.ProcessingResult, error) {
	if doc.ID == "" {
		return nil, fmt.Errorf("%w: document id is required", types.ErrConfiguration)
	}

	if !opts.Force {
		status, err := o.deps.Store.GetStatus(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		if status == types.StatusSuccess {
			o.logger.Info("document already processed", zap.String("document_id", doc.ID))
			return o.deps.Store.LoadResult(ctx, doc.ID)
		}
	}

	start := time.Now()
	r := &run{doc: doc, knownID: doc.KnownID, source: doc.PDFPath}

	r.text = o.extractText(ctx, r.source, r.knownID)
	if r.text.SourcePath != "" {
		r.source = r.text.SourcePath
	}
	if r.knownID == "" {
		if first, ok := r.text.Page(1); ok {
			r.knownID = acquire.FindKnownID(first.Text)
		}
	}
	r.heuristic = o.deps.Sections.Parse(r.text.Pages)

	result := &types.ProcessingResult{DocumentID: doc.ID}
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		attemptStart := time.Now()
		err := s.fn(o, ctx, r)
		attempt := types.StrategyAttempt{Strategy: s.name, OK: err == nil, Duration: time.Since(attemptStart)}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			attempt.Error = err.Error()
		}
		result.Attempts = append(result.Attempts, attempt)
		o.logAttempt(doc.ID, attempt, err, len(r.refs))
		if err == nil {
			result.Strategy = s.name
			break
		}
	}

	result.SourcePath = r.source
	result.Text = r.text
	result.References = o.finishReferences(r)
	if r.engine != nil {
		result.EngineCitations = r.engine.Citations
	}

	var failure error
	switch {
	case result.Strategy == types.StrategyStructureEngine || result.Strategy == types.StrategyAlternateSource:
		result.Status = types.StatusSuccess
	case len(result.References) > 0 || r.text.HasText():
		result.Status = types.StatusPartial
	default:
		result.Status = types.StatusFailed
		failure = fmt.Errorf("%s: no text and no references: %w", doc.ID, types.ErrExtraction)
	}

	if result.Status != types.StatusFailed {
		refsStart := o.referencesStartPage(r)
		result.Spans = o.extractSpans(ctx, r.source, doc.ID, refsStart)
		input := linker.Input{
			Spans:               result.Spans,
			References:          result.References,
			ReferencesStartPage: refsStart,
			EngineCitations:     result.EngineCitations,
		}
		if r.engine != nil {
			input.EngineReferences = result.References
		}
		result.Links = o.deps.Linker.Link(input)
	}

	result.UpdatedAt = o.now()
	if err := o.deps.Store.SaveResult(ctx, result); err != nil {
		return nil, fmt.Errorf("saving %s: %w", doc.ID, err)
	}

	o.logger.Info("document processed",
		zap.String("document_id", doc.ID),
		zap.String("status", string(result.Status)),
		zap.String("strategy", string(result.Strategy)),
		zap.Int("references", len(result.References)),
		zap.Int("spans", len(result.Spans)),
		zap.Int("links", len(result.Links)),
		zap.Duration("duration", time.Since(start)))
	return result, failure
}

func (o *Orchestrator) extractText(ctx context.Context, path, knownID string) types.DocumentText {
	start := time.Now()
	text, err := o.deps.Text.ExtractAll(ctx, path, knownID)
	if err != nil {
		o.logger.Warn("text extraction failed",
			zap.String("path", path),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	}
	if text.SourcePath == "" {
		text.SourcePath = path
	}
	return text
}

func (o *Orchestrator) structureEngine(ctx context.Context, r *run) error {
	return o.runEngine(ctx, r, r.source)
}

func (o *Orchestrator) alternateSource(ctx context.Context, r *run) error {
	if o.deps.Downloader == nil || o.deps.Engine == nil || r.knownID == "" {
		return errSkipped
	}
	if o.engineUnavailable() {
		return fmt.Errorf("%w: engine unavailable", types.ErrStructureEngine)
	}
	alt, err := o.deps.Downloader.DownloadFromKnownID(ctx, r.knownID)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", r.knownID, err)
	}
	if alt == r.source {
		return fmt.Errorf("alternate copy of %s is the document already tried", r.knownID)
	}
	if err := o.runEngine(ctx, r, alt); err != nil {
		return err
	}

	r.source = alt
	text := o.extractText(ctx, alt, "")
	if text.HasText() {
		r.text = text
		r.text.AlternateSource = true
		r.heuristic = o.deps.Sections.Parse(r.text.Pages)
	}
	return nil
}

// ResetEngine clears the hold placed on the engine after a failed start, so
// the next document tries it again.
func (o *Orchestrator) ResetEngine() {
	o.engineDownUntil.Store(0)
}

func (o *Orchestrator) engineUnavailable() bool {
	until := o.engineDownUntil.Load()
	return until != 0 && o.now().UnixNano() < until
}

func (o *Orchestrator) runEngine(ctx context.Context, r *run, path string) error {
	if o.deps.Engine == nil {
		return errSkipped
	}
	if o.engineUnavailable() {
		return fmt.Errorf("%w: engine unavailable", types.ErrStructureEngine)
	}
	if err := o.deps.Engine.EnsureRunning(ctx); err != nil {
		if ctx.Err() == nil {
			o.engineDownUntil.Store(o.now().Add(EngineRetryInterval).UnixNano())
		}
		return err
	}
	sd, err := o.deps.Engine.ProcessFulltext(ctx, path)
	if err != nil {
		return err
	}
	if len(sd.References) == 0 {
		return fmt.Errorf("%w: %w", types.ErrStructureEngine, errNoReferences)
	}
	r.engine = sd
	r.refs = sd.References
	return nil
}

func (o *Orchestrator) llmFallback(ctx context.Context, r *run) error {
	if o.deps.LLM == nil {
		return errSkipped
	}

	var input string
	if r.heuristic.Found {
		input = r.heuristic.SectionText()
	} else {
		input = tailText(r.text, o.cfg.TailPages)
	}
	if input == "" {
		return fmt.Errorf("%w: no text to parse", types.ErrExtraction)
	}

	refs, stats, err := o.deps.LLM.Parse(ctx, input, r.doc.ID)
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return errNoReferences
	}
	if stats.Failed > 0 {
		o.logger.Warn("some reference chunks were not parsed",
			zap.String("document_id", r.doc.ID),
			zap.Int("chunks", stats.Chunks),
			zap.Int("failed", stats.Failed))
	}

	pages := make(map[int]int, len(r.heuristic.Entries))
	for _, e := range r.heuristic.Entries {
		pages[e.Number] = e.PageNum
	}
	for i := range refs {
		if refs[i].PageNum == 0 {
			refs[i].PageNum = pages[refs[i].Number]
		}
	}
	r.refs = refs
	return nil
}

func (o *Orchestrator) heuristicOnly(_ context.Context, r *run) error {
	if len(r.heuristic.Entries) == 0 {
		return errNoReferences
	}
	refs := make([]types.StructuredReference, len(r.heuristic.Entries))
	for i, e := range r.heuristic.Entries {
		refs[i] = e.ToReference(r.doc.ID, heuristicConfidence)
	}
	r.refs = refs
	return nil
}

// finishReferences stamps ids and the document id on the chosen references.
func (o *Orchestrator) finishReferences(r *run) []types.StructuredReference {
	refs := make([]types.StructuredReference, len(r.refs))
	for i, ref := range r.refs {
		ref.ID = uuid.NewString()
		ref.DocumentID = r.doc.ID
		refs[i] = ref
	}
	return refs
}

// referencesStartPage prefers the heuristic section start and falls back to
// the first page holding an engine reference.
func (o *Orchestrator) referencesStartPage(r *run) int {
	if r.heuristic.Found && r.heuristic.StartPage > 0 {
		return r.heuristic.StartPage
	}
	if r.engine != nil {
		return r.engine.ReferencesStartPage()
	}
	return 0
}

func (o *Orchestrator) extractSpans(ctx context.Context, path, documentID string, refsStart int) []types.CitationSpan {
	spans, err := o.deps.Spans.Extract(ctx, path, documentID, refsStart)
	if err != nil {
		o.logger.Warn("citation span extraction failed",
			zap.String("document_id", documentID),
			zap.Error(err))
		return nil
	}
	return spans
}

func (o *Orchestrator) logAttempt(documentID string, a types.StrategyAttempt, err error, refs int) {
	fields := []zap.Field{
		zap.String("document_id", documentID),
		zap.String("strategy", string(a.Strategy)),
		zap.Duration("duration", a.Duration),
	}
	switch {
	case a.OK:
		o.logger.Info("strategy succeeded", append(fields, zap.Int("references", refs))...)
	case errors.Is(err, errSkipped):
		o.logger.Debug("strategy skipped", fields...)
	default:
		o.logger.Warn("strategy failed", append(fields, zap.Error(err))...)
	}
}

// tailText joins the text of the last n pages.
func tailText(doc types.DocumentText, n int) string {
	pages := doc.Pages
	if len(pages) > n {
		pages = pages[len(pages)-n:]
	}
	var parts []string
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}
