// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paperstruct/internal/linker"
	"github.com/pdiddy/paperstruct/internal/llmrefs"
	"github.com/pdiddy/paperstruct/internal/store"
	"github.com/pdiddy/paperstruct/pkg/types"
)

// --- fakes ---

type fakeText struct {
	doc   types.DocumentText
	err   error
	calls int
}

func (f *fakeText) ExtractAll(_ context.Context, path, _ string) (types.DocumentText, error) {
	f.calls++
	doc := f.doc
	doc.SourcePath = path
	return doc, f.err
}

type fakeEngine struct {
	ensureErr    error
	docs         map[string]*types.StructuredDocument
	ensureCalls  int
	processCalls int
}

func (f *fakeEngine) EnsureRunning(context.Context) error {
	f.ensureCalls++
	return f.ensureErr
}

func (f *fakeEngine) ProcessFulltext(_ context.Context, path string) (*types.StructuredDocument, error) {
	f.processCalls++
	if sd, ok := f.docs[path]; ok {
		return sd, nil
	}
	return nil, types.ErrStructureEngine
}

type fakeDownloader struct {
	path  string
	err   error
	calls int
}

func (f *fakeDownloader) DownloadFromKnownID(context.Context, string) (string, error) {
	f.calls++
	return f.path, f.err
}

type fakeLLM struct {
	refs     []types.StructuredReference
	err      error
	calls    int
	lastText string
}

func (f *fakeLLM) Parse(_ context.Context, text, documentID string) ([]types.StructuredReference, llmrefs.ChunkStats, error) {
	f.calls++
	f.lastText = text
	out := make([]types.StructuredReference, len(f.refs))
	copy(out, f.refs)
	return out, llmrefs.ChunkStats{Chunks: 1}, f.err
}

type fakeSpans struct {
	texts     []string
	calls     int
	lastPath  string
	lastStart int
}

func (f *fakeSpans) Extract(_ context.Context, path, documentID string, refsStart int) ([]types.CitationSpan, error) {
	f.calls++
	f.lastPath = path
	f.lastStart = refsStart
	var spans []types.CitationSpan
	for i, t := range f.texts {
		spans = append(spans, types.CitationSpan{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			PageNum:    1,
			BBox:       types.NewBoundingBox(1, 100, 700-float64(i)*20, 120, 710-float64(i)*20),
			RawText:    t,
			Style:      types.StyleNumeric,
			Provenance: types.SpanFromPattern,
			Confidence: 0.85,
		})
	}
	return spans, nil
}

// --- fixtures ---

func textDoc(pages ...string) types.DocumentText {
	doc := types.DocumentText{TotalPages: len(pages), OverallMethod: types.MethodNative}
	for i, p := range pages {
		doc.Pages = append(doc.Pages, types.PageText{PageNum: i + 1, Text: p, Method: types.MethodNative, QualityScore: 0.9})
	}
	return doc
}

const (
	bodyPage = "Attention [1] and memory [2] matter."
	refsPage = "References\n" +
		"[1] A. Vaswani. Attention is all you need. NeurIPS, 2017.\n" +
		"[2] S. Hochreiter. Long short-term memory. Neural Computation, 1997."
)

func engineDoc() *types.StructuredDocument {
	return &types.StructuredDocument{
		References: []types.StructuredReference{
			{Number: 1, ExternalRefID: "b0", RawText: "Vaswani 2017", Title: "Attention is all you need", Year: 2017,
				PageNum: 2, Confidence: 0.9, Provenance: types.ProvenanceStructureEngine},
			{Number: 2, ExternalRefID: "b1", RawText: "Hochreiter 1997", Title: "Long short-term memory", Year: 1997,
				PageNum: 2, Confidence: 0.9, Provenance: types.ProvenanceStructureEngine},
		},
	}
}

func llmRefs() []types.StructuredReference {
	return []types.StructuredReference{
		{Number: 1, RawText: "A. Vaswani. Attention is all you need.", Year: 2017, Confidence: 0.63, Provenance: types.ProvenanceLLMFallback},
		{Number: 2, RawText: "S. Hochreiter. Long short-term memory.", Year: 1997, Confidence: 0.63, Provenance: types.ProvenanceLLMFallback},
	}
}

type harness struct {
	text   *fakeText
	engine *fakeEngine
	dl     *fakeDownloader
	llm    *fakeLLM
	spans  *fakeSpans
	store  *store.Store
	deps   Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(types.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	h := &harness{
		text:   &fakeText{doc: textDoc(bodyPage, refsPage)},
		engine: &fakeEngine{docs: map[string]*types.StructuredDocument{"/in/paper.pdf": engineDoc()}},
		dl:     &fakeDownloader{},
		llm:    &fakeLLM{refs: llmRefs()},
		spans:  &fakeSpans{texts: []string{"[1]", "[2]"}},
		store:  st,
	}
	h.deps = Deps{
		Text:       h.text,
		Engine:     h.engine,
		Downloader: h.dl,
		LLM:        h.llm,
		Spans:      h.spans,
		Linker:     linker.New(types.DefaultLinkConfig(), nil),
		Store:      st,
	}
	return h
}

func (h *harness) orchestrator() *Orchestrator {
	return New(h.deps, types.DefaultFallbackConfig(), nil)
}

func paper(id string) types.Document {
	return types.Document{ID: id, PDFPath: "/in/paper.pdf"}
}

func strategiesTried(res *types.ProcessingResult) []types.Strategy {
	var out []types.Strategy
	for _, a := range res.Attempts {
		out = append(out, a.Strategy)
	}
	return out
}

// --- tests ---

func TestProcess_StructureEngine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.orchestrator().Process(ctx, paper("p1"), Options{})
	require.NoError(t, err)

	assert.Equal(t, types.StatusSuccess, res.Status)
	assert.Equal(t, types.StrategyStructureEngine, res.Strategy)
	assert.Equal(t, []types.Strategy{types.StrategyStructureEngine}, strategiesTried(res))
	require.Len(t, res.References, 2)
	for i, r := range res.References {
		assert.NotEmpty(t, r.ID)
		assert.Equal(t, "p1", r.DocumentID)
		assert.Equal(t, i+1, r.Number)
		assert.Equal(t, types.ProvenanceStructureEngine, r.Provenance)
	}
	assert.Equal(t, 2, h.spans.lastStart, "span pass stops at the reference section")

	require.Len(t, res.Links, 2)
	for _, l := range res.Links {
		assert.Equal(t, types.LinkNumeric, l.Method)
		assert.Equal(t, 0.95, l.Confidence)
	}
	assert.Equal(t, res.References[0].ID, res.Links[0].ReferenceID)

	status, err := h.store.GetStatus(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, status)
	links, err := h.store.GetLinks(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, links, 2)
}

func TestProcess_Idempotent(t *testing.T) {
	h := newHarness(t)
	o := h.orchestrator()
	ctx := context.Background()

	first, err := o.Process(ctx, paper("p1"), Options{})
	require.NoError(t, err)

	again, err := o.Process(ctx, paper("p1"), Options{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuccess, again.Status)
	assert.Len(t, again.References, 2)
	assert.Equal(t, first.References[0].ID, again.References[0].ID)
	assert.Equal(t, 1, h.text.calls, "no new extraction calls")
	assert.Equal(t, 1, h.engine.processCalls)
	assert.Equal(t, 1, h.spans.calls)

	forced, err := o.Process(ctx, paper("p1"), Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, h.text.calls)
	assert.Equal(t, 2, h.engine.processCalls)
	assert.NotEqual(t, first.References[0].ID, forced.References[0].ID)

	refs, err := h.store.GetReferences(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, refs, 2, "rerun replaces rows")
}

func TestProcess_EngineUnreachableFallsBackToLLM(t *testing.T) {
	h := newHarness(t)
	h.engine.ensureErr = types.ErrConfiguration
	o := h.orchestrator()
	ctx := context.Background()

	res, err := o.Process(ctx, paper("p1"), Options{})
	require.NoError(t, err)

	assert.Equal(t, types.StatusPartial, res.Status)
	assert.Equal(t, types.StrategyLLMFallback, res.Strategy)
	assert.Equal(t, []types.Strategy{
		types.StrategyStructureEngine, types.StrategyAlternateSource, types.StrategyLLMFallback,
	}, strategiesTried(res))
	assert.False(t, res.Attempts[0].OK)
	assert.NotEmpty(t, res.Attempts[0].Error)

	require.Len(t, res.References, 2)
	for _, r := range res.References {
		assert.Equal(t, types.ProvenanceLLMFallback, r.Provenance)
		assert.Equal(t, 2, r.PageNum, "page inherited from the heuristic entry")
	}
	assert.Contains(t, h.llm.lastText, "[1] A. Vaswani")
	assert.NotContains(t, h.llm.lastText, "Attention [1] and memory")
	assert.Len(t, res.Links, 2)

	_, err = o.Process(ctx, paper("p2"), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.engine.ensureCalls, "engine start is not retried within a run")
}

func TestProcess_EngineRetriedAfterHold(t *testing.T) {
	h := newHarness(t)
	h.engine.ensureErr = types.ErrConfiguration
	o := h.orchestrator()
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o.now = func() time.Time { return clock }
	ctx := context.Background()

	_, err := o.Process(ctx, paper("p1"), Options{})
	require.NoError(t, err)
	require.Equal(t, 1, h.engine.ensureCalls)

	clock = clock.Add(EngineRetryInterval - time.Second)
	_, err = o.Process(ctx, paper("p2"), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.engine.ensureCalls, "still held")

	clock = clock.Add(2 * time.Second)
	_, err = o.Process(ctx, paper("p3"), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, h.engine.ensureCalls, "hold expired")

	h.engine.ensureErr = nil
	o.ResetEngine()
	res, err := o.Process(ctx, paper("p4"), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, h.engine.ensureCalls)
	assert.Equal(t, types.StrategyStructureEngine, res.Strategy)
}

func TestProcess_AlternateSource(t *testing.T) {
	h := newHarness(t)
	h.engine.docs = map[string]*types.StructuredDocument{"/alt/paper.pdf": engineDoc()}
	h.dl.path = "/alt/paper.pdf"

	doc := paper("p1")
	doc.KnownID = "arXiv:1706.03762"
	res, err := h.orchestrator().Process(context.Background(), doc, Options{})
	require.NoError(t, err)

	assert.Equal(t, types.StatusSuccess, res.Status)
	assert.Equal(t, types.StrategyAlternateSource, res.Strategy)
	assert.Equal(t, "/alt/paper.pdf", res.SourcePath)
	assert.True(t, res.Text.AlternateSource)
	assert.Equal(t, "/alt/paper.pdf", h.spans.lastPath)
	assert.Equal(t, 1, h.dl.calls)
	assert.Equal(t, 0, h.llm.calls)
}

func TestProcess_AlternateSourceNeedsKnownID(t *testing.T) {
	h := newHarness(t)
	h.engine.docs = nil

	res, err := h.orchestrator().Process(context.Background(), paper("p1"), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, h.dl.calls)
	assert.Equal(t, types.StrategyLLMFallback, res.Strategy)
}

func TestProcess_DownloadFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.engine.docs = nil
	h.dl.err = errors.New("404")

	doc := paper("p1")
	doc.KnownID = "10.1000/xyz"
	res, err := h.orchestrator().Process(context.Background(), doc, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, h.dl.calls)
	assert.Equal(t, types.StrategyLLMFallback, res.Strategy)
	assert.Contains(t, res.Attempts[1].Error, "404")
}

func TestProcess_TailPagesWithoutSection(t *testing.T) {
	h := newHarness(t)
	h.deps.Engine = nil
	h.text.doc = textDoc("one", "two", "three", "four")
	cfg := types.DefaultFallbackConfig()
	cfg.TailPages = 2

	res, err := New(h.deps, cfg, nil).Process(context.Background(), paper("p1"), Options{})
	require.NoError(t, err)
	assert.Equal(t, "three\nfour", h.llm.lastText)
	assert.Equal(t, types.StrategyLLMFallback, res.Strategy)
	assert.Equal(t, 0, h.spans.lastStart)
}

func TestProcess_HeuristicOnly(t *testing.T) {
	h := newHarness(t)
	h.deps.Engine = nil
	h.deps.LLM = nil

	res, err := h.orchestrator().Process(context.Background(), paper("p1"), Options{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPartial, res.Status)
	assert.Equal(t, types.StrategyHeuristicOnly, res.Strategy)
	require.Len(t, res.References, 2)
	assert.Equal(t, types.ProvenanceHeuristic, res.References[0].Provenance)
	assert.Equal(t, heuristicConfidence, res.References[0].Confidence)
	assert.Equal(t, 2017, res.References[0].Year)
}

func TestProcess_LLMEmptyFallsThroughToHeuristic(t *testing.T) {
	h := newHarness(t)
	h.deps.Engine = nil
	h.llm.refs = nil

	res, err := h.orchestrator().Process(context.Background(), paper("p1"), Options{})
	require.NoError(t, err)
	assert.Equal(t, types.StrategyHeuristicOnly, res.Strategy)
	assert.Equal(t, 1, h.llm.calls)
}

func TestProcess_TextButNoReferences(t *testing.T) {
	h := newHarness(t)
	h.deps.Engine = nil
	h.deps.LLM = nil
	h.text.doc = textDoc("Just a memo with no bibliography.")

	res, err := h.orchestrator().Process(context.Background(), paper("p1"), Options{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPartial, res.Status)
	assert.Empty(t, res.Strategy)
	assert.Empty(t, res.References)
	assert.Len(t, res.Attempts, 4)
}

func TestProcess_Failed(t *testing.T) {
	h := newHarness(t)
	h.deps.Engine = nil
	h.text.doc = types.DocumentText{}
	h.text.err = types.ErrExtraction
	ctx := context.Background()

	res, err := h.orchestrator().Process(ctx, paper("p1"), Options{})
	require.ErrorIs(t, err, types.ErrExtraction)
	require.NotNil(t, res)
	assert.Equal(t, types.StatusFailed, res.Status)
	assert.Equal(t, 0, h.llm.calls)
	assert.Equal(t, 0, h.spans.calls)

	status, err := h.store.GetStatus(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, status)
}

func TestProcess_FailedIsRetried(t *testing.T) {
	h := newHarness(t)
	h.text.doc = types.DocumentText{}
	h.engine.docs = nil
	o := h.orchestrator()
	ctx := context.Background()

	_, err := o.Process(ctx, paper("p1"), Options{})
	require.Error(t, err)

	h.text.doc = textDoc(bodyPage, refsPage)
	res, err := o.Process(ctx, paper("p1"), Options{})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPartial, res.Status)
	assert.Equal(t, 2, h.text.calls)
}

func TestProcess_MissingID(t *testing.T) {
	h := newHarness(t)
	_, err := h.orchestrator().Process(context.Background(), types.Document{PDFPath: "x.pdf"}, Options{})
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func TestProcess_ContextCancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orchestrator().Process(ctx, paper("p1"), Options{})
	assert.Error(t, err)
}

func TestTailText(t *testing.T) {
	doc := textDoc("a", "", "c", "d")
	assert.Equal(t, "c\nd", tailText(doc, 2))
	assert.Equal(t, "a\nc\nd", tailText(doc, 10))
	assert.Equal(t, "", tailText(types.DocumentText{}, 3))
}

func TestProcessBatch(t *testing.T) {
	h := newHarness(t)
	h.engine.docs = map[string]*types.StructuredDocument{"/in/a.pdf": engineDoc()}
	o := h.orchestrator()
	ctx := context.Background()

	docs := []types.Document{
		{ID: "a", PDFPath: "/in/a.pdf"},
		{ID: "b", PDFPath: "/in/b.pdf"},
	}
	var buf bytes.Buffer
	result := o.ProcessBatch(ctx, docs, Options{}, &buf)
	assert.Equal(t, BatchResult{Succeeded: 1, Partial: 1}, result)
	assert.Contains(t, buf.String(), "success: a")
	assert.Contains(t, buf.String(), "partial: b (llm_fallback")
	assert.Contains(t, buf.String(), "Batch summary: 1 succeeded, 1 partial, 0 skipped, 0 failed (total: 2)")

	buf.Reset()
	result = o.ProcessBatch(ctx, docs, Options{}, &buf)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Partial, "partial documents are retried")
	assert.Contains(t, buf.String(), "skipped: a (already processed)")
	assert.False(t, result.HasFailures())
	assert.Equal(t, 2, result.Total())
}

func TestDocumentsFromPaths(t *testing.T) {
	docs := DocumentsFromPaths([]string{"/x/2401.00001.pdf"}, "arXiv:2401.00001")
	require.Len(t, docs, 1)
	assert.Equal(t, "2401.00001", docs[0].ID)
	assert.Equal(t, "arXiv:2401.00001", docs[0].KnownID)

	docs = DocumentsFromPaths([]string{"/x/a.pdf", "/y/b.pdf"}, "ignored")
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[1].ID)
	assert.Empty(t, docs[0].KnownID)
}
