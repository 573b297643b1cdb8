// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pdftext

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paperstruct/pkg/types"
)

const cleanText = "Deep networks learn hierarchical representations of natural images [1]."

// garbledWithControls returns mostly-letter text with a 2% control-char ratio.
func garbledWithControls() string {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		if i%50 == 0 {
			b.WriteByte(0x01)
			continue
		}
		b.WriteByte('a')
	}
	return b.String()
}

// fakeLayer returns scripted text per page.
type fakeLayer struct {
	method    types.ExtractionMethod
	available bool
	text      func(path string, page int) (string, error)
	conf      *float64

	mu    sync.Mutex
	calls []int
}

func (f *fakeLayer) Method() types.ExtractionMethod { return f.method }
func (f *fakeLayer) Available() bool                { return f.available }
func (f *fakeLayer) ExtractPage(_ context.Context, path string, page int) (LayerResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.mu.Unlock()
	s, err := f.text(path, page)
	return LayerResult{Text: s, Confidence: f.conf}, err
}

func constLayer(m types.ExtractionMethod, s string) *fakeLayer {
	return &fakeLayer{method: m, available: true, text: func(string, int) (string, error) { return s, nil }}
}

func TestAssess(t *testing.T) {
	th := ThresholdsFrom(types.DefaultExtractionConfig())
	tests := []struct {
		name    string
		text    string
		garbled bool
	}{
		{"clean prose", cleanText, false},
		{"multi-line prose", "Introduction\n\tWe study parsing.\r\nResults follow.", false},
		{"empty", "", true},
		{"control chars", garbledWithControls(), true},
		{"mostly digits", "12 34 56 78 90 12 34 56 ab", true},
		{"private use glyphs", strings.Repeat("\ue001\ue002", 20) + "ab", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := th.Assess(tt.text)
			assert.Equal(t, tt.garbled, a.Garbled)
			assert.GreaterOrEqual(t, a.Quality, 0.0)
			assert.LessOrEqual(t, a.Quality, 1.0)
			assert.Equal(t, a, th.Assess(tt.text), "classification must be deterministic")
		})
	}
}

func TestAssess_QualityIsLetterRatio(t *testing.T) {
	th := ThresholdsFrom(types.DefaultExtractionConfig())
	a := th.Assess("ab12")
	assert.InDelta(t, 0.5, a.Quality, 1e-9)
	assert.InDelta(t, 0.5, a.LetterRatio, 1e-9)
}

func TestExtractPage_StopsAtFirstClean(t *testing.T) {
	native := constLayer(types.MethodNative, cleanText)
	ext := constLayer(types.MethodExternalTool, cleanText)
	e := NewPageExtractor(types.DefaultExtractionConfig(), nil, native, ext)

	pt, err := e.ExtractPage(context.Background(), "a.pdf", 1)
	require.NoError(t, err)
	assert.Equal(t, types.MethodNative, pt.Method)
	assert.False(t, pt.IsGarbled)
	assert.Empty(t, ext.calls)
}

func TestExtractPage_EscalatesToExternalTool(t *testing.T) {
	native := constLayer(types.MethodNative, garbledWithControls())
	ext := constLayer(types.MethodExternalTool, cleanText)
	conf := 0.9
	ocr := constLayer(types.MethodOCR, cleanText)
	ocr.conf = &conf
	e := NewPageExtractor(types.DefaultExtractionConfig(), nil, native, ext, ocr)

	pt, err := e.ExtractPage(context.Background(), "a.pdf", 2)
	require.NoError(t, err)
	assert.Equal(t, types.MethodExternalTool, pt.Method)
	assert.Nil(t, pt.OCRConfidence)
	assert.Empty(t, ocr.calls)
}

func TestExtractPage_EscalatesToOCR(t *testing.T) {
	native := constLayer(types.MethodNative, garbledWithControls())
	ext := &fakeLayer{method: types.MethodExternalTool, available: true, text: func(string, int) (string, error) {
		return "", errors.New("pdftotext exited 1")
	}}
	conf := 0.87
	ocr := constLayer(types.MethodOCR, cleanText)
	ocr.conf = &conf
	e := NewPageExtractor(types.DefaultExtractionConfig(), nil, native, ext, ocr)

	pt, err := e.ExtractPage(context.Background(), "a.pdf", 2)
	require.NoError(t, err)
	assert.Equal(t, types.MethodOCR, pt.Method)
	require.NotNil(t, pt.OCRConfidence)
	assert.Equal(t, 0.87, *pt.OCRConfidence)
}

func TestExtractPage_SkipsUnavailableLayers(t *testing.T) {
	native := constLayer(types.MethodNative, garbledWithControls())
	ocr := constLayer(types.MethodOCR, cleanText)
	ocr.available = false
	e := NewPageExtractor(types.DefaultExtractionConfig(), nil, native, ocr)

	pt, err := e.ExtractPage(context.Background(), "a.pdf", 1)
	require.NoError(t, err)
	assert.Empty(t, ocr.calls)
	assert.Equal(t, types.MethodNative, pt.Method)
	assert.True(t, pt.IsGarbled, "garbled native result is returned when nothing better exists")
}

func TestExtractPage_NoTextIsExtractionFailure(t *testing.T) {
	native := constLayer(types.MethodNative, "")
	e := NewPageExtractor(types.DefaultExtractionConfig(), nil, native)

	pt, err := e.ExtractPage(context.Background(), "a.pdf", 4)
	assert.ErrorIs(t, err, types.ErrExtraction)
	assert.Equal(t, 4, pt.PageNum)
	assert.True(t, pt.IsGarbled)
}

// fakeExecutor records commands and returns scripted output.
type fakeExecutor struct {
	bins  map[string]bool
	out   string
	err   error
	calls [][]string
}

func (f *fakeExecutor) LookPath(file string) (string, error) {
	if f.bins[file] {
		return "/usr/bin/" + file, nil
	}
	return "", errors.New("not found")
}

func (f *fakeExecutor) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return []byte(f.out), f.err
}

func TestExternalToolLayer_Args(t *testing.T) {
	ex := &fakeExecutor{bins: map[string]bool{"pdftotext": true}, out: "page text\n\f"}
	l := &ExternalToolLayer{exec: ex}

	assert.True(t, l.Available())
	res, err := l.ExtractPage(context.Background(), "/tmp/p.pdf", 7)
	require.NoError(t, err)
	assert.Equal(t, "page text", res.Text)
	require.Len(t, ex.calls, 1)
	assert.Equal(t, []string{"pdftotext", "-f", "7", "-l", "7", "-layout", "-enc", "UTF-8", "/tmp/p.pdf", "-"}, ex.calls[0])
}

type fakeRecognizer struct {
	path string
}

func (f *fakeRecognizer) Recognize(imagePath string) (string, float64, error) {
	f.path = imagePath
	return cleanText, 0.91, nil
}

func TestOCRLayer_RendersThenRecognizes(t *testing.T) {
	ex := &fakeExecutor{bins: map[string]bool{"pdftoppm": true}}
	rec := &fakeRecognizer{}
	l := &OCRLayer{DPI: 200, exec: ex, recognizer: rec}

	assert.True(t, l.Available())
	res, err := l.ExtractPage(context.Background(), "/tmp/p.pdf", 3)
	require.NoError(t, err)
	assert.Equal(t, cleanText, res.Text)
	require.NotNil(t, res.Confidence)
	assert.Equal(t, 0.91, *res.Confidence)

	require.Len(t, ex.calls, 1)
	args := ex.calls[0]
	assert.Equal(t, []string{"pdftoppm", "-f", "3", "-l", "3", "-r", "200", "-png", "-singlefile", "/tmp/p.pdf"}, args[:10])
	assert.Equal(t, args[10]+".png", rec.path)
}

func TestSamplePages(t *testing.T) {
	assert.Nil(t, SamplePages(0, 5))
	assert.Equal(t, []int{1, 2, 3}, SamplePages(3, 5))
	assert.Equal(t, []int{1, 5, 9, 13, 17}, SamplePages(20, 5))
}

func TestAggregate(t *testing.T) {
	doc := Aggregate([]types.PageText{
		{PageNum: 1, Method: types.MethodNative, QualityScore: 0.8},
		{PageNum: 2, Method: types.MethodNative, QualityScore: 0.6},
	})
	assert.Equal(t, types.MethodNative, doc.OverallMethod)
	assert.InDelta(t, 0.7, doc.AverageQuality, 1e-9)

	doc = Aggregate([]types.PageText{
		{PageNum: 1, Method: types.MethodNative},
		{PageNum: 2, Method: types.MethodOCR},
	})
	assert.Equal(t, types.MethodHybrid, doc.OverallMethod)
}

type fakeDownloader struct {
	path  string
	err   error
	calls []string
}

func (f *fakeDownloader) DownloadFromKnownID(_ context.Context, id string) (string, error) {
	f.calls = append(f.calls, id)
	return f.path, f.err
}

func newTestDocExtractor(layer *fakeLayer, dl Downloader, pagesByPath map[string]int) *DocumentExtractor {
	cfg := types.DefaultExtractionConfig()
	cfg.Workers = 3
	d := NewDocumentExtractor(NewPageExtractor(cfg, nil, layer), dl, cfg, nil)
	d.sampler = layer
	d.countPages = func(path string) (int, error) {
		n, ok := pagesByPath[path]
		if !ok {
			return 0, errors.New("no such file")
		}
		return n, nil
	}
	return d
}

func TestExtractAll_OrdersPages(t *testing.T) {
	layer := &fakeLayer{method: types.MethodNative, available: true, text: func(_ string, p int) (string, error) {
		return cleanText + strings.Repeat(" page", p), nil
	}}
	d := newTestDocExtractor(layer, nil, map[string]int{"a.pdf": 9})

	doc, err := d.ExtractAll(context.Background(), "a.pdf", "")
	require.NoError(t, err)
	require.Len(t, doc.Pages, 9)
	for i, p := range doc.Pages {
		assert.Equal(t, i+1, p.PageNum)
	}
	assert.Equal(t, 9, doc.TotalPages)
	assert.Equal(t, types.MethodNative, doc.OverallMethod)
	assert.False(t, doc.AlternateSource)
	assert.Equal(t, "a.pdf", doc.SourcePath)
}

func TestExtractAll_RestartsOnAlternateSource(t *testing.T) {
	layer := &fakeLayer{method: types.MethodNative, available: true, text: func(path string, _ int) (string, error) {
		if path == "alt.pdf" {
			return cleanText, nil
		}
		return garbledWithControls(), nil
	}}
	dl := &fakeDownloader{path: "alt.pdf"}
	d := newTestDocExtractor(layer, dl, map[string]int{"bad.pdf": 10, "alt.pdf": 8})

	doc, err := d.ExtractAll(context.Background(), "bad.pdf", "2301.07041")
	require.NoError(t, err)
	assert.Equal(t, []string{"2301.07041"}, dl.calls)
	assert.True(t, doc.AlternateSource)
	assert.Equal(t, "alt.pdf", doc.SourcePath)
	assert.Len(t, doc.Pages, 8)
	for _, p := range doc.Pages {
		assert.False(t, p.IsGarbled)
	}
}

func TestExtractAll_NoKnownIDKeepsOriginal(t *testing.T) {
	layer := constLayer(types.MethodNative, garbledWithControls())
	dl := &fakeDownloader{path: "alt.pdf"}
	d := newTestDocExtractor(layer, dl, map[string]int{"bad.pdf": 2})

	doc, err := d.ExtractAll(context.Background(), "bad.pdf", "")
	require.NoError(t, err)
	assert.Empty(t, dl.calls)
	assert.False(t, doc.AlternateSource)
	assert.True(t, doc.Pages[0].IsGarbled)
}

func TestExtractAll_DownloadFailureFallsThrough(t *testing.T) {
	layer := constLayer(types.MethodNative, garbledWithControls())
	dl := &fakeDownloader{err: errors.New("404")}
	d := newTestDocExtractor(layer, dl, map[string]int{"bad.pdf": 2})

	doc, err := d.ExtractAll(context.Background(), "bad.pdf", "10.1145/1")
	require.NoError(t, err)
	assert.Len(t, dl.calls, 1)
	assert.Equal(t, "bad.pdf", doc.SourcePath)
}

func TestExtractAll_EmptyDocumentFails(t *testing.T) {
	layer := constLayer(types.MethodNative, "  ")
	d := newTestDocExtractor(layer, nil, map[string]int{"blank.pdf": 3})

	doc, err := d.ExtractAll(context.Background(), "blank.pdf", "")
	assert.ErrorIs(t, err, types.ErrExtraction)
	assert.Len(t, doc.Pages, 3)
}

func TestExtractAll_UnreadableFile(t *testing.T) {
	d := newTestDocExtractor(constLayer(types.MethodNative, cleanText), nil, map[string]int{})
	_, err := d.ExtractAll(context.Background(), "missing.pdf", "")
	assert.ErrorIs(t, err, types.ErrExtraction)
}
