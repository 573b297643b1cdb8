// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pdftext extracts per-page text from PDFs through a chain of layers
// (native layout text, pdftotext, OCR), classifies each result as clean or
// garbled, and aggregates pages into a document.
package pdftext

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/paperstruct/internal/logging"
	"github.com/pdiddy/paperstruct/internal/pdflayout"
	"github.com/pdiddy/paperstruct/pkg/types"
)

// PageExtractor extracts one page by trying each layer in order and
// stopping at the first clean result.
type PageExtractor struct {
	layers     []Layer
	thresholds Thresholds
	logger     *zap.Logger
}

// NewPageExtractor returns an extractor over layers, tried in order.
func NewPageExtractor(cfg types.ExtractionConfig, logger *zap.Logger, layers ...Layer) *PageExtractor {
	return &PageExtractor{
		layers:     layers,
		thresholds: ThresholdsFrom(cfg),
		logger:     logging.OrNop(logger),
	}
}

// Thresholds returns the garbled thresholds in use.
func (e *PageExtractor) Thresholds() Thresholds { return e.thresholds }

// ExtractPage returns the first clean layer result for pageNum. When every
// layer is garbled it returns the first garbled result. The error wraps
// types.ErrExtraction and is only set when no layer produced any text; the
// returned PageText is valid either way.
func (e *PageExtractor) ExtractPage(ctx context.Context, path string, pageNum int) (types.PageText, error) {
	var fallback *types.PageText
	for _, layer := range e.layers {
		if err := ctx.Err(); err != nil {
			return e.orEmpty(fallback, pageNum), err
		}
		if !layer.Available() {
			continue
		}

		start := time.Now()
		res, err := layer.ExtractPage(ctx, path, pageNum)
		if err != nil {
			e.logger.Debug("extraction layer failed",
				zap.String("layer", string(layer.Method())),
				zap.Int("page", pageNum),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
			continue
		}

		a := e.thresholds.Assess(res.Text)
		pt := types.PageText{
			PageNum:      pageNum,
			Text:         res.Text,
			Method:       layer.Method(),
			IsGarbled:    a.Garbled,
			QualityScore: a.Quality,
		}
		if layer.Method() == types.MethodOCR {
			pt.OCRConfidence = res.Confidence
		}
		if !a.Garbled {
			if fallback != nil {
				e.logger.Info("page recovered by escalation",
					zap.Int("page", pageNum),
					zap.String("layer", string(layer.Method())),
					zap.Duration("duration", time.Since(start)))
			}
			return pt, nil
		}

		e.logger.Debug("garbled layer output",
			zap.String("layer", string(layer.Method())),
			zap.Int("page", pageNum),
			zap.Float64("control_ratio", a.ControlRatio),
			zap.Float64("letter_ratio", a.LetterRatio),
			zap.Float64("printable_ratio", a.PrintableRatio))
		if fallback == nil {
			fallback = &pt
		}
	}

	if fallback == nil || blank(fallback.Text) {
		return e.orEmpty(fallback, pageNum), fmt.Errorf("page %d: no layer produced text: %w", pageNum, types.ErrExtraction)
	}
	return *fallback, nil
}

func (e *PageExtractor) orEmpty(pt *types.PageText, pageNum int) types.PageText {
	if pt != nil {
		return *pt
	}
	return types.PageText{PageNum: pageNum, Method: types.MethodNative, IsGarbled: true}
}

// Downloader fetches an alternate copy of a paper by public identifier.
type Downloader interface {
	DownloadFromKnownID(ctx context.Context, id string) (string, error)
}

// DocumentExtractor runs a PageExtractor over every page of a document.
type DocumentExtractor struct {
	pages      *PageExtractor
	sampler    Layer
	downloader Downloader
	cfg        types.ExtractionConfig
	logger     *zap.Logger

	// countPages is replaced in tests.
	countPages func(path string) (int, error)
}

// NewDocumentExtractor returns a document extractor. downloader may be nil,
// which disables alternate-source recovery.
func NewDocumentExtractor(pages *PageExtractor, downloader Downloader, cfg types.ExtractionConfig, logger *zap.Logger) *DocumentExtractor {
	return &DocumentExtractor{
		pages:      pages,
		sampler:    NativeLayer{},
		downloader: downloader,
		cfg:        cfg,
		logger:     logging.OrNop(logger),
		countPages: pdflayout.PageCount,
	}
}

// ExtractAll extracts every page of path. When the native layer garbles
// more than the configured share of a page sample and knownID is set, an
// alternate copy is downloaded and extraction restarts against it. The
// error wraps types.ErrExtraction only when no page yielded text.
func (d *DocumentExtractor) ExtractAll(ctx context.Context, path, knownID string) (types.DocumentText, error) {
	total, err := d.countPages(path)
	if err != nil {
		return types.DocumentText{SourcePath: path}, fmt.Errorf("counting pages of %s: %v: %w", path, err, types.ErrExtraction)
	}

	alternate := false
	if share := d.sampleGarbledShare(ctx, path, total); share > d.cfg.GarbledSampleThreshold {
		d.logger.Info("native sample mostly garbled",
			zap.String("path", path),
			zap.Float64("garbled_share", share))
		if alt, ok := d.tryAlternate(ctx, knownID); ok {
			if n, err := d.countPages(alt); err == nil {
				path, total, alternate = alt, n, true
			} else {
				d.logger.Warn("alternate copy unreadable", zap.String("path", alt), zap.Error(err))
			}
		}
	}

	pages, err := d.extractPages(ctx, path, total)
	if err != nil {
		return types.DocumentText{SourcePath: path, AlternateSource: alternate}, err
	}

	doc := Aggregate(pages)
	doc.SourcePath = path
	doc.AlternateSource = alternate
	if !doc.HasText() {
		return doc, fmt.Errorf("%s: no page yielded text: %w", path, types.ErrExtraction)
	}
	return doc, nil
}

func (d *DocumentExtractor) tryAlternate(ctx context.Context, knownID string) (string, bool) {
	if knownID == "" || d.downloader == nil {
		return "", false
	}
	start := time.Now()
	alt, err := d.downloader.DownloadFromKnownID(ctx, knownID)
	if err != nil {
		d.logger.Warn("alternate source download failed",
			zap.String("known_id", knownID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return "", false
	}
	d.logger.Info("alternate source downloaded",
		zap.String("known_id", knownID),
		zap.String("path", alt),
		zap.Duration("duration", time.Since(start)))
	return alt, true
}

// sampleGarbledShare runs the native layer over an evenly spaced page
// sample and returns the garbled fraction.
func (d *DocumentExtractor) sampleGarbledShare(ctx context.Context, path string, total int) float64 {
	sample := SamplePages(total, d.cfg.SamplePages)
	if len(sample) == 0 {
		return 0
	}
	garbled := 0
	for _, p := range sample {
		res, err := d.sampler.ExtractPage(ctx, path, p)
		if err != nil || d.pages.thresholds.IsGarbled(res.Text) {
			garbled++
		}
	}
	return float64(garbled) / float64(len(sample))
}

func (d *DocumentExtractor) extractPages(ctx context.Context, path string, total int) ([]types.PageText, error) {
	workers := d.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	pages := make([]types.PageText, total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range total {
		g.Go(func() error {
			pt, err := d.pages.ExtractPage(gctx, path, i+1)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				d.logger.Warn("page extraction failed", zap.Int("page", i+1), zap.Error(err))
			}
			pages[i] = pt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

// SamplePages returns up to n evenly spaced 1-based page numbers out of total.
func SamplePages(total, n int) []int {
	if total <= 0 || n <= 0 {
		return nil
	}
	if n >= total {
		out := make([]int, total)
		for i := range out {
			out[i] = i + 1
		}
		return out
	}
	out := make([]int, 0, n)
	step := float64(total) / float64(n)
	for i := range n {
		out = append(out, int(float64(i)*step)+1)
	}
	return out
}

// Aggregate builds the document summary for pages ordered by page number.
func Aggregate(pages []types.PageText) types.DocumentText {
	doc := types.DocumentText{Pages: pages, TotalPages: len(pages)}
	if len(pages) == 0 {
		return doc
	}
	var sum float64
	doc.OverallMethod = pages[0].Method
	for _, p := range pages {
		sum += p.QualityScore
		if p.Method != doc.OverallMethod {
			doc.OverallMethod = types.MethodHybrid
		}
	}
	doc.AverageQuality = sum / float64(len(pages))
	return doc
}
