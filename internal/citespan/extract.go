// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package citespan finds in-text citation markers on PDF pages. Link
// annotations are read first; pages without usable annotations are scanned
// for numeric and author-year patterns in the positioned page text.
package citespan

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pdiddy/paperstruct/internal/logging"
	"github.com/pdiddy/paperstruct/internal/pdflayout"
	"github.com/pdiddy/paperstruct/pkg/types"
)

// Span confidences by detection path. Empirically tuned.
const (
	ConfidenceAnnotation        = 0.95
	ConfidenceNumericPattern    = 0.85
	ConfidenceAuthorYearPattern = 0.75
)

// textPad is how far outside a link rectangle a glyph centre may sit.
const textPad = 1.0

// pageSource is the positioned-glyph view of a PDF.
type pageSource interface {
	NumPages() int
	Page(num int) (pdflayout.Page, error)
	Close() error
}

// Extractor produces citation spans for a document.
type Extractor struct {
	cfg    types.LinkConfig
	logger *zap.Logger

	readAnnotations func(path string) (map[int][]LinkAnnotation, error)
	openPages       func(path string) (pageSource, error)
}

// New returns an Extractor reading annotations with pdfcpu and glyphs with
// pdflayout.
func New(cfg types.LinkConfig, logger *zap.Logger) *Extractor {
	if cfg.MaxSpanLength <= 0 {
		cfg.MaxSpanLength = types.DefaultLinkConfig().MaxSpanLength
	}
	return &Extractor{
		cfg:             cfg,
		logger:          logging.OrNop(logger),
		readAnnotations: ReadLinkAnnotations,
		openPages: func(path string) (pageSource, error) {
			return pdflayout.Open(path)
		},
	}
}

// Extract returns the citation spans of every page before refsStartPage
// (all pages when refsStartPage is 0). Annotation failures degrade to the
// pattern pass; unreadable pages are skipped.
func (e *Extractor) Extract(ctx context.Context, pdfPath, documentID string, refsStartPage int) ([]types.CitationSpan, error) {
	start := time.Now()

	annots, err := e.readAnnotations(pdfPath)
	if err != nil {
		e.logger.Warn("link annotations unavailable, using text patterns only",
			zap.String("path", pdfPath), zap.Error(err))
		annots = nil
	}

	doc, err := e.openPages(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrExtraction, err)
	}
	defer doc.Close()

	last := doc.NumPages()
	if refsStartPage > 0 && refsStartPage-1 < last {
		last = refsStartPage - 1
	}

	var spans []types.CitationSpan
	var fromAnnots, fromPatterns int
	for n := 1; n <= last; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pg, err := doc.Page(n)
		if err != nil {
			e.logger.Debug("skipping unreadable page", zap.Int("page", n), zap.Error(err))
			continue
		}
		pageSpans := AnnotationSpans(pg, annots[n], e.cfg.MaxSpanLength)
		if len(pageSpans) > 0 {
			fromAnnots += len(pageSpans)
		} else {
			pageSpans = PatternSpans(pg)
			fromPatterns += len(pageSpans)
		}
		spans = append(spans, pageSpans...)
	}

	for i := range spans {
		spans[i].ID = uuid.NewString()
		spans[i].DocumentID = documentID
	}

	e.logger.Info("citation spans extracted",
		zap.String("document_id", documentID),
		zap.Int("pages", last),
		zap.Int("annotation", fromAnnots),
		zap.Int("pattern", fromPatterns),
		zap.Duration("duration", time.Since(start)))
	return spans, nil
}

// AnnotationSpans groups the page's links by destination, merges each
// group's adjacent rectangles and keeps those whose text looks like a
// citation marker no longer than maxLen. Text is read per rectangle so a
// link wrapped across lines does not pick up the words between its parts.
func AnnotationSpans(pg pdflayout.Page, links []LinkAnnotation, maxLen int) []types.CitationSpan {
	var spans []types.CitationSpan
	for _, group := range groupLinks(links) {
		rects := make([]types.BoundingBox, len(group))
		parts := make([]string, 0, len(group))
		for i, l := range group {
			rects[i] = l.Rect
			if s := pdflayout.TextIn(pg.Glyphs, l.Rect, textPad); s != "" {
				parts = append(parts, s)
			}
		}
		box, err := types.MergeBoxes(rects)
		if err != nil {
			continue
		}
		text := strings.TrimSpace(strings.Join(parts, " "))
		if text == "" || len([]rune(text)) > maxLen {
			continue
		}
		style, ok := Classify(text)
		if !ok {
			continue
		}

		span := types.CitationSpan{
			PageNum:    pg.Number,
			BBox:       box,
			RawText:    text,
			Style:      style,
			Provenance: types.SpanFromAnnotation,
			Confidence: ConfidenceAnnotation,
		}
		if dest := group[0]; dest.DestPage > 0 {
			p := dest.DestPage
			span.DestPage = &p
			if dest.DestY != nil {
				y := *dest.DestY
				span.DestY = &y
			}
		}
		spans = append(spans, span)
	}
	return spans
}

// groupLinks buckets links by destination, then splits each bucket into
// runs of vertically adjacent rectangles so one target cited twice on a
// page yields two groups. Links without a resolved target stay alone.
func groupLinks(links []LinkAnnotation) [][]LinkAnnotation {
	var keys []string
	buckets := make(map[string][]LinkAnnotation)
	for i, l := range links {
		key := l.destKey()
		if l.DestPage == 0 {
			key = fmt.Sprintf("unresolved-%d", i)
		}
		if _, ok := buckets[key]; !ok {
			keys = append(keys, key)
		}
		buckets[key] = append(buckets[key], l)
	}

	var groups [][]LinkAnnotation
	for _, k := range keys {
		var cur []LinkAnnotation
		for _, l := range buckets[k] {
			if len(cur) > 0 && !adjacent(cur[len(cur)-1].Rect, l.Rect) {
				groups = append(groups, cur)
				cur = nil
			}
			cur = append(cur, l)
		}
		if len(cur) > 0 {
			groups = append(groups, cur)
		}
	}
	return groups
}

// adjacent reports whether b continues a: on the same row and touching,
// or wrapped onto the next row.
func adjacent(a, b types.BoundingBox) bool {
	h := math.Max(math.Max(a.Height(), b.Height()), 1)
	sameRow := math.Abs(a.Y1-b.Y1) < h/2
	if sameRow {
		gap := math.Max(b.X1-a.X2, a.X1-b.X2)
		return gap <= h
	}
	return a.Y1-b.Y2 >= -h/2 && a.Y1-b.Y2 <= h
}

// PatternSpans scans the page text for bracketed numeric and parenthetical
// author-year markers and boxes each match.
func PatternSpans(pg pdflayout.Page) []types.CitationSpan {
	pos := pg.Positioned()
	matches := findMarkers(pos.Text)
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].start < matches[j].start })

	var spans []types.CitationSpan
	for _, m := range matches {
		box, ok := pos.BoxOf(m.start, m.end)
		if !ok {
			continue
		}
		spans = append(spans, types.CitationSpan{
			PageNum:    pg.Number,
			BBox:       box,
			RawText:    strings.Join(strings.Fields(pos.Text[m.start:m.end]), " "),
			Style:      m.style,
			Provenance: types.SpanFromPattern,
			Confidence: m.confidence,
		})
	}
	return spans
}
