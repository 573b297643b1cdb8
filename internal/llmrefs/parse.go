// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package llmrefs turns bibliography text into structured references with a
// language model. It is the fallback path when the structure engine fails.
package llmrefs

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/paperstruct/internal/llm"
	"github.com/pdiddy/paperstruct/internal/logging"
	"github.com/pdiddy/paperstruct/pkg/types"
)

// defaultConfidence is assumed when the model omits a confidence.
const defaultConfidence = 0.5

var (
	doiValidRe  = regexp.MustCompile(`(?i)^10\.\d{4,9}/[-._;()/:A-Z0-9]+$`)
	doiPrefixRe = regexp.MustCompile(`(?i)^(?:https?://(?:dx\.)?doi\.org/|doi:\s*)`)
)

// ChunkStats reports how a parse was split and how many chunks were lost.
type ChunkStats struct {
	Chunks int
	Failed int
}

// Parser parses reference text with a language model.
type Parser struct {
	client llm.Client
	cfg    types.FallbackConfig
	logger *zap.Logger
}

// New returns a Parser. Zero config fields take the package defaults.
func New(client llm.Client, cfg types.FallbackConfig, logger *zap.Logger) *Parser {
	def := types.DefaultFallbackConfig()
	if cfg.ChunkThreshold <= 0 {
		cfg.ChunkThreshold = def.ChunkThreshold
	}
	if cfg.CharThreshold <= 0 {
		cfg.CharThreshold = def.CharThreshold
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.ConfidenceScale <= 0 {
		cfg.ConfidenceScale = def.ConfidenceScale
	}
	return &Parser{client: client, cfg: cfg, logger: logging.OrNop(logger)}
}

// Parse sends text to the model, chunked when it is large, and returns the
// references in entry order. A failing chunk is logged and skipped; Parse
// returns an error only when the context ends or every chunk failed.
func (p *Parser) Parse(ctx context.Context, text, documentID string) ([]types.StructuredReference, ChunkStats, error) {
	var stats ChunkStats
	if strings.TrimSpace(text) == "" {
		return nil, stats, nil
	}

	chunks := []Chunk{{Text: text}}
	if entries := CountEntries(text); entries > p.cfg.ChunkThreshold || len(text) > p.cfg.CharThreshold {
		chunks = SplitChunks(text, p.cfg.ChunkSize)
		p.logger.Debug("chunking reference text",
			zap.String("document_id", documentID),
			zap.Int("entries", entries),
			zap.Int("chars", len(text)),
			zap.Int("chunks", len(chunks)))
	}
	stats.Chunks = len(chunks)

	var refs []types.StructuredReference
	var lastErr error
	for i, c := range chunks {
		start := time.Now()
		items, err := p.parseChunk(ctx, c.Text)
		if err != nil {
			if ctx.Err() != nil {
				return refs, stats, ctx.Err()
			}
			stats.Failed++
			lastErr = err
			p.logger.Warn("reference chunk abandoned",
				zap.String("document_id", documentID),
				zap.Int("chunk", i+1),
				zap.Int("of", len(chunks)),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
			continue
		}
		for j, it := range items {
			refs = append(refs, p.convert(it, documentID, c.Offset+j+1))
		}
		p.logger.Debug("reference chunk parsed",
			zap.String("document_id", documentID),
			zap.Int("chunk", i+1),
			zap.Int("references", len(items)),
			zap.Duration("duration", time.Since(start)))
	}

	if stats.Failed == stats.Chunks {
		return nil, stats, fmt.Errorf("all %d reference chunks failed: %w", stats.Chunks, lastErr)
	}
	return refs, stats, nil
}

func (p *Parser) parseChunk(ctx context.Context, text string) ([]responseItem, error) {
	prompt, err := renderPrompt(text)
	if err != nil {
		return nil, fmt.Errorf("rendering prompt: %w", err)
	}
	reply, err := p.callWithRetry(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(reply)
}

// callWithRetry retries timeout-class failures with linear backoff. Any
// other failure is returned at once.
func (p *Parser) callWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * p.cfg.RetryBackoff
			p.logger.Debug("retrying model call", zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		reply, err := p.client.Chat(ctx, prompt)
		if err == nil {
			return reply, nil
		}
		if errors.Is(err, context.Canceled) || !llm.IsTimeout(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("after %d retries: %w", p.cfg.MaxRetries, lastErr)
}

func (p *Parser) convert(it responseItem, documentID string, number int) types.StructuredReference {
	conf := defaultConfidence
	if it.Confidence != nil {
		conf = *it.Confidence
	}
	conf = clamp01(clamp01(conf) * p.cfg.ConfidenceScale)

	raw := nullable(string(it.RawText))
	if raw == "" {
		raw = strings.Join(nonEmpty(nullable(string(it.Authors)), nullable(string(it.Title)), nullable(string(it.Venue))), ". ")
	}

	return types.StructuredReference{
		DocumentID: documentID,
		Number:     number,
		RawText:    raw,
		Authors:    nullable(string(it.Authors)),
		Title:      nullable(string(it.Title)),
		Venue:      nullable(string(it.Venue)),
		Year:       ValidYear(int(it.Year)),
		DOI:        ValidDOI(string(it.DOI)),
		Confidence: conf,
		Provenance: types.ProvenanceLLMFallback,
	}
}

// ValidDOI returns the bare DOI when s is a well-formed DOI, possibly behind
// a resolver URL or "doi:" prefix, and "" otherwise.
func ValidDOI(s string) string {
	s = strings.TrimSpace(doiPrefixRe.ReplaceAllString(strings.TrimSpace(s), ""))
	s = strings.TrimRight(s, ".,;")
	if !doiValidRe.MatchString(s) {
		return ""
	}
	return s
}

// ValidYear returns y when it lies in 1900..2099, else 0.
func ValidYear(y int) int {
	if y < 1900 || y > 2099 {
		return 0
	}
	return y
}

// nullable maps placeholder values the model sometimes emits to "".
func nullable(s string) string {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "...", "…", "null", "none", "n/a", "unknown":
		return ""
	}
	return s
}

func nonEmpty(ss ...string) []string {
	var out []string
	for _, s := range ss {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
