// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"

	"go.uber.org/zap"

	"github.com/pdiddy/paperstruct/internal/acquire"
	"github.com/pdiddy/paperstruct/internal/citespan"
	"github.com/pdiddy/paperstruct/internal/grobid"
	"github.com/pdiddy/paperstruct/internal/linker"
	"github.com/pdiddy/paperstruct/internal/llm"
	"github.com/pdiddy/paperstruct/internal/llmrefs"
	"github.com/pdiddy/paperstruct/internal/pdftext"
	"github.com/pdiddy/paperstruct/internal/pipeline"
	"github.com/pdiddy/paperstruct/internal/refsection"
	"github.com/pdiddy/paperstruct/internal/store"
	"github.com/pdiddy/paperstruct/pkg/types"
)

// components are the wired pipeline collaborators for one command run.
type components struct {
	orchestrator *pipeline.Orchestrator
	engine       *grobid.Client
	store        *store.Store
}

func (c *components) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

func newDownloader() *acquire.Downloader {
	return acquire.NewDownloader(nil, cfg.Acquisition, logger)
}

func newDocumentExtractor(downloader pdftext.Downloader) *pdftext.DocumentExtractor {
	pages := pdftext.NewPageExtractor(cfg.Extraction, logger, pdftext.DefaultLayers(cfg.Extraction)...)
	return pdftext.NewDocumentExtractor(pages, downloader, cfg.Extraction, logger)
}

// buildComponents wires the full pipeline. A missing language-model key
// disables the LLM tier instead of failing.
func buildComponents(noEngine bool) (*components, error) {
	st, err := store.Open(cfg.Store)
	if err != nil {
		return nil, err
	}

	downloader := newDownloader()
	deps := pipeline.Deps{
		Text:       newDocumentExtractor(downloader),
		Downloader: downloader,
		Sections:   refsection.New(cfg.Fallback.TailPages),
		Spans:      citespan.New(cfg.Link, logger),
		Linker:     linker.New(cfg.Link, logger),
		Store:      st,
	}

	c := &components{store: st}
	if !noEngine {
		c.engine = grobid.NewClient(cfg.Engine, nil, logger)
		deps.Engine = c.engine
	}

	client, err := llm.NewOpenAIClient(cfg.Fallback.AIConfig, logger)
	switch {
	case err == nil:
		deps.LLM = llmrefs.New(client, cfg.Fallback, logger)
	case errors.Is(err, types.ErrConfiguration):
		logger.Warn("language-model fallback disabled", zap.Error(err))
	default:
		st.Close()
		return nil, err
	}

	c.orchestrator = pipeline.New(deps, cfg.Fallback, logger)
	return c, nil
}
