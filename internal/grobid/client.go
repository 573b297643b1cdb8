// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package grobid is the structure-engine client. It keeps a GROBID server
// reachable (starting a local container on demand), submits PDFs for
// full-text processing with coordinates, and turns the TEI response into a
// types.StructuredDocument.
package grobid

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/paperstruct/internal/container"
	"github.com/pdiddy/paperstruct/internal/httputil"
	"github.com/pdiddy/paperstruct/internal/logging"
	"github.com/pdiddy/paperstruct/pkg/types"
)

// Endpoint paths relative to the engine base URL.
const (
	pathIsAlive  = "/api/isalive"
	pathFulltext = "/api/processFulltextDocument"

	containerPort = "8070:8070"
)

// coordinateElements lists the TEI elements GROBID annotates with coords.
var coordinateElements = []string{"ref", "biblStruct", "figure", "formula"}

// detectRuntime is swapped by tests to avoid probing the host.
var detectRuntime = container.DetectRuntime

// Client talks to one GROBID server. Lifecycle calls are serialised so that
// concurrent callers share a single container start.
type Client struct {
	cfg    types.EngineConfig
	http   *http.Client
	logger *zap.Logger

	mu      sync.Mutex
	runtime container.Runtime
	started bool
}

// NewClient returns a client for cfg.URL. rt may be nil, in which case the
// container runtime is detected the first time the engine must be started.
func NewClient(cfg types.EngineConfig, rt container.Runtime, logger *zap.Logger) *Client {
	return &Client{
		cfg:     cfg,
		http:    &http.Client{},
		logger:  logging.OrNop(logger),
		runtime: rt,
	}
}

// SetHTTPClient replaces the HTTP client used for engine requests.
func (c *Client) SetHTTPClient(hc *http.Client) { c.http = hc }

// URL returns the engine base URL without a trailing slash.
func (c *Client) URL() string { return strings.TrimRight(c.cfg.URL, "/") }

// IsAvailable probes the health endpoint once.
func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL()+pathIsAlive, nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64))
	return resp.StatusCode == http.StatusOK && strings.TrimSpace(string(body)) != "false"
}

// EnsureRunning returns nil once the engine answers its health probe. When
// it does not and AutoStart is set, the image is pulled if missing and a
// detached container is started, then the probe is polled every
// HealthInterval until HealthTimeout elapses.
func (c *Client) EnsureRunning(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsAvailable(ctx) {
		return nil
	}
	if !c.cfg.AutoStart {
		return fmt.Errorf("%w: structure engine not reachable at %s and auto-start is off", types.ErrConfiguration, c.URL())
	}

	if c.runtime == nil {
		rt, err := detectRuntime(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", types.ErrConfiguration, err)
		}
		c.runtime = rt
	}
	rt := c.runtime

	if rt.IsRunning(ctx, c.cfg.ContainerName) {
		c.logger.Info("engine container already running, waiting for health", zap.String("container", c.cfg.ContainerName))
		return c.waitHealthy(ctx)
	}

	if err := rt.ImageExists(ctx, c.cfg.Image); err != nil {
		c.logger.Info("pulling engine image", zap.String("image", c.cfg.Image), zap.String("runtime", rt.Name()))
		if err := rt.Pull(ctx, c.cfg.Image); err != nil {
			return fmt.Errorf("%w: installing engine: %w", types.ErrStructureEngine, err)
		}
	}

	start := time.Now()
	if err := rt.StartDetached(ctx, c.cfg.ContainerName, c.cfg.Image, containerPort); err != nil {
		return fmt.Errorf("%w: %w", types.ErrStructureEngine, err)
	}
	c.started = true
	c.logger.Info("engine container started", zap.String("container", c.cfg.ContainerName), zap.String("image", c.cfg.Image))

	if err := c.waitHealthy(ctx); err != nil {
		return err
	}
	c.logger.Info("engine healthy", zap.Duration("duration", time.Since(start)))
	return nil
}

func (c *Client) waitHealthy(ctx context.Context) error {
	interval := c.cfg.HealthInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	deadline := time.NewTimer(c.cfg.HealthTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if c.IsAvailable(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: engine not healthy after %s", types.ErrStructureEngine, c.cfg.HealthTimeout)
		case <-ticker.C:
		}
	}
}

// Stop removes the engine container if this client started it.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started || c.runtime == nil {
		return nil
	}
	if err := c.runtime.Remove(ctx, c.cfg.ContainerName); err != nil {
		return err
	}
	c.started = false
	c.logger.Info("engine container removed", zap.String("container", c.cfg.ContainerName))
	return nil
}

// Started reports whether this client started the engine container.
func (c *Client) Started() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started
}

// ProcessFulltext submits pdfPath for full-text processing and parses the
// TEI response. Transport failures, timeouts, non-200 responses and
// malformed XML are reported as types.ErrStructureEngine.
func (c *Client) ProcessFulltext(ctx context.Context, pdfPath string) (*types.StructuredDocument, error) {
	body, contentType, err := fulltextForm(pdfPath)
	if err != nil {
		return nil, err
	}

	if c.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL()+pathFulltext, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating engine request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/xml")

	start := time.Now()
	resp, err := httputil.DoWithRetry(ctx, c.http, req, 3)
	if err != nil {
		return nil, fmt.Errorf("%w: processing %s: %w", types.ErrStructureEngine, filepath.Base(pdfPath), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: HTTP %d from engine: %s", types.ErrStructureEngine, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	doc, err := ParseTEI(resp.Body)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("engine processed document",
		zap.String("pdf", pdfPath),
		zap.Int("references", len(doc.References)),
		zap.Int("citations", len(doc.Citations)),
		zap.Duration("duration", time.Since(start)))
	return doc, nil
}

// fulltextForm builds the multipart body in memory so retries can replay it.
func fulltextForm(pdfPath string) ([]byte, string, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, "", fmt.Errorf("opening %s: %w", pdfPath, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("input", filepath.Base(pdfPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("reading %s: %w", pdfPath, err)
	}
	for _, el := range coordinateElements {
		if err := mw.WriteField("teiCoordinates", el); err != nil {
			return nil, "", err
		}
	}
	if err := mw.WriteField("includeRawCitations", "1"); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("segmentSentences", "0"); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
