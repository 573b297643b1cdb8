// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package acquire downloads alternate copies of papers (arXiv preprints or
// open-access PDFs) when the original PDF's text cannot be recovered.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/paperstruct/internal/httputil"
	"github.com/pdiddy/paperstruct/internal/logging"
	"github.com/pdiddy/paperstruct/pkg/types"
)

// ErrDisabled is returned when alternate downloads are turned off.
var ErrDisabled = errors.New("alternate-source download disabled")

// Record describes one downloaded alternate copy. It is written next to the
// PDF as <slug>.yaml.
type Record struct {
	KnownID      string    `yaml:"known_id"`
	Source       string    `yaml:"source"`
	SourceURL    string    `yaml:"source_url"`
	PDFPath      string    `yaml:"pdf_path"`
	DownloadedAt time.Time `yaml:"downloaded_at"`
}

// Downloader fetches alternate copies into cfg.DownloadDir.
type Downloader struct {
	client *http.Client
	cfg    types.AcquisitionConfig
	logger *zap.Logger
}

// NewDownloader returns a downloader. A nil client gets one with cfg.Timeout.
func NewDownloader(client *http.Client, cfg types.AcquisitionConfig, logger *zap.Logger) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Downloader{client: client, cfg: cfg, logger: logging.OrNop(logger)}
}

// DownloadFromKnownID resolves id (arXiv id, DOI or PDF URL) to a PDF and
// downloads it, returning the local path. An existing download is reused.
func (d *Downloader) DownloadFromKnownID(ctx context.Context, id string) (string, error) {
	if !d.cfg.Enabled {
		return "", ErrDisabled
	}
	idType, normalized := Classify(id)
	if idType == TypeUnknown {
		return "", fmt.Errorf("unrecognized identifier format: %q", id)
	}

	slug := Slug(idType, normalized)
	pdfPath := filepath.Join(d.cfg.DownloadDir, slug+".pdf")
	if _, err := os.Stat(pdfPath); err == nil {
		d.logger.Debug("alternate copy already present", zap.String("path", pdfPath))
		return pdfPath, nil
	}

	if err := os.MkdirAll(d.cfg.DownloadDir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", d.cfg.DownloadDir, err)
	}

	var lastErr error
	for _, c := range d.sources(ctx, idType, normalized) {
		err := d.downloadFile(ctx, c.url, pdfPath)
		if err == nil {
			rec := Record{
				KnownID:      id,
				Source:       c.source,
				SourceURL:    c.url,
				PDFPath:      pdfPath,
				DownloadedAt: time.Now().UTC(),
			}
			if err := writeRecord(rec, filepath.Join(d.cfg.DownloadDir, slug+".yaml")); err != nil {
				d.logger.Warn("writing download record", zap.String("slug", slug), zap.Error(err))
			}
			return pdfPath, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		d.logger.Debug("alternate source failed", zap.String("source", c.source), zap.String("url", c.url), zap.Error(err))
		lastErr = err
	}
	return "", fmt.Errorf("downloading %s: %w", slug, lastErr)
}

type candidate struct {
	source string
	url    string
}

// sources lists download URLs in the order they are tried. DOIs try every
// open-access copy OpenAlex knows before the publisher resolver.
func (d *Downloader) sources(ctx context.Context, idType IdentifierType, normalized string) []candidate {
	var out []candidate
	if idType == TypeDOI {
		urls, err := openAccessCandidates(ctx, d.client, normalized, d.cfg)
		if err != nil {
			d.logger.Debug("OpenAlex lookup failed", zap.String("doi", normalized), zap.Error(err))
		}
		for _, u := range urls {
			out = append(out, candidate{source: "openalex", url: u})
		}
	}
	return append(out, candidate{source: idType.String(), url: PDFURL(idType, normalized)})
}

// downloadFile fetches url to destPath using a temporary file. It sets
// User-Agent and requests PDF via the Accept header. Responses that are not
// PDFs are rejected so landing pages never replace the paper.
func (d *Downloader) downloadFile(ctx context.Context, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("Accept", "application/pdf")

	resp, err := httputil.DoWithRetry(ctx, d.client, req, 0)
	if err != nil {
		return fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".acquire-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	_, copyErr := io.Copy(tmpFile, resp.Body)
	closeErr := tmpFile.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing download: %w", copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", closeErr)
	}
	if err := checkPDFMagic(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

func checkPDFMagic(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	head := make([]byte, 5)
	if _, err := io.ReadFull(f, head); err != nil || string(head) != "%PDF-" {
		return fmt.Errorf("downloaded file is not a PDF")
	}
	return nil
}

// writeRecord writes a download record to a YAML file.
func writeRecord(rec Record, path string) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling record: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadRecord reads a download record from a YAML file.
func ReadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
