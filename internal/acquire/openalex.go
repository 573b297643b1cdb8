// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pdiddy/paperstruct/internal/httputil"
	"github.com/pdiddy/paperstruct/pkg/types"
)

// openAlexAPIBase is the OpenAlex works endpoint; tests point it at an
// httptest server.
var openAlexAPIBase = "https://api.openalex.org/works/"

type openAlexWork struct {
	BestOALocation  *openAlexLocation  `json:"best_oa_location"`
	PrimaryLocation *openAlexLocation  `json:"primary_location"`
	Locations       []openAlexLocation `json:"locations"`
}

type openAlexLocation struct {
	PDFURL     string `json:"pdf_url"`
	LandingURL string `json:"landing_page_url"`
	IsOA       bool   `json:"is_oa"`
}

// pdf returns the location's PDF link. Repository records often carry only
// an arxiv.org landing page, which maps directly to a PDF.
func (l openAlexLocation) pdf() string {
	if l.PDFURL != "" {
		return l.PDFURL
	}
	if t, id := Classify(l.LandingURL); t == TypeArxiv {
		return PDFURL(TypeArxiv, id)
	}
	return ""
}

// openAccessCandidates asks OpenAlex for every open-access PDF of the work
// with the given DOI, best location first and without duplicates. An
// unknown DOI or a work without an open PDF yields an empty slice.
func openAccessCandidates(ctx context.Context, client *http.Client, doi string, cfg types.AcquisitionConfig) ([]string, error) {
	apiURL := openAlexAPIBase + "https://doi.org/" + doi
	if cfg.Mailto != "" {
		apiURL += "?mailto=" + url.QueryEscape(cfg.Mailto)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAlex request: %w", err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := httputil.DoWithRetry(ctx, client, req, 0)
	if err != nil {
		return nil, fmt.Errorf("OpenAlex request for %s: %w", doi, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("OpenAlex returned HTTP %d for %s", resp.StatusCode, doi)
	}

	var work openAlexWork
	if err := json.NewDecoder(resp.Body).Decode(&work); err != nil {
		return nil, fmt.Errorf("decoding OpenAlex work %s: %w", doi, err)
	}
	return work.candidates(), nil
}

func (w openAlexWork) candidates() []string {
	var out []string
	seen := map[string]bool{}
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}

	if w.BestOALocation != nil {
		add(w.BestOALocation.pdf())
	}
	if w.PrimaryLocation != nil && w.PrimaryLocation.IsOA {
		add(w.PrimaryLocation.pdf())
	}
	for _, loc := range w.Locations {
		if loc.IsOA {
			add(loc.pdf())
		}
	}
	return out
}
