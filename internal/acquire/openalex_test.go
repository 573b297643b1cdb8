// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package acquire

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/paperstruct/pkg/types"
)

func TestOpenAccessCandidates(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   []string
	}{
		{
			name:   "best location only",
			status: http.StatusOK,
			body:   `{"best_oa_location": {"is_oa": true, "pdf_url": "https://repo.example.org/best.pdf"}}`,
			want:   []string{"https://repo.example.org/best.pdf"},
		},
		{
			name:   "closed work",
			status: http.StatusOK,
			body: `{"best_oa_location": null,
				"primary_location": {"is_oa": false, "pdf_url": "https://publisher.example.com/paywalled.pdf"}}`,
			want: nil,
		},
		{
			name:   "ordered and deduplicated",
			status: http.StatusOK,
			body: `{
				"best_oa_location": {"is_oa": true, "pdf_url": "https://repo.example.org/accepted.pdf"},
				"primary_location": {"is_oa": true, "pdf_url": "https://publisher.example.com/open.pdf"},
				"locations": [
					{"is_oa": true, "pdf_url": "https://publisher.example.com/open.pdf"},
					{"is_oa": false, "pdf_url": "https://mirror.example.net/closed.pdf"},
					{"is_oa": true, "pdf_url": "https://repo.example.org/accepted.pdf"},
					{"is_oa": true, "pdf_url": "https://lab.example.edu/preprint.pdf"}
				]}`,
			want: []string{
				"https://repo.example.org/accepted.pdf",
				"https://publisher.example.com/open.pdf",
				"https://lab.example.edu/preprint.pdf",
			},
		},
		{
			name:   "arXiv landing page becomes a PDF link",
			status: http.StatusOK,
			body: `{"best_oa_location": null, "locations": [
				{"is_oa": true, "pdf_url": null, "landing_page_url": "https://arxiv.org/abs/1706.03762"},
				{"is_oa": true, "pdf_url": null, "landing_page_url": "https://repo.example.org/record/42"}
			]}`,
			want: []string{arxivPDFBase + "1706.03762"},
		},
		{
			name:   "unknown DOI",
			status: http.StatusNotFound,
			body:   `{"error": "not found"}`,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotPath, gotQuery string
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer ts.Close()
			withOpenAlexBase(t, ts.URL+"/works/")

			cfg := openAlexConfig()
			cfg.Mailto = "lab@example.org"
			got, err := openAccessCandidates(context.Background(), ts.Client(), "10.1145/3571730", cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "/works/https://doi.org/10.1145/3571730", gotPath)
			assert.Equal(t, "mailto=lab%40example.org", gotQuery)
		})
	}
}

func TestOpenAccessCandidates_Errors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer ts.Close()
		withOpenAlexBase(t, ts.URL+"/")

		_, err := openAccessCandidates(context.Background(), ts.Client(), "10.1145/x", openAlexConfig())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 400")
	})

	t.Run("malformed body", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"best_oa_location": [`)
		}))
		defer ts.Close()
		withOpenAlexBase(t, ts.URL+"/")

		_, err := openAccessCandidates(context.Background(), ts.Client(), "10.1145/x", openAlexConfig())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decoding OpenAlex work")
	})

	t.Run("unreachable", func(t *testing.T) {
		withOpenAlexBase(t, "http://127.0.0.1:1/")

		_, err := openAccessCandidates(context.Background(), &http.Client{Timeout: time.Second}, "10.1145/x", openAlexConfig())
		require.Error(t, err)
	})
}

func withOpenAlexBase(t *testing.T, base string) {
	t.Helper()
	orig := openAlexAPIBase
	openAlexAPIBase = base
	t.Cleanup(func() { openAlexAPIBase = orig })
}

func openAlexConfig() types.AcquisitionConfig {
	return types.AcquisitionConfig{
		HTTPConfig: types.HTTPConfig{
			Timeout:   5 * time.Second,
			UserAgent: "paperstruct-test/0.1",
		},
	}
}
