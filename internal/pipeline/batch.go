// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/pdiddy/paperstruct/pkg/types"
)

// BatchResult holds the outcome of a batch run.
type BatchResult struct {
	Succeeded int
	Partial   int
	Skipped   int
	Failed    int
}

// Total returns the number of documents seen.
func (r BatchResult) Total() int {
	return r.Succeeded + r.Partial + r.Skipped + r.Failed
}

// HasFailures reports whether any document failed.
func (r BatchResult) HasFailures() bool {
	return r.Failed > 0
}

// ProcessBatch runs every document through the orchestrator, printing one
// status line per document to w followed by a summary. Documents already
// stored with status success are skipped unless opts.Force is set.
func (o *Orchestrator) ProcessBatch(ctx context.Context, docs []types.Document, opts Options, w io.Writer) BatchResult {
	var result BatchResult
	for _, doc := range docs {
		if ctx.Err() != nil {
			fmt.Fprintf(w, "failed:  %s (%v)\n", doc.ID, ctx.Err())
			result.Failed++
			continue
		}

		if !opts.Force {
			if status, err := o.deps.Store.GetStatus(ctx, doc.ID); err == nil && status == types.StatusSuccess {
				fmt.Fprintf(w, "skipped: %s (already processed)\n", doc.ID)
				result.Skipped++
				continue
			}
		}

		res, err := o.Process(ctx, doc, Options{Force: true})
		switch {
		case err != nil:
			fmt.Fprintf(w, "failed:  %s (%v)\n", doc.ID, err)
			result.Failed++
		case res.Status == types.StatusSuccess:
			fmt.Fprintf(w, "success: %s (%d references, %d spans, %d links)\n",
				doc.ID, len(res.References), len(res.Spans), len(res.Links))
			result.Succeeded++
		default:
			fmt.Fprintf(w, "partial: %s (%s, %d references, %d spans, %d links)\n",
				doc.ID, res.Strategy, len(res.References), len(res.Spans), len(res.Links))
			result.Partial++
		}
	}
	fmt.Fprintf(w, "\nBatch summary: %d succeeded, %d partial, %d skipped, %d failed (total: %d)\n",
		result.Succeeded, result.Partial, result.Skipped, result.Failed, result.Total())
	return result
}

// DocumentsFromPaths builds documents from PDF paths, deriving each id from
// the file name. knownID applies only when there is a single path.
func DocumentsFromPaths(paths []string, knownID string) []types.Document {
	docs := make([]types.Document, len(paths))
	for i, p := range paths {
		docs[i] = types.Document{
			ID:      strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)),
			PDFPath: p,
		}
	}
	if len(docs) == 1 {
		docs[0].KnownID = knownID
	}
	return docs
}
