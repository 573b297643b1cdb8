// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/paperstruct/internal/citespan"
	"github.com/pdiddy/paperstruct/internal/refsection"
	"github.com/pdiddy/paperstruct/pkg/types"
)

var spansCmd = &cobra.Command{
	Use:   "spans <pdf>",
	Short: "List the in-text citation markers of a PDF",
	Long: `Spans runs citation span extraction alone: link annotations first, text
patterns on pages without usable links. Pages from the reference section
onwards are skipped; the section is located from the page text unless
--refs-start is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		refsStart, _ := cmd.Flags().GetInt("refs-start")
		path := args[0]

		if refsStart == 0 {
			doc, _ := newDocumentExtractor(nil).ExtractAll(cmd.Context(), path, "")
			if res := refsection.New(cfg.Fallback.TailPages).Parse(doc.Pages); res.Found {
				refsStart = res.StartPage
			}
		}

		spans, err := citespan.New(cfg.Link, logger).Extract(cmd.Context(), path, "cli", refsStart)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		counts := make(map[types.SpanProvenance]int)
		for _, s := range spans {
			counts[s.Provenance]++
			line := fmt.Sprintf("page %3d  %-10s %-11s %.2f  (%.1f, %.1f, %.1f, %.1f)  %s",
				s.PageNum, s.Provenance, s.Style, s.Confidence, s.BBox.X1, s.BBox.Y1, s.BBox.X2, s.BBox.Y2, s.RawText)
			if s.HasDestination() {
				line += fmt.Sprintf("  -> page %d", *s.DestPage)
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintf(w, "\nSpan summary: %d spans (%d annotation, %d pattern), references start at page %d\n",
			len(spans), counts[types.SpanFromAnnotation], counts[types.SpanFromPattern], refsStart)
		return nil
	},
}

func init() {
	spansCmd.Flags().Int("refs-start", 0, "first page of the reference section (0: detect)")

	rootCmd.AddCommand(spansCmd)
}
