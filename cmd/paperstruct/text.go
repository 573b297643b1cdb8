// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/paperstruct/pkg/types"
)

var textCmd = &cobra.Command{
	Use:   "text <pdf>",
	Short: "Report per-page text extraction for a PDF",
	Long: `Text extracts every page of a PDF through the native, external-tool and OCR
layers and prints which layer produced each page, its quality score and
whether the native text was garbled. With --show the page text is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		knownID, _ := cmd.Flags().GetString("known-id")
		show, _ := cmd.Flags().GetBool("show")

		extractor := newDocumentExtractor(newDownloader())
		doc, err := extractor.ExtractAll(cmd.Context(), args[0], knownID)
		if err != nil && !errors.Is(err, types.ErrExtraction) {
			return err
		}

		w := cmd.OutOrStdout()
		for _, p := range doc.Pages {
			line := fmt.Sprintf("page %3d: %-13s quality=%.2f garbled=%t chars=%d",
				p.PageNum, p.Method, p.QualityScore, p.IsGarbled, len(p.Text))
			if p.OCRConfidence != nil {
				line += fmt.Sprintf(" ocr_confidence=%.2f", *p.OCRConfidence)
			}
			fmt.Fprintln(w, line)
			if show && strings.TrimSpace(p.Text) != "" {
				fmt.Fprintf(w, "%s\n\n", p.Text)
			}
		}

		source := doc.SourcePath
		if doc.AlternateSource {
			source += " (alternate copy)"
		}
		fmt.Fprintf(w, "\nText summary: %d pages, method %s, average quality %.2f, source %s\n",
			doc.TotalPages, doc.OverallMethod, doc.AverageQuality, source)
		return err
	},
}

func init() {
	textCmd.Flags().String("known-id", "", "arXiv id, DOI or URL used when the native text is garbled")
	textCmd.Flags().Bool("show", false, "print the extracted text of each page")

	rootCmd.AddCommand(textCmd)
}
