// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/paperstruct/internal/pipeline"
)

var processCmd = &cobra.Command{
	Use:   "process [pdfs...]",
	Short: "Extract references, citation spans and links from PDFs",
	Long: `Process runs each PDF through the extraction pipeline and stores the result.
References come from the structure engine, then an alternate copy of the
paper, then the language-model parser, then the heuristic reference section.
Documents already processed successfully are skipped unless --force is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		knownID, _ := cmd.Flags().GetString("known-id")
		force, _ := cmd.Flags().GetBool("force")
		dbPath, _ := cmd.Flags().GetString("db")
		exportDir, _ := cmd.Flags().GetString("export")
		noEngine, _ := cmd.Flags().GetBool("no-engine")
		keepEngine, _ := cmd.Flags().GetBool("keep-engine")

		if id != "" && len(args) > 1 {
			return fmt.Errorf("--id applies to a single PDF, got %d", len(args))
		}
		if dbPath != "" {
			cfg.Store.Path = dbPath
		}

		c, err := buildComponents(noEngine)
		if err != nil {
			return err
		}
		defer c.Close()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if c.engine != nil && !keepEngine {
			defer func() {
				if err := c.engine.Stop(context.Background()); err != nil {
					logger.Warn("stopping engine container", zap.Error(err))
				}
			}()
		}

		docs := pipeline.DocumentsFromPaths(args, knownID)
		if id != "" {
			docs[0].ID = id
		}

		w := cmd.OutOrStdout()
		result := c.orchestrator.ProcessBatch(ctx, docs, pipeline.Options{Force: force}, w)

		if exportDir != "" {
			for _, d := range docs {
				path := filepath.Join(exportDir, d.ID+".yaml")
				if err := c.store.ExportYAML(ctx, d.ID, path); err != nil {
					fmt.Fprintf(os.Stderr, "export %s: %v\n", d.ID, err)
					continue
				}
				fmt.Fprintf(w, "exported: %s -> %s\n", d.ID, path)
			}
		}

		if result.HasFailures() {
			return fmt.Errorf("%d of %d documents failed", result.Failed, result.Total())
		}
		return nil
	},
}

func init() {
	processCmd.Flags().String("id", "", "document id (single PDF only; default: file name without extension)")
	processCmd.Flags().String("known-id", "", "arXiv id, DOI or URL used to fetch an alternate copy (single PDF only)")
	processCmd.Flags().Bool("force", false, "reprocess documents already stored with status success")
	processCmd.Flags().String("db", "", "SQLite database path (default from config: paperstruct.db)")
	processCmd.Flags().String("export", "", "directory to write one YAML export per document")
	processCmd.Flags().Bool("no-engine", false, "skip the structure engine tiers")
	processCmd.Flags().Bool("keep-engine", false, "leave an engine container started by this run running")

	rootCmd.AddCommand(processCmd)
}
