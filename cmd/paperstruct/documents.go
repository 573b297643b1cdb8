// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/paperstruct/internal/store"
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "List, export and delete stored documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		return withStore(cmd, func(st *store.Store) error {
			docs, err := st.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(docs)
			}
			for _, d := range docs {
				fmt.Fprintf(w, "%-30s %-8s %-17s refs=%-4d spans=%-5d links=%-5d %s\n",
					d.ID, d.Status, d.Strategy, d.References, d.Spans, d.Links, d.UpdatedAt.Format("2006-01-02 15:04"))
			}
			fmt.Fprintf(w, "\n%d documents\n", len(docs))
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <id> <path>",
	Short: "Write a stored document as YAML",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st *store.Store) error {
			if err := st.ExportYAML(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported: %s -> %s\n", args[0], args[1])
			return nil
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Remove a stored document and all of its rows",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(st *store.Store) error {
			if err := st.DeleteDocument(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted: %s\n", args[0])
			return nil
		})
	},
}

func withStore(cmd *cobra.Command, fn func(*store.Store) error) error {
	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		cfg.Store.Path = dbPath
	}
	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func init() {
	documentsCmd.PersistentFlags().String("db", "", "SQLite database path (default from config: paperstruct.db)")
	documentsCmd.Flags().Bool("json", false, "output as JSON")

	documentsCmd.AddCommand(exportCmd, deleteCmd)
	rootCmd.AddCommand(documentsCmd)
}
