// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pdiddy/paperstruct/internal/container"
	"github.com/pdiddy/paperstruct/internal/grobid"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Manage the GROBID structure engine container",
}

var engineStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the structure engine and wait until it is healthy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ecfg := cfg.Engine
		ecfg.AutoStart = true
		client := grobid.NewClient(ecfg, nil, logger)
		if err := client.EnsureRunning(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "engine running at %s\n", client.URL())
		return nil
	},
}

var engineStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Remove the structure engine container",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := container.DetectRuntime(ctx)
		if err != nil {
			return err
		}
		if !rt.IsRunning(ctx, cfg.Engine.ContainerName) {
			fmt.Fprintf(cmd.OutOrStdout(), "engine container %s is not running\n", cfg.Engine.ContainerName)
			return nil
		}
		if err := rt.Remove(ctx, cfg.Engine.ContainerName); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "engine container %s removed\n", cfg.Engine.ContainerName)
		return nil
	},
}

var engineStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the structure engine answers its health probe",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := grobid.NewClient(cfg.Engine, nil, logger)
		if client.IsAvailable(cmd.Context()) {
			fmt.Fprintf(cmd.OutOrStdout(), "engine available at %s\n", client.URL())
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "engine not reachable at %s\n", client.URL())
		return nil
	},
}

func init() {
	engineCmd.AddCommand(engineStartCmd, engineStopCmd, engineStatusCmd)
	rootCmd.AddCommand(engineCmd)
}
