// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command csaengine runs the Complex Systems Analyzer engine: the HTTP
// command surface over the graph model, dual-store persistence, and the
// compute scheduler, plus offline backup/restore/migrate subcommands
// against the same storage layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/csa-systems/csa-engine/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "csaengine",
	Short: "Complex Systems Analyzer backend engine",
	Long: `csaengine hosts the graph model, storage layer, and compute
scheduler described in the engine's design: a System's components and
relationships, persisted across a badger-backed KV store and a sqlite
metadata store, analyzed by a priority-scheduled worker pool.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Load(configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to csaengine.yaml (default: ~/.csaengine/csaengine.yaml)")
	rootCmd.AddCommand(serveCmd, backupCmd, restoreCmd, migrateCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
