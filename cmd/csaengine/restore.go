// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/csa-systems/csa-engine/internal/config"
	"github.com/csa-systems/csa-engine/internal/storage"
)

var restoreSrc string

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Replace the current storage contents from a backup archive",
	RunE:  runRestore,
}

func init() {
	restoreCmd.Flags().StringVar(&restoreSrc, "in", "", "source archive path (required)")
	restoreCmd.MarkFlagRequired("in")
}

func runRestore(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	store, err := storage.Open(ctx, storage.Config{
		KVPath:             config.Global.Storage.KVPath,
		SQLPath:            config.Global.Storage.SQLPath,
		CacheCapacityBytes: config.Global.Storage.CacheCapacityBytes,
	}, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	manifest, err := store.Restore(ctx, restoreSrc)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	fmt.Printf("restored archive from engine %s, schema version %d, created %s\n",
		manifest.EngineVersion, manifest.SchemaVersion, manifest.CreatedAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}
