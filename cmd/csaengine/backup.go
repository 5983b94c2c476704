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

const engineVersion = "0.1.0"

var backupDest string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a self-contained backup archive of the current storage",
	RunE:  runBackup,
}

func init() {
	backupCmd.Flags().StringVar(&backupDest, "out", "csaengine-backup.zip", "destination archive path")
}

func runBackup(cmd *cobra.Command, args []string) error {
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

	if err := store.Backup(ctx, backupDest, engineVersion); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	fmt.Printf("backup written to %s\n", backupDest)
	return nil
}
