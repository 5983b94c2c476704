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

	"github.com/spf13/cobra"

	"github.com/csa-systems/csa-engine/internal/config"
	"github.com/csa-systems/csa-engine/internal/storage/relational"
)

var migrateTarget int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the relational store's migration chain (schema_migrate)",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().IntVar(&migrateTarget, "target", relational.CurrentSchemaVersion, "target schema version; a value above the current version is rejected, and the store is always migrated to the current version")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if migrateTarget > relational.CurrentSchemaVersion {
		return fmt.Errorf("requested schema version %d is newer than this binary supports (%d)", migrateTarget, relational.CurrentSchemaVersion)
	}
	ctx := context.Background()

	// relational.Open runs every migration step up to CurrentSchemaVersion;
	// each statement is a CREATE TABLE/INDEX IF NOT EXISTS, so re-running
	// against an already-migrated file is a no-op (spec.md §4.1's "each
	// migration is idempotent").
	store, err := relational.Open(ctx, config.Global.Storage.SQLPath)
	if err != nil {
		return fmt.Errorf("open relational store: %w", err)
	}
	defer store.Close()

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	fmt.Printf("relational store at schema version %d\n", version)
	return nil
}
