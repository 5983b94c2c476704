// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	destPath := filepath.Join(dir, "backup.zip")

	var written string
	backupKV := func(ctx context.Context, w io.Writer) error {
		_, err := w.Write([]byte("kv-payload"))
		written = "kv-payload"
		return err
	}

	require.NoError(t, Create(context.Background(), destPath, 1, "0.1.0", "", backupKV))
	_, err := os.Stat(destPath)
	require.NoError(t, err)
	assert.Equal(t, "kv-payload", written)

	var restored []byte
	loadKV := func(ctx context.Context, r io.Reader) error {
		b, err := io.ReadAll(r)
		restored = b
		return err
	}

	manifest, err := Restore(context.Background(), destPath, 1, "", loadKV)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", manifest.EngineVersion)
	assert.Equal(t, 1, manifest.SchemaVersion)
	assert.NotEmpty(t, manifest.SHA256)
	assert.Equal(t, []byte("kv-payload"), restored)
}

func TestRestoreRejectsNewerSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	destPath := filepath.Join(dir, "backup.zip")

	backupKV := func(ctx context.Context, w io.Writer) error {
		_, err := w.Write([]byte("payload"))
		return err
	}
	require.NoError(t, Create(context.Background(), destPath, 5, "0.2.0", "", backupKV))

	loadKV := func(ctx context.Context, r io.Reader) error { return nil }
	_, err := Restore(context.Background(), destPath, 1, "", loadKV)
	require.Error(t, err)
}

func TestCreateIncludesSqliteFile(t *testing.T) {
	dir := t.TempDir()
	sqlPath := filepath.Join(dir, "meta.sqlite")
	require.NoError(t, os.WriteFile(sqlPath, []byte("sqlite-bytes"), 0o644))
	destPath := filepath.Join(dir, "backup.zip")

	backupKV := func(ctx context.Context, w io.Writer) error {
		_, err := w.Write([]byte("kv"))
		return err
	}
	require.NoError(t, Create(context.Background(), destPath, 1, "0.1.0", sqlPath, backupKV))

	restoredSQLPath := filepath.Join(dir, "restored.sqlite")
	loadKV := func(ctx context.Context, r io.Reader) error { _, err := io.ReadAll(r); return err }
	_, err := Restore(context.Background(), destPath, 1, restoredSQLPath, loadKV)
	require.NoError(t, err)

	got, err := os.ReadFile(restoredSQLPath)
	require.NoError(t, err)
	assert.Equal(t, "sqlite-bytes", string(got))
}
