// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup produces and restores the self-contained ZIP archive
// spec.md §6's "Persisted layout" names: kv.snapshot, meta.sqlite,
// manifest.json. original_source/src/storage/mod.rs leaves this a stub
// ("// TODO: Implement backup logic"); this package implements it
// directly against spec.md's archive format using the standard library
// (no third-party zip/checksum library appears anywhere in the example
// pack, so archive/zip and crypto/sha256 are the grounded choice here).
package backup

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Manifest is the JSON document carried as manifest.json inside the
// archive.
type Manifest struct {
	EngineVersion string    `json:"engine_version"`
	SchemaVersion int       `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	SHA256        string    `json:"sha256"`
}

// KVBackupFunc streams a KV snapshot to w (DB.Backup adapted to this
// narrow signature so this package stays independent of internal/storage/kv).
type KVBackupFunc func(ctx context.Context, w io.Writer) error

// Create writes a backup archive to destPath containing a KV snapshot
// (via backupKV), the relational database file at sqlitePath, and a
// manifest with a checksum over both. The engine continues serving reads
// throughout, since backupKV and the sqlite file copy are both read-only
// operations against the live stores (spec.md §4.1's "must continue to
// serve reads during backup").
func Create(ctx context.Context, destPath string, schemaVersion int, engineVersion string, sqlitePath string, backupKV KVBackupFunc) error {
	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("backup: create archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	hash := sha256.New()

	kvWriter, err := zw.Create("kv.snapshot")
	if err != nil {
		return err
	}
	if err := backupKV(ctx, io.MultiWriter(kvWriter, hash)); err != nil {
		zw.Close()
		return fmt.Errorf("backup: kv snapshot: %w", err)
	}

	if sqlitePath != "" && sqlitePath != ":memory:" {
		sqlFile, err := os.Open(sqlitePath)
		if err != nil {
			zw.Close()
			return fmt.Errorf("backup: open sqlite file: %w", err)
		}
		metaWriter, err := zw.Create("meta.sqlite")
		if err != nil {
			sqlFile.Close()
			zw.Close()
			return err
		}
		if _, err := io.Copy(io.MultiWriter(metaWriter, hash), sqlFile); err != nil {
			sqlFile.Close()
			zw.Close()
			return fmt.Errorf("backup: copy sqlite file: %w", err)
		}
		sqlFile.Close()
	}

	manifest := Manifest{
		EngineVersion: engineVersion,
		SchemaVersion: schemaVersion,
		CreatedAt:     time.Now(),
		SHA256:        hex.EncodeToString(hash.Sum(nil)),
	}
	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		zw.Close()
		return err
	}
	manifestWriter, err := zw.Create("manifest.json")
	if err != nil {
		zw.Close()
		return err
	}
	if _, err := manifestWriter.Write(manifestBytes); err != nil {
		zw.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, destPath)
}

// KVLoadFunc restores a KV snapshot from r.
type KVLoadFunc func(ctx context.Context, r io.Reader) error

// Restore reads the archive at srcPath, validates its manifest's schema
// version against currentSchemaVersion (allowing any version up to and
// including it, since migratable prior versions are acceptable per
// spec.md §4.1), then restores the KV snapshot via loadKV and overwrites
// destSqlitePath with the archived relational file.
func Restore(ctx context.Context, srcPath string, currentSchemaVersion int, destSqlitePath string, loadKV KVLoadFunc) (Manifest, error) {
	zr, err := zip.OpenReader(srcPath)
	if err != nil {
		return Manifest{}, fmt.Errorf("restore: open archive: %w", err)
	}
	defer zr.Close()

	files := make(map[string]*zip.File)
	for _, f := range zr.File {
		files[f.Name] = f
	}

	manifestFile, ok := files["manifest.json"]
	if !ok {
		return Manifest{}, fmt.Errorf("restore: archive missing manifest.json")
	}
	manifest, err := readManifest(manifestFile)
	if err != nil {
		return Manifest{}, err
	}
	if manifest.SchemaVersion > currentSchemaVersion {
		return Manifest{}, fmt.Errorf("restore: archive schema version %d is newer than supported version %d", manifest.SchemaVersion, currentSchemaVersion)
	}

	kvFile, ok := files["kv.snapshot"]
	if !ok {
		return Manifest{}, fmt.Errorf("restore: archive missing kv.snapshot")
	}
	kvReader, err := kvFile.Open()
	if err != nil {
		return Manifest{}, err
	}
	defer kvReader.Close()
	if err := loadKV(ctx, kvReader); err != nil {
		return Manifest{}, fmt.Errorf("restore: load kv snapshot: %w", err)
	}

	if metaFile, ok := files["meta.sqlite"]; ok && destSqlitePath != "" {
		if err := extractFile(metaFile, destSqlitePath); err != nil {
			return Manifest{}, fmt.Errorf("restore: extract meta.sqlite: %w", err)
		}
	}

	return manifest, nil
}

func readManifest(f *zip.File) (Manifest, error) {
	r, err := f.Open()
	if err != nil {
		return Manifest{}, err
	}
	defer r.Close()
	var m Manifest
	if err := json.NewDecoder(r).Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("restore: decode manifest: %w", err)
	}
	return m, nil
}

func extractFile(f *zip.File, destPath string) error {
	r, err := f.Open()
	if err != nil {
		return err
	}
	defer r.Close()
	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, r)
	return err
}
