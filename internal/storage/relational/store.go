// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package relational is the metadata-and-index half of the storage layer
// (spec.md §4.1): systems, components, relationships, schema_version, and
// the pending_kv_write write-ahead marker used for crash recovery. Backed
// by modernc.org/sqlite (see DESIGN.md for why this is the one dependency
// not grounded in the example pack), accessed only through database/sql.
package relational

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
)

// CurrentSchemaVersion is the schema this binary writes and expects to
// read without migration.
const CurrentSchemaVersion = 1

// Store wraps a single-file SQLite database. spec.md §5 requires
// single-connection write semantics; sql.DB's pool is capped at one open
// connection so writes are naturally serialized while reads may still
// multiplex onto it.
type Store struct {
	db *sql.DB
}

// Open opens (and, if absent, initializes) the relational store at path.
// path == "" opens an in-memory database, used by tests.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("relational: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("relational: enable foreign keys: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS systems (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			modified_at INTEGER NOT NULL,
			metadata TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS components (
			id TEXT PRIMARY KEY,
			system_id TEXT NOT NULL REFERENCES systems(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			properties TEXT NOT NULL,
			state TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_components_system ON components(system_id)`,
		`CREATE TABLE IF NOT EXISTS relationships (
			id TEXT PRIMARY KEY,
			system_id TEXT NOT NULL REFERENCES systems(id) ON DELETE CASCADE,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			weight REAL NOT NULL,
			properties TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_system ON relationships(system_id)`,
		`CREATE TABLE IF NOT EXISTS pending_kv_write (
			system_id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("relational: migrate: %w", err)
		}
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_version(version) VALUES (?)", CurrentSchemaVersion); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion returns the version currently recorded on disk.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&v)
	return v, err
}

// SystemRow, ComponentRow, RelationshipRow are the row shapes this store
// reads and writes; internal/storage translates to/from internal/model.
type SystemRow struct {
	ID                     uuid.UUID
	Name, Description      string
	CreatedAt, ModifiedAt  time.Time
	Metadata               map[string]string
}

type ComponentRow struct {
	ID, SystemID uuid.UUID
	Name, Kind   string
	Properties   map[string]any
	State        json.RawMessage
}

type RelationshipRow struct {
	ID, SystemID, SourceID, TargetID uuid.UUID
	Kind                             string
	Weight                           float64
	Properties                       map[string]any
}

// UpsertSystem inserts or updates the systems row. Returns Conflict-style
// semantics by letting the caller compare ModifiedAt before calling when
// spec.md's newer-timestamp rule applies.
func (s *Store) UpsertSystem(ctx context.Context, tx *sql.Tx, row SystemRow) error {
	meta, err := json.Marshal(row.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO systems (id, name, description, created_at, modified_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description,
			modified_at=excluded.modified_at, metadata=excluded.metadata`,
		row.ID.String(), row.Name, row.Description, row.CreatedAt.UnixNano(), row.ModifiedAt.UnixNano(), string(meta))
	return err
}

func (s *Store) GetSystem(ctx context.Context, id uuid.UUID) (SystemRow, error) {
	var row SystemRow
	var createdAt, modifiedAt int64
	var meta string
	var idStr string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, description, created_at, modified_at, metadata FROM systems WHERE id = ?`, id.String()).
		Scan(&idStr, &row.Name, &row.Description, &createdAt, &modifiedAt, &meta)
	if err != nil {
		return SystemRow{}, err
	}
	row.ID, _ = uuid.Parse(idStr)
	row.CreatedAt = time.Unix(0, createdAt)
	row.ModifiedAt = time.Unix(0, modifiedAt)
	_ = json.Unmarshal([]byte(meta), &row.Metadata)
	return row, nil
}

func (s *Store) DeleteSystem(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM systems WHERE id = ?`, id.String())
	return err
}

func (s *Store) UpsertComponent(ctx context.Context, tx *sql.Tx, row ComponentRow) error {
	props, err := json.Marshal(row.Properties)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO components (id, system_id, name, kind, properties, state)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, kind=excluded.kind,
			properties=excluded.properties, state=excluded.state`,
		row.ID.String(), row.SystemID.String(), row.Name, row.Kind, string(props), string(row.State))
	return err
}

func (s *Store) DeleteComponent(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM components WHERE id = ?`, id.String())
	return err
}

func (s *Store) ComponentsForSystem(ctx context.Context, systemID uuid.UUID) ([]ComponentRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, system_id, name, kind, properties, state FROM components WHERE system_id = ?`, systemID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ComponentRow
	for rows.Next() {
		var row ComponentRow
		var idStr, sysStr, props, state string
		if err := rows.Scan(&idStr, &sysStr, &row.Name, &row.Kind, &props, &state); err != nil {
			return nil, err
		}
		row.ID, _ = uuid.Parse(idStr)
		row.SystemID, _ = uuid.Parse(sysStr)
		_ = json.Unmarshal([]byte(props), &row.Properties)
		row.State = json.RawMessage(state)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *Store) UpsertRelationship(ctx context.Context, tx *sql.Tx, row RelationshipRow) error {
	props, err := json.Marshal(row.Properties)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO relationships (id, system_id, source_id, target_id, kind, weight, properties)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET source_id=excluded.source_id, target_id=excluded.target_id,
			kind=excluded.kind, weight=excluded.weight, properties=excluded.properties`,
		row.ID.String(), row.SystemID.String(), row.SourceID.String(), row.TargetID.String(), row.Kind, row.Weight, string(props))
	return err
}

func (s *Store) DeleteRelationship(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, id.String())
	return err
}

func (s *Store) RelationshipsForSystem(ctx context.Context, systemID uuid.UUID) ([]RelationshipRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, system_id, source_id, target_id, kind, weight, properties FROM relationships WHERE system_id = ?`, systemID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RelationshipRow
	for rows.Next() {
		var row RelationshipRow
		var idStr, sysStr, srcStr, tgtStr, props string
		if err := rows.Scan(&idStr, &sysStr, &srcStr, &tgtStr, &row.Kind, &row.Weight, &props); err != nil {
			return nil, err
		}
		row.ID, _ = uuid.Parse(idStr)
		row.SystemID, _ = uuid.Parse(sysStr)
		row.SourceID, _ = uuid.Parse(srcStr)
		row.TargetID, _ = uuid.Parse(tgtStr)
		_ = json.Unmarshal([]byte(props), &row.Properties)
		out = append(out, row)
	}
	return out, rows.Err()
}

// BeginTx starts a transaction for the caller to compose multi-table
// writes into one atomic unit (store_system's "single logical
// transaction" in spec.md §4.1).
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// MarkPendingKVWrite records the write-ahead marker before the KV half of
// a mutation is attempted.
func (s *Store) MarkPendingKVWrite(ctx context.Context, tx *sql.Tx, systemID uuid.UUID, kind string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pending_kv_write (system_id, kind, created_at)
		VALUES (?, ?, ?) ON CONFLICT(system_id) DO UPDATE SET kind=excluded.kind, created_at=excluded.created_at`,
		systemID.String(), kind, time.Now().UnixNano())
	return err
}

// ClearPendingKVWrite removes the marker once the KV write has committed.
func (s *Store) ClearPendingKVWrite(ctx context.Context, systemID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_kv_write WHERE system_id = ?`, systemID.String())
	return err
}

// PendingKVWrite is one row found by PendingWrites on startup recovery scan.
type PendingKVWrite struct {
	SystemID  uuid.UUID
	Kind      string
	CreatedAt time.Time
}

// PendingWrites lists every unresolved write-ahead marker, scanned at
// startup to re-drive interrupted KV writes (spec.md §4.1 failure
// semantics and testable scenario 6, crash recovery).
func (s *Store) PendingWrites(ctx context.Context) ([]PendingKVWrite, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT system_id, kind, created_at FROM pending_kv_write`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PendingKVWrite
	for rows.Next() {
		var idStr, kind string
		var createdAt int64
		if err := rows.Scan(&idStr, &kind, &createdAt); err != nil {
			return nil, err
		}
		id, _ := uuid.Parse(idStr)
		out = append(out, PendingKVWrite{SystemID: id, Kind: kind, CreatedAt: time.Unix(0, createdAt)})
	}
	return out, rows.Err()
}
