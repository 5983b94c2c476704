// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage composes the KV store, the relational store, and the
// cache into the single Storage facade spec.md §4.1 describes: the
// relational store is authoritative for metadata and enforces foreign
// keys; the KV store is authoritative for bulk payload; both are written
// on mutation in the fixed relational-then-KV order, with a write-ahead
// marker bridging the gap for crash recovery.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/csa-systems/csa-engine/internal/model"
	"github.com/csa-systems/csa-engine/internal/storage/backup"
	"github.com/csa-systems/csa-engine/internal/storage/cache"
	"github.com/csa-systems/csa-engine/internal/storage/kv"
	"github.com/csa-systems/csa-engine/internal/storage/relational"
)

// Storage is the facade used by the rest of the engine.
type Storage struct {
	kv     *kv.DB
	rel    *relational.Store
	cache  *cache.Cache
	logger *slog.Logger
	cfg    Config
}

// Config bundles the knobs storage.* config section names.
type Config struct {
	KVPath             string
	SQLPath            string
	CacheCapacityBytes int64
	CacheMaxEntries    int
}

// Open opens both backing stores and the cache, then re-drives any
// pending write-ahead markers left by an unclean shutdown (spec.md §4.1
// failure semantics, testable scenario 6).
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kvCfg := kv.DefaultConfig(cfg.KVPath)
	kvCfg.Logger = logger
	if cfg.KVPath == "" {
		kvCfg = kv.InMemoryConfig()
	}
	kvdb, err := kv.Open(kvCfg)
	if err != nil {
		return nil, model.NewError(model.KindIO, "open kv store", err)
	}

	rel, err := relational.Open(ctx, cfg.SQLPath)
	if err != nil {
		kvdb.Close()
		return nil, model.NewError(model.KindIO, "open relational store", err)
	}

	maxEntries := cfg.CacheMaxEntries
	if maxEntries <= 0 {
		maxEntries = 50_000
	}

	s := &Storage{
		kv:     kvdb,
		rel:    rel,
		cache:  cache.New(cache.Options{MaxEntries: maxEntries}),
		logger: logger.With(slog.String("component", "storage")),
		cfg:    cfg,
	}

	if err := s.recoverPendingWrites(ctx); err != nil {
		s.logger.Warn("pending write recovery failed", slog.Any("error", err))
	}

	return s, nil
}

func (s *Storage) Close() error {
	relErr := s.rel.Close()
	kvErr := s.kv.Close()
	if relErr != nil {
		return relErr
	}
	return kvErr
}

// recoverPendingWrites scans the relational store's write-ahead markers
// left by an unclean shutdown mid-mutation and re-derives the KV write
// from the (already-committed) relational-authoritative record.
func (s *Storage) recoverPendingWrites(ctx context.Context) error {
	pending, err := s.rel.PendingWrites(ctx)
	if err != nil {
		return err
	}
	for _, p := range pending {
		s.logger.Info("redriving pending kv write", slog.String("system_id", p.SystemID.String()))
		if err := s.redriveSystem(ctx, p.SystemID); err != nil {
			s.logger.Warn("redrive failed", slog.String("system_id", p.SystemID.String()), slog.Any("error", err))
			continue
		}
		if err := s.rel.ClearPendingKVWrite(ctx, p.SystemID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) redriveSystem(ctx context.Context, systemID uuid.UUID) error {
	componentRows, err := s.rel.ComponentsForSystem(ctx, systemID)
	if err != nil {
		return err
	}
	relationshipRows, err := s.rel.RelationshipsForSystem(ctx, systemID)
	if err != nil {
		return err
	}

	components := make([]*model.Component, 0, len(componentRows))
	for _, row := range componentRows {
		c, err := fromComponentRow(row)
		if err != nil {
			return err
		}
		components = append(components, c)
	}
	relationships := make([]*model.Relationship, 0, len(relationshipRows))
	for _, row := range relationshipRows {
		relationships = append(relationships, fromRelationshipRow(row))
	}
	return s.writeKV(systemID, components, relationships)
}

// StoreSystem atomically writes the system row plus every component and
// relationship, relational-first with a write-ahead marker bridging to
// the KV write, per spec.md §4.1's fixed write order. Entities persisted
// under sys.ID that are absent from components/relationships are
// reconciled away: store_system is the only path that observes the full
// intended graph at once, so it is also where deletions surface (spec.md
// §3 Lifecycle, "destroyed by explicit delete … also evicts … persisted
// rows"; §8 scenario 2).
func (s *Storage) StoreSystem(ctx context.Context, sys *model.System, components []*model.Component, relationships []*model.Relationship) error {
	existing, err := s.rel.GetSystem(ctx, sys.ID)
	hasExisting := err == nil
	if hasExisting && existing.ModifiedAt.After(sys.UpdatedAt) {
		return model.NewError(model.KindConflict, "system has a newer modification timestamp in storage", nil)
	}

	var removedComponents []relational.ComponentRow
	var removedRelationships []relational.RelationshipRow
	if hasExisting {
		removedComponents, removedRelationships, err = s.diffRemovedEntities(ctx, sys.ID, components, relationships)
		if err != nil {
			return model.NewError(model.KindIO, "diff persisted entities", err)
		}
	}

	tx, err := s.rel.BeginTx(ctx)
	if err != nil {
		return model.NewError(model.KindIO, "begin transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := s.rel.UpsertSystem(ctx, tx, toSystemRow(sys)); err != nil {
		return model.NewError(model.KindIO, "store system row", err)
	}
	for _, c := range components {
		row, err := toComponentRow(c)
		if err != nil {
			return model.NewError(model.KindInternal, "encode component", err)
		}
		if err := s.rel.UpsertComponent(ctx, tx, row); err != nil {
			return model.NewError(model.KindIO, "store component row", err)
		}
	}
	for _, r := range relationships {
		if err := s.rel.UpsertRelationship(ctx, tx, toRelationshipRow(r)); err != nil {
			return model.NewError(model.KindIO, "store relationship row", err)
		}
	}
	for _, row := range removedComponents {
		if err := s.rel.DeleteComponent(ctx, tx, row.ID); err != nil {
			return model.NewError(model.KindIO, "delete stale component row", err)
		}
	}
	for _, row := range removedRelationships {
		if err := s.rel.DeleteRelationship(ctx, tx, row.ID); err != nil {
			return model.NewError(model.KindIO, "delete stale relationship row", err)
		}
	}
	if err := s.rel.MarkPendingKVWrite(ctx, tx, sys.ID, "store_system"); err != nil {
		return model.NewError(model.KindIO, "mark pending kv write", err)
	}
	if err := tx.Commit(); err != nil {
		return model.NewError(model.KindIO, "commit relational transaction", err)
	}
	committed = true

	if err := s.writeKV(sys.ID, components, relationships); err != nil {
		// The relational write-ahead marker remains; a later restart's
		// recovery scan will re-drive this KV write.
		return model.NewError(model.KindIO, "write kv payload", err)
	}
	if err := s.deleteRemovedKV(sys.ID, removedComponents, removedRelationships); err != nil {
		return model.NewError(model.KindIO, "delete stale kv payload", err)
	}
	if err := s.rel.ClearPendingKVWrite(ctx, sys.ID); err != nil {
		return model.NewError(model.KindIO, "clear pending kv write", err)
	}

	s.cache.Invalidate(cacheKeySystem(sys.ID))
	return nil
}

// diffRemovedEntities compares the rows currently persisted under
// systemID against the incoming graph and returns the ones absent from
// it — the components and relationships store_system must delete rather
// than upsert.
func (s *Storage) diffRemovedEntities(ctx context.Context, systemID uuid.UUID, components []*model.Component, relationships []*model.Relationship) ([]relational.ComponentRow, []relational.RelationshipRow, error) {
	persistedComponents, err := s.rel.ComponentsForSystem(ctx, systemID)
	if err != nil {
		return nil, nil, err
	}
	persistedRelationships, err := s.rel.RelationshipsForSystem(ctx, systemID)
	if err != nil {
		return nil, nil, err
	}

	keepComponents := make(map[uuid.UUID]struct{}, len(components))
	for _, c := range components {
		keepComponents[c.ID] = struct{}{}
	}
	keepRelationships := make(map[uuid.UUID]struct{}, len(relationships))
	for _, r := range relationships {
		keepRelationships[r.ID] = struct{}{}
	}

	var removedComponents []relational.ComponentRow
	for _, row := range persistedComponents {
		if _, ok := keepComponents[row.ID]; !ok {
			removedComponents = append(removedComponents, row)
		}
	}
	var removedRelationships []relational.RelationshipRow
	for _, row := range persistedRelationships {
		if _, ok := keepRelationships[row.ID]; !ok {
			removedRelationships = append(removedRelationships, row)
		}
	}
	return removedComponents, removedRelationships, nil
}

// deleteRemovedKV removes the KV node/edge payloads for entities
// diffRemovedEntities found stale, mirroring writeKV's key derivation.
func (s *Storage) deleteRemovedKV(systemID uuid.UUID, removedComponents []relational.ComponentRow, removedRelationships []relational.RelationshipRow) error {
	for _, row := range removedComponents {
		if err := s.kv.Delete(kv.NodeKey(systemID.String(), row.ID.String())); err != nil {
			return err
		}
		s.cache.Invalidate(cacheKeyComponent(row.ID))
	}
	for _, row := range removedRelationships {
		if err := s.kv.Delete(kv.EdgeKey(systemID.String(), row.SourceID.String(), row.ID.String())); err != nil {
			return err
		}
		if err := s.kv.Delete(kv.EdgeInKey(systemID.String(), row.TargetID.String(), row.ID.String())); err != nil {
			return err
		}
		s.cache.InvalidatePrefix(cacheKeyAdjacency(row.SourceID))
		s.cache.InvalidatePrefix(cacheKeyAdjacency(row.TargetID))
	}
	return nil
}

func (s *Storage) writeKV(systemID uuid.UUID, components []*model.Component, relationships []*model.Relationship) error {
	for _, c := range components {
		payload, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if err := s.kv.Put(kv.NodeKey(systemID.String(), c.ID.String()), payload); err != nil {
			return err
		}
		s.cache.Invalidate(cacheKeyComponent(c.ID))
	}
	for _, r := range relationships {
		payload, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if err := s.kv.Put(kv.EdgeKey(systemID.String(), r.SourceID.String(), r.ID.String()), payload); err != nil {
			return err
		}
		if err := s.kv.Put(kv.EdgeInKey(systemID.String(), r.TargetID.String(), r.ID.String()), []byte(r.ID.String())); err != nil {
			return err
		}
		s.cache.InvalidatePrefix(cacheKeyAdjacency(r.SourceID))
		s.cache.InvalidatePrefix(cacheKeyAdjacency(r.TargetID))
	}
	return nil
}

// LoadSystem reads the system row from the relational store, streams the
// component payloads from the KV store, and reads the relationships from
// the relational store.
func (s *Storage) LoadSystem(ctx context.Context, id uuid.UUID) (*model.System, []*model.Component, []*model.Relationship, error) {
	row, err := s.rel.GetSystem(ctx, id)
	if err != nil {
		return nil, nil, nil, model.ErrSystemNotFound(id)
	}
	sys := &model.System{ID: row.ID, Name: row.Name, Description: row.Description, CreatedAt: row.CreatedAt, UpdatedAt: row.ModifiedAt, Metadata: row.Metadata}

	var components []*model.Component
	var scanErr error
	err = s.kv.ScanPrefix(kv.NodePrefix(id.String()), func(_, value []byte) error {
		var c model.Component
		if err := json.Unmarshal(value, &c); err != nil {
			scanErr = err
			return nil
		}
		components = append(components, &c)
		return nil
	})
	if err != nil {
		return nil, nil, nil, model.NewError(model.KindIO, "scan components", err)
	}
	if scanErr != nil {
		return nil, nil, nil, model.NewError(model.KindCorruption, "decode component payload", scanErr)
	}

	relRows, err := s.rel.RelationshipsForSystem(ctx, id)
	if err != nil {
		return nil, nil, nil, model.NewError(model.KindIO, "load relationships", err)
	}
	relationships := make([]*model.Relationship, 0, len(relRows))
	for _, r := range relRows {
		relationships = append(relationships, fromRelationshipRow(r))
	}

	return sys, components, relationships, nil
}

// StoreComponent is the single-entity write path: updates both stores and
// invalidates the affected cache entries.
func (s *Storage) StoreComponent(ctx context.Context, c *model.Component) error {
	tx, err := s.rel.BeginTx(ctx)
	if err != nil {
		return model.NewError(model.KindIO, "begin transaction", err)
	}
	row, err := toComponentRow(c)
	if err != nil {
		tx.Rollback()
		return model.NewError(model.KindInternal, "encode component", err)
	}
	if err := s.rel.UpsertComponent(ctx, tx, row); err != nil {
		tx.Rollback()
		return model.NewError(model.KindIO, "store component row", err)
	}
	if err := tx.Commit(); err != nil {
		return model.NewError(model.KindIO, "commit", err)
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return model.NewError(model.KindInternal, "encode component payload", err)
	}
	if err := s.kv.Put(kv.NodeKey(c.SystemID.String(), c.ID.String()), payload); err != nil {
		return model.NewError(model.KindIO, "write component payload", err)
	}
	s.cache.Invalidate(cacheKeyComponent(c.ID))
	return nil
}

func (s *Storage) StoreRelationship(ctx context.Context, r *model.Relationship) error {
	tx, err := s.rel.BeginTx(ctx)
	if err != nil {
		return model.NewError(model.KindIO, "begin transaction", err)
	}
	if err := s.rel.UpsertRelationship(ctx, tx, toRelationshipRow(r)); err != nil {
		tx.Rollback()
		return model.NewError(model.KindIO, "store relationship row", err)
	}
	if err := tx.Commit(); err != nil {
		return model.NewError(model.KindIO, "commit", err)
	}
	payload, err := json.Marshal(r)
	if err != nil {
		return model.NewError(model.KindInternal, "encode relationship payload", err)
	}
	if err := s.kv.Put(kv.EdgeKey(r.SystemID.String(), r.SourceID.String(), r.ID.String()), payload); err != nil {
		return model.NewError(model.KindIO, "write relationship payload", err)
	}
	if err := s.kv.Put(kv.EdgeInKey(r.SystemID.String(), r.TargetID.String(), r.ID.String()), []byte(r.ID.String())); err != nil {
		return model.NewError(model.KindIO, "write edges_in payload", err)
	}
	s.cache.InvalidatePrefix(cacheKeyAdjacency(r.SourceID))
	s.cache.InvalidatePrefix(cacheKeyAdjacency(r.TargetID))
	return nil
}

// RemoveComponent is the single-entity delete counterpart to
// StoreComponent: removes the relational row and the KV node payload,
// invalidating the affected cache entry.
func (s *Storage) RemoveComponent(ctx context.Context, systemID, componentID uuid.UUID) error {
	tx, err := s.rel.BeginTx(ctx)
	if err != nil {
		return model.NewError(model.KindIO, "begin transaction", err)
	}
	if err := s.rel.DeleteComponent(ctx, tx, componentID); err != nil {
		tx.Rollback()
		return model.NewError(model.KindIO, "delete component row", err)
	}
	if err := tx.Commit(); err != nil {
		return model.NewError(model.KindIO, "commit", err)
	}
	if err := s.kv.Delete(kv.NodeKey(systemID.String(), componentID.String())); err != nil {
		return model.NewError(model.KindIO, "delete component payload", err)
	}
	s.cache.Invalidate(cacheKeyComponent(componentID))
	return nil
}

// RemoveRelationship is the single-entity delete counterpart to
// StoreRelationship: removes the relational row and both KV edge
// entries, invalidating the adjacency cache for both endpoints.
func (s *Storage) RemoveRelationship(ctx context.Context, systemID uuid.UUID, r *model.Relationship) error {
	tx, err := s.rel.BeginTx(ctx)
	if err != nil {
		return model.NewError(model.KindIO, "begin transaction", err)
	}
	if err := s.rel.DeleteRelationship(ctx, tx, r.ID); err != nil {
		tx.Rollback()
		return model.NewError(model.KindIO, "delete relationship row", err)
	}
	if err := tx.Commit(); err != nil {
		return model.NewError(model.KindIO, "commit", err)
	}
	if err := s.kv.Delete(kv.EdgeKey(systemID.String(), r.SourceID.String(), r.ID.String())); err != nil {
		return model.NewError(model.KindIO, "delete edge payload", err)
	}
	if err := s.kv.Delete(kv.EdgeInKey(systemID.String(), r.TargetID.String(), r.ID.String())); err != nil {
		return model.NewError(model.KindIO, "delete edges_in payload", err)
	}
	s.cache.InvalidatePrefix(cacheKeyAdjacency(r.SourceID))
	s.cache.InvalidatePrefix(cacheKeyAdjacency(r.TargetID))
	return nil
}

// LoadRelationships scans edges by (system_id, component_id) prefix,
// concatenates an edges_in scan for incoming edges, and deduplicates by
// relationship id, as spec.md §4.1 specifies. Results are read-through
// cached by adjacency prefix.
func (s *Storage) LoadRelationships(ctx context.Context, systemID, componentID uuid.UUID) ([]*model.Relationship, error) {
	key := cacheKeyAdjacency(componentID)
	v, err := s.cache.GetOrBuild(key, func() (any, error) {
		seen := make(map[string]struct{})
		var out []*model.Relationship
		scanErr := s.kv.ScanPrefix(kv.EdgePrefix(systemID.String(), componentID.String()), func(_, value []byte) error {
			var r model.Relationship
			if err := json.Unmarshal(value, &r); err != nil {
				return err
			}
			if _, ok := seen[r.ID.String()]; ok {
				return nil
			}
			seen[r.ID.String()] = struct{}{}
			out = append(out, &r)
			return nil
		})
		if scanErr != nil {
			return nil, scanErr
		}
		scanErr = s.kv.ScanPrefix(kv.EdgeInPrefix(systemID.String(), componentID.String()), func(_, value []byte) error {
			relID, err := uuid.ParseBytes(value)
			if err != nil {
				return err
			}
			if _, ok := seen[relID.String()]; ok {
				return nil
			}
			rel, err := s.loadRelationshipByID(ctx, systemID, relID)
			if err != nil {
				return err
			}
			seen[relID.String()] = struct{}{}
			out = append(out, rel)
			return nil
		})
		if scanErr != nil {
			return nil, scanErr
		}
		return out, nil
	})
	if err != nil {
		return nil, model.NewError(model.KindIO, "load relationships", err)
	}
	return v.([]*model.Relationship), nil
}

func (s *Storage) loadRelationshipByID(ctx context.Context, systemID, id uuid.UUID) (*model.Relationship, error) {
	rows, err := s.rel.RelationshipsForSystem(ctx, systemID)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if r.ID == id {
			return fromRelationshipRow(r), nil
		}
	}
	return nil, fmt.Errorf("relationship %s not found", id)
}

// DeleteSystem removes a system and cascades, evicting cache entries and
// persisted rows (spec.md §3 Lifecycle).
func (s *Storage) DeleteSystem(ctx context.Context, id uuid.UUID) error {
	tx, err := s.rel.BeginTx(ctx)
	if err != nil {
		return model.NewError(model.KindIO, "begin transaction", err)
	}
	if err := s.rel.DeleteSystem(ctx, tx, id); err != nil {
		tx.Rollback()
		return model.NewError(model.KindIO, "delete system row", err)
	}
	if err := tx.Commit(); err != nil {
		return model.NewError(model.KindIO, "commit", err)
	}
	if err := s.kv.DeletePrefix(kv.NodePrefix(id.String())); err != nil {
		return model.NewError(model.KindIO, "delete kv payload", err)
	}
	s.cache.Clear()
	return nil
}

// CacheStats exposes the front-line cache's counters for telemetry.
func (s *Storage) CacheStats() cache.Stats { return s.cache.Stats() }

// Backup writes a self-contained archive (spec.md §4.1 backup(path)) to
// destPath while continuing to serve reads: the KV snapshot streams
// through badger's own consistent-as-of-start Stream API and the
// relational file is read as a plain file copy, neither of which blocks
// concurrent readers.
func (s *Storage) Backup(ctx context.Context, destPath, engineVersion string) error {
	err := backup.Create(ctx, destPath, relational.CurrentSchemaVersion, engineVersion, s.cfg.SQLPath, s.kv.Backup)
	if err != nil {
		return model.NewError(model.KindIO, "backup", err)
	}
	return nil
}

// Restore replaces the KV and relational store contents from an archive
// produced by Backup. Fails with InvalidBackup if the archive's schema
// version is newer than this binary's (spec.md §4.1 restore(path)).
// Callers must close and reopen Storage afterward: Restore overwrites the
// relational file on disk out from under the open *sql.DB handle.
func (s *Storage) Restore(ctx context.Context, srcPath string) (backup.Manifest, error) {
	manifest, err := backup.Restore(ctx, srcPath, relational.CurrentSchemaVersion, s.cfg.SQLPath, s.kv.Load)
	if err != nil {
		return backup.Manifest{}, model.NewError(model.KindInvalidBackup, "restore", err)
	}
	s.cache.Clear()
	return manifest, nil
}

func cacheKeySystem(id uuid.UUID) string    { return "system:" + id.String() }
func cacheKeyComponent(id uuid.UUID) string { return "component:" + id.String() }
func cacheKeyAdjacency(id uuid.UUID) string { return "adj:" + id.String() }

func toSystemRow(sys *model.System) relational.SystemRow {
	return relational.SystemRow{ID: sys.ID, Name: sys.Name, Description: sys.Description, CreatedAt: sys.CreatedAt, ModifiedAt: sys.UpdatedAt, Metadata: sys.Metadata}
}

func toComponentRow(c *model.Component) (relational.ComponentRow, error) {
	stateJSON, err := json.Marshal(c.State)
	if err != nil {
		return relational.ComponentRow{}, err
	}
	return relational.ComponentRow{ID: c.ID, SystemID: c.SystemID, Name: c.Name, Kind: string(c.Kind), Properties: c.Properties, State: stateJSON}, nil
}

func toRelationshipRow(r *model.Relationship) relational.RelationshipRow {
	return relational.RelationshipRow{ID: r.ID, SystemID: r.SystemID, SourceID: r.SourceID, TargetID: r.TargetID, Kind: string(r.Kind), Weight: r.Weight, Properties: r.Properties}
}

func fromRelationshipRow(r relational.RelationshipRow) *model.Relationship {
	return &model.Relationship{ID: r.ID, SystemID: r.SystemID, SourceID: r.SourceID, TargetID: r.TargetID, Kind: model.RelationshipKind(r.Kind), Weight: r.Weight, Properties: r.Properties, Metadata: map[string]string{}}
}

func fromComponentRow(row relational.ComponentRow) (*model.Component, error) {
	var state model.ComponentState
	if err := json.Unmarshal(row.State, &state); err != nil {
		return nil, fmt.Errorf("decode component state: %w", err)
	}
	return &model.Component{
		ID:         row.ID,
		SystemID:   row.SystemID,
		Name:       row.Name,
		Kind:       model.ComponentKind(row.Kind),
		Properties: row.Properties,
		State:      state,
		Metadata:   map[string]string{},
	}, nil
}
