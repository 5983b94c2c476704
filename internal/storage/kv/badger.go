// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kv wraps BadgerDB as the bulk-payload half of the storage layer
// (spec.md §4.1): nodes, edges, and the edges_in inverted index, each a
// key prefix within a single Badger instance rather than a native column
// family (Badger has none). Adapted directly from the teacher's
// storage/badger/badger.go.
package kv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	Path              string
	InMemory          bool
	SyncWrites        bool
	Logger            *slog.Logger
	NumVersionsToKeep int
	GCInterval        time.Duration
	GCDiscardRatio    float64
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig(path string) Config {
	return Config{
		Path:              path,
		SyncWrites:        true,
		NumVersionsToKeep: 1,
		GCInterval:        5 * time.Minute,
		GCDiscardRatio:    0.5,
	}
}

// InMemoryConfig returns a configuration suitable for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true, NumVersionsToKeep: 1}
}

// badgerLogger adapts a *slog.Logger to badger.Logger.
type badgerLogger struct{ l *slog.Logger }

func (b badgerLogger) Errorf(f string, a ...any)   { b.l.Error(fmt.Sprintf(f, a...)) }
func (b badgerLogger) Warningf(f string, a ...any) { b.l.Warn(fmt.Sprintf(f, a...)) }
func (b badgerLogger) Infof(f string, a ...any)    { b.l.Info(fmt.Sprintf(f, a...)) }
func (b badgerLogger) Debugf(f string, a ...any)   { b.l.Debug(fmt.Sprintf(f, a...)) }

// DB wraps a *badger.DB with the engine's key-prefix conventions.
type DB struct {
	db     *badger.DB
	path   string
	memory bool
	logger *slog.Logger
}

// Open opens (creating if necessary) a BadgerDB instance per cfg.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("kv: Path is required unless InMemory is set")
	}
	opts := badger.DefaultOptions(cfg.Path)
	opts.InMemory = cfg.InMemory
	opts.SyncWrites = cfg.SyncWrites
	if cfg.NumVersionsToKeep > 0 {
		opts.NumVersionsToKeep = cfg.NumVersionsToKeep
	}
	if cfg.Logger != nil {
		opts.Logger = badgerLogger{l: cfg.Logger}
	} else {
		opts.Logger = nil
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kv: open: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DB{db: bdb, path: cfg.Path, memory: cfg.InMemory, logger: logger}, nil
}

func (d *DB) Close() error { return d.db.Close() }
func (d *DB) Path() string { return d.path }
func (d *DB) InMemory() bool { return d.memory }
func (d *DB) Sync() error  { return d.db.Sync() }

// WithTxn runs fn inside a read-write transaction, committing on nil
// return and discarding (rolling back) otherwise.
func (d *DB) WithTxn(fn func(txn *badger.Txn) error) error {
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction.
func (d *DB) WithReadTxn(fn func(txn *badger.Txn) error) error {
	return d.db.View(fn)
}

// GCRunner periodically reclaims Badger's value log. Adapted unchanged in
// shape from the teacher's GC loop.
type GCRunner struct {
	db       *DB
	interval time.Duration
	discard  float64
	stop     chan struct{}
	logger   *slog.Logger
}

func NewGCRunner(db *DB, interval time.Duration, discardRatio float64, logger *slog.Logger) *GCRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCRunner{db: db, interval: interval, discard: discardRatio, stop: make(chan struct{}), logger: logger}
}

func (g *GCRunner) Run() {
	if g.interval <= 0 {
		return
	}
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for {
				if err := g.db.db.RunValueLogGC(g.discard); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						g.logger.Warn("value log gc failed", slog.Any("error", err))
					}
					break
				}
			}
		case <-g.stop:
			return
		}
	}
}

func (g *GCRunner) Stop() { close(g.stop) }

// Backup streams a full snapshot to w, the KV half of spec.md §4.1's
// backup archive, using Badger's native incremental backup stream.
func (d *DB) Backup(ctx context.Context, w io.Writer) error {
	_, err := d.db.Backup(w, 0)
	return err
}

// Load restores the database contents from a stream previously produced
// by Backup.
func (d *DB) Load(ctx context.Context, r io.Reader) error {
	return d.db.Load(r, 16)
}

// Key prefixes for the four logical column families (nodes, edges,
// edges_in, metadata).
const (
	prefixNode     byte = 'n'
	prefixEdge     byte = 'e'
	prefixEdgeIn   byte = 'i'
	prefixMetadata byte = 'm'
)

func NodeKey(systemID, componentID string) []byte {
	return []byte(fmt.Sprintf("%c:%s:%s", prefixNode, systemID, componentID))
}

func EdgeKey(systemID, sourceID, relationshipID string) []byte {
	return []byte(fmt.Sprintf("%c:%s:%s:%s", prefixEdge, systemID, sourceID, relationshipID))
}

func EdgeInKey(systemID, targetID, relationshipID string) []byte {
	return []byte(fmt.Sprintf("%c:%s:%s:%s", prefixEdgeIn, systemID, targetID, relationshipID))
}

func MetadataKey(systemID string) []byte {
	return []byte(fmt.Sprintf("%c:%s", prefixMetadata, systemID))
}

// NodePrefix and EdgePrefix support prefix scans for a full system load
// and for adjacency scans respectively.
func NodePrefix(systemID string) []byte {
	return []byte(fmt.Sprintf("%c:%s:", prefixNode, systemID))
}

func EdgePrefix(systemID, componentID string) []byte {
	return []byte(fmt.Sprintf("%c:%s:%s:", prefixEdge, systemID, componentID))
}

func EdgeInPrefix(systemID, componentID string) []byte {
	return []byte(fmt.Sprintf("%c:%s:%s:", prefixEdgeIn, systemID, componentID))
}

// Put writes a single key-value pair.
func (d *DB) Put(key, value []byte) error {
	return d.WithTxn(func(txn *badger.Txn) error { return txn.Set(key, value) })
}

// Get reads a single key, returning (nil, false, nil) when absent.
func (d *DB) Get(key []byte) ([]byte, bool, error) {
	var out []byte
	err := d.WithReadTxn(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// Delete removes a single key. Deleting an absent key is not an error.
func (d *DB) Delete(key []byte) error {
	return d.WithTxn(func(txn *badger.Txn) error { return txn.Delete(key) })
}

// ScanPrefix invokes fn for every key/value under prefix, in key order.
func (d *DB) ScanPrefix(prefix []byte, fn func(key, value []byte) error) error {
	return d.WithReadTxn(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				return fn(append([]byte(nil), item.Key()...), append([]byte(nil), val...))
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeletePrefix removes every key under prefix.
func (d *DB) DeletePrefix(prefix []byte) error {
	var keys [][]byte
	if err := d.ScanPrefix(prefix, func(key, _ []byte) error {
		keys = append(keys, append([]byte(nil), key...))
		return nil
	}); err != nil {
		return err
	}
	return d.WithTxn(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
