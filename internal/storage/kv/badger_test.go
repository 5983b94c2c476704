// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kv

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPutGetDelete(t *testing.T) {
	db := openTestDB(t)
	key := NodeKey("sys-1", "c1")

	_, ok, err := db.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Put(key, []byte("payload")))
	value, ok, err := db.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), value)

	require.NoError(t, db.Delete(key))
	_, ok, err = db.Get(key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScanPrefixOrdersAndMatches(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put(NodeKey("sys-1", "c1"), []byte("1")))
	require.NoError(t, db.Put(NodeKey("sys-1", "c2"), []byte("2")))
	require.NoError(t, db.Put(NodeKey("sys-2", "c1"), []byte("other")))

	var got []string
	err := db.ScanPrefix(NodePrefix("sys-1"), func(key, value []byte) error {
		got = append(got, string(value))
		return nil
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, got)
}

func TestDeletePrefixRemovesOnlyMatching(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put(NodeKey("sys-1", "c1"), []byte("1")))
	require.NoError(t, db.Put(NodeKey("sys-2", "c1"), []byte("2")))

	require.NoError(t, db.DeletePrefix(NodePrefix("sys-1")))

	_, ok, err := db.Get(NodeKey("sys-1", "c1"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = db.Get(NodeKey("sys-2", "c1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBackupLoadRoundTrip(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put(NodeKey("sys-1", "c1"), []byte("payload")))

	var buf bytes.Buffer
	require.NoError(t, db.Backup(context.Background(), &buf))

	restored, err := Open(InMemoryConfig())
	require.NoError(t, err)
	defer restored.Close()

	require.NoError(t, restored.Load(context.Background(), bytes.NewReader(buf.Bytes())))
	value, ok, err := restored.Get(NodeKey("sys-1", "c1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), value)
}
