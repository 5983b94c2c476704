// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csa-systems/csa-engine/internal/model"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(context.Background(), Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreAndLoadSystemRoundTrip(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	sys := model.NewSystem("Demo", "a demo system")
	c1 := model.NewComponent(sys.ID, "C1", model.ComponentKindNode, 8)
	c2 := model.NewComponent(sys.ID, "C2", model.ComponentKindNode, 8)
	rel := model.NewRelationship(sys.ID, c1.ID, c2.ID, model.RelationshipInfluences, 0.75)

	require.NoError(t, s.StoreSystem(ctx, sys, []*model.Component{c1, c2}, []*model.Relationship{rel}))

	loadedSys, components, relationships, err := s.LoadSystem(ctx, sys.ID)
	require.NoError(t, err)
	assert.Equal(t, sys.Name, loadedSys.Name)
	assert.Len(t, components, 2)
	require.Len(t, relationships, 1)
	assert.Equal(t, rel.ID, relationships[0].ID)
	assert.Equal(t, 0.75, relationships[0].Weight)
}

func TestLoadSystemNotFound(t *testing.T) {
	s := openTestStorage(t)
	_, _, _, err := s.LoadSystem(context.Background(), model.NewSystem("x", "").ID)
	require.Error(t, err)
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, model.KindNotFound, merr.Kind)
}

func TestLoadRelationshipsDeduplicatesAcrossOutAndIn(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	sys := model.NewSystem("Demo", "")
	c1 := model.NewComponent(sys.ID, "C1", model.ComponentKindNode, 8)
	c2 := model.NewComponent(sys.ID, "C2", model.ComponentKindNode, 8)
	rel := model.NewRelationship(sys.ID, c1.ID, c2.ID, model.RelationshipInfluences, 1)
	require.NoError(t, s.StoreSystem(ctx, sys, []*model.Component{c1, c2}, []*model.Relationship{rel}))

	out, err := s.LoadRelationships(ctx, sys.ID, c1.ID)
	require.NoError(t, err)
	require.Len(t, out, 1)

	in, err := s.LoadRelationships(ctx, sys.ID, c2.ID)
	require.NoError(t, err)
	require.Len(t, in, 1)
	assert.Equal(t, rel.ID, in[0].ID)
}

func TestDeleteSystemRemovesComponentsFromKV(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	sys := model.NewSystem("Demo", "")
	c1 := model.NewComponent(sys.ID, "C1", model.ComponentKindNode, 8)
	require.NoError(t, s.StoreSystem(ctx, sys, []*model.Component{c1}, nil))

	require.NoError(t, s.DeleteSystem(ctx, sys.ID))

	_, _, _, err := s.LoadSystem(ctx, sys.ID)
	require.Error(t, err)
}

// TestStoreSystemReconcilesRemovedComponentAndRelationship mirrors the
// spec's cascade-delete scenario at the storage layer: a component and
// its incident relationship are removed from the in-memory graph, the
// narrowed graph is saved, and a fresh Storage opened against the same
// paths must not resurrect either one.
func TestStoreSystemReconcilesRemovedComponentAndRelationship(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := Config{KVPath: dir + "/kv", SQLPath: dir + "/meta.db"}

	s, err := Open(ctx, cfg, nil)
	require.NoError(t, err)

	sys := model.NewSystem("Demo", "")
	c1 := model.NewComponent(sys.ID, "C1", model.ComponentKindNode, 8)
	c2 := model.NewComponent(sys.ID, "C2", model.ComponentKindNode, 8)
	rel := model.NewRelationship(sys.ID, c1.ID, c2.ID, model.RelationshipInfluences, 0.5)
	require.NoError(t, s.StoreSystem(ctx, sys, []*model.Component{c1, c2}, []*model.Relationship{rel}))

	sys.Touch()
	require.NoError(t, s.StoreSystem(ctx, sys, []*model.Component{c2}, nil))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	_, components, relationships, err := reopened.LoadSystem(ctx, sys.ID)
	require.NoError(t, err)
	require.Len(t, components, 1)
	assert.Equal(t, c2.ID, components[0].ID)
	assert.Empty(t, relationships)

	out, err := reopened.LoadRelationships(ctx, sys.ID, c2.ID)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestBackupAndRestoreRoundTrip(t *testing.T) {
	s := openTestStorage(t)
	ctx := context.Background()

	sys := model.NewSystem("Demo", "")
	c1 := model.NewComponent(sys.ID, "C1", model.ComponentKindNode, 8)
	require.NoError(t, s.StoreSystem(ctx, sys, []*model.Component{c1}, nil))

	destPath := t.TempDir() + "/backup.zip"
	require.NoError(t, s.Backup(ctx, destPath, "0.1.0"))

	manifest, err := s.Restore(ctx, destPath)
	require.NoError(t, err)
	assert.Equal(t, "0.1.0", manifest.EngineVersion)

	_, components, _, err := s.LoadSystem(ctx, sys.ID)
	require.NoError(t, err)
	require.Len(t, components, 1)
	assert.Equal(t, c1.ID, components[0].ID)
}
