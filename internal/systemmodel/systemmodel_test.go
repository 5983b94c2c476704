// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package systemmodel

import (
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csa-systems/csa-engine/internal/model"
	"github.com/csa-systems/csa-engine/internal/validation"
)

func newTestModel(t *testing.T, events *[]Event) *Model {
	t.Helper()
	sys := model.NewSystem("Test System", "")
	registry := validation.NewRegistry()
	registry.Register(validation.NewStructuralInvariantsRule())
	publish := func(ev Event) {
		if events != nil {
			*events = append(*events, ev)
		}
	}
	return New(sys, registry, Limits{}, publish)
}

func addComponent(t *testing.T, m *Model, systemID uuid.UUID, name string) *model.Component {
	t.Helper()
	c := model.NewComponent(systemID, name, model.ComponentKindNode, 8)
	require.NoError(t, m.AddComponent(c))
	return c
}

func TestAddComponentAndSnapshot(t *testing.T) {
	m := newTestModel(t, nil)
	sys := m.Snapshot().System()
	c := addComponent(t, m, sys.ID, "C1")

	snap := m.Snapshot()
	got, ok := snap.Component(c.ID)
	require.True(t, ok)
	assert.Equal(t, "C1", got.Name)
}

func TestAddComponentDuplicateConflicts(t *testing.T) {
	m := newTestModel(t, nil)
	sys := m.Snapshot().System()
	c := addComponent(t, m, sys.ID, "C1")

	err := m.AddComponent(c)
	require.Error(t, err)
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, model.KindConflict, merr.Kind)
}

func TestAddRelationshipRejectsOrphanEndpoint(t *testing.T) {
	m := newTestModel(t, nil)
	sys := m.Snapshot().System()
	c1 := addComponent(t, m, sys.ID, "C1")

	rel := model.NewRelationship(sys.ID, c1.ID, uuid.New(), model.RelationshipInfluences, 1)
	err := m.AddRelationship(rel)
	require.Error(t, err)
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, model.KindInvariantViolation, merr.Kind)
	assert.Equal(t, model.InvariantReferential, merr.Details)
}

func TestAddRelationshipRejectsSelfContainment(t *testing.T) {
	m := newTestModel(t, nil)
	sys := m.Snapshot().System()
	c1 := addComponent(t, m, sys.ID, "C1")

	rel := model.NewRelationship(sys.ID, c1.ID, c1.ID, model.RelationshipContains, 1)
	err := m.AddRelationship(rel)
	require.Error(t, err)
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, model.InvariantSelfContainment, merr.Details)
}

func TestAddRelationshipRejectsContainmentCycle(t *testing.T) {
	m := newTestModel(t, nil)
	sys := m.Snapshot().System()
	c1 := addComponent(t, m, sys.ID, "C1")
	c2 := addComponent(t, m, sys.ID, "C2")
	c3 := addComponent(t, m, sys.ID, "C3")

	require.NoError(t, m.AddRelationship(model.NewRelationship(sys.ID, c1.ID, c2.ID, model.RelationshipContains, 1)))
	require.NoError(t, m.AddRelationship(model.NewRelationship(sys.ID, c2.ID, c3.ID, model.RelationshipContains, 1)))

	cyclic := model.NewRelationship(sys.ID, c3.ID, c1.ID, model.RelationshipContains, 1)
	err := m.AddRelationship(cyclic)
	require.Error(t, err)
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, model.InvariantContainmentAcyclic, merr.Details)
}

func TestAddRelationshipRejectsNonFiniteWeight(t *testing.T) {
	m := newTestModel(t, nil)
	sys := m.Snapshot().System()
	c1 := addComponent(t, m, sys.ID, "C1")
	c2 := addComponent(t, m, sys.ID, "C2")

	rel := model.NewRelationship(sys.ID, c1.ID, c2.ID, model.RelationshipInfluences, math.NaN())
	err := m.AddRelationship(rel)
	require.Error(t, err)
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, model.InvariantFiniteness, merr.Details)
}

func TestRemoveComponentCascadesRelationships(t *testing.T) {
	var events []Event
	m := newTestModel(t, &events)
	sys := m.Snapshot().System()
	c1 := addComponent(t, m, sys.ID, "C1")
	c2 := addComponent(t, m, sys.ID, "C2")
	rel := model.NewRelationship(sys.ID, c1.ID, c2.ID, model.RelationshipInfluences, 1)
	require.NoError(t, m.AddRelationship(rel))

	require.NoError(t, m.RemoveComponent(c1.ID))

	snap := m.Snapshot()
	_, exists := snap.Component(c1.ID)
	assert.False(t, exists)
	assert.Empty(t, snap.RelationshipsFor(c2.ID))
	assert.Empty(t, snap.Relationships())

	var sawCascade bool
	for _, ev := range events {
		if ev.Kind == "RelationshipModified" && ev.Action == "removed_cascade" {
			sawCascade = true
		}
	}
	assert.True(t, sawCascade, "expected a removed_cascade event for the incident relationship")
}

func TestUpdateComponentStateRejectsNonFiniteValue(t *testing.T) {
	m := newTestModel(t, nil)
	sys := m.Snapshot().System()
	c1 := addComponent(t, m, sys.ID, "C1")

	err := m.UpdateComponentState(c1.ID, math.Inf(1), model.StatusActive)
	require.Error(t, err)
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, model.KindInvalidArgument, merr.Kind)
}

func TestUpdateComponentStatePushesHistory(t *testing.T) {
	m := newTestModel(t, nil)
	sys := m.Snapshot().System()
	c1 := addComponent(t, m, sys.ID, "C1")

	require.NoError(t, m.UpdateComponentState(c1.ID, 42, model.StatusActive))

	got, ok := m.GetComponent(c1.ID)
	require.True(t, ok)
	assert.Equal(t, float64(42), got.State.CurrentValue)
	assert.Equal(t, model.StatusActive, got.State.Status)
	assert.Equal(t, 1, got.State.HistoryLen())
}

// TestSnapshotAdjacencyMatchesPathGraph mirrors the literal five-node path-graph
// scenario: C1->C2->C3->C4->C5 each with weight 1, where the degree
// (out+in count) per node is {C1:1, C2:2, C3:2, C4:2, C5:1}.
func TestSnapshotAdjacencyMatchesPathGraph(t *testing.T) {
	m := newTestModel(t, nil)
	sys := m.Snapshot().System()
	ids := make([]uuid.UUID, 5)
	for i := range ids {
		c := addComponent(t, m, sys.ID, "C")
		ids[i] = c.ID
	}
	for i := 0; i < 4; i++ {
		rel := model.NewRelationship(sys.ID, ids[i], ids[i+1], model.RelationshipInfluences, 1)
		require.NoError(t, m.AddRelationship(rel))
	}

	snap := m.Snapshot()
	want := []int{1, 2, 2, 2, 1}
	for i, id := range ids {
		degree := len(snap.OutgoingRelationshipIDs(id)) + len(snap.IncomingRelationshipIDs(id))
		assert.Equal(t, want[i], degree, "node %d", i)
	}
}

func TestLoadRehydratesAdjacencyAndRejectsOrphan(t *testing.T) {
	sys := model.NewSystem("Loaded", "")
	c1 := model.NewComponent(sys.ID, "C1", model.ComponentKindNode, 8)
	c2 := model.NewComponent(sys.ID, "C2", model.ComponentKindNode, 8)
	rel := model.NewRelationship(sys.ID, c1.ID, c2.ID, model.RelationshipInfluences, 1)

	registry := validation.NewRegistry()
	registry.Register(validation.NewStructuralInvariantsRule())

	m, err := Load(sys, []*model.Component{c1, c2}, []*model.Relationship{rel}, registry, Limits{}, nil)
	require.NoError(t, err)
	snap := m.Snapshot()
	assert.Len(t, snap.Components(), 2)
	assert.Len(t, snap.RelationshipsFor(c1.ID), 1)

	orphan := model.NewRelationship(sys.ID, c1.ID, uuid.New(), model.RelationshipInfluences, 1)
	_, err = Load(sys, []*model.Component{c1}, []*model.Relationship{orphan}, registry, Limits{}, nil)
	require.Error(t, err)
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, model.KindCorruption, merr.Kind)
}

func TestValidateReturnsCleanResultForWellFormedSystem(t *testing.T) {
	m := newTestModel(t, nil)
	sys := m.Snapshot().System()
	addComponent(t, m, sys.ID, "C1")

	result := m.Validate()
	assert.False(t, result.HasErrors())
}
