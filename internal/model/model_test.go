// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewComponentInitializesState(t *testing.T) {
	c := NewComponent(uuid.New(), "sensor-1", ComponentKindNode, 4)
	assert.Equal(t, StatusUnknown, c.State.Status)
	assert.Equal(t, 0, c.State.HistoryLen())
	assert.Equal(t, 4, c.State.HistoryCapacity())
}

func TestComponentCloneIsIndependent(t *testing.T) {
	c := NewComponent(uuid.New(), "sensor-1", ComponentKindNode, 4)
	c.Properties["region"] = "us-east"
	clone := c.Clone()
	clone.Properties["region"] = "us-west"
	assert.Equal(t, "us-east", c.Properties["region"])
	assert.Equal(t, "us-west", clone.Properties["region"])
}

func TestComponentStateHistoryEvictsOldest(t *testing.T) {
	c := NewComponent(uuid.New(), "sensor-1", ComponentKindNode, 2)
	now := time.Now()
	c.State.Update(1, StatusActive, now)
	c.State.Update(2, StatusActive, now.Add(time.Second))
	c.State.Update(3, StatusActive, now.Add(2*time.Second))

	require.Equal(t, 2, c.State.HistoryLen())
	history := c.State.History()
	require.Len(t, history, 2)
	// Oldest retained entry is the value pushed by the second Update (the
	// state as of just before that call), not the very first value.
	assert.Equal(t, float64(1), history[0].Value)
	assert.Equal(t, float64(2), history[1].Value)
	assert.Equal(t, float64(3), c.State.CurrentValue)
}

func TestComponentStateRoundTripsThroughJSON(t *testing.T) {
	c := NewComponent(uuid.New(), "sensor-1", ComponentKindNode, 3)
	now := time.Now().Truncate(time.Second)
	c.State.Update(1, StatusActive, now)
	c.State.Update(2, StatusDegraded, now.Add(time.Second))

	data, err := json.Marshal(c.State)
	require.NoError(t, err)

	var decoded ComponentState
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, c.State.CurrentValue, decoded.CurrentValue)
	assert.Equal(t, c.State.Status, decoded.Status)
	assert.Equal(t, c.State.HistoryLen(), decoded.HistoryLen())
	assert.Equal(t, c.State.HistoryCapacity(), decoded.HistoryCapacity())
	want, got := c.State.History(), decoded.History()
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Value, got[i].Value)
		assert.True(t, want[i].Timestamp.Equal(got[i].Timestamp), "entry %d timestamp", i)
	}
}

func TestRelationshipKindValid(t *testing.T) {
	assert.True(t, RelationshipInfluences.Valid())
	assert.False(t, RelationshipKind("Orbits").Valid())
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := ErrComponentNotFound(uuid.New())
	assert.ErrorIs(t, err, Err(KindNotFound))
	assert.False(t, err.Is(ErrDuplicateComponent(uuid.New())))
}

func TestNewInvariantErrorCarriesCode(t *testing.T) {
	err := NewInvariantError(InvariantContainmentAcyclic, "cycle detected")
	assert.Equal(t, KindInvariantViolation, err.Kind)
	assert.Equal(t, InvariantContainmentAcyclic, err.Details)
}

func TestSystemCloneCopiesMetadata(t *testing.T) {
	s := NewSystem("Demo", "a demo system")
	s.Metadata["owner"] = "alice"
	clone := s.Clone()
	clone.Metadata["owner"] = "bob"
	assert.Equal(t, "alice", s.Metadata["owner"])
}
