// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package systemmodel holds a single loaded System in memory and mediates
// every mutation through the build/freeze/clone discipline the teacher
// uses for its code graph (services/trace/graph/types.go): a root
// immutable state is swapped atomically on commit, so readers snapshotting
// via Model.Snapshot never observe a partially-applied mutation, and the
// sole writer holds an exclusive mutex for the whole mutation protocol.
package systemmodel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/csa-systems/csa-engine/internal/model"
	"github.com/csa-systems/csa-engine/internal/validation"
)

// state is the immutable root every Snapshot and every committed mutation
// points to. All maps are replaced wholesale on mutation (copy-on-write),
// never mutated in place, so a pointer to an old state remains a valid,
// unchanging view forever — the same guarantee the teacher's Graph.Clone
// gives its callers.
type state struct {
	system        *model.System
	components    map[uuid.UUID]*model.Component
	relationships map[uuid.UUID]*model.Relationship
	adjOut        map[uuid.UUID][]uuid.UUID // component id -> outgoing relationship ids
	adjIn         map[uuid.UUID][]uuid.UUID // component id -> incoming relationship ids
	generation    uint64
}

func newState(sys *model.System) *state {
	return &state{
		system:        sys,
		components:    map[uuid.UUID]*model.Component{},
		relationships: map[uuid.UUID]*model.Relationship{},
		adjOut:        map[uuid.UUID][]uuid.UUID{},
		adjIn:         map[uuid.UUID][]uuid.UUID{},
	}
}

// shallowCopy produces a new state sharing entity pointers with s but with
// fresh top-level maps, so a mutation can add/remove map entries without
// perturbing any outstanding Snapshot holding the old state.
func (s *state) shallowCopy() *state {
	next := &state{
		system:        s.system.Clone(),
		components:    make(map[uuid.UUID]*model.Component, len(s.components)),
		relationships: make(map[uuid.UUID]*model.Relationship, len(s.relationships)),
		adjOut:        make(map[uuid.UUID][]uuid.UUID, len(s.adjOut)),
		adjIn:         make(map[uuid.UUID][]uuid.UUID, len(s.adjIn)),
		generation:    s.generation + 1,
	}
	for k, v := range s.components {
		next.components[k] = v
	}
	for k, v := range s.relationships {
		next.relationships[k] = v
	}
	for k, v := range s.adjOut {
		next.adjOut[k] = append([]uuid.UUID(nil), v...)
	}
	for k, v := range s.adjIn {
		next.adjIn[k] = append([]uuid.UUID(nil), v...)
	}
	return next
}

// Limits are the system.max_components / system.max_relationships /
// system.state_history_length configuration knobs.
type Limits struct {
	MaxComponents       int
	MaxRelationships    int
	StateHistoryLength  int
}

// Model holds one loaded System and serializes mutation through mu, the
// single-writer discipline spec.md's concurrency model requires. Readers
// call Snapshot without taking mu at all.
type Model struct {
	mu       sync.Mutex
	root     atomic.Pointer[state]
	registry *validation.Registry
	limits   Limits
	publish  func(Event)
}

// Event is the subset of model-change notifications systemmodel emits;
// internal/events.Bus adapts these into its own typed taxonomy. Kept
// narrow and dependency-free here so systemmodel never imports events.
type Event struct {
	Kind          string // "SystemUpdated","ComponentChanged","RelationshipModified","StateChanged"
	SystemID      uuid.UUID
	ComponentID   *uuid.UUID
	RelationshipID *uuid.UUID
	Action        string
}

// New constructs a Model rooted at a brand-new System.
func New(sys *model.System, registry *validation.Registry, limits Limits, publish func(Event)) *Model {
	if limits.StateHistoryLength <= 0 {
		limits.StateHistoryLength = model.DefaultStateHistoryLength
	}
	m := &Model{registry: registry, limits: limits, publish: publish}
	m.root.Store(newState(sys))
	return m
}

// Load rehydrates a Model from already-persisted entities (the storage
// layer's load_system path), rebuilding the adjacency index from scratch
// as spec.md's §3 Adjacency Index requires ("rebuilt on load").
func Load(sys *model.System, components []*model.Component, relationships []*model.Relationship, registry *validation.Registry, limits Limits, publish func(Event)) (*Model, error) {
	m := New(sys, registry, limits, publish)
	st := m.root.Load().shallowCopy()
	for _, c := range components {
		st.components[c.ID] = c
	}
	for _, r := range relationships {
		// An orphaned relationship discovered while rehydrating persisted
		// rows is corrupted storage, not a runtime I1 violation raised
		// against a live mutation; load_system reports it as Corruption.
		if _, ok := st.components[r.SourceID]; !ok {
			return nil, model.NewError(model.KindCorruption, "rehydrated system violates invariants", model.ErrOrphanedRelationship(r.ID, r.SourceID))
		}
		if _, ok := st.components[r.TargetID]; !ok {
			return nil, model.NewError(model.KindCorruption, "rehydrated system violates invariants", model.ErrOrphanedRelationship(r.ID, r.TargetID))
		}
		st.relationships[r.ID] = r
		st.adjOut[r.SourceID] = append(st.adjOut[r.SourceID], r.ID)
		st.adjIn[r.TargetID] = append(st.adjIn[r.TargetID], r.ID)
	}
	m.root.Store(st)
	if ctx := newValidationContext(st); m.registry != nil {
		if errs := m.registry.RunErrorsOnly(ctx); len(errs) > 0 {
			return nil, model.NewError(model.KindCorruption, "rehydrated system violates invariants", nil)
		}
	}
	return m, nil
}

func (m *Model) emit(kind, action string, systemID uuid.UUID, componentID, relationshipID *uuid.UUID) {
	if m.publish == nil {
		return
	}
	m.publish(Event{Kind: kind, SystemID: systemID, ComponentID: componentID, RelationshipID: relationshipID, Action: action})
}

// current returns the live root state without taking mu; safe because
// state is immutable once stored.
func (m *Model) current() *state {
	return m.root.Load()
}

func now() time.Time { return time.Now() }
