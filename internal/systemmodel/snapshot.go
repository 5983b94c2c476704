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
	"github.com/google/uuid"

	"github.com/csa-systems/csa-engine/internal/model"
	"github.com/csa-systems/csa-engine/internal/validation"
)

// Snapshot is a read-only, structurally shared view of the Model at a
// point in time (spec.md §4.5). Taking one never blocks the writer and
// never gets invalidated by subsequent mutation: it simply holds a
// pointer to an immutable state value.
type Snapshot struct {
	st *state
}

// Snapshot captures the current root state. Cheap: a single atomic load
// and a pointer copy, per spec.md's "cheap to take" requirement.
func (m *Model) Snapshot() Snapshot {
	return Snapshot{st: m.current()}
}

func (s Snapshot) Generation() uint64 { return s.st.generation }

func (s Snapshot) System() *model.System { return s.st.system.Clone() }

func (s Snapshot) Component(id uuid.UUID) (*model.Component, bool) {
	c, ok := s.st.components[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

func (s Snapshot) Components() []*model.Component {
	out := make([]*model.Component, 0, len(s.st.components))
	for _, c := range s.st.components {
		out = append(out, c)
	}
	return out
}

func (s Snapshot) Relationships() []*model.Relationship {
	out := make([]*model.Relationship, 0, len(s.st.relationships))
	for _, r := range s.st.relationships {
		out = append(out, r)
	}
	return out
}

// RelationshipsFor returns every relationship incident to id, deduplicated
// by id (spec.md §4.1 load_relationships semantics, also the in-memory
// equivalent get_relationships_for).
func (s Snapshot) RelationshipsFor(id uuid.UUID) []*model.Relationship {
	seen := make(map[uuid.UUID]struct{})
	var out []*model.Relationship
	for _, rid := range s.st.adjOut[id] {
		if _, ok := seen[rid]; ok {
			continue
		}
		seen[rid] = struct{}{}
		if r := s.st.relationships[rid]; r != nil {
			out = append(out, r)
		}
	}
	for _, rid := range s.st.adjIn[id] {
		if _, ok := seen[rid]; ok {
			continue
		}
		seen[rid] = struct{}{}
		if r := s.st.relationships[rid]; r != nil {
			out = append(out, r)
		}
	}
	return out
}

func (s Snapshot) OutgoingRelationshipIDs(id uuid.UUID) []uuid.UUID { return s.st.adjOut[id] }
func (s Snapshot) IncomingRelationshipIDs(id uuid.UUID) []uuid.UUID { return s.st.adjIn[id] }

// GetComponent is the spec.md-named read operation, equivalent to
// Snapshot.Component against the current root.
func (m *Model) GetComponent(id uuid.UUID) (*model.Component, bool) {
	return m.Snapshot().Component(id)
}

// GetRelationshipsFor is the spec.md-named read operation.
func (m *Model) GetRelationshipsFor(id uuid.UUID) []*model.Relationship {
	return m.Snapshot().RelationshipsFor(id)
}

// Validate runs the full registry (not error-only) against the current
// committed state and returns a complete report, the on-demand half of
// spec.md §4.3's "consumed during mutation (pre-commit) and on demand".
func (m *Model) Validate() validation.Result {
	if m.registry == nil {
		return validation.Result{}
	}
	return m.registry.Run(newValidationContext(m.current()))
}
