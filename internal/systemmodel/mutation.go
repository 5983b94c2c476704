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

	"github.com/google/uuid"

	"github.com/csa-systems/csa-engine/internal/model"
)

// commit runs the five-step mutation protocol: apply build against a
// shallow copy of the current state, validate it, and only then swap it
// in as the new root. build returning an error aborts before validation
// ever runs (e.g. a not-found lookup) so it doubles as the "copy and apply
// tentatively" step and the caller's own precondition checks.
func (m *Model) commit(build func(st *state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidate := m.current().shallowCopy()
	if err := build(candidate); err != nil {
		return err
	}

	if m.registry != nil {
		if errs := m.registry.RunErrorsOnly(newValidationContext(candidate)); len(errs) > 0 {
			f := errs[0]
			if f.InvariantCode != "" {
				return model.NewInvariantError(model.InvariantCode(f.InvariantCode), f.Message)
			}
			return model.NewError(model.KindInvariantViolation, f.Message, nil)
		}
	}

	candidate.system.Touch()
	m.root.Store(candidate)
	return nil
}

// AddComponent inserts c into the system. Fails with Conflict if c.ID
// already exists.
func (m *Model) AddComponent(c *model.Component) error {
	c = c.Clone()
	id := c.ID
	err := m.commit(func(st *state) error {
		if _, exists := st.components[id]; exists {
			return model.ErrDuplicateComponent(id)
		}
		if m.limits.MaxComponents > 0 && len(st.components) >= m.limits.MaxComponents {
			return model.NewError(model.KindInvalidArgument, "max_components exceeded", nil)
		}
		st.components[id] = c
		return nil
	})
	if err != nil {
		return err
	}
	m.emit("ComponentChanged", "added", c.SystemID, &id, nil)
	m.emit("SystemUpdated", "component_added", c.SystemID, nil, nil)
	return nil
}

// RemoveComponent deletes the component and, in the same logical step,
// every relationship incident to it — no intermediate state where a
// dangling relationship is externally observable (spec.md §4.2 edge case).
func (m *Model) RemoveComponent(id uuid.UUID) error {
	var systemID uuid.UUID
	var removedRelIDs []uuid.UUID
	err := m.commit(func(st *state) error {
		if _, exists := st.components[id]; !exists {
			return model.ErrComponentNotFound(id)
		}
		systemID = st.system.ID
		incident := make(map[uuid.UUID]struct{})
		for _, rid := range st.adjOut[id] {
			incident[rid] = struct{}{}
		}
		for _, rid := range st.adjIn[id] {
			incident[rid] = struct{}{}
		}
		for rid := range incident {
			rel := st.relationships[rid]
			if rel == nil {
				continue
			}
			removedRelIDs = append(removedRelIDs, rid)
			delete(st.relationships, rid)
			st.adjOut[rel.SourceID] = removeID(st.adjOut[rel.SourceID], rid)
			st.adjIn[rel.TargetID] = removeID(st.adjIn[rel.TargetID], rid)
		}
		delete(st.components, id)
		delete(st.adjOut, id)
		delete(st.adjIn, id)
		return nil
	})
	if err != nil {
		return err
	}
	for _, rid := range removedRelIDs {
		rid := rid
		m.emit("RelationshipModified", "removed_cascade", systemID, nil, &rid)
	}
	cid := id
	m.emit("ComponentChanged", "removed", systemID, &cid, nil)
	m.emit("SystemUpdated", "component_removed", systemID, nil, nil)
	return nil
}

// AddRelationship inserts r, updating the adjacency index. Rejected with
// InvariantViolation(I4) if kind is Contains and it would close a cycle,
// and with InvariantViolation(I1) if either endpoint is absent (also
// caught defensively by the structural validator, but checked here first
// so the error carries the more specific not-found framing).
func (m *Model) AddRelationship(r *model.Relationship) error {
	r = r.Clone()
	id := r.ID
	err := m.commit(func(st *state) error {
		if _, exists := st.relationships[id]; exists {
			return model.ErrDuplicateRelationship(id)
		}
		if _, ok := st.components[r.SourceID]; !ok {
			return model.ErrOrphanedRelationship(id, r.SourceID)
		}
		if _, ok := st.components[r.TargetID]; !ok {
			return model.ErrOrphanedRelationship(id, r.TargetID)
		}
		if r.Kind == model.RelationshipContains && r.SourceID == r.TargetID {
			return model.NewInvariantError(model.InvariantSelfContainment, "contains relationship cannot be self-referential")
		}
		if math.IsNaN(r.Weight) || math.IsInf(r.Weight, 0) {
			return model.NewInvariantError(model.InvariantFiniteness, "relationship weight must be finite")
		}
		if m.limits.MaxRelationships > 0 && len(st.relationships) >= m.limits.MaxRelationships {
			return model.NewError(model.KindInvalidArgument, "max_relationships exceeded", nil)
		}
		st.relationships[id] = r
		st.adjOut[r.SourceID] = append(st.adjOut[r.SourceID], id)
		st.adjIn[r.TargetID] = append(st.adjIn[r.TargetID], id)
		return nil
	})
	if err != nil {
		return err
	}
	m.emit("RelationshipModified", "added", r.SystemID, nil, &id)
	m.emit("SystemUpdated", "relationship_added", r.SystemID, nil, nil)
	return nil
}

// RemoveRelationship deletes r and its adjacency index entries.
func (m *Model) RemoveRelationship(id uuid.UUID) error {
	var systemID uuid.UUID
	err := m.commit(func(st *state) error {
		rel, exists := st.relationships[id]
		if !exists {
			return model.ErrRelationshipNotFound(id)
		}
		systemID = st.system.ID
		delete(st.relationships, id)
		st.adjOut[rel.SourceID] = removeID(st.adjOut[rel.SourceID], id)
		st.adjIn[rel.TargetID] = removeID(st.adjIn[rel.TargetID], id)
		return nil
	})
	if err != nil {
		return err
	}
	m.emit("RelationshipModified", "removed", systemID, nil, &id)
	m.emit("SystemUpdated", "relationship_removed", systemID, nil, nil)
	return nil
}

// UpdateComponentState applies a new scalar value and status to a
// component, pushing the previous value into its bounded history.
func (m *Model) UpdateComponentState(id uuid.UUID, value float64, status model.ComponentStatus) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return model.NewError(model.KindInvalidArgument, "current_value must be finite", nil)
	}
	var systemID uuid.UUID
	err := m.commit(func(st *state) error {
		c, exists := st.components[id]
		if !exists {
			return model.ErrComponentNotFound(id)
		}
		systemID = st.system.ID
		clone := c.Clone()
		clone.State.Update(value, status, now())
		st.components[id] = clone
		return nil
	})
	if err != nil {
		return err
	}
	cid := id
	m.emit("StateChanged", "updated", systemID, &cid, nil)
	return nil
}

func removeID(list []uuid.UUID, target uuid.UUID) []uuid.UUID {
	out := list[:0]
	for _, id := range list {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
