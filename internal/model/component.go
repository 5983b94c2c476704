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
	"time"

	"github.com/google/uuid"
)

// ComponentKind is a tagged variant over the fixed set of vertex kinds.
type ComponentKind string

const (
	ComponentKindNode      ComponentKind = "Node"
	ComponentKindAgent     ComponentKind = "Agent"
	ComponentKindProcess   ComponentKind = "Process"
	ComponentKindResource  ComponentKind = "Resource"
	ComponentKindInterface ComponentKind = "Interface"
)

// Valid reports whether k is one of the known component kinds.
func (k ComponentKind) Valid() bool {
	switch k {
	case ComponentKindNode, ComponentKindAgent, ComponentKindProcess, ComponentKindResource, ComponentKindInterface:
		return true
	default:
		return false
	}
}

// ComponentStatus is a tagged variant over ComponentState.Status.
type ComponentStatus string

const (
	StatusActive   ComponentStatus = "Active"
	StatusInactive ComponentStatus = "Inactive"
	StatusDegraded ComponentStatus = "Degraded"
	StatusUnknown  ComponentStatus = "Unknown"
)

func (s ComponentStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusDegraded, StatusUnknown:
		return true
	default:
		return false
	}
}

// Component is a vertex in a System's graph.
type Component struct {
	ID         uuid.UUID         `json:"id"`
	SystemID   uuid.UUID         `json:"system_id"`
	Name       string            `json:"name"`
	Kind       ComponentKind     `json:"kind"`
	Properties map[string]any    `json:"properties"`
	State      ComponentState    `json:"state"`
	Metadata   map[string]string `json:"metadata"`
}

// Clone returns a deep copy of c, used when a component enters the model's
// identity map or is handed out to a reader via a snapshot.
func (c *Component) Clone() *Component {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Properties = cloneAnyMap(c.Properties)
	clone.Metadata = cloneStringMap(c.Metadata)
	clone.State = c.State.Clone()
	return &clone
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// NewComponent builds a Component with a fresh ID and an initialized,
// empty ComponentState.
func NewComponent(systemID uuid.UUID, name string, kind ComponentKind, historyCapacity int) *Component {
	now := time.Now()
	return &Component{
		ID:         uuid.New(),
		SystemID:   systemID,
		Name:       name,
		Kind:       kind,
		Properties: map[string]any{},
		Metadata:   map[string]string{},
		State: ComponentState{
			CurrentValue: 0,
			LastUpdate:   now,
			Status:       StatusUnknown,
			history:      newRingBuffer(historyCapacity),
		},
	}
}
