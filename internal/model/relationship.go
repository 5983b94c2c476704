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

import "github.com/google/uuid"

// RelationshipKind is a tagged variant over the fixed set of edge kinds.
type RelationshipKind string

const (
	RelationshipInfluences  RelationshipKind = "Influences"
	RelationshipContains    RelationshipKind = "Contains"
	RelationshipTransforms  RelationshipKind = "Transforms"
	RelationshipCommunicates RelationshipKind = "Communicates"
	RelationshipDependsOn   RelationshipKind = "DependsOn"
)

func (k RelationshipKind) Valid() bool {
	switch k {
	case RelationshipInfluences, RelationshipContains, RelationshipTransforms, RelationshipCommunicates, RelationshipDependsOn:
		return true
	default:
		return false
	}
}

// Relationship is a directed, weighted edge between two Components of the
// same System.
type Relationship struct {
	ID         uuid.UUID         `json:"id"`
	SystemID   uuid.UUID         `json:"system_id"`
	SourceID   uuid.UUID         `json:"source_id"`
	TargetID   uuid.UUID         `json:"target_id"`
	Kind       RelationshipKind  `json:"kind"`
	Weight     float64           `json:"weight"`
	Properties map[string]any    `json:"properties"`
	Metadata   map[string]string `json:"metadata"`
}

func (r *Relationship) Clone() *Relationship {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Properties = cloneAnyMap(r.Properties)
	clone.Metadata = cloneStringMap(r.Metadata)
	return &clone
}

func NewRelationship(systemID, source, target uuid.UUID, kind RelationshipKind, weight float64) *Relationship {
	return &Relationship{
		ID:         uuid.New(),
		SystemID:   systemID,
		SourceID:   source,
		TargetID:   target,
		Kind:       kind,
		Weight:     weight,
		Properties: map[string]any{},
		Metadata:   map[string]string{},
	}
}
