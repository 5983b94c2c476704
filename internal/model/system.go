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

// System is the root aggregate: a named, identified graph instance.
// Components and Relationships are not embedded here directly; they live
// in the systemmodel.Model's identity maps, keyed by SystemID, mirroring
// the teacher's ownership-by-id-map discipline rather than direct pointers.
type System struct {
	ID         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	Description string           `json:"description"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Metadata   map[string]string `json:"metadata"`
}

func NewSystem(name, description string) *System {
	now := time.Now()
	return &System{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    map[string]string{},
	}
}

func (s *System) Clone() *System {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Metadata = cloneStringMap(s.Metadata)
	return &clone
}

// Touch advances UpdatedAt, called on every committed mutation.
func (s *System) Touch() {
	s.UpdatedAt = time.Now()
}
