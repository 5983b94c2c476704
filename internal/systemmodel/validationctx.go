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

	"github.com/csa-systems/csa-engine/internal/validation"
)

// validationContext adapts a candidate (possibly not-yet-committed) state
// to validation.Context, the interface built-in and user-registered rules
// check against.
type validationContext struct {
	st *state
}

func newValidationContext(st *state) validationContext {
	return validationContext{st: st}
}

func (v validationContext) Components() []validation.ComponentView {
	out := make([]validation.ComponentView, 0, len(v.st.components))
	for _, c := range v.st.components {
		out = append(out, validation.ComponentView{
			ID:              c.ID,
			Kind:            string(c.Kind),
			Properties:      c.Properties,
			CurrentValue:    c.State.CurrentValue,
			HistoryLen:      c.State.HistoryLen(),
			HistoryCapacity: c.State.HistoryCapacity(),
		})
	}
	return out
}

func (v validationContext) Relationships() []validation.RelationshipView {
	out := make([]validation.RelationshipView, 0, len(v.st.relationships))
	for _, r := range v.st.relationships {
		out = append(out, validation.RelationshipView{
			ID: r.ID, SourceID: r.SourceID, TargetID: r.TargetID, Kind: string(r.Kind), Weight: r.Weight,
		})
	}
	return out
}

func (v validationContext) Component(id uuid.UUID) (validation.ComponentView, bool) {
	c, ok := v.st.components[id]
	if !ok {
		return validation.ComponentView{}, false
	}
	return validation.ComponentView{
		ID: c.ID, Kind: string(c.Kind), Properties: c.Properties,
		CurrentValue: c.State.CurrentValue, HistoryLen: c.State.HistoryLen(), HistoryCapacity: c.State.HistoryCapacity(),
	}, true
}
