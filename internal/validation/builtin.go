// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// varValidator is shared across the built-in rules that check a single
// scalar against a validator/v10 tag (weight bounds), the same struct the
// teacher's config/tool_registry.go constructs once and reuses rather than
// allocating a validator.Validate per check.
var varValidator = validator.New()

// structuralRule checks invariants I1, I3, I4, I5, I7. I2 (uniqueness) and
// I6 (adjacency consistency) are enforced by construction of the identity
// maps and the adjacency index themselves in internal/systemmodel, so they
// have no corresponding predicate here — there is no state a map or a
// derived index could be in that would violate them without a programming
// error, unlike I1/I4/I5 which depend on cross-referencing two collections.
type structuralRule struct{}

// NewStructuralInvariantsRule returns the built-in I1/I3/I4/I5/I7 checker.
func NewStructuralInvariantsRule() Validator { return structuralRule{} }

func (structuralRule) ID() string          { return "structural-invariants" }
func (structuralRule) Describe() string    { return "referential integrity, finiteness, containment acyclicity, bounded history" }
func (structuralRule) Severity() Severity  { return SeverityError }

func (structuralRule) Check(ctx Context) []Finding {
	var findings []Finding

	components := make(map[uuid.UUID]ComponentView)
	for _, c := range ctx.Components() {
		components[c.ID] = c
		if c.HistoryLen > c.HistoryCapacity {
			id := c.ID
			findings = append(findings, Finding{
				RuleID: "structural-invariants", Severity: SeverityError, InvariantCode: "I7",
				ComponentID: &id,
				Message:     fmt.Sprintf("component %s history length %d exceeds capacity %d", id, c.HistoryLen, c.HistoryCapacity),
			})
		}
	}

	containsAdj := make(map[uuid.UUID][]uuid.UUID)

	for _, r := range ctx.Relationships() {
		if _, ok := components[r.SourceID]; !ok {
			id := r.ID
			findings = append(findings, Finding{
				RuleID: "structural-invariants", Severity: SeverityError, InvariantCode: "I1", RelationshipID: &id,
				Message: fmt.Sprintf("relationship %s source %s not found in system", r.ID, r.SourceID),
			})
		}
		if _, ok := components[r.TargetID]; !ok {
			id := r.ID
			findings = append(findings, Finding{
				RuleID: "structural-invariants", Severity: SeverityError, InvariantCode: "I1", RelationshipID: &id,
				Message: fmt.Sprintf("relationship %s target %s not found in system", r.ID, r.TargetID),
			})
		}
		if math.IsNaN(r.Weight) || math.IsInf(r.Weight, 0) {
			id := r.ID
			findings = append(findings, Finding{
				RuleID: "structural-invariants", Severity: SeverityError, InvariantCode: "I3", RelationshipID: &id,
				Message: fmt.Sprintf("relationship %s weight is not finite: %v", r.ID, r.Weight),
			})
		}
		if r.Kind == "Contains" {
			if r.SourceID == r.TargetID {
				id := r.ID
				findings = append(findings, Finding{
					RuleID: "structural-invariants", Severity: SeverityError, InvariantCode: "I5", RelationshipID: &id,
					Message: fmt.Sprintf("contains relationship %s is self-referential", r.ID),
				})
				continue
			}
			containsAdj[r.SourceID] = append(containsAdj[r.SourceID], r.TargetID)
		}
	}

	if cycle := findContainsCycle(containsAdj); cycle != nil {
		findings = append(findings, Finding{
			RuleID: "structural-invariants", Severity: SeverityError, InvariantCode: "I4",
			Message: fmt.Sprintf("containment cycle detected involving component %s", cycle),
		})
	}

	return findings
}

// findContainsCycle runs a DFS over the Contains-only adjacency and returns
// a component id on a detected cycle, or nil if the subgraph is a forest.
func findContainsCycle(adj map[uuid.UUID][]uuid.UUID) *uuid.UUID {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[uuid.UUID]int)

	var visit func(id uuid.UUID) *uuid.UUID
	visit = func(id uuid.UUID) *uuid.UUID {
		switch state[id] {
		case visiting:
			return &id
		case done:
			return nil
		}
		state[id] = visiting
		for _, next := range adj[id] {
			if found := visit(next); found != nil {
				return found
			}
		}
		state[id] = done
		return nil
	}

	for id := range adj {
		if state[id] == unvisited {
			if found := visit(id); found != nil {
				return found
			}
		}
	}
	return nil
}

// PropertySchema declares the required property keys and expected Go
// kinds for a ComponentKind, checked by propertySchemaRule.
type PropertySchema struct {
	Required map[string]string // property name -> expected type tag ("string","number","bool")
}

type propertySchemaRule struct {
	schemas map[string]PropertySchema
}

// NewPropertySchemaRule returns a Warning-severity validator enforcing the
// per-kind required property keys and types declared in schemas.
func NewPropertySchemaRule(schemas map[string]PropertySchema) Validator {
	return propertySchemaRule{schemas: schemas}
}

func (propertySchemaRule) ID() string         { return "property-schema" }
func (propertySchemaRule) Describe() string   { return "required property keys and types per component kind" }
func (propertySchemaRule) Severity() Severity { return SeverityWarning }

func (r propertySchemaRule) Check(ctx Context) []Finding {
	var findings []Finding
	for _, c := range ctx.Components() {
		schema, ok := r.schemas[c.Kind]
		if !ok {
			continue
		}
		for key, wantType := range schema.Required {
			value, present := c.Properties[key]
			id := c.ID
			if !present {
				findings = append(findings, Finding{
					RuleID: "property-schema", Severity: SeverityWarning, ComponentID: &id,
					Message: fmt.Sprintf("component %s (%s) missing required property %q", c.ID, c.Kind, key),
				})
				continue
			}
			if !matchesType(value, wantType) {
				findings = append(findings, Finding{
					RuleID: "property-schema", Severity: SeverityWarning, ComponentID: &id,
					Message: fmt.Sprintf("component %s property %q expected type %s", c.ID, key, wantType),
				})
			}
		}
	}
	return findings
}

func matchesType(v any, wantType string) bool {
	switch wantType {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		default:
			return false
		}
	case "bool":
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}

// WeightBound is a per-relationship-kind configurable weight range.
type WeightBound struct {
	Min, Max float64
}

type weightBoundsRule struct {
	bounds map[string]WeightBound
}

// NewWeightBoundsRule returns an Error-severity validator enforcing
// per-edge-kind configurable weight bounds.
func NewWeightBoundsRule(bounds map[string]WeightBound) Validator {
	return weightBoundsRule{bounds: bounds}
}

func (weightBoundsRule) ID() string         { return "weight-bounds" }
func (weightBoundsRule) Describe() string   { return "per-relationship-kind weight range" }
func (weightBoundsRule) Severity() Severity { return SeverityError }

func (r weightBoundsRule) Check(ctx Context) []Finding {
	var findings []Finding
	for _, rel := range ctx.Relationships() {
		bound, ok := r.bounds[rel.Kind]
		if !ok {
			continue
		}
		tag := fmt.Sprintf("gte=%v,lte=%v", bound.Min, bound.Max)
		if err := varValidator.Var(rel.Weight, tag); err != nil {
			id := rel.ID
			findings = append(findings, Finding{
				RuleID: "weight-bounds", Severity: SeverityError, RelationshipID: &id,
				Message: fmt.Sprintf("relationship %s weight %v outside [%v,%v] for kind %s", rel.ID, rel.Weight, bound.Min, bound.Max, rel.Kind),
			})
		}
	}
	return findings
}
