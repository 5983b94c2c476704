// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation hosts the pluggable rule registry that the system
// model runs pre-commit and on demand. Validators are modeled the way the
// teacher models its capability interfaces (cancel.Cancellable, the agent
// safety gate predicates): an identifier, a description, and a pure check
// method, registered into an ordered slice rather than discovered by
// reflection.
package validation

import "github.com/google/uuid"

// Severity classifies a Finding. Error blocks commit when checked
// pre-commit; Warning and Info pass through.
type Severity string

const (
	SeverityError   Severity = "Error"
	SeverityWarning Severity = "Warning"
	SeverityInfo    Severity = "Info"
)

// Level is the engine-wide validation strictness knob (validation.level).
type Level string

const (
	LevelStrict     Level = "Strict"
	LevelNormal     Level = "Normal"
	LevelPermissive Level = "Permissive"
)

// Finding is one reported issue from a single validator's Check call.
type Finding struct {
	RuleID         string
	Severity       Severity
	Message        string
	ComponentID    *uuid.UUID
	RelationshipID *uuid.UUID
	InvariantCode  string
}

// Result aggregates every validator's findings from one Run.
type Result struct {
	Findings []Finding
}

// HasErrors reports whether any finding is at Error severity.
func (r Result) HasErrors() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the Error-severity findings.
func (r Result) Errors() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			out = append(out, f)
		}
	}
	return out
}

// Context is the read-only view a Validator checks against: a candidate
// state of a System (possibly mid-mutation, before commit). Implemented by
// systemmodel's tentative-state wrapper; validation never imports
// systemmodel, which is what let the two packages be tested in isolation.
type Context interface {
	Components() []ComponentView
	Relationships() []RelationshipView
	Component(id uuid.UUID) (ComponentView, bool)
}

// ComponentView and RelationshipView are the minimal projections a
// built-in rule needs, kept independent of internal/model so this package
// has no dependency on the domain package it validates (consumers adapt
// model.Component/model.Relationship to these views).
type ComponentView struct {
	ID              uuid.UUID
	Kind            string
	Properties      map[string]any
	CurrentValue    float64
	HistoryLen      int
	HistoryCapacity int
}

type RelationshipView struct {
	ID       uuid.UUID
	SourceID uuid.UUID
	TargetID uuid.UUID
	Kind     string
	Weight   float64
}

// Validator is a single pluggable rule.
type Validator interface {
	ID() string
	Describe() string
	Severity() Severity
	Check(ctx Context) []Finding
}

// Registry holds validators in registration order, which Run preserves for
// deterministic output.
type Registry struct {
	validators []Validator
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends v to the registry. Order is significant: Run reports
// findings in registration order.
func (r *Registry) Register(v Validator) {
	r.validators = append(r.validators, v)
}

// Run executes every registered validator against ctx and returns the
// aggregated Result. All validators run even if an earlier one reports an
// Error, so callers always get a complete report.
func (r *Registry) Run(ctx Context) Result {
	var result Result
	for _, v := range r.validators {
		result.Findings = append(result.Findings, v.Check(ctx)...)
	}
	return result
}

// RunErrorsOnly is a convenience for the pre-commit path, which only cares
// whether any Error-severity finding exists.
func (r *Registry) RunErrorsOnly(ctx Context) []Finding {
	return r.Run(ctx).Errors()
}
