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
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies an Error into one of the engine's closed taxonomy of
// failure categories. Callers should switch on Kind, never on message text.
type Kind string

const (
	KindNotFound           Kind = "NotFound"
	KindConflict           Kind = "Conflict"
	KindInvariantViolation Kind = "InvariantViolation"
	KindInvalidArgument    Kind = "InvalidArgument"
	KindQueueFull          Kind = "QueueFull"
	KindCancelled          Kind = "Cancelled"
	KindTimedOut           Kind = "TimedOut"
	KindIO                 Kind = "IO"
	KindCorruption         Kind = "Corruption"
	KindInvalidBackup      Kind = "InvalidBackup"
	KindInternal           Kind = "Internal"
)

// Error is the engine-wide error type. Details carries kind-specific
// structured context (e.g. the invariant code for InvariantViolation);
// it is opaque to callers of Internal errors but always logged with full
// context at the point of origin.
type Error struct {
	Kind    Kind
	Message string
	Details any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target shares this error's Kind, so callers can use
// errors.Is(err, model.Err(model.KindNotFound)) style matching.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// Err constructs a bare sentinel for the given kind, suitable for errors.Is.
func Err(kind Kind) *Error { return &Error{Kind: kind} }

// NewError builds an Error with a message and optional wrapped cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// InvariantCode identifies which of I1-I7 was violated.
type InvariantCode string

const (
	InvariantReferential         InvariantCode = "I1"
	InvariantUniqueness          InvariantCode = "I2"
	InvariantFiniteness          InvariantCode = "I3"
	InvariantContainmentAcyclic  InvariantCode = "I4"
	InvariantSelfContainment     InvariantCode = "I5"
	InvariantAdjacencyConsistent InvariantCode = "I6"
	InvariantBoundedHistory      InvariantCode = "I7"
)

// NewInvariantError builds an InvariantViolation error carrying code as Details.
func NewInvariantError(code InvariantCode, message string) *Error {
	return &Error{Kind: KindInvariantViolation, Message: message, Details: code}
}

func ErrComponentNotFound(id uuid.UUID) *Error {
	return NewError(KindNotFound, fmt.Sprintf("component not found: %s", id), nil)
}

func ErrRelationshipNotFound(id uuid.UUID) *Error {
	return NewError(KindNotFound, fmt.Sprintf("relationship not found: %s", id), nil)
}

func ErrSystemNotFound(id uuid.UUID) *Error {
	return NewError(KindNotFound, fmt.Sprintf("system not found: %s", id), nil)
}

func ErrDuplicateComponent(id uuid.UUID) *Error {
	return NewError(KindConflict, fmt.Sprintf("duplicate component: %s", id), nil)
}

func ErrDuplicateRelationship(id uuid.UUID) *Error {
	return NewError(KindConflict, fmt.Sprintf("duplicate relationship: %s", id), nil)
}

func ErrOrphanedRelationship(relationshipID, componentID uuid.UUID) *Error {
	return NewInvariantError(InvariantReferential,
		fmt.Sprintf("relationship %s references missing component %s", relationshipID, componentID))
}
