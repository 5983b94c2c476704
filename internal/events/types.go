// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events is the topic-based, in-process publish/subscribe fabric
// described in spec.md §4.4. The typed Event/Handler/Subscription shape is
// grounded on the teacher's services/trace/agent/events package, but the
// delivery mechanism is reworked from that package's synchronous fan-out
// into a bounded-queue-plus-dispatcher-goroutine design, since spec.md
// requires drop-oldest backpressure the teacher's emitter never implements.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type is the closed taxonomy of event topics. Matches
// original_source/src/events/mod.rs's EventType exactly.
type Type string

const (
	TypeSystemUpdated        Type = "SystemUpdated"
	TypeComponentChanged     Type = "ComponentChanged"
	TypeRelationshipModified Type = "RelationshipModified"
	TypeAnalysisCompleted    Type = "AnalysisCompleted"
	TypeValidationFailed     Type = "ValidationFailed"
	TypeUserInteraction      Type = "UserInteraction"
	TypeStateChanged         Type = "StateChanged"
)

// Event is a single published notification.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      Type      `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Payload   any       `json:"payload"`
}

// SystemPayload, ComponentPayload, RelationshipPayload, AnalysisPayload,
// ValidationPayload, UserPayload carry the action-specific detail for
// each Type, mirroring original_source/src/events/mod.rs's EventPayload
// variants.
type SystemPayload struct {
	SystemID uuid.UUID `json:"system_id"`
	Action   string    `json:"action"`
}

type ComponentPayload struct {
	SystemID    uuid.UUID `json:"system_id"`
	ComponentID uuid.UUID `json:"component_id"`
	Action      string    `json:"action"`
}

type RelationshipPayload struct {
	SystemID       uuid.UUID `json:"system_id"`
	RelationshipID uuid.UUID `json:"relationship_id"`
	Action         string    `json:"action"`
}

type AnalysisPayload struct {
	TaskID uuid.UUID `json:"task_id"`
	Status string    `json:"status"`
}

type ValidationPayload struct {
	SystemID uuid.UUID `json:"system_id"`
	RuleID   string    `json:"rule_id"`
	Message  string    `json:"message"`
}

type StatePayload struct {
	SystemID    uuid.UUID `json:"system_id"`
	ComponentID uuid.UUID `json:"component_id"`
}

// DropNotice is delivered to a subscriber whose bounded queue overflowed,
// reporting how many events have been discarded for that subscriber so far
// (a running total, not a count since the previous notice).
type DropNotice struct {
	SubscriberID string    `json:"subscriber_id"`
	Dropped      uint64     `json:"dropped"`
	At           time.Time `json:"at"`
}

// Handler is a subscriber callback type in the teacher's push-based
// agent/events.Handler shape. The Bus never invokes a Handler; subscribers
// receive events from the pull-based Subscription.Events() channel.
type Handler func(Event)

// Filter excludes events from delivery to a subscription when it returns
// false.
type Filter func(Event) bool
