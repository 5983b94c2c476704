// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compute is the asynchronous analysis engine: a four-priority
// scheduler dispatches Task submissions, each running one Algorithm against
// an immutable systemmodel.Snapshot, to a bounded worker pool.
package compute

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/csa-systems/csa-engine/internal/systemmodel"
)

// Priority is a task's scheduling class. Higher numeric value schedules first.
type Priority int

const (
	PriorityBackground Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	priorityCount
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "High"
	case PriorityNormal:
		return "Normal"
	case PriorityLow:
		return "Low"
	case PriorityBackground:
		return "Background"
	default:
		return "Unknown"
	}
}

// promote returns the next priority level up, saturating at High.
func (p Priority) promote() Priority {
	if p >= PriorityHigh {
		return PriorityHigh
	}
	return p + 1
}

// Status is a task's lifecycle state. Completed, Failed, Cancelled, and
// TimedOut are sticky terminal states.
type Status string

const (
	StatusQueued    Status = "Queued"
	StatusRunning   Status = "Running"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
	StatusTimedOut  Status = "TimedOut"
)

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Algorithm is the contract every built-in and registered analysis
// algorithm implements.
type Algorithm interface {
	// Name is the descriptor used in Task.Algorithm and the HTTP API.
	Name() string
	// SupportsParallel reports whether Run may use additional goroutines
	// bounded by the scheduler's worker semaphore.
	SupportsParallel() bool
	// Run executes against snap with parameters, checking ctx for
	// cancellation at cooperative checkpoints (at minimum once per vertex
	// visited or edge relaxed).
	Run(ctx context.Context, snap systemmodel.Snapshot, params map[string]any) (any, error)
}

// Task is one submission to the scheduler.
type Task struct {
	ID           uuid.UUID
	Priority     Priority
	Algorithm    string
	Snapshot     systemmodel.Snapshot
	Params       map[string]any
	Timeout      time.Duration
	Dependencies []uuid.UUID

	EnqueuedAt time.Time
	StartedAt  time.Time
	EndedAt    time.Time
}

// Result is a completed (or terminally failed) task's outcome, retained
// until retrieved or evicted by TTL.
type Result struct {
	TaskID    uuid.UUID
	Status    Status
	Value     any
	Err       error
	CreatedAt time.Time
}
