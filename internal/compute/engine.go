// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compute

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/csa-systems/csa-engine/internal/compute/algorithms"
	"github.com/csa-systems/csa-engine/internal/model"
	"github.com/csa-systems/csa-engine/internal/systemmodel"
)

// Engine is the process-facing entry point httpapi and cmd/csaengine submit
// analysis requests through: it owns a Scheduler wired with the built-in
// algorithm catalog plus any caller-registered additions.
type Engine struct {
	scheduler *Scheduler
}

// NewEngine builds and starts an Engine. extra augments the built-in
// algorithm catalog (algorithms.Default), keyed by Algorithm.Name; an
// entry in extra overrides a built-in of the same name.
func NewEngine(ctx context.Context, cfg Config, extra map[string]Algorithm, logger *slog.Logger) (*Engine, error) {
	registry := make(map[string]Algorithm)
	for name, a := range algorithms.Default() {
		registry[name] = a
	}
	for name, a := range extra {
		registry[name] = a
	}
	sched, err := New(cfg, registry, logger)
	if err != nil {
		return nil, fmt.Errorf("compute: new engine: %w", err)
	}
	sched.Start(ctx)
	return &Engine{scheduler: sched}, nil
}

// QueueDepth returns the scheduler's current combined pending task count.
func (e *Engine) QueueDepth() int64 {
	return int64(e.scheduler.QueueDepth())
}

// Algorithms lists every algorithm name available for submission.
func (e *Engine) Algorithms() []string {
	names := make([]string, 0, len(e.scheduler.algorithms))
	for name := range e.scheduler.algorithms {
		names = append(names, name)
	}
	return names
}

// SubmitRequest is one analysis request: which algorithm to run, against
// which snapshot, with which scheduling parameters.
type SubmitRequest struct {
	Algorithm    string
	Snapshot     systemmodel.Snapshot
	Params       map[string]any
	Priority     Priority
	Timeout      time.Duration
	Dependencies []uuid.UUID
}

// Submit enqueues req and returns the handle its result will be retrievable
// under.
func (e *Engine) Submit(req SubmitRequest) (uuid.UUID, error) {
	task := &Task{
		ID:           uuid.New(),
		Priority:     req.Priority,
		Algorithm:    req.Algorithm,
		Snapshot:     req.Snapshot,
		Params:       req.Params,
		Timeout:      req.Timeout,
		Dependencies: req.Dependencies,
	}
	if err := e.scheduler.Submit(task); err != nil {
		return uuid.Nil, err
	}
	return task.ID, nil
}

// Result returns the retained outcome for handle.
func (e *Engine) Result(handle uuid.UUID) (*Result, error) {
	r, ok := e.scheduler.Result(handle)
	if !ok {
		return nil, model.NewError(model.KindNotFound, fmt.Sprintf("task not found: %s", handle), nil)
	}
	return r, nil
}

// Await blocks until handle's result reaches a terminal status or ctx is
// done, polling at the given interval. Intended for synchronous callers
// (CLI, tests); the HTTP API polls Result directly instead.
func (e *Engine) Await(ctx context.Context, handle uuid.UUID, pollInterval time.Duration) (*Result, error) {
	if pollInterval <= 0 {
		pollInterval = 50 * time.Millisecond
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if r, err := e.Result(handle); err == nil && r.Status.IsTerminal() {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cancel requests cancellation of the named task.
func (e *Engine) Cancel(handle uuid.UUID) error {
	return e.scheduler.Cancel(handle)
}

// Shutdown stops the scheduler, cancelling in-flight tasks and waiting for
// workers to drain.
func (e *Engine) Shutdown(ctx context.Context) error {
	return e.scheduler.Shutdown(ctx)
}
