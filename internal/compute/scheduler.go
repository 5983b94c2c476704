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
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/csa-systems/csa-engine/internal/compute/cancel"
	"github.com/csa-systems/csa-engine/internal/model"
)

// Config holds the compute.* knobs.
type Config struct {
	WorkerCount        int
	QueueCapacity      int
	ResultTTL          time.Duration
	PromotionThreshold time.Duration
}

// ApplyDefaults fills zero-valued fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.WorkerCount <= 0 {
		c.WorkerCount = runtime.NumCPU()
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 256
	}
	if c.ResultTTL <= 0 {
		c.ResultTTL = 10 * time.Minute
	}
	if c.PromotionThreshold <= 0 {
		c.PromotionThreshold = 5 * time.Second
	}
}

type queuedTask struct {
	task *Task
}

// Scheduler is the four-priority FIFO dispatcher spec.md §4.5 describes: it
// owns the pending queues, the bounded worker pool, the per-task
// cancellation hierarchy, and the TTL-evicted result map.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	queues  [priorityCount][]*queuedTask
	queued  int
	cond    *sync.Cond
	tasksByID map[uuid.UUID]*Task

	results   map[uuid.UUID]*Result
	resultsMu sync.Mutex

	algorithms map[string]Algorithm

	controller *cancel.Controller
	sessions   map[uuid.UUID]*cancel.SessionContext
	sessionsMu sync.Mutex

	parallelSem *semaphore.Weighted

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Scheduler. algorithms is the full registry of built-in and
// any additionally registered analysis algorithms, keyed by Algorithm.Name.
func New(cfg Config, algorithms map[string]Algorithm, logger *slog.Logger) (*Scheduler, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctrl, err := cancel.NewController(cancel.ControllerConfig{}, logger)
	if err != nil {
		return nil, fmt.Errorf("compute: new cancel controller: %w", err)
	}
	s := &Scheduler{
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "scheduler")),
		tasksByID:   make(map[uuid.UUID]*Task),
		results:     make(map[uuid.UUID]*Result),
		algorithms:  algorithms,
		controller:  ctrl,
		sessions:    make(map[uuid.UUID]*cancel.SessionContext),
		parallelSem: semaphore.NewWeighted(int64(cfg.WorkerCount)),
		stopCh:      make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Start launches the worker pool and the promotion/reaper background loops.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.cfg.WorkerCount; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx, i)
	}
	s.wg.Add(2)
	go s.promotionLoop()
	go s.reaperLoop()
}

// Shutdown stops accepting new dispatch, cancels every in-flight task via
// the cancellation controller, and waits for workers to drain.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	close(s.stopCh)
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
	if _, err := s.controller.Shutdown(ctx); err != nil {
		return err
	}
	s.wg.Wait()
	return nil
}

// Submit enqueues task, returning model.KindQueueFull if the combined
// pending-task count across all four queues is at capacity.
func (s *Scheduler) Submit(task *Task) error {
	if _, ok := s.algorithms[task.Algorithm]; !ok {
		return model.NewError(model.KindInvalidArgument, fmt.Sprintf("unknown algorithm: %s", task.Algorithm), nil)
	}
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	task.EnqueuedAt = time.Now()

	s.mu.Lock()
	if s.queued >= s.cfg.QueueCapacity {
		s.mu.Unlock()
		return model.NewError(model.KindQueueFull, "task queue is at capacity", nil)
	}
	s.queues[task.Priority] = append(s.queues[task.Priority], &queuedTask{task: task})
	s.queued++
	s.tasksByID[task.ID] = task
	s.cond.Broadcast()
	s.mu.Unlock()

	s.resultsMu.Lock()
	s.results[task.ID] = &Result{TaskID: task.ID, Status: StatusQueued, CreatedAt: time.Now()}
	s.resultsMu.Unlock()
	return nil
}

// Result returns the retained outcome for id, if still present.
func (s *Scheduler) Result(id uuid.UUID) (*Result, bool) {
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	r, ok := s.results[id]
	return r, ok
}

// QueueDepth returns the combined pending task count across all priority
// queues, the csa_task_queue_depth gauge's source value.
func (s *Scheduler) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued
}

// Cancel requests cancellation of the named task. A dispatched task is
// cancelled through its algorithm context's cancellation session; a task
// still sitting in a priority queue has no session yet, so it is instead
// pulled out of its queue and marked Cancelled directly.
func (s *Scheduler) Cancel(id uuid.UUID) error {
	s.sessionsMu.Lock()
	session, ok := s.sessions[id]
	s.sessionsMu.Unlock()
	if ok {
		session.Cancel(cancel.CancelReason{Type: cancel.CancelUser, Message: "cancelled by caller", Component: id.String(), Timestamp: time.Now()})
		return nil
	}

	s.mu.Lock()
	task, known := s.tasksByID[id]
	if !known {
		s.mu.Unlock()
		return model.NewError(model.KindNotFound, fmt.Sprintf("task not found: %s", id), nil)
	}
	removed := false
	queue := s.queues[task.Priority]
	for i, qt := range queue {
		if qt.task.ID == id {
			s.queues[task.Priority] = append(queue[:i:i], queue[i+1:]...)
			s.queued--
			removed = true
			break
		}
	}
	if removed {
		delete(s.tasksByID, id)
	}
	s.mu.Unlock()

	if !removed {
		// Dispatched between the session lookup above and acquiring mu; the
		// worker will register its session momentarily and there is nothing
		// left here to cancel.
		return model.NewError(model.KindNotFound, fmt.Sprintf("task not found: %s", id), nil)
	}

	s.resultsMu.Lock()
	s.results[id] = &Result{TaskID: id, Status: StatusCancelled, CreatedAt: time.Now()}
	s.resultsMu.Unlock()
	return nil
}

// dependenciesSatisfied reports whether every id in deps has a Completed result.
func (s *Scheduler) dependenciesSatisfied(deps []uuid.UUID) bool {
	if len(deps) == 0 {
		return true
	}
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	for _, id := range deps {
		r, ok := s.results[id]
		if !ok || r.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// popReady removes and returns the highest-priority ready task, or nil.
func (s *Scheduler) popReady() *Task {
	for p := priorityCount - 1; p >= 0; p-- {
		queue := s.queues[p]
		for i, qt := range queue {
			if !s.dependenciesSatisfied(qt.task.Dependencies) {
				continue
			}
			s.queues[p] = append(queue[:i:i], queue[i+1:]...)
			s.queued--
			return qt.task
		}
	}
	return nil
}

func (s *Scheduler) workerLoop(ctx context.Context, workerIdx int) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		var task *Task
		for task == nil {
			select {
			case <-s.stopCh:
				s.mu.Unlock()
				return
			default:
			}
			task = s.popReady()
			if task == nil {
				s.cond.Wait()
			}
		}
		s.mu.Unlock()
		s.execute(ctx, task)
	}
}

func (s *Scheduler) execute(ctx context.Context, task *Task) {
	session, err := s.controller.NewSession(ctx, cancel.SessionConfig{ID: task.ID.String(), Timeout: task.Timeout})
	if err != nil {
		s.finish(task, StatusFailed, nil, err)
		return
	}
	s.sessionsMu.Lock()
	s.sessions[task.ID] = session
	s.sessionsMu.Unlock()

	activity := session.NewActivity("run")
	algoCtx := activity.NewAlgorithm(task.Algorithm, task.Timeout)

	task.StartedAt = time.Now()
	s.setStatus(task.ID, StatusRunning)

	algo := s.algorithms[task.Algorithm]
	runCtx := algoCtx.Context()
	if algo.SupportsParallel() {
		// Share the pool's own semaphore rather than a second independent
		// limit, so an algorithm fanning out internal goroutines is bounded
		// by exactly the same capacity the scheduler dispatches tasks from.
		runCtx = cancel.WithParallelLimiter(runCtx, s.parallelSem)
	}
	value, runErr := algo.Run(runCtx, task.Snapshot, task.Params)
	task.EndedAt = time.Now()

	switch {
	case algoCtx.Context().Err() != nil && runErr != nil:
		s.finish(task, s.cancelStatus(algoCtx), nil, algoCtx.Context().Err())
	case runErr != nil:
		s.finish(task, StatusFailed, nil, runErr)
	default:
		algoCtx.MarkDone()
		s.finish(task, StatusCompleted, value, nil)
	}

	s.sessionsMu.Lock()
	delete(s.sessions, task.ID)
	s.sessionsMu.Unlock()
}

func (s *Scheduler) cancelStatus(algoCtx *cancel.AlgorithmContext) Status {
	if algoCtx.Context().Err() == context.DeadlineExceeded {
		return StatusTimedOut
	}
	return StatusCancelled
}

func (s *Scheduler) setStatus(id uuid.UUID, status Status) {
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	if r, ok := s.results[id]; ok {
		r.Status = status
	}
}

func (s *Scheduler) finish(task *Task, status Status, value any, err error) {
	s.resultsMu.Lock()
	s.results[task.ID] = &Result{TaskID: task.ID, Status: status, Value: value, Err: err, CreatedAt: time.Now()}
	s.resultsMu.Unlock()
	s.mu.Lock()
	delete(s.tasksByID, task.ID)
	s.mu.Unlock()
	if err != nil {
		s.logger.Warn("task finished", slog.String("task_id", task.ID.String()), slog.String("status", string(status)), slog.Any("error", err))
	} else {
		s.logger.Info("task finished", slog.String("task_id", task.ID.String()), slog.String("status", string(status)))
	}
}

// promotionLoop bumps any queued task that has waited past
// PromotionThreshold up one priority level, bounding starvation.
func (s *Scheduler) promotionLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PromotionThreshold / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.promoteStarved()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) promoteStarved() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var next [priorityCount][]*queuedTask
	for p := Priority(0); p < priorityCount; p++ {
		for _, qt := range s.queues[p] {
			if p < PriorityHigh && now.Sub(qt.task.EnqueuedAt) > s.cfg.PromotionThreshold {
				qt.task.Priority = p.promote()
			} else {
				qt.task.Priority = p
			}
			next[qt.task.Priority] = append(next[qt.task.Priority], qt)
		}
	}
	s.queues = next
	s.cond.Broadcast()
}

// reaperLoop evicts results older than ResultTTL from the retained map.
func (s *Scheduler) reaperLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.ResultTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpiredResults()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) evictExpiredResults() {
	cutoff := time.Now().Add(-s.cfg.ResultTTL)
	s.resultsMu.Lock()
	defer s.resultsMu.Unlock()
	for id, r := range s.results {
		if r.Status.IsTerminal() && r.CreatedAt.Before(cutoff) {
			delete(s.results, id)
		}
	}
}
