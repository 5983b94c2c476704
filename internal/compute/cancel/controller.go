// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cancel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Controller manages the Session/Activity/Algorithm cancellation hierarchy
// for every task the scheduler is running, and runs the background deadlock
// detector that auto-cancels an algorithm that stops reporting progress.
type Controller struct {
	config ControllerConfig
	logger *slog.Logger

	sessions   map[string]*SessionContext
	sessionsMu sync.RWMutex

	contexts   map[string]Cancellable
	contextsMu sync.RWMutex

	closed     bool
	closedMu   sync.RWMutex
	shutdownCh chan struct{}
	shutdownWg sync.WaitGroup
}

// NewController builds a Controller and starts its deadlock-detection loop.
func NewController(config ControllerConfig, logger *slog.Logger) (*Controller, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("cancel: invalid controller config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		config:     config,
		logger:     logger.With(slog.String("component", "cancel_controller")),
		sessions:   make(map[string]*SessionContext),
		contexts:   make(map[string]Cancellable),
		shutdownCh: make(chan struct{}),
	}
	c.shutdownWg.Add(1)
	go c.runDeadlockDetector()
	return c, nil
}

// NewSession creates a top-level session context bound to parent.
func (c *Controller) NewSession(parent context.Context, config SessionConfig) (*SessionContext, error) {
	if parent == nil {
		return nil, ErrNilContext
	}
	c.closedMu.RLock()
	closed := c.closed
	c.closedMu.RUnlock()
	if closed {
		return nil, ErrControllerClosed
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("cancel: invalid session config: %w", err)
	}

	session := newSessionContext(parent, config, c)
	c.sessionsMu.Lock()
	c.sessions[config.ID] = session
	c.sessionsMu.Unlock()
	c.contextsMu.Lock()
	c.contexts[config.ID] = session
	c.contextsMu.Unlock()

	c.logger.Info("session created", slog.String("session_id", config.ID), slog.Duration("timeout", config.Timeout))
	return session, nil
}

func (c *Controller) registerContext(ctx Cancellable) {
	c.contextsMu.Lock()
	defer c.contextsMu.Unlock()
	c.contexts[ctx.ID()] = ctx
}

func (c *Controller) unregisterContext(id string) {
	c.contextsMu.Lock()
	defer c.contextsMu.Unlock()
	delete(c.contexts, id)
}

// Cancel cancels the context with the given id, cascading to its children.
func (c *Controller) Cancel(id string, reason CancelReason) error {
	c.closedMu.RLock()
	closed := c.closed
	c.closedMu.RUnlock()
	if closed {
		return ErrControllerClosed
	}

	c.contextsMu.RLock()
	target, ok := c.contexts[id]
	c.contextsMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if reason.Timestamp.IsZero() {
		reason.Timestamp = time.Now()
	}
	c.logger.Info("cancelling context", slog.String("id", id), slog.String("level", target.Level().String()), slog.String("type", reason.Type.String()))
	target.Cancel(reason)
	return nil
}

// CancelAll cancels every active session immediately.
func (c *Controller) CancelAll(reason CancelReason) {
	c.closedMu.RLock()
	closed := c.closed
	c.closedMu.RUnlock()
	if closed {
		return
	}
	if reason.Timestamp.IsZero() {
		reason.Timestamp = time.Now()
	}
	c.sessionsMu.RLock()
	sessions := make([]*SessionContext, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessionsMu.RUnlock()
	for _, s := range sessions {
		s.Cancel(reason)
	}
}

// Status snapshots every tracked session and its descendants.
func (c *Controller) Status() *ControllerStatus {
	c.sessionsMu.RLock()
	defer c.sessionsMu.RUnlock()
	status := &ControllerStatus{Sessions: make([]Status, 0, len(c.sessions))}
	for _, s := range c.sessions {
		sessionStatus := s.Status()
		status.Sessions = append(status.Sessions, sessionStatus)
		countStates(&sessionStatus, &status.TotalActive, &status.TotalCancelled, &status.TotalCompleted)
	}
	return status
}

func countStates(status *Status, active, cancelled, completed *int) {
	switch status.State {
	case StateRunning, StateCancelling:
		*active++
	case StateCancelled:
		*cancelled++
	case StateDone:
		*completed++
	}
	for i := range status.Children {
		countStates(&status.Children[i], active, cancelled, completed)
	}
}

// Shutdown cancels every session, waits GracePeriod for graceful
// completion, then force-cancels whatever remains.
func (c *Controller) Shutdown(ctx context.Context) (*ShutdownResult, error) {
	c.closedMu.Lock()
	if c.closed {
		c.closedMu.Unlock()
		return &ShutdownResult{Success: true}, nil
	}
	c.closed = true
	c.closedMu.Unlock()

	start := time.Now()
	result := &ShutdownResult{}
	close(c.shutdownCh)

	c.CancelAll(CancelReason{Type: CancelShutdown, Message: "controller shutdown"})

	graceDone := make(chan struct{})
	go func() {
		c.shutdownWg.Wait()
		close(graceDone)
	}()

	select {
	case <-graceDone:
	case <-time.After(c.config.GracePeriod):
		c.logger.Warn("grace period expired")
	case <-ctx.Done():
		return result, ctx.Err()
	}

	result.ForceKilled = c.forceKillRemaining()
	result.Success = true
	result.Duration = time.Since(start)
	c.logger.Info("shutdown complete", slog.Duration("duration", result.Duration), slog.Int("force_killed", result.ForceKilled))
	return result, nil
}

func (c *Controller) forceKillRemaining() int {
	c.contextsMu.RLock()
	defer c.contextsMu.RUnlock()
	killed := 0
	for id, ctx := range c.contexts {
		if !ctx.State().IsTerminal() {
			c.logger.Warn("force killing context", slog.String("id", id))
			ctx.Cancel(CancelReason{Type: CancelShutdown, Message: "force killed during shutdown"})
			if m, ok := ctx.(interface{ markCancelled() }); ok {
				m.markCancelled()
			}
			killed++
		}
	}
	return killed
}

// Close is Shutdown with the controller's own ForceKillTimeout as the
// caller's deadline.
func (c *Controller) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.ForceKillTimeout)
	defer cancel()
	_, err := c.Shutdown(ctx)
	return err
}

func (c *Controller) GetContext(id string) (Cancellable, bool) {
	c.contextsMu.RLock()
	defer c.contextsMu.RUnlock()
	ctx, ok := c.contexts[id]
	return ctx, ok
}

// runDeadlockDetector polls every tracked algorithm context and cancels any
// whose last reported progress is older than DeadlockMultiplier *
// ProgressCheckInterval.
func (c *Controller) runDeadlockDetector() {
	defer c.shutdownWg.Done()
	ticker := time.NewTicker(c.config.ProgressCheckInterval)
	defer ticker.Stop()
	threshold := time.Duration(c.config.DeadlockMultiplier) * c.config.ProgressCheckInterval

	for {
		select {
		case <-ticker.C:
			c.checkDeadlocks(threshold)
		case <-c.shutdownCh:
			return
		}
	}
}

func (c *Controller) checkDeadlocks(threshold time.Duration) {
	c.contextsMu.RLock()
	algorithms := make([]*AlgorithmContext, 0)
	for _, ctx := range c.contexts {
		if alg, ok := ctx.(*AlgorithmContext); ok && alg.State() == StateRunning {
			algorithms = append(algorithms, alg)
		}
	}
	c.contextsMu.RUnlock()

	now := time.Now()
	for _, alg := range algorithms {
		if now.Sub(alg.LastProgress()) > threshold {
			c.logger.Warn("deadlock detected, auto-cancelling", slog.String("id", alg.ID()))
			alg.Cancel(CancelReason{Type: CancelDeadlock, Message: "no progress reported within threshold", Component: alg.ID(), Timestamp: now})
		}
	}
}
