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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	c, err := NewController(ControllerConfig{ProgressCheckInterval: 20 * time.Millisecond, DeadlockMultiplier: 2}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSessionActivityAlgorithmHierarchy(t *testing.T) {
	c := newTestController(t)
	session, err := c.NewSession(context.Background(), SessionConfig{ID: "session-1"})
	require.NoError(t, err)

	activity := session.NewActivity("centrality")
	alg := activity.NewAlgorithm("centrality.degree", 0)

	assert.Equal(t, StateRunning, alg.State())
	assert.Equal(t, LevelAlgorithm, alg.Level())
	assert.Equal(t, "session-1/centrality/centrality.degree", alg.ID())
}

func TestCancelCascadesDownTheHierarchy(t *testing.T) {
	c := newTestController(t)
	session, err := c.NewSession(context.Background(), SessionConfig{ID: "session-2"})
	require.NoError(t, err)
	activity := session.NewActivity("centrality")
	alg := activity.NewAlgorithm("centrality.degree", 0)

	require.NoError(t, c.Cancel("session-2", CancelReason{Type: CancelUser, Message: "user requested"}))

	assert.Equal(t, StateCancelling, session.State())
	assert.Equal(t, StateCancelling, activity.State())
	assert.Equal(t, StateCancelling, alg.State())
	assert.Error(t, alg.Err())
}

func TestCancelUnknownIDReturnsNotFound(t *testing.T) {
	c := newTestController(t)
	err := c.Cancel("missing", CancelReason{Type: CancelUser})
	require.Error(t, err)
}

func TestReportProgressResetsDeadlockTimer(t *testing.T) {
	c := newTestController(t)
	session, err := c.NewSession(context.Background(), SessionConfig{ID: "session-3"})
	require.NoError(t, err)
	activity := session.NewActivity("centrality")
	alg := activity.NewAlgorithm("centrality.degree", 0)

	require.Eventually(t, func() bool {
		alg.ReportProgress()
		return alg.State() == StateRunning
	}, 200*time.Millisecond, 10*time.Millisecond)

	alg.MarkDone()
	assert.Equal(t, StateDone, alg.State())
	_, ok := c.GetContext(alg.ID())
	assert.False(t, ok, "MarkDone should unregister the algorithm context")
}

func TestDeadlockDetectorAutoCancelsStalledAlgorithm(t *testing.T) {
	c := newTestController(t)
	session, err := c.NewSession(context.Background(), SessionConfig{ID: "session-4"})
	require.NoError(t, err)
	activity := session.NewActivity("centrality")
	alg := activity.NewAlgorithm("centrality.degree", 0)

	require.Eventually(t, func() bool {
		return alg.State() == StateCancelling
	}, time.Second, 10*time.Millisecond, "expected the deadlock detector to auto-cancel a stalled algorithm")

	reason := alg.Status().CancelReason
	require.NotNil(t, reason)
	assert.Equal(t, CancelDeadlock, reason.Type)
}

func TestShutdownCancelsActiveSessions(t *testing.T) {
	c := newTestController(t)
	session, err := c.NewSession(context.Background(), SessionConfig{ID: "session-5"})
	require.NoError(t, err)

	result, err := c.Shutdown(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, session.State().IsTerminal())

	_, err = c.NewSession(context.Background(), SessionConfig{ID: "session-6"})
	assert.ErrorIs(t, err, ErrControllerClosed)
}
