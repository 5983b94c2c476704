// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b := NewBus(slog.Default(), 16)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestPublishDeliversToMatchingSubscriber(t *testing.T) {
	b := newTestBus(t)
	sub := b.Subscribe(SubscribeOptions{Types: []Type{TypeComponentChanged}})

	require.NoError(t, b.Publish(context.Background(), Event{Type: TypeComponentChanged, Payload: "c1"}))
	require.NoError(t, b.Publish(context.Background(), Event{Type: TypeStateChanged, Payload: "ignored"}))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, TypeComponentChanged, ev.Type)
		assert.Equal(t, "c1", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected delivery of unsubscribed type: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishAssignsIDAndTimestampWhenUnset(t *testing.T) {
	b := newTestBus(t)
	sub := b.Subscribe(SubscribeOptions{})
	require.NoError(t, b.Publish(context.Background(), Event{Type: TypeSystemUpdated}))

	select {
	case ev := <-sub.Events():
		assert.NotEqual(t, uuid.Nil, ev.ID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFilterExcludesNonMatchingEvents(t *testing.T) {
	b := newTestBus(t)
	sub := b.Subscribe(SubscribeOptions{Filter: func(ev Event) bool {
		return ev.Source == "wanted"
	}})

	require.NoError(t, b.Publish(context.Background(), Event{Type: TypeSystemUpdated, Source: "other"}))
	require.NoError(t, b.Publish(context.Background(), Event{Type: TypeSystemUpdated, Source: "wanted"}))

	select {
	case ev := <-sub.Events():
		assert.Equal(t, "wanted", ev.Source)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestDeliverDropsOldestWhenSubscriberQueueFull(t *testing.T) {
	b := newTestBus(t)
	sub := b.Subscribe(SubscribeOptions{QueueCapacity: 2})

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Publish(context.Background(), Event{Type: TypeSystemUpdated, Payload: i}))
	}

	// Give the dispatcher goroutine time to fan out all four publishes.
	require.Eventually(t, func() bool { return sub.Drops() > 0 }, time.Second, 5*time.Millisecond)

	select {
	case notice := <-sub.DropNotices():
		assert.Equal(t, sub.ID(), notice.SubscriberID)
		assert.True(t, notice.Dropped > 0)
	case <-time.After(time.Second):
		t.Fatal("expected a drop notice")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)
	sub := b.Subscribe(SubscribeOptions{})
	b.Unsubscribe(sub.ID())
	// Safe to call twice.
	b.Unsubscribe(sub.ID())

	require.NoError(t, b.Publish(context.Background(), Event{Type: TypeSystemUpdated}))
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected delivery after unsubscribe: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCloseStopsDispatch(t *testing.T) {
	b := NewBus(slog.Default(), 4)
	require.NoError(t, b.Close())
	err := b.Publish(context.Background(), Event{Type: TypeSystemUpdated})
	// Either the queue accepted it before shutdown or Publish reports the
	// stopped bus; both are acceptable since Close races with Publish only
	// in this single-goroutine test.
	_ = err
}
