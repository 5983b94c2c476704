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
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// defaultPublishQueueCapacity is the shared FIFO's depth. Publication
// blocks (with ctx backpressure) only when this is full; delivery to
// individual subscribers never blocks the publisher.
const defaultPublishQueueCapacity = 1024

// defaultSubscriberQueueCapacity mirrors the per-subscriber bounded queue
// size; can be overridden per Subscribe call.
const defaultSubscriberQueueCapacity = 256

// Subscription is the handle returned by Subscribe, used both to read
// delivered events and later to Unsubscribe.
type Subscription struct {
	id     string
	ch     chan Event
	notice chan DropNotice
	drops  atomic.Uint64
	bus    *Bus
}

// ID is the unique handle identifying this subscription for later removal.
func (s *Subscription) ID() string { return s.id }

// Events returns the channel of delivered events.
func (s *Subscription) Events() <-chan Event { return s.ch }

// DropNotices returns the channel of backpressure notifications.
func (s *Subscription) DropNotices() <-chan DropNotice { return s.notice }

// Drops returns the cumulative count of events dropped for this
// subscriber due to a full queue.
func (s *Subscription) Drops() uint64 { return s.drops.Load() }

type registration struct {
	sub    *Subscription
	types  map[Type]struct{}
	filter Filter
}

// Bus is the dispatcher-goroutine-backed publish/subscribe fabric.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs map[string]*registration

	queue  chan Event
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewBus constructs and starts a Bus with the given shared queue capacity
// (0 uses the default). Callers must call Close on shutdown.
func NewBus(logger *slog.Logger, queueCapacity int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if queueCapacity <= 0 {
		queueCapacity = defaultPublishQueueCapacity
	}
	b := &Bus{
		logger: logger.With(slog.String("component", "event_bus")),
		subs:   make(map[string]*registration),
		queue:  make(chan Event, queueCapacity),
		stopCh: make(chan struct{}),
	}
	b.wg.Add(1)
	go b.dispatch()
	return b
}

// Publish enqueues ev onto the shared FIFO. Non-blocking unless the shared
// queue itself is at capacity, in which case it awaits room or ctx
// cancellation — the "publisher receives backpressure via an await"
// semantics spec.md §5 names.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case b.queue <- ev:
		return nil
	default:
	}
	select {
	case b.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.stopCh:
		return context.Canceled
	}
}

func (b *Bus) dispatch() {
	defer b.wg.Done()
	for {
		select {
		case ev := <-b.queue:
			b.fanOut(ev)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) fanOut(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, reg := range b.subs {
		if len(reg.types) > 0 {
			if _, ok := reg.types[ev.Type]; !ok {
				continue
			}
		}
		if reg.filter != nil && !reg.filter(ev) {
			continue
		}
		deliver(reg.sub, ev, b.logger)
	}
}

// deliver sends ev to sub's bounded channel, dropping the oldest queued
// event and issuing a DropNotice when full.
func deliver(sub *Subscription, ev Event, logger *slog.Logger) {
	select {
	case sub.ch <- ev:
		return
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- ev:
	default:
	}
	n := sub.drops.Add(1)
	notice := DropNotice{SubscriberID: sub.id, Dropped: n, At: time.Now()}
	select {
	case sub.notice <- notice:
	default:
		logger.Warn("drop notice queue full", slog.String("subscriber", sub.id))
	}
}

// SubscribeOptions configures a Subscribe call.
type SubscribeOptions struct {
	// Types restricts delivery to these event types. Empty means all types.
	Types []Type
	// Filter further restricts delivery by predicate.
	Filter Filter
	// QueueCapacity overrides the per-subscriber bounded queue size.
	QueueCapacity int
}

// Subscribe registers a new subscription and returns its handle.
func (b *Bus) Subscribe(opts SubscribeOptions) *Subscription {
	cap := opts.QueueCapacity
	if cap <= 0 {
		cap = defaultSubscriberQueueCapacity
	}
	sub := &Subscription{
		id:     uuid.NewString(),
		ch:     make(chan Event, cap),
		notice: make(chan DropNotice, 16),
		bus:    b,
	}
	types := make(map[Type]struct{}, len(opts.Types))
	for _, t := range opts.Types {
		types[t] = struct{}{}
	}
	b.mu.Lock()
	b.subs[sub.id] = &registration{sub: sub, types: types, filter: opts.Filter}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription by handle. Safe to call more than
// once.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Close stops the dispatcher goroutine. Already-enqueued events are
// dropped.
func (b *Bus) Close() error {
	close(b.stopCh)
	b.wg.Wait()
	return nil
}
