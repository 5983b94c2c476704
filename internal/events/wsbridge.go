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
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// wsFrameRateLimit caps outbound frame writes per connection so a burst of
// publishes (e.g. a cascade delete's RelationshipModified fan-out) cannot
// starve the connection's write deadline; the per-subscriber drop-oldest
// queue already bounds memory, this bounds write-call frequency.
const wsFrameRateLimit = rate.Limit(200)

// wsUpgrader is shared across connections, matching the teacher's
// practice of a single package-level gorilla/websocket.Upgrader rather
// than one per request.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsFrame is the JSON envelope spec.md §6 names for the event surface.
type wsFrame struct {
	EventType string    `json:"event_type"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Payload   any       `json:"payload"`
}

// ServeWebSocket upgrades r to a websocket connection and streams every
// event the bus delivers to a fresh subscription (optionally scoped by
// opts.Types) as JSON frames, until the client disconnects or ctx/bus
// shuts down. This is the thin named-interface adapter spec.md §1 permits
// for a "web-based UI bridge" external collaborator — it has no other
// HTTP responsibilities.
func (b *Bus) ServeWebSocket(w http.ResponseWriter, r *http.Request, opts SubscribeOptions) error {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := b.Subscribe(opts)
	defer b.Unsubscribe(sub.ID())

	limiter := rate.NewLimiter(wsFrameRateLimit, int(wsFrameRateLimit))

	// Drain client-initiated control frames (ping/close) on their own
	// goroutine so a silent client doesn't block delivery.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-sub.Events():
			if err := limiter.Wait(r.Context()); err != nil {
				return nil
			}
			frame := wsFrame{
				EventType: string(ev.Type), ID: ev.ID.String(), Timestamp: ev.Timestamp,
				Source: ev.Source, Payload: ev.Payload,
			}
			if err := conn.WriteJSON(frame); err != nil {
				b.logger.Debug("websocket write failed", slog.String("subscriber", sub.ID()), slog.Any("error", err))
				return nil
			}
		case notice := <-sub.DropNotices():
			_ = conn.WriteJSON(wsFrame{EventType: "DropNotice", Timestamp: notice.At, Payload: notice})
		case <-closed:
			return nil
		}
	}
}
