// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine composes the storage facade, the per-system model
// registry, the compute engine, the event bus, and the validation
// registry into the single process-wide object spec.md §9 describes.
// Everything else (cmd/csaengine, internal/httpapi) drives the process
// through this one object.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/csa-systems/csa-engine/internal/compute"
	"github.com/csa-systems/csa-engine/internal/config"
	"github.com/csa-systems/csa-engine/internal/events"
	"github.com/csa-systems/csa-engine/internal/model"
	"github.com/csa-systems/csa-engine/internal/storage"
	"github.com/csa-systems/csa-engine/internal/systemmodel"
	"github.com/csa-systems/csa-engine/internal/telemetry"
	"github.com/csa-systems/csa-engine/internal/validation"
)

// Engine is the process-wide object: one Storage, one Compute engine, one
// event Bus, one validation Registry shared by every loaded system, and a
// lazily-populated map of in-memory Models keyed by system id.
type Engine struct {
	cfg     config.Config
	logger  *slog.Logger
	storage *storage.Storage
	compute *compute.Engine
	bus     *events.Bus
	metrics *telemetry.Metrics
	limits  systemmodel.Limits
	gauge   interface{ Unregister() error }

	mu     sync.Mutex
	models map[uuid.UUID]*systemmodel.Model
}

// New opens storage, starts the compute engine and event bus, and returns
// a ready-to-serve Engine. Callers must call Shutdown on exit.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.Open(ctx, storage.Config{
		KVPath:             cfg.Storage.KVPath,
		SQLPath:            cfg.Storage.SQLPath,
		CacheCapacityBytes: cfg.Storage.CacheCapacityBytes,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: open storage: %w", err)
	}

	bus := events.NewBus(logger, 1024)

	compCfg := compute.Config{
		WorkerCount:        cfg.Compute.WorkerCount,
		QueueCapacity:      cfg.Compute.TaskQueueCapacity,
		ResultTTL:          cfg.Compute.TaskResultTTL,
		PromotionThreshold: cfg.Compute.PromotionThreshold,
	}
	compEngine, err := compute.NewEngine(ctx, compCfg, nil, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: new compute engine: %w", err)
	}

	meter := otel.Meter("csa-engine")
	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("engine: new metrics: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		storage: store,
		compute: compEngine,
		bus:     bus,
		metrics: metrics,
		limits: systemmodel.Limits{
			MaxComponents:      cfg.System.MaxComponents,
			MaxRelationships:   cfg.System.MaxRelationships,
			StateHistoryLength: cfg.System.StateHistoryLength,
		},
		models: make(map[uuid.UUID]*systemmodel.Model),
	}

	reg, err := metrics.RegisterTaskQueueDepth(meter, func() int64 { return compEngine.QueueDepth() })
	if err != nil {
		return nil, fmt.Errorf("engine: register queue depth gauge: %w", err)
	}
	e.gauge = reg

	return e, nil
}

// Metrics exposes the engine's registered OTel instruments, e.g. for
// httpapi middleware to record request counts and durations against.
func (e *Engine) Metrics() *telemetry.Metrics { return e.metrics }

// Bus exposes the event bus for websocket subscriptions.
func (e *Engine) Bus() *events.Bus { return e.bus }

// Compute exposes the compute engine for analysis submissions.
func (e *Engine) Compute() *compute.Engine { return e.compute }

// Storage exposes the storage facade, used by the backup/restore/migrate
// CLI subcommands which operate below the model layer.
func (e *Engine) Storage() *storage.Storage { return e.storage }

// StateHistoryLength is the system.state_history_length knob, used by
// handlers constructing new Components.
func (e *Engine) StateHistoryLength() int {
	if e.limits.StateHistoryLength > 0 {
		return e.limits.StateHistoryLength
	}
	return model.DefaultStateHistoryLength
}

// newRegistry builds a validation.Registry scoped to the engine's
// configured strictness level. Structural invariants are never optional;
// Permissive skips the softer schema/weight rules entirely, Normal adds
// weight bounds, and Strict also enforces required component properties.
func newRegistry(level config.ValidationLevel) *validation.Registry {
	reg := validation.NewRegistry()
	reg.Register(validation.NewStructuralInvariantsRule())
	if level == config.LevelPermissive {
		return reg
	}
	reg.Register(validation.NewWeightBoundsRule(defaultWeightBounds()))
	if level == config.LevelStrict {
		reg.Register(validation.NewPropertySchemaRule(defaultPropertySchemas()))
	}
	return reg
}

func defaultWeightBounds() map[string]validation.WeightBound {
	return map[string]validation.WeightBound{
		string(model.RelationshipDependsOn):    {Min: 0, Max: 1},
		string(model.RelationshipInfluences):   {Min: -1, Max: 1},
		string(model.RelationshipTransforms):   {Min: 0, Max: 1e9},
		string(model.RelationshipCommunicates): {Min: 0, Max: 1e9},
	}
}

func defaultPropertySchemas() map[string]validation.PropertySchema {
	return map[string]validation.PropertySchema{}
}

// CreateSystem creates a new System with an empty component graph,
// persists it, and registers its in-memory Model.
func (e *Engine) CreateSystem(ctx context.Context, name, description string) (*model.System, error) {
	sys := model.NewSystem(name, description)
	if err := e.storage.StoreSystem(ctx, sys, nil, nil); err != nil {
		return nil, err
	}
	m := systemmodel.New(sys, newRegistry(e.cfg.Validation.Level), e.limits, e.publishFunc())
	e.mu.Lock()
	e.models[sys.ID] = m
	e.mu.Unlock()
	e.bus.Publish(ctx, events.Event{
		ID: uuid.New(), Type: events.TypeSystemUpdated, Timestamp: time.Now(),
		Source: "engine", Payload: events.SystemPayload{SystemID: sys.ID, Action: "created"},
	})
	return sys, nil
}

// LoadSystem returns the in-memory Model for id, loading it from storage
// and rehydrating the adjacency index on a cold cache miss.
func (e *Engine) LoadSystem(ctx context.Context, id uuid.UUID) (*systemmodel.Model, error) {
	e.mu.Lock()
	if m, ok := e.models[id]; ok {
		e.mu.Unlock()
		return m, nil
	}
	e.mu.Unlock()

	sys, components, relationships, err := e.storage.LoadSystem(ctx, id)
	if err != nil {
		return nil, err
	}
	m, err := systemmodel.Load(sys, components, relationships, newRegistry(e.cfg.Validation.Level), e.limits, e.publishFunc())
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if existing, ok := e.models[id]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	e.models[id] = m
	e.mu.Unlock()
	return m, nil
}

// SaveSystem persists the current committed state of a loaded Model back
// to storage (the PUT /v1/systems/:id save path). Since StoreSystem
// reconciles its incoming graph against whatever is already persisted,
// this also catches up any deletions applied to the Model without going
// through the per-mutation command flow below.
func (e *Engine) SaveSystem(ctx context.Context, id uuid.UUID) error {
	m, err := e.LoadSystem(ctx, id)
	if err != nil {
		return err
	}
	snap := m.Snapshot()
	return e.storage.StoreSystem(ctx, snap.System(), snap.Components(), snap.Relationships())
}

// AddComponent adds c to systemID's Model and immediately persists it
// through the single-entity store_component path (spec.md §4.1), so the
// write survives a restart without a separate save.
func (e *Engine) AddComponent(ctx context.Context, systemID uuid.UUID, c *model.Component) error {
	m, err := e.LoadSystem(ctx, systemID)
	if err != nil {
		return err
	}
	if err := m.AddComponent(c); err != nil {
		return err
	}
	return e.storage.StoreComponent(ctx, c)
}

// RemoveComponent removes a component (and, cascading, every relationship
// incident to it) from systemID's Model and deletes their persisted rows
// immediately, so a reload afterward never resurrects them (spec.md §3
// Lifecycle, §8 scenario 2).
func (e *Engine) RemoveComponent(ctx context.Context, systemID, componentID uuid.UUID) error {
	m, err := e.LoadSystem(ctx, systemID)
	if err != nil {
		return err
	}
	incident := m.GetRelationshipsFor(componentID)
	if err := m.RemoveComponent(componentID); err != nil {
		return err
	}
	for _, r := range incident {
		if err := e.storage.RemoveRelationship(ctx, systemID, r); err != nil {
			return err
		}
	}
	return e.storage.RemoveComponent(ctx, systemID, componentID)
}

// AddRelationship adds r to systemID's Model and immediately persists it
// through the single-entity store_relationship path.
func (e *Engine) AddRelationship(ctx context.Context, systemID uuid.UUID, r *model.Relationship) error {
	m, err := e.LoadSystem(ctx, systemID)
	if err != nil {
		return err
	}
	if err := m.AddRelationship(r); err != nil {
		return err
	}
	return e.storage.StoreRelationship(ctx, r)
}

// RemoveRelationship removes a relationship from systemID's Model and
// deletes its persisted row immediately (spec.md §8 scenario 2).
func (e *Engine) RemoveRelationship(ctx context.Context, systemID, relationshipID uuid.UUID) error {
	m, err := e.LoadSystem(ctx, systemID)
	if err != nil {
		return err
	}
	var target *model.Relationship
	for _, r := range m.Snapshot().Relationships() {
		if r.ID == relationshipID {
			target = r
			break
		}
	}
	if err := m.RemoveRelationship(relationshipID); err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	return e.storage.RemoveRelationship(ctx, systemID, target)
}

// UpdateComponentState applies a state update to systemID's Model and
// immediately persists the updated component.
func (e *Engine) UpdateComponentState(ctx context.Context, systemID, componentID uuid.UUID, value float64, status model.ComponentStatus) error {
	m, err := e.LoadSystem(ctx, systemID)
	if err != nil {
		return err
	}
	if err := m.UpdateComponentState(componentID, value, status); err != nil {
		return err
	}
	c, ok := m.GetComponent(componentID)
	if !ok {
		return nil
	}
	return e.storage.StoreComponent(ctx, c)
}

// publishFunc adapts a systemmodel.Event into events.Event and publishes
// it on the bus, waiting at most one second before dropping the publish
// with a logged warning rather than blocking the mutation path for longer.
func (e *Engine) publishFunc() func(systemmodel.Event) {
	return func(se systemmodel.Event) {
		ev := adaptEvent(se)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := e.bus.Publish(ctx, ev); err != nil {
			e.logger.Warn("engine: publish dropped", "error", err, "kind", se.Kind)
		}
	}
}

func adaptEvent(se systemmodel.Event) events.Event {
	ev := events.Event{ID: uuid.New(), Timestamp: time.Now(), Source: "engine"}
	switch se.Kind {
	case "ComponentChanged":
		ev.Type = events.TypeComponentChanged
		ev.Payload = events.ComponentPayload{SystemID: se.SystemID, ComponentID: derefUUID(se.ComponentID), Action: se.Action}
	case "RelationshipModified":
		ev.Type = events.TypeRelationshipModified
		ev.Payload = events.RelationshipPayload{SystemID: se.SystemID, RelationshipID: derefUUID(se.RelationshipID), Action: se.Action}
	case "StateChanged":
		ev.Type = events.TypeStateChanged
		ev.Payload = events.StatePayload{SystemID: se.SystemID, ComponentID: derefUUID(se.ComponentID)}
	default:
		ev.Type = events.TypeSystemUpdated
		ev.Payload = events.SystemPayload{SystemID: se.SystemID, Action: se.Action}
	}
	return ev
}

func derefUUID(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}

// Shutdown tears the engine down in reverse order of construction:
// compute engine first (draining in-flight tasks), then the event bus,
// then storage.
func (e *Engine) Shutdown(ctx context.Context) error {
	var errs []error
	if e.gauge != nil {
		if err := e.gauge.Unregister(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.compute.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := e.bus.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.storage.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("engine shutdown errors: %v", errs)
	}
	return nil
}
