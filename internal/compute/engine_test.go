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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csa-systems/csa-engine/internal/model"
	"github.com/csa-systems/csa-engine/internal/systemmodel"
	"github.com/csa-systems/csa-engine/internal/validation"
)

func newTestSnapshot(t *testing.T) systemmodel.Snapshot {
	t.Helper()
	sys := model.NewSystem("Engine Test System", "")
	registry := validation.NewRegistry()
	registry.Register(validation.NewStructuralInvariantsRule())
	m := systemmodel.New(sys, registry, systemmodel.Limits{}, nil)

	c1 := model.NewComponent(sys.ID, "C1", model.ComponentKindNode, 8)
	c2 := model.NewComponent(sys.ID, "C2", model.ComponentKindNode, 8)
	require.NoError(t, m.AddComponent(c1))
	require.NoError(t, m.AddComponent(c2))
	require.NoError(t, m.AddRelationship(model.NewRelationship(sys.ID, c1.ID, c2.ID, model.RelationshipInfluences, 1)))
	return m.Snapshot()
}

func TestEngineSubmitAndAwaitRunsBuiltinAlgorithm(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()
	engine, err := NewEngine(ctx, Config{WorkerCount: 1}, nil, nil)
	require.NoError(t, err)
	defer func() { _ = engine.Shutdown(context.Background()) }()

	assert.Contains(t, engine.Algorithms(), "centrality.degree")

	handle, err := engine.Submit(SubmitRequest{Algorithm: "centrality.degree", Snapshot: newTestSnapshot(t)})
	require.NoError(t, err)

	result, err := engine.Await(context.Background(), handle, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.NotNil(t, result.Value)
}

func TestEngineResultNotFoundForUnknownHandle(t *testing.T) {
	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()
	engine, err := NewEngine(ctx, Config{WorkerCount: 1}, nil, nil)
	require.NoError(t, err)
	defer func() { _ = engine.Shutdown(context.Background()) }()

	_, err = engine.Result(uuid.New())
	require.Error(t, err)
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, model.KindNotFound, merr.Kind)
}
