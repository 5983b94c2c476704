// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package algorithms

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/csa-systems/csa-engine/internal/model"
	"github.com/csa-systems/csa-engine/internal/systemmodel"
	"github.com/csa-systems/csa-engine/internal/validation"
)

func newTestGraph(t *testing.T) (*systemmodel.Model, []uuid.UUID) {
	t.Helper()
	sys := model.NewSystem("Graph", "")
	registry := validation.NewRegistry()
	registry.Register(validation.NewStructuralInvariantsRule())
	m := systemmodel.New(sys, registry, systemmodel.Limits{}, nil)

	ids := make([]uuid.UUID, 5)
	for i := range ids {
		c := model.NewComponent(sys.ID, "C", model.ComponentKindNode, 8)
		require.NoError(t, m.AddComponent(c))
		ids[i] = c.ID
	}
	for i := 0; i < 4; i++ {
		rel := model.NewRelationship(sys.ID, ids[i], ids[i+1], model.RelationshipInfluences, 1)
		require.NoError(t, m.AddRelationship(rel))
	}
	return m, ids
}

// TestDegreeCentralityMatchesPathGraph mirrors the literal five-node
// path-graph scenario: C1->C2->C3->C4->C5, degree {1,2,2,2,1}.
func TestDegreeCentralityMatchesPathGraph(t *testing.T) {
	m, ids := newTestGraph(t)
	out, err := DegreeCentrality{}.Run(context.Background(), m.Snapshot(), nil)
	require.NoError(t, err)

	scores, ok := out.(map[string]int)
	require.True(t, ok)
	want := []int{1, 2, 2, 2, 1}
	for i, id := range ids {
		assert.Equal(t, want[i], scores[id.String()], "node %d", i)
	}
}

func TestClosenessCentralityEndpointsAreLeastCentral(t *testing.T) {
	m, ids := newTestGraph(t)
	out, err := ClosenessCentrality{}.Run(context.Background(), m.Snapshot(), nil)
	require.NoError(t, err)

	scores, ok := out.(map[string]float64)
	require.True(t, ok)
	// C3 sits in the middle of the path and should be at least as close
	// to the rest of the graph as either endpoint.
	assert.GreaterOrEqual(t, scores[ids[2].String()], scores[ids[0].String()])
	assert.GreaterOrEqual(t, scores[ids[2].String()], scores[ids[4].String()])
}

func TestBetweennessCentralityMiddleVertexIsHighest(t *testing.T) {
	m, ids := newTestGraph(t)
	out, err := BetweennessCentrality{}.Run(context.Background(), m.Snapshot(), nil)
	require.NoError(t, err)

	scores, ok := out.(map[string]float64)
	require.True(t, ok)
	assert.Greater(t, scores[ids[2].String()], scores[ids[0].String()])
	assert.Equal(t, 0.0, scores[ids[0].String()])
	assert.Equal(t, 0.0, scores[ids[4].String()])
}

func TestEigenvectorCentralityReturnsNonNegativeScores(t *testing.T) {
	m, ids := newTestGraph(t)
	out, err := EigenvectorCentrality{}.Run(context.Background(), m.Snapshot(), nil)
	require.NoError(t, err)

	scores, ok := out.(map[string]float64)
	require.True(t, ok)
	for _, id := range ids {
		assert.GreaterOrEqual(t, scores[id.String()], 0.0)
	}
}

func TestPageRankScoresSumToApproximatelyOne(t *testing.T) {
	m, ids := newTestGraph(t)
	out, err := PageRank{}.Run(context.Background(), m.Snapshot(), nil)
	require.NoError(t, err)

	scores, ok := out.(map[string]float64)
	require.True(t, ok)
	var total float64
	for _, id := range ids {
		total += scores[id.String()]
	}
	assert.InDelta(t, 1.0, total, 0.01)
}

func TestConnectedComponentsGroupsPathAsOneComponent(t *testing.T) {
	m, ids := newTestGraph(t)
	out, err := ConnectedComponents{}.Run(context.Background(), m.Snapshot(), nil)
	require.NoError(t, err)

	groups, ok := out.(map[string]int)
	require.True(t, ok)
	first := groups[ids[0].String()]
	for _, id := range ids {
		assert.Equal(t, first, groups[id.String()])
	}
}

func TestConnectedComponentsSeparatesDisjointSubgraphs(t *testing.T) {
	sys := model.NewSystem("Graph", "")
	registry := validation.NewRegistry()
	registry.Register(validation.NewStructuralInvariantsRule())
	m := systemmodel.New(sys, registry, systemmodel.Limits{}, nil)

	a1 := model.NewComponent(sys.ID, "A1", model.ComponentKindNode, 8)
	a2 := model.NewComponent(sys.ID, "A2", model.ComponentKindNode, 8)
	b1 := model.NewComponent(sys.ID, "B1", model.ComponentKindNode, 8)
	require.NoError(t, m.AddComponent(a1))
	require.NoError(t, m.AddComponent(a2))
	require.NoError(t, m.AddComponent(b1))
	require.NoError(t, m.AddRelationship(model.NewRelationship(sys.ID, a1.ID, a2.ID, model.RelationshipInfluences, 1)))

	out, err := ConnectedComponents{}.Run(context.Background(), m.Snapshot(), nil)
	require.NoError(t, err)
	groups := out.(map[string]int)
	assert.Equal(t, groups[a1.ID.String()], groups[a2.ID.String()])
	assert.NotEqual(t, groups[a1.ID.String()], groups[b1.ID.String()])
}

func TestLabelPropagationAssignsSameLabelToConnectedVertices(t *testing.T) {
	m, ids := newTestGraph(t)
	out, err := LabelPropagation{}.Run(context.Background(), m.Snapshot(), nil)
	require.NoError(t, err)

	labels, ok := out.(map[string]int)
	require.True(t, ok)
	first := labels[ids[0].String()]
	for _, id := range ids {
		assert.Equal(t, first, labels[id.String()])
	}
}

func TestLouvainSplitsPathIntoTwoEndCommunities(t *testing.T) {
	m, ids := newTestGraph(t)
	out, err := Louvain{}.Run(context.Background(), m.Snapshot(), map[string]any{"max_iterations": float64(50)})
	require.NoError(t, err)

	communities, ok := out.(map[string]int)
	require.True(t, ok)
	// A single community has modularity 0, so the local-moving pass leaves
	// the path split in two: each endpoint joins its only neighbour, and the
	// two ends never share a community.
	assert.Equal(t, communities[ids[0].String()], communities[ids[1].String()])
	assert.Equal(t, communities[ids[3].String()], communities[ids[4].String()])
	assert.NotEqual(t, communities[ids[0].String()], communities[ids[4].String()])
}

func TestDijkstraShortestPathFindsEndToEndRoute(t *testing.T) {
	m, ids := newTestGraph(t)
	params := map[string]any{"source": ids[0].String(), "target": ids[4].String()}
	out, err := DijkstraShortestPath{}.Run(context.Background(), m.Snapshot(), params)
	require.NoError(t, err)

	result, ok := out.(PathResult)
	require.True(t, ok)
	require.Len(t, result.Vertices, 5)
	assert.Equal(t, ids[0].String(), result.Vertices[0])
	assert.Equal(t, ids[4].String(), result.Vertices[4])
	assert.Equal(t, 4.0, result.Weight)
}

func TestDijkstraShortestPathRespectsMaxPathLength(t *testing.T) {
	m, ids := newTestGraph(t)
	params := map[string]any{"source": ids[0].String(), "target": ids[4].String(), "max_path_length": float64(2)}
	out, err := DijkstraShortestPath{}.Run(context.Background(), m.Snapshot(), params)
	require.NoError(t, err)

	result := out.(PathResult)
	assert.Empty(t, result.Vertices)
}

func TestDijkstraShortestPathMissingParameterErrors(t *testing.T) {
	m, _ := newTestGraph(t)
	_, err := DijkstraShortestPath{}.Run(context.Background(), m.Snapshot(), map[string]any{})
	require.Error(t, err)
	var merr *model.Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, model.KindInvalidArgument, merr.Kind)
}

func TestBFSLayersGroupsByHopDistance(t *testing.T) {
	m, ids := newTestGraph(t)
	params := map[string]any{"source": ids[0].String()}
	out, err := BFSLayers{}.Run(context.Background(), m.Snapshot(), params)
	require.NoError(t, err)

	layers, ok := out.(map[int][]string)
	require.True(t, ok)
	assert.Equal(t, []string{ids[0].String()}, layers[0])
	assert.Equal(t, []string{ids[1].String()}, layers[1])
	assert.Equal(t, []string{ids[4].String()}, layers[4])
}

func TestBFSLayersRespectsMaxDepth(t *testing.T) {
	m, ids := newTestGraph(t)
	params := map[string]any{"source": ids[0].String(), "max_depth": float64(1)}
	out, err := BFSLayers{}.Run(context.Background(), m.Snapshot(), params)
	require.NoError(t, err)

	layers := out.(map[int][]string)
	assert.Contains(t, layers, 1)
	assert.NotContains(t, layers, 2)
}

func TestKShortestPathsReturnsRequestedCountInIncreasingWeightOrder(t *testing.T) {
	sys := model.NewSystem("Graph", "")
	registry := validation.NewRegistry()
	registry.Register(validation.NewStructuralInvariantsRule())
	m := systemmodel.New(sys, registry, systemmodel.Limits{}, nil)

	a := model.NewComponent(sys.ID, "A", model.ComponentKindNode, 8)
	b := model.NewComponent(sys.ID, "B", model.ComponentKindNode, 8)
	c := model.NewComponent(sys.ID, "C", model.ComponentKindNode, 8)
	d := model.NewComponent(sys.ID, "D", model.ComponentKindNode, 8)
	for _, comp := range []*model.Component{a, b, c, d} {
		require.NoError(t, m.AddComponent(comp))
	}
	require.NoError(t, m.AddRelationship(model.NewRelationship(sys.ID, a.ID, b.ID, model.RelationshipInfluences, 1)))
	require.NoError(t, m.AddRelationship(model.NewRelationship(sys.ID, b.ID, d.ID, model.RelationshipInfluences, 1)))
	require.NoError(t, m.AddRelationship(model.NewRelationship(sys.ID, a.ID, c.ID, model.RelationshipInfluences, 1)))
	require.NoError(t, m.AddRelationship(model.NewRelationship(sys.ID, c.ID, d.ID, model.RelationshipInfluences, 1)))

	params := map[string]any{"source": a.ID.String(), "target": d.ID.String(), "k": float64(2)}
	out, err := KShortestPaths{}.Run(context.Background(), m.Snapshot(), params)
	require.NoError(t, err)

	paths, ok := out.([]PathResult)
	require.True(t, ok)
	require.Len(t, paths, 2)
	assert.LessOrEqual(t, paths[0].Weight, paths[1].Weight)
}
