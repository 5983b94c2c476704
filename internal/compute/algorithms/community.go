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
	"sort"

	"github.com/google/uuid"

	"github.com/csa-systems/csa-engine/internal/compute/cancel"
	"github.com/csa-systems/csa-engine/internal/systemmodel"
)

// undirectedNeighbors returns, per vertex, the set of neighbors reachable by
// either an outgoing or incoming edge — community detection treats the
// Relationship graph as undirected for grouping purposes.
func undirectedNeighbors(a *adjacency) map[uuid.UUID][]uuid.UUID {
	neighbors := make(map[uuid.UUID][]uuid.UUID, len(a.nodes))
	for _, id := range a.nodes {
		seen := make(map[uuid.UUID]struct{})
		var list []uuid.UUID
		for _, e := range a.out[id] {
			if _, ok := seen[e.to]; !ok {
				seen[e.to] = struct{}{}
				list = append(list, e.to)
			}
		}
		for _, e := range a.in[id] {
			if _, ok := seen[e.to]; !ok {
				seen[e.to] = struct{}{}
				list = append(list, e.to)
			}
		}
		neighbors[id] = list
	}
	return neighbors
}

// ConnectedComponents assigns every vertex a component id via BFS over the
// undirected view of the graph.
type ConnectedComponents struct{}

func (ConnectedComponents) Name() string           { return "community.connected_components" }
func (ConnectedComponents) SupportsParallel() bool { return false }

func (ConnectedComponents) Run(ctx context.Context, snap systemmodel.Snapshot, _ map[string]any) (any, error) {
	a := buildAdjacency(snap)
	neighbors := undirectedNeighbors(a)
	assigned := make(map[uuid.UUID]int, len(a.nodes))
	next := 0

	for _, root := range a.nodes {
		if _, done := assigned[root]; done {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cancel.ReportProgress(ctx)

		queue := []uuid.UUID{root}
		assigned[root] = next
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, nb := range neighbors[cur] {
				if _, done := assigned[nb]; done {
					continue
				}
				assigned[nb] = next
				queue = append(queue, nb)
			}
		}
		next++
	}

	out := make(map[string]int, len(assigned))
	for id, comp := range assigned {
		out[id.String()] = comp
	}
	return out, nil
}

// LabelPropagation assigns each vertex the most common label among its
// neighbors, iterating until no vertex changes or max_iterations is hit.
type LabelPropagation struct{}

func (LabelPropagation) Name() string           { return "community.label_propagation" }
func (LabelPropagation) SupportsParallel() bool { return false }

func (LabelPropagation) Run(ctx context.Context, snap systemmodel.Snapshot, params map[string]any) (any, error) {
	a := buildAdjacency(snap)
	neighbors := undirectedNeighbors(a)
	maxIter := intParam(params, "max_iterations", 100)

	labels := make(map[uuid.UUID]int, len(a.nodes))
	order := make([]uuid.UUID, len(a.nodes))
	copy(order, a.nodes)
	sort.Slice(order, func(i, j int) bool { return order[i].String() < order[j].String() })
	for i, id := range order {
		labels[id] = i
	}

	for iter := 0; iter < maxIter; iter++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cancel.ReportProgress(ctx)

		changed := false
		for _, id := range order {
			counts := make(map[int]int)
			for _, nb := range neighbors[id] {
				counts[labels[nb]]++
			}
			best, bestCount := labels[id], -1
			for label, count := range counts {
				if count > bestCount || (count == bestCount && label < best) {
					best, bestCount = label, count
				}
			}
			if best != labels[id] {
				labels[id] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	out := make(map[string]int, len(labels))
	for id, label := range labels {
		out[id.String()] = label
	}
	return out, nil
}

// Louvain performs a single-level greedy modularity-optimization pass: each
// vertex starts in its own community and repeatedly moves into whichever
// neighboring community yields the largest modularity gain, until no move
// improves modularity (grounded on the teacher's Leiden pass's move-and-gain
// loop, simplified to one level without the aggregation phase).
type Louvain struct{}

func (Louvain) Name() string           { return "community.louvain" }
func (Louvain) SupportsParallel() bool { return false }

func (Louvain) Run(ctx context.Context, snap systemmodel.Snapshot, params map[string]any) (any, error) {
	a := buildAdjacency(snap)
	neighbors := undirectedNeighbors(a)
	maxIter := intParam(params, "max_iterations", 100)
	resolution := floatParam(params, "resolution", 1.0)

	degree := make(map[uuid.UUID]float64, len(a.nodes))
	var totalDegree float64
	for _, id := range a.nodes {
		degree[id] = float64(len(neighbors[id]))
		totalDegree += degree[id]
	}
	if totalDegree == 0 {
		out := make(map[string]int, len(a.nodes))
		for i, id := range a.nodes {
			out[id.String()] = i
		}
		return out, nil
	}

	community := make(map[uuid.UUID]uuid.UUID, len(a.nodes))
	communityDegree := make(map[uuid.UUID]float64, len(a.nodes))
	for _, id := range a.nodes {
		community[id] = id
		communityDegree[id] = degree[id]
	}

	for iter := 0; iter < maxIter; iter++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cancel.ReportProgress(ctx)

		moved := false
		for _, id := range a.nodes {
			current := community[id]
			neighborCommunities := make(map[uuid.UUID]float64)
			for _, nb := range neighbors[id] {
				neighborCommunities[community[nb]]++
			}

			communityDegree[current] -= degree[id]
			bestCommunity, bestGain := current, 0.0
			for comm, edgesIn := range neighborCommunities {
				gain := edgesIn - resolution*degree[id]*communityDegree[comm]/totalDegree
				if gain > bestGain {
					bestGain, bestCommunity = gain, comm
				}
			}
			communityDegree[bestCommunity] += degree[id]
			if bestCommunity != current {
				community[id] = bestCommunity
				moved = true
			}
		}
		if !moved {
			break
		}
	}

	relabel := make(map[uuid.UUID]int)
	out := make(map[string]int, len(community))
	for _, id := range a.nodes {
		root := community[id]
		idx, ok := relabel[root]
		if !ok {
			idx = len(relabel)
			relabel[root] = idx
		}
		out[id.String()] = idx
	}
	return out, nil
}
