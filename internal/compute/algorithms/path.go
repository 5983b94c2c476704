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
	"container/heap"
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/csa-systems/csa-engine/internal/compute/cancel"
	"github.com/csa-systems/csa-engine/internal/model"
	"github.com/csa-systems/csa-engine/internal/systemmodel"
)

// PathResult is the shared output shape for every path algorithm in this
// package: an ordered list of vertex ids and the accumulated weight.
type PathResult struct {
	Vertices []string `json:"vertices"`
	Weight   float64  `json:"weight"`
}

func mustUUIDParam(params map[string]any, key string) (uuid.UUID, error) {
	v, ok := params[key]
	if !ok {
		return uuid.Nil, model.NewError(model.KindInvalidArgument, fmt.Sprintf("missing parameter: %s", key), nil)
	}
	s, ok := v.(string)
	if !ok {
		return uuid.Nil, model.NewError(model.KindInvalidArgument, fmt.Sprintf("parameter %s must be a string", key), nil)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, model.NewError(model.KindInvalidArgument, fmt.Sprintf("parameter %s is not a valid id", key), err)
	}
	return id, nil
}

// priorityItem is one entry in the Dijkstra frontier heap.
type priorityItem struct {
	id   uuid.UUID
	dist float64
}

type priorityQueue []priorityItem

func (q priorityQueue) Len() int            { return len(q) }
func (q priorityQueue) Less(i, j int) bool  { return q[i].dist < q[j].dist }
func (q priorityQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *priorityQueue) Push(x any)         { *q = append(*q, x.(priorityItem)) }
func (q *priorityQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// dijkstra runs single-source shortest paths from src over a, respecting
// excludeEdges and excludeVertices (used by k-shortest-paths' detour search).
// Edge weights must be non-negative; a negative weight is clamped to zero.
func dijkstra(ctx context.Context, a *adjacency, src uuid.UUID, excludeVertices map[uuid.UUID]struct{}, excludeEdges map[[2]uuid.UUID]struct{}) (map[uuid.UUID]float64, map[uuid.UUID]uuid.UUID, error) {
	dist := map[uuid.UUID]float64{src: 0}
	prev := map[uuid.UUID]uuid.UUID{}
	visited := map[uuid.UUID]struct{}{}

	pq := &priorityQueue{{id: src, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		cancel.ReportProgress(ctx)

		cur := heap.Pop(pq).(priorityItem)
		if _, done := visited[cur.id]; done {
			continue
		}
		visited[cur.id] = struct{}{}

		if _, excluded := excludeVertices[cur.id]; excluded && cur.id != src {
			continue
		}

		for _, e := range a.out[cur.id] {
			if _, excluded := excludeEdges[[2]uuid.UUID{cur.id, e.to}]; excluded {
				continue
			}
			if _, excluded := excludeVertices[e.to]; excluded {
				continue
			}
			w := e.weight
			if w < 0 {
				w = 0
			}
			nd := cur.dist + w
			if existing, ok := dist[e.to]; !ok || nd < existing {
				dist[e.to] = nd
				prev[e.to] = cur.id
				heap.Push(pq, priorityItem{id: e.to, dist: nd})
			}
		}
	}
	return dist, prev, nil
}

func reconstructPath(prev map[uuid.UUID]uuid.UUID, src, dst uuid.UUID) ([]uuid.UUID, bool) {
	if src == dst {
		return []uuid.UUID{src}, true
	}
	path := []uuid.UUID{dst}
	cur := dst
	for cur != src {
		parent, ok := prev[cur]
		if !ok {
			return nil, false
		}
		path = append(path, parent)
		cur = parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, true
}

func toResult(ids []uuid.UUID, weight float64) PathResult {
	vertices := make([]string, len(ids))
	for i, id := range ids {
		vertices[i] = id.String()
	}
	return PathResult{Vertices: vertices, Weight: weight}
}

// DijkstraShortestPath finds the minimum-weight path between "source" and
// "target", honoring max_path_length as a hop-count bound (the parameter
// shape a path-weighting spec names for this algorithm).
type DijkstraShortestPath struct{}

func (DijkstraShortestPath) Name() string           { return "path.dijkstra" }
func (DijkstraShortestPath) SupportsParallel() bool { return false }

func (DijkstraShortestPath) Run(ctx context.Context, snap systemmodel.Snapshot, params map[string]any) (any, error) {
	src, err := mustUUIDParam(params, "source")
	if err != nil {
		return nil, err
	}
	dst, err := mustUUIDParam(params, "target")
	if err != nil {
		return nil, err
	}
	maxLen := intParam(params, "max_path_length", 0)

	a := buildAdjacency(snap)
	dist, prev, err := dijkstra(ctx, a, src, nil, nil)
	if err != nil {
		return nil, err
	}
	w, ok := dist[dst]
	if !ok {
		return PathResult{}, nil
	}
	path, ok := reconstructPath(prev, src, dst)
	if !ok {
		return PathResult{}, nil
	}
	if maxLen > 0 && len(path)-1 > maxLen {
		return PathResult{}, nil
	}
	return toResult(path, w), nil
}

// BFSLayers groups every reachable vertex from "source" by its unweighted
// hop distance.
type BFSLayers struct{}

func (BFSLayers) Name() string           { return "path.bfs_layers" }
func (BFSLayers) SupportsParallel() bool { return false }

func (BFSLayers) Run(ctx context.Context, snap systemmodel.Snapshot, params map[string]any) (any, error) {
	src, err := mustUUIDParam(params, "source")
	if err != nil {
		return nil, err
	}
	maxDepth := intParam(params, "max_depth", 0)

	a := buildAdjacency(snap)
	visited := map[uuid.UUID]int{src: 0}
	queue := []uuid.UUID{src}
	layers := map[int][]string{0: {src.String()}}

	for len(queue) > 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cancel.ReportProgress(ctx)

		cur := queue[0]
		queue = queue[1:]
		depth := visited[cur]
		if maxDepth > 0 && depth >= maxDepth {
			continue
		}
		for _, e := range a.out[cur] {
			if _, seen := visited[e.to]; seen {
				continue
			}
			visited[e.to] = depth + 1
			layers[depth+1] = append(layers[depth+1], e.to.String())
			queue = append(queue, e.to)
		}
	}
	return layers, nil
}

// KShortestPaths returns up to k loopless shortest paths between source and
// target, in increasing order of weight, via Yen's algorithm built on
// repeated Dijkstra detour searches.
type KShortestPaths struct{}

func (KShortestPaths) Name() string           { return "path.k_shortest_paths" }
func (KShortestPaths) SupportsParallel() bool { return false }

func (KShortestPaths) Run(ctx context.Context, snap systemmodel.Snapshot, params map[string]any) (any, error) {
	src, err := mustUUIDParam(params, "source")
	if err != nil {
		return nil, err
	}
	dst, err := mustUUIDParam(params, "target")
	if err != nil {
		return nil, err
	}
	k := intParam(params, "k", 1)
	if k < 1 {
		k = 1
	}

	a := buildAdjacency(snap)
	dist, prev, err := dijkstra(ctx, a, src, nil, nil)
	if err != nil {
		return nil, err
	}
	firstPath, ok := reconstructPath(prev, src, dst)
	if !ok {
		return []PathResult{}, nil
	}

	found := []PathResult{toResult(firstPath, dist[dst])}
	candidates := []PathResult{}
	paths := [][]uuid.UUID{firstPath}

	for len(found) < k {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cancel.ReportProgress(ctx)

		lastPath := paths[len(paths)-1]
		for i := 0; i < len(lastPath)-1; i++ {
			spurNode := lastPath[i]
			rootPath := lastPath[:i+1]

			excludeEdges := map[[2]uuid.UUID]struct{}{}
			for _, p := range paths {
				if len(p) > i && pathsShareRoot(p, rootPath) {
					excludeEdges[[2]uuid.UUID{p[i], p[i+1]}] = struct{}{}
				}
			}
			excludeVertices := map[uuid.UUID]struct{}{}
			for _, v := range rootPath[:len(rootPath)-1] {
				excludeVertices[v] = struct{}{}
			}

			spurDist, spurPrev, err := dijkstra(ctx, a, spurNode, excludeVertices, excludeEdges)
			if err != nil {
				return nil, err
			}
			spurPath, ok := reconstructPath(spurPrev, spurNode, dst)
			if !ok {
				continue
			}
			rootWeight := pathWeight(a, rootPath)
			totalPath := append(append([]uuid.UUID{}, rootPath[:len(rootPath)-1]...), spurPath...)
			candidates = append(candidates, toResult(totalPath, rootWeight+spurDist[dst]))
		}

		if len(candidates) == 0 {
			break
		}
		best := candidates[0]
		bestIdx := 0
		for i, c := range candidates {
			if c.Weight < best.Weight {
				best, bestIdx = c, i
			}
		}
		candidates = append(candidates[:bestIdx], candidates[bestIdx+1:]...)
		found = append(found, best)
		bestPath := make([]uuid.UUID, len(best.Vertices))
		for i, v := range best.Vertices {
			bestPath[i], _ = uuid.Parse(v)
		}
		paths = append(paths, bestPath)
	}

	return found, nil
}

func pathsShareRoot(p, root []uuid.UUID) bool {
	if len(p) < len(root) {
		return false
	}
	for i, v := range root {
		if p[i] != v {
			return false
		}
	}
	return true
}

func pathWeight(a *adjacency, path []uuid.UUID) float64 {
	var w float64
	for i := 0; i < len(path)-1; i++ {
		for _, e := range a.out[path[i]] {
			if e.to == path[i+1] {
				w += e.weight
				break
			}
		}
	}
	return w
}
