// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package algorithms is the built-in analysis catalog the compute scheduler
// dispatches: centrality, community detection, and path analysis, each
// operating over a systemmodel.Snapshot's Relationship graph.
package algorithms

import (
	"context"
	"math"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/csa-systems/csa-engine/internal/compute/cancel"
	"github.com/csa-systems/csa-engine/internal/systemmodel"
)

// adjacency is the directed weighted graph view every algorithm in this
// package walks, built once per Run from the snapshot's relationships.
type adjacency struct {
	nodes []uuid.UUID
	out   map[uuid.UUID][]edge
	in    map[uuid.UUID][]edge
}

type edge struct {
	to     uuid.UUID
	weight float64
}

func buildAdjacency(snap systemmodel.Snapshot) *adjacency {
	a := &adjacency{out: make(map[uuid.UUID][]edge), in: make(map[uuid.UUID][]edge)}
	for _, c := range snap.Components() {
		a.nodes = append(a.nodes, c.ID)
		if _, ok := a.out[c.ID]; !ok {
			a.out[c.ID] = nil
		}
	}
	for _, r := range snap.Relationships() {
		a.out[r.SourceID] = append(a.out[r.SourceID], edge{to: r.TargetID, weight: r.Weight})
		a.in[r.TargetID] = append(a.in[r.TargetID], edge{to: r.SourceID, weight: r.Weight})
	}
	return a
}

// DegreeCentrality counts, per vertex, incoming + outgoing edge count.
type DegreeCentrality struct{}

func (DegreeCentrality) Name() string           { return "centrality.degree" }
func (DegreeCentrality) SupportsParallel() bool { return false }

func (DegreeCentrality) Run(ctx context.Context, snap systemmodel.Snapshot, _ map[string]any) (any, error) {
	a := buildAdjacency(snap)
	scores := make(map[string]int, len(a.nodes))
	for _, id := range a.nodes {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cancel.ReportProgress(ctx)
		scores[id.String()] = len(a.out[id]) + len(a.in[id])
	}
	return scores, nil
}

// ClosenessCentrality scores each vertex by the inverse of its average
// shortest-path distance to every other reachable vertex (unweighted BFS).
type ClosenessCentrality struct{}

func (ClosenessCentrality) Name() string           { return "centrality.closeness" }
func (ClosenessCentrality) SupportsParallel() bool { return true }

func (ClosenessCentrality) Run(ctx context.Context, snap systemmodel.Snapshot, _ map[string]any) (any, error) {
	a := buildAdjacency(snap)
	scores := make(map[string]float64, len(a.nodes))
	sem := parallelLimiter(ctx)

	var mu sync.Mutex
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error

	for _, src := range a.nodes {
		if err := sem.Acquire(ctx, 1); err != nil {
			errOnce.Do(func() { firstErr = err })
			break
		}
		wg.Add(1)
		go func(src uuid.UUID) {
			defer wg.Done()
			defer sem.Release(1)
			if ctx.Err() != nil {
				errOnce.Do(func() { firstErr = ctx.Err() })
				return
			}
			cancel.ReportProgress(ctx)
			dist := bfsDistances(a, src)
			var sum float64
			var reachable int
			for id, d := range dist {
				if id == src {
					continue
				}
				sum += float64(d)
				reachable++
			}
			var score float64
			if reachable != 0 && sum != 0 {
				score = float64(reachable) / sum
			}
			mu.Lock()
			scores[src.String()] = score
			mu.Unlock()
		}(src)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return scores, nil
}

func bfsDistances(a *adjacency, src uuid.UUID) map[uuid.UUID]int {
	dist := map[uuid.UUID]int{src: 0}
	queue := []uuid.UUID{src}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range a.out[cur] {
			if _, seen := dist[e.to]; seen {
				continue
			}
			dist[e.to] = dist[cur] + 1
			queue = append(queue, e.to)
		}
	}
	return dist
}

// BetweennessCentrality counts, per vertex, how many shortest paths between
// other vertex pairs pass through it (Brandes' algorithm, unweighted).
type BetweennessCentrality struct{}

func (BetweennessCentrality) Name() string           { return "centrality.betweenness" }
func (BetweennessCentrality) SupportsParallel() bool { return true }

func (BetweennessCentrality) Run(ctx context.Context, snap systemmodel.Snapshot, _ map[string]any) (any, error) {
	a := buildAdjacency(snap)
	betweenness := make(map[string]float64, len(a.nodes))
	for _, id := range a.nodes {
		betweenness[id.String()] = 0
	}
	sem := parallelLimiter(ctx)

	var mu sync.Mutex
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error

	for _, s := range a.nodes {
		if err := sem.Acquire(ctx, 1); err != nil {
			errOnce.Do(func() { firstErr = err })
			break
		}
		wg.Add(1)
		go func(s uuid.UUID) {
			defer wg.Done()
			defer sem.Release(1)
			if ctx.Err() != nil {
				errOnce.Do(func() { firstErr = ctx.Err() })
				return
			}
			cancel.ReportProgress(ctx)

			stack := make([]uuid.UUID, 0, len(a.nodes))
			pred := make(map[uuid.UUID][]uuid.UUID)
			sigma := map[uuid.UUID]float64{s: 1}
			dist := map[uuid.UUID]int{s: 0}
			queue := []uuid.UUID{s}

			for len(queue) > 0 {
				v := queue[0]
				queue = queue[1:]
				stack = append(stack, v)
				for _, e := range a.out[v] {
					w := e.to
					if _, seen := dist[w]; !seen {
						dist[w] = dist[v] + 1
						queue = append(queue, w)
					}
					if dist[w] == dist[v]+1 {
						sigma[w] += sigma[v]
						pred[w] = append(pred[w], v)
					}
				}
			}

			delta := make(map[uuid.UUID]float64)
			for i := len(stack) - 1; i >= 0; i-- {
				w := stack[i]
				for _, v := range pred[w] {
					if sigma[w] > 0 {
						delta[v] += (sigma[v] / sigma[w]) * (1 + delta[w])
					}
				}
				if w != s {
					mu.Lock()
					betweenness[w.String()] += delta[w]
					mu.Unlock()
				}
			}
		}(s)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return betweenness, nil
}

// parallelLimiter returns the scheduler's shared worker-pool semaphore from
// ctx, falling back to a single-token limiter so an algorithm invoked
// outside the scheduler (e.g. from a test) still runs correctly, serialized.
func parallelLimiter(ctx context.Context) *semaphore.Weighted {
	if sem := cancel.ParallelLimiter(ctx); sem != nil {
		return sem
	}
	return semaphore.NewWeighted(1)
}

// EigenvectorCentrality scores vertices by power iteration over the
// adjacency matrix, the same fixed-point iteration PageRank uses without
// the random-jump damping term.
type EigenvectorCentrality struct{}

func (EigenvectorCentrality) Name() string           { return "centrality.eigenvector" }
func (EigenvectorCentrality) SupportsParallel() bool { return false }

func (EigenvectorCentrality) Run(ctx context.Context, snap systemmodel.Snapshot, params map[string]any) (any, error) {
	a := buildAdjacency(snap)
	n := len(a.nodes)
	if n == 0 {
		return map[string]float64{}, nil
	}
	maxIter := intParam(params, "max_iterations", 100)
	convergence := floatParam(params, "convergence", 1e-6)

	scores := make(map[uuid.UUID]float64, n)
	for _, id := range a.nodes {
		scores[id] = 1.0 / float64(n)
	}

	for iter := 0; iter < maxIter; iter++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cancel.ReportProgress(ctx)

		next := make(map[uuid.UUID]float64, n)
		for _, id := range a.nodes {
			var sum float64
			for _, e := range a.in[id] {
				sum += scores[e.to]
			}
			next[id] = sum
		}
		norm := l2Norm(next)
		if norm == 0 {
			break
		}
		var maxDiff float64
		for id := range next {
			next[id] /= norm
			if d := math.Abs(next[id] - scores[id]); d > maxDiff {
				maxDiff = d
			}
		}
		scores = next
		if maxDiff < convergence {
			break
		}
	}

	out := make(map[string]float64, n)
	for id, v := range scores {
		out[id.String()] = v
	}
	return out, nil
}

func l2Norm(v map[uuid.UUID]float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// PageRank computes importance scores by power iteration with damping,
// redistributing sink-node mass evenly so rank does not leak out of the
// graph (grounded on the same convergence/iteration-cap shape the teacher's
// code-symbol-graph PageRank uses, retargeted to the Relationship graph).
type PageRank struct{}

func (PageRank) Name() string           { return "centrality.pagerank" }
func (PageRank) SupportsParallel() bool { return false }

const (
	defaultDampingFactor = 0.85
	defaultMaxIterations = 100
	defaultConvergence   = 1e-6
)

func (PageRank) Run(ctx context.Context, snap systemmodel.Snapshot, params map[string]any) (any, error) {
	a := buildAdjacency(snap)
	n := float64(len(a.nodes))
	if n == 0 {
		return map[string]float64{}, nil
	}
	d := floatParam(params, "damping_factor", defaultDampingFactor)
	maxIter := intParam(params, "max_iterations", defaultMaxIterations)
	convergence := floatParam(params, "convergence", defaultConvergence)

	scores := make(map[uuid.UUID]float64, int(n))
	outDegree := make(map[uuid.UUID]int, int(n))
	var sinks []uuid.UUID
	for _, id := range a.nodes {
		scores[id] = 1 / n
		outDegree[id] = len(a.out[id])
		if outDegree[id] == 0 {
			sinks = append(sinks, id)
		}
	}

	for iter := 0; iter < maxIter; iter++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		cancel.ReportProgress(ctx)

		var sinkMass float64
		for _, id := range sinks {
			sinkMass += scores[id]
		}
		sinkContribution := d * sinkMass / n

		next := make(map[uuid.UUID]float64, len(a.nodes))
		var maxDiff float64
		for _, id := range a.nodes {
			newScore := (1-d)/n + sinkContribution
			for _, e := range a.in[id] {
				if deg := outDegree[e.to]; deg > 0 {
					newScore += d * scores[e.to] / float64(deg)
				}
			}
			next[id] = newScore
			if diff := math.Abs(newScore - scores[id]); diff > maxDiff {
				maxDiff = diff
			}
		}
		scores = next
		if maxDiff < convergence {
			break
		}
	}

	out := make(map[string]float64, len(scores))
	for id, v := range scores {
		out[id.String()] = v
	}
	return out, nil
}

func intParam(params map[string]any, key string, def int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func floatParam(params map[string]any, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}
