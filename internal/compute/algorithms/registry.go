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

	"github.com/csa-systems/csa-engine/internal/systemmodel"
)

// Runner matches compute.Algorithm without importing the compute package,
// avoiding an import cycle between compute and compute/algorithms.
type Runner interface {
	Name() string
	SupportsParallel() bool
	Run(ctx context.Context, snap systemmodel.Snapshot, params map[string]any) (any, error)
}

// Default returns every built-in algorithm keyed by its Name, ready to hand
// to compute.New's registry argument.
func Default() map[string]Runner {
	all := []Runner{
		DegreeCentrality{},
		ClosenessCentrality{},
		BetweennessCentrality{},
		EigenvectorCentrality{},
		PageRank{},
		ConnectedComponents{},
		LabelPropagation{},
		Louvain{},
		DijkstraShortestPath{},
		BFSLayers{},
		KShortestPaths{},
	}
	out := make(map[string]Runner, len(all))
	for _, a := range all {
		out[a.Name()] = a
	}
	return out
}
