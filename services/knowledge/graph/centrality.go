// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Centrality (weighted PageRank)
// =============================================================================

// Centrality configuration defaults.
const (
	// DefaultDampingFactor is the probability of following an edge rather
	// than jumping to a random node.
	DefaultDampingFactor = 0.85

	// DefaultMaxIterations bounds power iteration.
	DefaultMaxIterations = 100

	// DefaultConvergence is the L1 change below which iteration stops.
	DefaultConvergence = 1e-6
)

// CentralityOptions configures ComputeCentrality.
type CentralityOptions struct {
	// DampingFactor must be in [0, 1]. Default: 0.85
	DampingFactor float64 `yaml:"damping_factor" env:"DAMPING_FACTOR" validate:"gte=0,lte=1"`

	// MaxIterations must be > 0. Default: 100
	MaxIterations int `yaml:"max_iterations" env:"MAX_ITERATIONS" validate:"gte=0"`

	// Convergence must be > 0. Default: 1e-6
	Convergence float64 `yaml:"convergence" env:"CONVERGENCE" validate:"gte=0"`
}

// DefaultCentralityOptions returns the standard PageRank parameters.
func DefaultCentralityOptions() *CentralityOptions {
	return &CentralityOptions{
		DampingFactor: DefaultDampingFactor,
		MaxIterations: DefaultMaxIterations,
		Convergence:   DefaultConvergence,
	}
}

// Validate replaces invalid values with defaults.
func (o *CentralityOptions) Validate() {
	if o.DampingFactor < 0 || o.DampingFactor > 1 || math.IsNaN(o.DampingFactor) {
		o.DampingFactor = DefaultDampingFactor
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Convergence <= 0 || math.IsNaN(o.Convergence) {
		o.Convergence = DefaultConvergence
	}
}

// CentralityResult is the output of ComputeCentrality.
type CentralityResult struct {
	// Scores maps entity id to score. Scores are >= 0 and sum to ~1.
	Scores map[EntityID]float64 `json:"scores"`

	// Iterations is the number of power iterations performed.
	Iterations int `json:"iterations"`

	// Converged is true if the L1 change fell below the threshold.
	Converged bool `json:"converged"`

	// Delta is the final L1 change.
	Delta float64 `json:"delta"`
}

// RankedEntity is an entity with its centrality score and rank.
type RankedEntity struct {
	Entity Entity  `json:"entity"`
	Score  float64 `json:"score"`

	// Rank is 1-indexed.
	Rank int `json:"rank"`
}

// ComputeCentrality scores every entity by damped random-walk importance.
//
// Description:
//
//	Power iteration over the directed graph. From each node the walk
//	follows an out-edge with probability proportional to its weight
//	(parallel edges add up), or jumps uniformly with probability
//	1-DampingFactor. Dangling nodes (no out-weight) spread their mass
//	uniformly over all nodes each iteration so no mass leaks.
//
//	Iteration stops when the L1 distance between successive score vectors
//	drops below Convergence or after MaxIterations. On success every node's
//	centrality annotation is set.
//
// Inputs:
//
//	ctx - Context for cancellation. Checked once per iteration.
//	opts - Parameters. If nil, defaults are used.
//
// Outputs:
//
//	*CentralityResult - Scores for all entities. Empty for an empty graph.
//	error - ctx.Err() if cancelled; annotations are left untouched.
//
// Complexity: O(k × (V + E)) for k iterations.
func (e *Engine) ComputeCentrality(ctx context.Context, opts *CentralityOptions) (*CentralityResult, error) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, "ComputeCentrality")
	defer span.End()

	if opts == nil {
		opts = DefaultCentralityOptions()
	} else {
		o := *opts
		o.Validate()
		opts = &o
	}

	n := len(e.entities)
	if n == 0 {
		span.AddEvent("empty_graph")
		e.centralityValid = true
		return &CentralityResult{Scores: make(map[EntityID]float64), Converged: true}, nil
	}

	span.SetAttributes(
		attribute.Float64("damping_factor", opts.DampingFactor),
		attribute.Int("max_iterations", opts.MaxIterations),
		attribute.Float64("convergence", opts.Convergence),
	)

	d := opts.DampingFactor
	N := float64(n)

	outWeight := make([]float64, n)
	for i := range e.relationships {
		r := &e.relationships[i]
		outWeight[r.Source] += r.Weight
	}
	dangling := make([]EntityID, 0)
	for id, w := range outWeight {
		if w == 0 {
			dangling = append(dangling, EntityID(id))
		}
	}
	span.SetAttributes(attribute.Int("dangling_count", len(dangling)))

	scores := make([]float64, n)
	next := make([]float64, n)
	for i := range scores {
		scores[i] = 1.0 / N
	}

	var (
		iterations int
		converged  bool
		delta      float64
	)
	for iter := 0; iter < opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			span.AddEvent("cancelled", trace.WithAttributes(attribute.Int("iterations_completed", iter)))
			recordAnalysisMetrics(ctx, "centrality", time.Since(start), n, false)
			return nil, err
		}

		danglingMass := 0.0
		for _, id := range dangling {
			danglingMass += scores[id]
		}
		base := (1-d)/N + d*danglingMass/N
		for i := range next {
			next[i] = base
		}
		for i := range e.relationships {
			r := &e.relationships[i]
			next[r.Target] += d * scores[r.Source] * r.Weight / outWeight[r.Source]
		}

		delta = 0
		for i := range next {
			delta += math.Abs(next[i] - scores[i])
		}
		scores, next = next, scores
		iterations = iter + 1

		if delta < opts.Convergence {
			converged = true
			break
		}
	}

	result := &CentralityResult{
		Scores:     make(map[EntityID]float64, n),
		Iterations: iterations,
		Converged:  converged,
		Delta:      delta,
	}
	for i, s := range scores {
		result.Scores[EntityID(i)] = s
		e.centrality[i] = s
	}
	e.centralityValid = true

	e.logger.Debug("centrality computed",
		slog.Int("iterations", iterations),
		slog.Bool("converged", converged),
		slog.Float64("delta", delta),
		slog.Int("node_count", n),
	)
	span.SetAttributes(
		attribute.Int("iterations", iterations),
		attribute.Bool("converged", converged),
		attribute.Float64("delta", delta),
	)
	recordAnalysisMetrics(ctx, "centrality", time.Since(start), n, true)
	return result, nil
}

// TopCentral returns the k highest scoring entities, ties broken by id.
//
// Returns an empty slice if k <= 0 or centrality annotations are not
// current.
func (e *Engine) TopCentral(k int) []RankedEntity {
	if k <= 0 || !e.centralityValid {
		return []RankedEntity{}
	}

	ids := make([]EntityID, len(e.entities))
	for i := range ids {
		ids[i] = EntityID(i)
	}
	sort.SliceStable(ids, func(i, j int) bool {
		return e.centrality[ids[i]] > e.centrality[ids[j]]
	})

	if k > len(ids) {
		k = len(ids)
	}
	top := make([]RankedEntity, k)
	for i := 0; i < k; i++ {
		top[i] = RankedEntity{
			Entity: e.entities[ids[i]],
			Score:  e.centrality[ids[i]],
			Rank:   i + 1,
		}
	}
	return top
}
