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
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// contextCheckInterval is how often path enumeration checks the context.
const contextCheckInterval = 256

// PathResult contains the simple paths found between two entities.
type PathResult struct {
	// Source and Target are the requested entity names.
	Source string `json:"source"`
	Target string `json:"target"`

	// Paths holds entity names in path order, each starting with Source
	// and ending with Target.
	Paths [][]string `json:"paths"`

	// Truncated is true if enumeration stopped at the path count limit.
	Truncated bool `json:"truncated"`
}

// Neighbors returns entities reachable from name along out-edges.
//
// Description:
//
//	Breadth-first expansion over successor edges only; in-edges are never
//	followed. depth=1 returns direct successors, depth=2 adds their
//	successors, and so on. Results are deduplicated, exclude the origin
//	and are in BFS order.
//
// Inputs:
//
//	name - Origin entity name.
//	depth - Expansion rounds. Values <= 0 mean 1.
//
// Outputs:
//
//	[]Entity - Reachable entities. Empty if name is unknown.
//	error - Wraps ErrLimitExceeded if depth exceeds Limits.MaxNeighborDepth.
func (e *Engine) Neighbors(name string, depth int) ([]Entity, error) {
	start := time.Now()
	if depth <= 0 {
		depth = 1
	}
	if depth > e.limits.MaxNeighborDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds %d", ErrLimitExceeded, depth, e.limits.MaxNeighborDepth)
	}

	result := make([]Entity, 0)
	origin, ok := e.resolve(name)
	if !ok {
		return result, nil
	}

	visited := map[EntityID]struct{}{origin: {}}
	frontier := []EntityID{origin}
	for level := 0; level < depth && len(frontier) > 0; level++ {
		next := make([]EntityID, 0)
		for _, id := range frontier {
			for _, succ := range e.successors(id) {
				if _, seen := visited[succ]; seen {
					continue
				}
				visited[succ] = struct{}{}
				next = append(next, succ)
				result = append(result, e.entities[succ])
			}
		}
		frontier = next
	}

	recordQueryMetrics(context.Background(), "neighbors", time.Since(start), len(result))
	return result, nil
}

// FindPaths enumerates all simple directed paths from source to target.
//
// Description:
//
//	Depth-first search over successor edges, visiting successors in edge
//	insertion order. A path never repeats a node and contains at most
//	maxLength+1 nodes. Enumeration is exponential on dense graphs, so it is
//	bounded twice: maxLength may not exceed Limits.MaxPathLength, and at
//	most Limits.MaxPaths paths are returned.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	source - Source entity name.
//	target - Target entity name.
//	maxLength - Maximum edges per path. Values <= 0 mean DefaultPathLength.
//
// Outputs:
//
//	*PathResult - Paths found. Empty if either endpoint is unknown, if
//	source equals target, or if no path exists.
//	error - Wraps ErrLimitExceeded if maxLength is above the limit (result
//	is nil) or if the path cap was hit (result holds the partial paths and
//	Truncated is true). ctx.Err() if cancelled.
//
// Example:
//
//	res, err := e.FindPaths(ctx, "A", "C", 5)
//	if errors.Is(err, graph.ErrLimitExceeded) && res != nil {
//	    // res.Paths is a partial answer
//	}
func (e *Engine) FindPaths(ctx context.Context, source, target string, maxLength int) (*PathResult, error) {
	start := time.Now()
	if maxLength <= 0 {
		maxLength = DefaultPathLength
	}
	if maxLength > e.limits.MaxPathLength {
		return nil, fmt.Errorf("%w: max_length %d exceeds %d", ErrLimitExceeded, maxLength, e.limits.MaxPathLength)
	}

	ctx, span := e.startSpan(ctx, "FindPaths",
		attribute.String("source", source),
		attribute.String("target", target),
		attribute.Int("max_length", maxLength),
	)
	defer span.End()

	result := &PathResult{Source: source, Target: target, Paths: make([][]string, 0)}

	src, srcOK := e.resolve(source)
	tgt, tgtOK := e.resolve(target)
	if !srcOK || !tgtOK || src == tgt {
		span.AddEvent("no_search")
		return result, nil
	}

	w := &pathWalker{
		ctx:      ctx,
		engine:   e,
		target:   tgt,
		maxNodes: maxLength + 1,
		limit:    e.limits.MaxPaths,
		onPath:   make([]bool, len(e.entities)),
		succ:     make([][]EntityID, len(e.entities)),
		result:   result,
	}
	w.onPath[src] = true
	w.walk(src, []EntityID{src})

	span.SetAttributes(
		attribute.Int("path_count", len(result.Paths)),
		attribute.Bool("truncated", result.Truncated),
	)
	recordQueryMetrics(ctx, "find_paths", time.Since(start), len(result.Paths))

	if w.err != nil {
		return nil, w.err
	}
	if result.Truncated {
		return result, fmt.Errorf("%w: more than %d paths", ErrLimitExceeded, e.limits.MaxPaths)
	}
	return result, nil
}

// pathWalker holds the state of one FindPaths enumeration.
type pathWalker struct {
	ctx      context.Context
	engine   *Engine
	target   EntityID
	maxNodes int
	limit    int
	onPath   []bool
	succ     [][]EntityID
	steps    int
	err      error
	result   *PathResult
}

func (w *pathWalker) done() bool {
	return w.err != nil || w.result.Truncated
}

func (w *pathWalker) successors(id EntityID) []EntityID {
	if w.succ[id] == nil {
		w.succ[id] = w.engine.successors(id)
	}
	return w.succ[id]
}

func (w *pathWalker) walk(node EntityID, path []EntityID) {
	w.steps++
	if w.steps%contextCheckInterval == 0 {
		if err := w.ctx.Err(); err != nil {
			w.err = err
			return
		}
	}

	for _, next := range w.successors(node) {
		if w.done() {
			return
		}
		if next == w.target {
			w.emit(append(path, next))
			continue
		}
		// next plus the target must still fit.
		if w.onPath[next] || len(path)+2 > w.maxNodes {
			continue
		}
		w.onPath[next] = true
		w.walk(next, append(path, next))
		w.onPath[next] = false
	}
}

func (w *pathWalker) emit(path []EntityID) {
	if len(w.result.Paths) >= w.limit {
		w.result.Truncated = true
		return
	}
	names := make([]string, len(path))
	for i, id := range path {
		names[i] = w.engine.entities[id].Name
	}
	w.result.Paths = append(w.result.Paths, names)
}
