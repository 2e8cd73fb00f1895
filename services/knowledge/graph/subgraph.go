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
	"time"
)

// Subgraph extracts the induced subgraph around a seed set.
//
// Description:
//
//	Seeds with the named entities (unknown names are ignored), expands
//	depth hops along both out-edges and in-edges, then keeps only the
//	relationships whose endpoints are both selected. The result is a new
//	Engine sharing no state with e; entities and relationships are added in
//	their original id order, so relative order is preserved while ids are
//	renumbered. Analysis annotations are not carried over.
//
// Inputs:
//
//	names - Seed entity names.
//	depth - Expansion hops. Values < 0 mean 0 (seeds only).
//
// Outputs:
//
//	*Engine - The independent subgraph, with e's logger and limits.
//
// Complexity: O(V + E) worst case.
func (e *Engine) Subgraph(names []string, depth int) *Engine {
	start := time.Now()
	if depth < 0 {
		depth = 0
	}

	selected := make([]bool, len(e.entities))
	frontier := make([]EntityID, 0, len(names))
	for _, name := range names {
		if id, ok := e.resolve(name); ok && !selected[id] {
			selected[id] = true
			frontier = append(frontier, id)
		}
	}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		next := make([]EntityID, 0)
		visit := func(id EntityID) {
			if !selected[id] {
				selected[id] = true
				next = append(next, id)
			}
		}
		for _, id := range frontier {
			for _, rid := range e.out[id] {
				visit(e.relationships[rid].Target)
			}
			for _, rid := range e.in[id] {
				visit(e.relationships[rid].Source)
			}
		}
		frontier = next
	}

	// Insert directly: a subgraph is a query result and must not show up in
	// kg_mutations_total.
	sub := NewEngine(WithLogger(e.logger), WithLimits(e.limits))
	remap := make(map[EntityID]EntityID)
	for id, ent := range e.entities {
		if selected[id] {
			remap[EntityID(id)] = sub.insertEntity(ent.Name, ent.Type, ent.Description, ent.Confidence)
		}
	}
	for _, r := range e.relationships {
		if selected[r.Source] && selected[r.Target] {
			sub.insertRelationship(remap[r.Source], remap[r.Target], r.Description, r.Weight, r.Keywords)
		}
	}

	recordQueryMetrics(context.Background(), "subgraph", time.Since(start), sub.EntityCount())
	return sub
}
