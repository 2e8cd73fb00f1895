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
	"log/slog"
	"math"
)

// =============================================================================
// Relationship Store
// =============================================================================

// AddRelationship creates a directed edge between two registered entities.
//
// Description:
//
//	Resolves both names through the registry. If either is missing, logs
//	a warning and returns false without adding anything; the caller may
//	retry after registering the missing entity. On success the edge is
//	appended to both adjacency lists, indexed by description, and
//	analysis annotations are invalidated.
//
//	Relationships between the same ordered pair accumulate as separate
//	records. A non-positive or non-finite weight becomes DefaultWeight.
//
// Inputs:
//
//	srcName - Name of the source entity.
//	tgtName - Name of the target entity.
//	description - Relation label, also the index key.
//	weight - Edge weight.
//	keywords - Free keywords; copied.
//
// Outputs:
//
//	RelationshipID - The new id, valid only when the bool is true.
//	bool - False if either endpoint is not registered.
func (e *Engine) AddRelationship(srcName, tgtName, description string, weight float64, keywords []string) (RelationshipID, bool) {
	src, srcOK := e.resolve(srcName)
	tgt, tgtOK := e.resolve(tgtName)
	if !srcOK || !tgtOK {
		e.logger.Warn("relationship references unknown entity, skipping",
			slog.String("source", srcName),
			slog.String("target", tgtName),
			slog.Bool("source_found", srcOK),
			slog.Bool("target_found", tgtOK),
			slog.String("description", description),
		)
		recordMutation("relationship", false)
		return 0, false
	}

	id := e.insertRelationship(src, tgt, description, weight, keywords)
	recordMutation("relationship", true)
	return id, true
}

// insertRelationship appends an edge between two registered ids.
func (e *Engine) insertRelationship(src, tgt EntityID, description string, weight float64, keywords []string) RelationshipID {
	if weight <= 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		weight = DefaultWeight
	}

	kw := make([]string, len(keywords))
	copy(kw, keywords)

	id := RelationshipID(len(e.relationships))
	e.relationships = append(e.relationships, Relationship{
		ID:          id,
		Source:      src,
		Target:      tgt,
		Description: description,
		Weight:      weight,
		Keywords:    kw,
	})
	e.out[src] = append(e.out[src], id)
	e.in[tgt] = append(e.in[tgt], id)
	e.descIndex[description] = append(e.descIndex[description], id)

	e.mutated()
	return id
}

// Relationship returns the relationship with the given id.
func (e *Engine) Relationship(id RelationshipID) (Relationship, bool) {
	if id < 0 || int(id) >= len(e.relationships) {
		return Relationship{}, false
	}
	return e.relationships[id], true
}

// Relationships returns a copy of all relationships in id order.
func (e *Engine) Relationships() []Relationship {
	result := make([]Relationship, len(e.relationships))
	copy(result, e.relationships)
	return result
}

// RelationshipCount returns the number of relationship records.
func (e *Engine) RelationshipCount() int {
	return len(e.relationships)
}

// RelationshipsByDescription returns relationships whose description equals
// desc, in insertion order.
func (e *Engine) RelationshipsByDescription(desc string) []Relationship {
	ids := e.descIndex[desc]
	result := make([]Relationship, 0, len(ids))
	for _, id := range ids {
		result = append(result, e.relationships[id])
	}
	return result
}

// OutgoingRelationships returns the relationships whose source is the named
// entity. Returns an empty slice for unknown names.
func (e *Engine) OutgoingRelationships(name string) []Relationship {
	id, ok := e.resolve(name)
	if !ok {
		return []Relationship{}
	}
	result := make([]Relationship, 0, len(e.out[id]))
	for _, rid := range e.out[id] {
		result = append(result, e.relationships[rid])
	}
	return result
}
