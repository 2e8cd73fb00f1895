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
	"math"
	"strings"
)

// =============================================================================
// Entity Registry
// =============================================================================

// AddEntity registers an entity and returns its id.
//
// Description:
//
//	Idempotent by name: if name is already registered the existing id is
//	returned and nothing changes. Otherwise a new id is allocated, the
//	entity is indexed by name and by type, and analysis annotations are
//	invalidated. Confidence is clamped to [0, 1].
//
// Inputs:
//
//	name - Deduplication key.
//	entityType - Type tag.
//	description - Free text.
//	confidence - Extractor confidence.
//
// Outputs:
//
//	EntityID - The new or existing id.
//
// Complexity: O(log V).
func (e *Engine) AddEntity(name, entityType, description string, confidence float64) EntityID {
	if existing, ok := e.nameIndex.Get(nameEntry{name: name}); ok {
		return existing.id
	}
	id := e.insertEntity(name, entityType, description, confidence)
	recordMutation("entity", true)
	return id
}

// insertEntity allocates and indexes a new entity. name must not be
// registered yet.
func (e *Engine) insertEntity(name, entityType, description string, confidence float64) EntityID {
	id := EntityID(len(e.entities))
	e.entities = append(e.entities, Entity{
		ID:          id,
		Name:        name,
		Type:        entityType,
		Description: description,
		Confidence:  clampUnit(confidence),
	})
	e.out = append(e.out, nil)
	e.in = append(e.in, nil)
	e.centrality = append(e.centrality, 0)
	e.community = append(e.community, -1)

	e.nameIndex.Set(nameEntry{name: name, id: id})
	e.typeIndex[entityType] = append(e.typeIndex[entityType], id)

	e.mutated()
	return id
}

// GetByName returns the entity registered under name.
func (e *Engine) GetByName(name string) (Entity, bool) {
	entry, ok := e.nameIndex.Get(nameEntry{name: name})
	if !ok {
		return Entity{}, false
	}
	return e.entities[entry.id], true
}

// GetByType returns all entities with the given type, in insertion order.
// Returns an empty slice if there are none.
func (e *Engine) GetByType(entityType string) []Entity {
	ids := e.typeIndex[entityType]
	result := make([]Entity, 0, len(ids))
	for _, id := range ids {
		result = append(result, e.entities[id])
	}
	return result
}

// Entity returns the entity with the given id.
func (e *Engine) Entity(id EntityID) (Entity, bool) {
	if !e.validEntity(id) {
		return Entity{}, false
	}
	return e.entities[id], true
}

// Entities returns a copy of all entities in id order.
func (e *Engine) Entities() []Entity {
	result := make([]Entity, len(e.entities))
	copy(result, e.entities)
	return result
}

// EntityCount returns the number of registered entities.
func (e *Engine) EntityCount() int {
	return len(e.entities)
}

// EntitiesWithPrefix returns entities whose name starts with prefix, in
// name order. limit <= 0 means no limit.
func (e *Engine) EntitiesWithPrefix(prefix string, limit int) []Entity {
	result := make([]Entity, 0)
	e.nameIndex.Ascend(nameEntry{name: prefix}, func(item nameEntry) bool {
		if !strings.HasPrefix(item.name, prefix) {
			return false
		}
		result = append(result, e.entities[item.id])
		return limit <= 0 || len(result) < limit
	})
	return result
}

// resolve returns the id registered for name.
func (e *Engine) resolve(name string) (EntityID, bool) {
	entry, ok := e.nameIndex.Get(nameEntry{name: name})
	if !ok {
		return 0, false
	}
	return entry.id, true
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
