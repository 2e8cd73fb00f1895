// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph provides the in-memory knowledge graph engine.
//
// The engine stores entities and relationships extracted from API and
// document corpora and answers retrieval queries over them: neighbor
// expansion, path enumeration, importance ranking (PageRank), community
// detection (greedy modularity) and induced subgraph extraction.
//
// # Storage Model
//
// Entities and relationships live in growable slices and are referenced by
// stable integer indices (EntityID, RelationshipID). Nothing is ever
// deleted; a new corpus is loaded into a new Engine.
//
// # Annotations
//
// ComputeCentrality and DetectCommunities annotate nodes with a score and a
// community id. Any later mutation (a new entity or relationship) clears
// both annotation sets; callers must recompute.
//
// # Thread Safety
//
// Engine is NOT safe for concurrent use. It assumes at most one active
// caller at a time. Hosts that share an Engine across goroutines must
// provide their own locking.
package graph

import "errors"

// Sentinel errors for engine operations.
var (
	// ErrLimitExceeded is returned when a query would exceed a configured
	// work bound (path length, path count or expansion depth).
	ErrLimitExceeded = errors.New("query limit exceeded")

	// ErrEntityNotFound is returned by the record API when a relationship
	// references an entity name that is not registered.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidRecord is returned when an inbound entity or relationship
	// record fails schema validation.
	ErrInvalidRecord = errors.New("invalid record")
)
