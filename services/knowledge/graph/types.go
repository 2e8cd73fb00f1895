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

	"github.com/tidwall/btree"
)

// Default work bounds.
const (
	// DefaultMaxPathLength is the largest max_length FindPaths accepts.
	DefaultMaxPathLength = 8

	// DefaultMaxPaths caps the number of paths a single FindPaths call returns.
	DefaultMaxPaths = 1000

	// DefaultMaxNeighborDepth is the largest depth Neighbors accepts.
	DefaultMaxNeighborDepth = 10

	// DefaultPathLength is used when FindPaths is called with maxLength <= 0.
	DefaultPathLength = 5

	// DefaultWeight is the relationship weight used when none is supplied.
	DefaultWeight = 1.0
)

// EntityID is the stable arena index of an entity.
type EntityID int

// RelationshipID is the stable arena index of a relationship.
type RelationshipID int

// Entity is a deduplicated named node.
type Entity struct {
	// ID is assigned on first insertion and never changes.
	ID EntityID `json:"id"`

	// Name is the deduplication key.
	Name string `json:"name"`

	// Type is a free-form tag such as "API_ENDPOINT" or "PARAMETER".
	Type string `json:"type"`

	// Description is free text from the extraction pipeline.
	Description string `json:"description"`

	// Confidence is the extractor's confidence in [0, 1].
	Confidence float64 `json:"confidence"`
}

// Relationship is a directed, labeled, weighted edge between two entities.
//
// Multiple relationships between the same ordered pair are kept as
// distinct records.
type Relationship struct {
	ID RelationshipID `json:"id"`

	// Source and Target are the endpoint entity ids.
	Source EntityID `json:"source"`
	Target EntityID `json:"target"`

	// Description doubles as the relation label and as the index key for
	// RelationshipsByDescription.
	Description string `json:"description"`

	Weight   float64  `json:"weight"`
	Keywords []string `json:"keywords"`
}

// Limits bounds the work a single query may perform.
type Limits struct {
	// MaxPathLength is the largest max_length FindPaths accepts.
	MaxPathLength int `yaml:"max_path_length" env:"MAX_PATH_LENGTH" validate:"gte=0"`

	// MaxPaths caps the number of paths a single FindPaths call returns.
	MaxPaths int `yaml:"max_paths" env:"MAX_PATHS" validate:"gte=0"`

	// MaxNeighborDepth is the largest depth Neighbors accepts.
	MaxNeighborDepth int `yaml:"max_neighbor_depth" env:"MAX_NEIGHBOR_DEPTH" validate:"gte=0"`
}

// DefaultLimits returns the default work bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxPathLength:    DefaultMaxPathLength,
		MaxPaths:         DefaultMaxPaths,
		MaxNeighborDepth: DefaultMaxNeighborDepth,
	}
}

// normalize replaces non-positive bounds with defaults.
func (l Limits) normalize() Limits {
	d := DefaultLimits()
	if l.MaxPathLength <= 0 {
		l.MaxPathLength = d.MaxPathLength
	}
	if l.MaxPaths <= 0 {
		l.MaxPaths = d.MaxPaths
	}
	if l.MaxNeighborDepth <= 0 {
		l.MaxNeighborDepth = d.MaxNeighborDepth
	}
	return l
}

// EngineOption is a functional option for configuring Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger used for non-fatal warnings.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithLimits sets the query work bounds. Non-positive fields keep defaults.
func WithLimits(limits Limits) EngineOption {
	return func(e *Engine) {
		e.limits = limits.normalize()
	}
}

// nameEntry is the element type of the ordered name index.
type nameEntry struct {
	name string
	id   EntityID
}

func nameEntryLess(a, b nameEntry) bool {
	return a.name < b.name
}

// Engine is an in-memory knowledge graph.
//
// Lifecycle:
//
//  1. Create with NewEngine()
//  2. Populate with AddEntity() and AddRelationship()
//  3. Query and analyze
//
// Entities and relationships are never removed. Load a new corpus into a
// new Engine instead.
type Engine struct {
	entities      []Entity
	relationships []Relationship

	// out and in hold relationship ids per entity, in insertion order.
	out [][]RelationshipID
	in  [][]RelationshipID

	// nameIndex maps entity name to id, ordered for prefix scans.
	nameIndex *btree.BTreeG[nameEntry]

	// typeIndex maps entity type to ids in insertion order.
	typeIndex map[string][]EntityID

	// descIndex maps relationship description to ids in insertion order.
	descIndex map[string][]RelationshipID

	// centrality and community are per-node annotations, valid only while
	// the matching flag is set.
	centrality       []float64
	community        []int
	centralityValid  bool
	communitiesValid bool
	communityCount   int

	// version increments on every mutation.
	version uint64

	limits Limits
	logger *slog.Logger
}

// NewEngine creates an empty engine.
//
// Example:
//
//	e := graph.NewEngine(
//	    graph.WithLogger(logger),
//	    graph.WithLimits(graph.Limits{MaxPaths: 200}),
//	)
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		entities:      make([]Entity, 0),
		relationships: make([]Relationship, 0),
		nameIndex:     btree.NewBTreeG[nameEntry](nameEntryLess),
		typeIndex:     make(map[string][]EntityID),
		descIndex:     make(map[string][]RelationshipID),
		limits:        DefaultLimits(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Limits returns the engine's work bounds.
func (e *Engine) Limits() Limits {
	return e.limits
}

// Version returns a counter that increments on every mutation.
func (e *Engine) Version() uint64 {
	return e.version
}

// HasCentrality reports whether centrality annotations are current.
func (e *Engine) HasCentrality() bool {
	return e.centralityValid
}

// HasCommunities reports whether community annotations are current.
func (e *Engine) HasCommunities() bool {
	return e.communitiesValid
}

// Centrality returns the centrality annotation for id.
// The second result is false when the id is unknown or annotations are stale.
func (e *Engine) Centrality(id EntityID) (float64, bool) {
	if !e.centralityValid || !e.validEntity(id) {
		return 0, false
	}
	return e.centrality[id], true
}

// CommunityOf returns the community annotation for id.
// The second result is false when the id is unknown or annotations are stale.
func (e *Engine) CommunityOf(id EntityID) (int, bool) {
	if !e.communitiesValid || !e.validEntity(id) {
		return 0, false
	}
	return e.community[id], true
}

// mutated records a mutation and marks analysis annotations stale.
// The annotation slices keep their old values; every reader checks the
// valid flags and every analysis overwrites all slots.
func (e *Engine) mutated() {
	e.version++
	e.centralityValid = false
	e.communitiesValid = false
	e.communityCount = 0
}

func (e *Engine) validEntity(id EntityID) bool {
	return id >= 0 && int(id) < len(e.entities)
}

// successors returns the distinct targets of id's out-edges in first-seen order.
func (e *Engine) successors(id EntityID) []EntityID {
	return e.distinctEndpoints(e.out[id], func(r *Relationship) EntityID { return r.Target })
}

// predecessors returns the distinct sources of id's in-edges in first-seen order.
func (e *Engine) predecessors(id EntityID) []EntityID {
	return e.distinctEndpoints(e.in[id], func(r *Relationship) EntityID { return r.Source })
}

func (e *Engine) distinctEndpoints(rels []RelationshipID, pick func(*Relationship) EntityID) []EntityID {
	result := make([]EntityID, 0, len(rels))
	if len(rels) == 0 {
		return result
	}
	seen := make(map[EntityID]struct{}, len(rels))
	for _, rid := range rels {
		other := pick(&e.relationships[rid])
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		result = append(result, other)
	}
	return result
}
