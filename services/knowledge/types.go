// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package knowledge

import (
	"time"

	"github.com/AleutianAI/AleutianKG/services/knowledge/corpus"
	"github.com/AleutianAI/AleutianKG/services/knowledge/graph"
	"github.com/AleutianAI/AleutianKG/services/knowledge/jobs"
)

// =============================================================================
// Ingest
// =============================================================================

// AddEntitiesRequest is the request body for POST /v1/knowledge/entities.
type AddEntitiesRequest struct {
	// Entities to add. Required, at least one.
	Entities []graph.EntityRecord `json:"entities" binding:"required,min=1"`
}

// AddRelationshipsRequest is the request body for POST /v1/knowledge/relationships.
type AddRelationshipsRequest struct {
	// Relationships to add. Required, at least one.
	Relationships []graph.RelationshipRecord `json:"relationships" binding:"required,min=1"`
}

// IngestFailure describes one record that was not added.
type IngestFailure struct {
	// Index is the record's position in the request array.
	Index int `json:"index"`

	Error string `json:"error"`
}

// IngestResponse is the response for the ingest endpoints.
type IngestResponse struct {
	// Added is the number of new records.
	Added int `json:"added"`

	// Duplicates counts entity records whose name was already registered.
	Duplicates int `json:"duplicates,omitempty"`

	// IDs holds the id of every accepted record, in request order.
	IDs []int `json:"ids"`

	Failures []IngestFailure `json:"failures"`

	// Version is the graph version after the batch.
	Version uint64 `json:"version"`

	// Journaled is true if the accepted records were persisted.
	Journaled bool `json:"journaled"`
}

// =============================================================================
// Queries
// =============================================================================

// ListEntitiesRequest holds the query parameters for GET /v1/knowledge/entities.
type ListEntitiesRequest struct {
	// Type filters by entity type. Takes precedence over Prefix.
	Type string `form:"type"`

	// Prefix filters by name prefix.
	Prefix string `form:"prefix"`

	// Limit caps the results. Default: 100
	Limit int `form:"limit" binding:"gte=0"`
}

// EntityInfo is an entity with its current annotations.
type EntityInfo struct {
	graph.Entity

	// Centrality is set only when centrality annotations are current.
	Centrality *float64 `json:"centrality,omitempty"`

	// CommunityID is set only when community annotations are current.
	CommunityID *int `json:"community_id,omitempty"`

	// Outgoing lists relationships leaving the entity (single entity lookups only).
	Outgoing []graph.Relationship `json:"outgoing,omitempty"`
}

// EntitiesResponse is the response for entity listings.
type EntitiesResponse struct {
	Entities []EntityInfo `json:"entities"`
	Count    int          `json:"count"`
}

// NeighborsRequest holds the query parameters for GET /v1/knowledge/neighbors.
type NeighborsRequest struct {
	// Name is the origin entity. Required.
	Name string `form:"name" binding:"required"`

	// Depth is the number of out-edge hops. Default: 1
	Depth int `form:"depth"`
}

// NeighborsResponse is the response for GET /v1/knowledge/neighbors.
type NeighborsResponse struct {
	Name      string       `json:"name"`
	Depth     int          `json:"depth"`
	Neighbors []EntityInfo `json:"neighbors"`
}

// PathsRequest holds the query parameters for GET /v1/knowledge/paths.
type PathsRequest struct {
	// Source and Target are entity names. Required.
	Source string `form:"source" binding:"required"`
	Target string `form:"target" binding:"required"`

	// MaxLength is the maximum number of edges per path. Default: 5
	MaxLength int `form:"max_length"`
}

// SubgraphRequest is the request body for POST /v1/knowledge/subgraph.
type SubgraphRequest struct {
	// Names are the seed entities. Required, at least one.
	Names []string `json:"names" binding:"required,min=1"`

	// Depth is the undirected expansion radius. Default: 0 (seeds only)
	Depth int `json:"depth" binding:"gte=0"`
}

// =============================================================================
// Analysis
// =============================================================================

// AnalysisRequest holds the query parameters for the analysis endpoints.
type AnalysisRequest struct {
	// Wait runs the analysis synchronously and returns the finished job.
	Wait bool `form:"wait"`
}

// CentralityResponse is the result of a centrality job.
type CentralityResponse struct {
	// Version is the graph version the scores belong to. Compare it with
	// HealthResponse.GraphVersion to detect later ingests.
	Version uint64 `json:"version"`

	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
	Delta      float64 `json:"delta"`

	// Top lists the highest scoring entities.
	Top []graph.RankedEntity `json:"top"`
}

// CommunityInfo is one detected community.
type CommunityInfo struct {
	ID      int      `json:"id"`
	Size    int      `json:"size"`
	Members []string `json:"members"`
}

// CommunityResponse is the result of a community detection job.
type CommunityResponse struct {
	// Version is the graph version the partition belongs to.
	Version uint64 `json:"version"`

	Count       int             `json:"count"`
	Modularity  float64         `json:"modularity"`
	Merges      int             `json:"merges"`
	Communities []CommunityInfo `json:"communities"`
}

// JobResponse wraps a job snapshot.
type JobResponse struct {
	Job jobs.Job `json:"job"`
}

// =============================================================================
// Service
// =============================================================================

// HealthResponse is the response for GET /v1/knowledge/health.
type HealthResponse struct {
	// Status is "healthy".
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`

	// GraphVersion is the graph mutation counter.
	GraphVersion uint64 `json:"graph_version"`

	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`

	// LoadedAt is when the current graph was created or swapped in.
	LoadedAt time.Time `json:"loaded_at"`

	// Reloads counts corpus reloads since startup.
	Reloads int `json:"reloads"`

	// Corpus is the report of the last corpus load, if any.
	Corpus *corpus.Report `json:"corpus,omitempty"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`

	// TraceID identifies the request's trace when tracing is enabled.
	TraceID string `json:"trace_id,omitempty"`
}
