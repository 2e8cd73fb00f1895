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

// ExportNode is the flat representation of an entity and its annotations.
type ExportNode struct {
	ID          EntityID `json:"id"`
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`

	// Centrality is 0 unless centrality annotations are current.
	Centrality float64 `json:"centrality"`

	// CommunityID is nil unless community annotations are current.
	CommunityID *int `json:"community_id"`
}

// ExportEdge is the flat representation of a relationship.
type ExportEdge struct {
	ID          RelationshipID `json:"id"`
	Source      string         `json:"source"`
	Target      string         `json:"target"`
	Description string         `json:"description"`
	Weight      float64        `json:"weight"`
	Keywords    []string       `json:"keywords"`
}

// Statistics summarizes the graph.
type Statistics struct {
	EntityCount       int `json:"entity_count"`
	RelationshipCount int `json:"relationship_count"`

	// CommunityCount is 0 unless community annotations are current.
	CommunityCount int `json:"community_count"`

	EntityTypeBreakdown map[string]int `json:"entity_type_breakdown"`

	// AvgDegree is in-degree plus out-degree averaged over entities.
	AvgDegree float64 `json:"avg_degree"`

	// Density is E / (N × (N-1)) for the directed graph.
	Density float64 `json:"density"`
}

// Export is a JSON-safe snapshot of the whole graph.
type Export struct {
	Nodes      []ExportNode `json:"nodes"`
	Edges      []ExportEdge `json:"edges"`
	Statistics Statistics   `json:"statistics"`
}

// Export returns every node and edge in id order plus statistics.
// It has no side effects.
func (e *Engine) Export() Export {
	nodes := make([]ExportNode, len(e.entities))
	for i, ent := range e.entities {
		node := ExportNode{
			ID:          ent.ID,
			Name:        ent.Name,
			Type:        ent.Type,
			Description: ent.Description,
			Confidence:  ent.Confidence,
		}
		if e.centralityValid {
			node.Centrality = e.centrality[i]
		}
		if e.communitiesValid {
			cid := e.community[i]
			node.CommunityID = &cid
		}
		nodes[i] = node
	}

	edges := make([]ExportEdge, len(e.relationships))
	for i, r := range e.relationships {
		kw := make([]string, len(r.Keywords))
		copy(kw, r.Keywords)
		edges[i] = ExportEdge{
			ID:          r.ID,
			Source:      e.entities[r.Source].Name,
			Target:      e.entities[r.Target].Name,
			Description: r.Description,
			Weight:      r.Weight,
			Keywords:    kw,
		}
	}

	return Export{
		Nodes:      nodes,
		Edges:      edges,
		Statistics: e.Statistics(),
	}
}

// Statistics returns summary metrics derived from current state.
func (e *Engine) Statistics() Statistics {
	n := len(e.entities)
	m := len(e.relationships)

	breakdown := make(map[string]int, len(e.typeIndex))
	for t, ids := range e.typeIndex {
		breakdown[t] = len(ids)
	}

	stats := Statistics{
		EntityCount:         n,
		RelationshipCount:   m,
		EntityTypeBreakdown: breakdown,
	}
	if e.communitiesValid {
		stats.CommunityCount = e.communityCount
	}
	if n > 0 {
		stats.AvgDegree = 2 * float64(m) / float64(n)
	}
	if n > 1 {
		stats.Density = float64(m) / (float64(n) * float64(n-1))
	}
	return stats
}
