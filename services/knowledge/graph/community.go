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
	"sort"
	"time"

	"github.com/tidwall/btree"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
)

// =============================================================================
// Community Detection (greedy modularity, Clauset-Newman-Moore)
// =============================================================================

// mergeCheckInterval is how often the merge loop checks the context.
const mergeCheckInterval = 256

// CommunityResult is the output of DetectCommunities.
type CommunityResult struct {
	// Communities maps community id to member entity ids (ascending).
	// Ids are 0..k-1, ordered by size descending then smallest member.
	Communities map[int][]EntityID `json:"communities"`

	// Modularity is Q of the final partition.
	Modularity float64 `json:"modularity"`

	// Merges is the number of community merges performed.
	Merges int `json:"merges"`
}

// Count returns the number of communities.
func (r *CommunityResult) Count() int {
	return len(r.Communities)
}

// mergeCandidate is a queued community pair and its modularity gain.
// lo and hi are community labels (smallest member id); the versions tie the
// entry to the community states it was computed from.
type mergeCandidate struct {
	gain   float64
	lo, hi int
	vlo    int
	vhi    int
}

// mergeCandidateLess orders by gain descending, then lowest label pair.
func mergeCandidateLess(a, b mergeCandidate) bool {
	if a.gain != b.gain {
		return a.gain > b.gain
	}
	if a.lo != b.lo {
		return a.lo < b.lo
	}
	if a.hi != b.hi {
		return a.hi < b.hi
	}
	if a.vlo != b.vlo {
		return a.vlo < b.vlo
	}
	return a.vhi < b.vhi
}

// cnmState is the working state of one greedy modularity run.
type cnmState struct {
	alive   []bool
	version []int
	members [][]EntityID

	// a[c] is the fraction of edge ends attached to community c.
	a []float64

	// e[c][d] is half the fraction of edges joining c and d.
	e []map[int]float64

	queue *btree.BTreeG[mergeCandidate]
}

func (s *cnmState) gain(c, d int) float64 {
	return 2 * (s.e[c][d] - s.a[c]*s.a[d])
}

func (s *cnmState) push(c, d int) {
	lo, hi := c, d
	if lo > hi {
		lo, hi = hi, lo
	}
	s.queue.Set(mergeCandidate{
		gain: s.gain(lo, hi),
		lo:   lo,
		hi:   hi,
		vlo:  s.version[lo],
		vhi:  s.version[hi],
	})
}

func (s *cnmState) current(m mergeCandidate) bool {
	return s.alive[m.lo] && s.alive[m.hi] &&
		s.version[m.lo] == m.vlo && s.version[m.hi] == m.vhi
}

// merge folds community hi into lo.
func (s *cnmState) merge(lo, hi int) {
	for x, val := range s.e[hi] {
		delete(s.e[x], hi)
		if x == lo {
			continue
		}
		s.e[lo][x] += val
		s.e[x][lo] += val
	}
	delete(s.e[lo], hi)
	s.e[hi] = nil

	s.a[lo] += s.a[hi]
	s.members[lo] = append(s.members[lo], s.members[hi]...)
	s.members[hi] = nil
	s.alive[hi] = false
	s.version[lo]++

	for x := range s.e[lo] {
		s.push(lo, x)
	}
}

// DetectCommunities partitions entities by greedy modularity merging.
//
// Description:
//
//	Treats the graph as undirected and simple: direction and parallel
//	edges collapse into one undirected edge per entity pair; self-loops
//	are ignored. Every entity starts in its own community, then the pair
//	of connected communities whose merge gives the largest modularity gain
//	is merged, repeatedly, until no merge has a positive gain.
//
//	Ties between equal gains go to the pair with the lowest community
//	labels, where a label is the smallest member id, so output is
//	reproducible. On success every node's community annotation is set.
//
// Inputs:
//
//	ctx - Context for cancellation. Checked periodically while merging.
//
// Outputs:
//
//	*CommunityResult - Partition covering every entity exactly once.
//	Empty for an empty graph.
//	error - ctx.Err() if cancelled; annotations are left untouched.
//
// Complexity: O(M log M) queue operations for M candidate pairs created
// across all merges.
func (e *Engine) DetectCommunities(ctx context.Context) (*CommunityResult, error) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, "DetectCommunities")
	defer span.End()

	n := len(e.entities)
	if n == 0 {
		span.AddEvent("empty_graph")
		e.communitiesValid = true
		e.communityCount = 0
		return &CommunityResult{Communities: make(map[int][]EntityID)}, nil
	}

	pairs := e.undirectedPairs()
	m := float64(len(pairs))

	state := &cnmState{
		alive:   make([]bool, n),
		version: make([]int, n),
		members: make([][]EntityID, n),
		a:       make([]float64, n),
		e:       make([]map[int]float64, n),
		queue:   btree.NewBTreeG[mergeCandidate](mergeCandidateLess),
	}
	for i := 0; i < n; i++ {
		state.alive[i] = true
		state.members[i] = []EntityID{EntityID(i)}
		state.e[i] = make(map[int]float64)
	}

	merges := 0
	if m > 0 {
		half := 1 / (2 * m)
		for _, p := range pairs {
			state.e[p[0]][p[1]] = half
			state.e[p[1]][p[0]] = half
			state.a[p[0]] += half
			state.a[p[1]] += half
		}
		for _, p := range pairs {
			state.push(p[0], p[1])
		}

		for {
			if merges%mergeCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					span.AddEvent("cancelled", trace.WithAttributes(attribute.Int("merges_completed", merges)))
					recordAnalysisMetrics(ctx, "communities", time.Since(start), n, false)
					return nil, err
				}
			}
			best, ok := state.queue.PopMin()
			if !ok {
				break
			}
			if !state.current(best) {
				continue
			}
			if best.gain <= 0 {
				break
			}
			state.merge(best.lo, best.hi)
			merges++
		}
	}

	groups := make([][]EntityID, 0)
	for c := 0; c < n; c++ {
		if !state.alive[c] {
			continue
		}
		members := state.members[c]
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		groups = append(groups, members)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if len(groups[i]) != len(groups[j]) {
			return len(groups[i]) > len(groups[j])
		}
		return groups[i][0] < groups[j][0]
	})

	result := &CommunityResult{
		Communities: make(map[int][]EntityID, len(groups)),
		Modularity:  modularity(n, pairs, groups),
		Merges:      merges,
	}
	for cid, members := range groups {
		result.Communities[cid] = members
		for _, id := range members {
			e.community[id] = cid
		}
	}
	e.communitiesValid = true
	e.communityCount = len(groups)

	e.logger.Debug("communities detected",
		slog.Int("communities", len(groups)),
		slog.Int("merges", merges),
		slog.Float64("modularity", result.Modularity),
		slog.Int("node_count", n),
	)
	span.SetAttributes(
		attribute.Int("community_count", len(groups)),
		attribute.Int("merges", merges),
		attribute.Float64("modularity", result.Modularity),
	)
	recordAnalysisMetrics(ctx, "communities", time.Since(start), n, true)
	return result, nil
}

// undirectedPairs returns each connected entity pair once as [lo, hi],
// ignoring direction, parallel edges and self-loops.
func (e *Engine) undirectedPairs() [][2]int {
	seen := make(map[[2]int]struct{}, len(e.relationships))
	pairs := make([][2]int, 0, len(e.relationships))
	for i := range e.relationships {
		r := &e.relationships[i]
		if r.Source == r.Target {
			continue
		}
		p := [2]int{int(r.Source), int(r.Target)}
		if p[0] > p[1] {
			p[0], p[1] = p[1], p[0]
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		pairs = append(pairs, p)
	}
	return pairs
}

// modularity scores a partition of the undirected simple view with gonum.
func modularity(n int, pairs [][2]int, groups [][]EntityID) float64 {
	if len(pairs) == 0 {
		return 0
	}
	g := simple.NewUndirectedGraph()
	for i := 0; i < n; i++ {
		g.AddNode(simple.Node(int64(i)))
	}
	for _, p := range pairs {
		g.SetEdge(g.NewEdge(simple.Node(int64(p[0])), simple.Node(int64(p[1]))))
	}
	communities := make([][]gonumgraph.Node, len(groups))
	for i, members := range groups {
		nodes := make([]gonumgraph.Node, len(members))
		for j, id := range members {
			nodes[j] = simple.Node(int64(id))
		}
		communities[i] = nodes
	}
	return community.Q(g, communities, 1)
}
