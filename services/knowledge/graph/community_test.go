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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTwoTrianglesEngine builds triangles {a,b,c} and {d,e,f} joined by c-d.
func newTwoTrianglesEngine(t *testing.T) *Engine {
	t.Helper()
	e := newTestEngine()
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		e.AddEntity(n, "T", "", 1)
	}
	for _, pair := range [][2]string{
		{"a", "b"}, {"b", "c"}, {"c", "a"},
		{"d", "e"}, {"e", "f"}, {"f", "d"},
		{"c", "d"},
	} {
		_, ok := e.AddRelationship(pair[0], pair[1], "to", 1, nil)
		require.True(t, ok)
	}
	return e
}

// assertPartition checks every entity appears in exactly one community.
func assertPartition(t *testing.T, e *Engine, res *CommunityResult) {
	t.Helper()
	seen := make(map[EntityID]int)
	for cid, members := range res.Communities {
		for _, id := range members {
			prev, dup := seen[id]
			assert.False(t, dup, "entity %d in communities %d and %d", id, prev, cid)
			seen[id] = cid
		}
	}
	assert.Len(t, seen, e.EntityCount())
}

func TestDetectCommunities_TwoTriangles(t *testing.T) {
	e := newTwoTrianglesEngine(t)

	res, err := e.DetectCommunities(context.Background())
	require.NoError(t, err)
	assertPartition(t, e, res)

	require.Equal(t, 2, res.Count())
	assert.Equal(t, []EntityID{0, 1, 2}, res.Communities[0])
	assert.Equal(t, []EntityID{3, 4, 5}, res.Communities[1])
	assert.Equal(t, 4, res.Merges)

	// Two communities of 3 internal edges each, m=7, degree sum 7 per side:
	// Q = 2 * (3/7 - (7/14)^2) = 5/14.
	assert.InDelta(t, 5.0/14.0, res.Modularity, 1e-9)

	cid, ok := e.CommunityOf(4)
	require.True(t, ok)
	assert.Equal(t, 1, cid)
	assert.Equal(t, 2, e.Statistics().CommunityCount)
}

func TestDetectCommunities_IsolatedNodesAreSingletons(t *testing.T) {
	e := newTwoTrianglesEngine(t)
	e.AddEntity("loner", "T", "", 1)
	e.AddEntity("self", "T", "", 1)
	e.AddRelationship("self", "self", "loop", 1, nil)

	res, err := e.DetectCommunities(context.Background())
	require.NoError(t, err)
	assertPartition(t, e, res)
	require.Equal(t, 4, res.Count())
	assert.Equal(t, []EntityID{6}, res.Communities[2])
	assert.Equal(t, []EntityID{7}, res.Communities[3])
}

func TestDetectCommunities_EdgelessGraph(t *testing.T) {
	e := newTestEngine()
	for _, n := range []string{"x", "y", "z"} {
		e.AddEntity(n, "T", "", 1)
	}

	res, err := e.DetectCommunities(context.Background())
	require.NoError(t, err)
	assertPartition(t, e, res)
	assert.Equal(t, 3, res.Count())
	assert.Zero(t, res.Modularity)
	assert.Zero(t, res.Merges)
}

func TestDetectCommunities_EmptyGraph(t *testing.T) {
	e := newTestEngine()

	res, err := e.DetectCommunities(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Count())
	assert.True(t, e.HasCommunities())
}

func TestDetectCommunities_DirectionAndParallelEdgesCollapse(t *testing.T) {
	plain := newTwoTrianglesEngine(t)
	noisy := newTwoTrianglesEngine(t)
	noisy.AddRelationship("b", "a", "reverse", 1, nil)
	noisy.AddRelationship("a", "b", "again", 5, nil)

	want, err := plain.DetectCommunities(context.Background())
	require.NoError(t, err)
	got, err := noisy.DetectCommunities(context.Background())
	require.NoError(t, err)

	assert.Equal(t, want.Communities, got.Communities)
	assert.InDelta(t, want.Modularity, got.Modularity, 1e-12)
}

func TestDetectCommunities_Deterministic(t *testing.T) {
	e := newCompleteEngine(t, 4)
	e.AddEntity("tail", "T", "", 1)
	e.AddRelationship("n3", "tail", "to", 1, nil)

	first, err := e.DetectCommunities(context.Background())
	require.NoError(t, err)
	second, err := e.DetectCommunities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assertPartition(t, e, first)
}

func TestDetectCommunities_ScenarioChain(t *testing.T) {
	e := newScenarioEngine(t)

	res, err := e.DetectCommunities(context.Background())
	require.NoError(t, err)
	assertPartition(t, e, res)

	// Both merges along the chain have positive gain, leaving one community.
	assert.Equal(t, 1, res.Count())
	assert.Equal(t, 2, res.Merges)
	assert.InDelta(t, 0.0, res.Modularity, 1e-9)
}

func TestDetectCommunities_Cancelled(t *testing.T) {
	e := newTwoTrianglesEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.DetectCommunities(ctx)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, e.HasCommunities())
}
