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
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// quietLogger discards warnings produced by tests that exercise rejections.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(opts ...EngineOption) *Engine {
	return NewEngine(append([]EngineOption{WithLogger(quietLogger())}, opts...)...)
}

// newScenarioEngine builds A -has_parameter-> B -returns-> C.
func newScenarioEngine(t *testing.T) *Engine {
	t.Helper()
	e := newTestEngine()
	e.AddEntity("A", "API_ENDPOINT", "list users", 0.9)
	e.AddEntity("B", "PARAMETER", "page size", 0.8)
	e.AddEntity("C", "API_ENDPOINT", "user detail", 0.7)
	_, ok := e.AddRelationship("A", "B", "has_parameter", 1.0, nil)
	require.True(t, ok)
	_, ok = e.AddRelationship("B", "C", "returns", 1.0, nil)
	require.True(t, ok)
	return e
}

// =============================================================================
// Entity Registry Tests
// =============================================================================

func TestAddEntity_Idempotent(t *testing.T) {
	e := newTestEngine()

	first := e.AddEntity("X", "API_ENDPOINT", "first", 0.5)
	versionAfterFirst := e.Version()
	second := e.AddEntity("X", "PARAMETER", "second", 0.9)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, e.EntityCount())
	assert.Equal(t, versionAfterFirst, e.Version(), "re-insertion must not mutate")

	ent, ok := e.GetByName("X")
	require.True(t, ok)
	assert.Equal(t, "API_ENDPOINT", ent.Type, "first insertion wins")
	assert.Equal(t, "first", ent.Description)
}

func TestAddEntity_AssignsSequentialIDs(t *testing.T) {
	e := newTestEngine()
	assert.Equal(t, EntityID(0), e.AddEntity("a", "T", "", 1))
	assert.Equal(t, EntityID(1), e.AddEntity("b", "T", "", 1))
	assert.Equal(t, EntityID(0), e.AddEntity("a", "T", "", 1))
	assert.Equal(t, EntityID(2), e.AddEntity("c", "T", "", 1))
}

func TestAddEntity_ClampsConfidence(t *testing.T) {
	e := newTestEngine()
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"negative", -0.3, 0},
		{"above one", 1.7, 1},
		{"in range", 0.42, 0.42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := e.AddEntity(tt.name, "T", "", tt.in)
			ent, ok := e.Entity(id)
			require.True(t, ok)
			assert.Equal(t, tt.want, ent.Confidence)
		})
	}
}

func TestGetByName_Unknown(t *testing.T) {
	e := newScenarioEngine(t)
	_, ok := e.GetByName("missing")
	assert.False(t, ok)
}

func TestGetByType(t *testing.T) {
	e := newScenarioEngine(t)

	endpoints := e.GetByType("API_ENDPOINT")
	require.Len(t, endpoints, 2)
	assert.Equal(t, "A", endpoints[0].Name)
	assert.Equal(t, "C", endpoints[1].Name)

	assert.Len(t, e.GetByType("PARAMETER"), 1)
	assert.NotNil(t, e.GetByType("AUTH_METHOD"))
	assert.Empty(t, e.GetByType("AUTH_METHOD"))
}

func TestEntitiesWithPrefix(t *testing.T) {
	e := newTestEngine()
	for _, name := range []string{"GET /users", "GET /users/{id}", "POST /users", "GET /orders", "GE"} {
		e.AddEntity(name, "API_ENDPOINT", "", 1)
	}

	got := e.EntitiesWithPrefix("GET /", 0)
	names := make([]string, len(got))
	for i, ent := range got {
		names[i] = ent.Name
	}
	assert.Equal(t, []string{"GET /orders", "GET /users", "GET /users/{id}"}, names)

	assert.Len(t, e.EntitiesWithPrefix("GET /", 2), 2)
	assert.Empty(t, e.EntitiesWithPrefix("DELETE", 0))
	assert.Len(t, e.EntitiesWithPrefix("", 0), 5)
}

func TestEntity_OutOfRange(t *testing.T) {
	e := newScenarioEngine(t)
	_, ok := e.Entity(-1)
	assert.False(t, ok)
	_, ok = e.Entity(3)
	assert.False(t, ok)
}

// =============================================================================
// Annotation Invalidation Tests
// =============================================================================

func TestMutationInvalidatesAnnotations(t *testing.T) {
	e := newScenarioEngine(t)
	ctx := context.Background()

	_, err := e.ComputeCentrality(ctx, nil)
	require.NoError(t, err)
	_, err = e.DetectCommunities(ctx)
	require.NoError(t, err)
	require.True(t, e.HasCentrality())
	require.True(t, e.HasCommunities())

	t.Run("duplicate entity keeps annotations", func(t *testing.T) {
		e.AddEntity("A", "API_ENDPOINT", "", 1)
		assert.True(t, e.HasCentrality())
		assert.True(t, e.HasCommunities())
	})

	t.Run("rejected relationship keeps annotations", func(t *testing.T) {
		_, ok := e.AddRelationship("A", "nope", "x", 1, nil)
		assert.False(t, ok)
		assert.True(t, e.HasCommunities())
	})

	t.Run("new relationship clears annotations", func(t *testing.T) {
		_, ok := e.AddRelationship("C", "A", "links", 1, nil)
		require.True(t, ok)
		assert.False(t, e.HasCentrality())
		assert.False(t, e.HasCommunities())

		_, ok = e.Centrality(0)
		assert.False(t, ok)
		_, ok = e.CommunityOf(0)
		assert.False(t, ok)
		assert.Equal(t, 0, e.Statistics().CommunityCount)
	})

	t.Run("new entity clears annotations", func(t *testing.T) {
		_, err := e.ComputeCentrality(ctx, nil)
		require.NoError(t, err)
		e.AddEntity("D", "PARAMETER", "", 1)
		assert.False(t, e.HasCentrality())
		for _, node := range e.Export().Nodes {
			assert.Zero(t, node.Centrality)
			assert.Nil(t, node.CommunityID)
		}
	})
}
