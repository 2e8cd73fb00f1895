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
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

var testMetricReader = sdkmetric.NewManualReader()

func TestMain(m *testing.M) {
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(testMetricReader)))
	os.Exit(m.Run())
}

// mutationCount returns the cumulative kg_mutations_total value.
func mutationCount(t *testing.T) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, testMetricReader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "kg_mutations_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestMutationMetrics_CountsIngest(t *testing.T) {
	e := newTestEngine()
	before := mutationCount(t)

	e.AddEntity("a", "T", "", 1)
	e.AddEntity("b", "T", "", 1)
	e.AddRelationship("a", "b", "to", 1, nil)
	e.AddRelationship("a", "missing", "to", 1, nil)

	assert.Equal(t, int64(4), mutationCount(t)-before)
}

func TestMutationMetrics_SubgraphIsNotIngest(t *testing.T) {
	e := newScenarioEngine(t)
	before := mutationCount(t)

	sub := e.Subgraph([]string{"A"}, 2)
	require.Equal(t, 3, sub.EntityCount())
	require.Equal(t, 2, sub.RelationshipCount())

	assert.Equal(t, before, mutationCount(t))
}

func TestMutated_LeavesAnnotationSlotsAlone(t *testing.T) {
	e := newScenarioEngine(t)
	ctx := context.Background()
	_, err := e.ComputeCentrality(ctx, nil)
	require.NoError(t, err)
	_, err = e.DetectCommunities(ctx)
	require.NoError(t, err)

	scores := append([]float64(nil), e.centrality...)
	communities := append([]int(nil), e.community...)

	e.AddEntity("D", "T", "", 1)
	assert.False(t, e.HasCentrality())
	assert.False(t, e.HasCommunities())
	assert.Equal(t, scores, e.centrality[:3])
	assert.Equal(t, communities, e.community[:3])

	// Stale slots are never read and the next run overwrites them all.
	res, err := e.ComputeCentrality(ctx, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sumScores(res.Scores), 1e-6)
	for i, s := range e.centrality {
		assert.Equal(t, res.Scores[EntityID(i)], s)
	}
	comm, err := e.DetectCommunities(ctx)
	require.NoError(t, err)
	assertPartition(t, e, comm)
}

func BenchmarkIngestChain(b *testing.B) {
	for _, n := range []int{5_000, 20_000, 40_000} {
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("n%d", i)
		}
		b.Run(fmt.Sprintf("n=%d", n), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				e := NewEngine(WithLogger(quietLogger()))
				for j, name := range names {
					e.AddEntity(name, "T", "", 1)
					if j > 0 {
						e.AddRelationship(names[j-1], name, "next", 1, nil)
					}
				}
			}
		})
	}
}
