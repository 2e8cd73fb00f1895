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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for engine operations.
var (
	tracer = otel.Tracer("knowledge.graph")
	meter  = otel.Meter("knowledge.graph")
)

// Metrics for engine operations.
var (
	mutationsTotal  metric.Int64Counter
	analysisLatency metric.Float64Histogram
	queryLatency    metric.Float64Histogram
	queryResults    metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		mutationsTotal, err = meter.Int64Counter(
			"kg_mutations_total",
			metric.WithDescription("Entity and relationship insertions by kind and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		analysisLatency, err = meter.Float64Histogram(
			"kg_analysis_duration_seconds",
			metric.WithDescription("Duration of centrality and community analysis"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryLatency, err = meter.Float64Histogram(
			"kg_query_duration_seconds",
			metric.WithDescription("Duration of graph queries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		queryResults, err = meter.Int64Histogram(
			"kg_query_results",
			metric.WithDescription("Number of results returned per query"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordMutation counts an insertion attempt.
func recordMutation(kind string, accepted bool) {
	if err := initMetrics(); err != nil {
		return
	}
	mutationsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("accepted", accepted),
	))
}

// recordAnalysisMetrics records the duration of an analysis run.
func recordAnalysisMetrics(ctx context.Context, kind string, duration time.Duration, nodeCount int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	analysisLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("analysis", kind),
		attribute.Bool("success", success),
		attribute.Int("node_bucket", sizeBucket(nodeCount)),
	))
}

// recordQueryMetrics records the duration and size of a query.
func recordQueryMetrics(ctx context.Context, queryType string, duration time.Duration, resultCount int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("query_type", queryType))
	queryLatency.Record(ctx, duration.Seconds(), attrs)
	queryResults.Record(ctx, int64(resultCount), attrs)
}

// startSpan creates a span for an engine operation.
func (e *Engine) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.Int("graph.entity_count", len(e.entities)),
		attribute.Int("graph.relationship_count", len(e.relationships)),
	)
	return tracer.Start(ctx, "Engine."+op, trace.WithAttributes(attrs...))
}

// sizeBucket keeps metric cardinality low: 0, 1e2, 1e3, 1e4, 1e5, ...
func sizeBucket(n int) int {
	bucket := 100
	for bucket < n {
		bucket *= 10
	}
	if n == 0 {
		return 0
	}
	return bucket
}
