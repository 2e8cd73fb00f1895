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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianKG/services/knowledge/corpus"
	"github.com/AleutianAI/AleutianKG/services/knowledge/graph"
	"github.com/AleutianAI/AleutianKG/services/knowledge/jobs"
	"github.com/AleutianAI/AleutianKG/services/knowledge/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, cfg ServiceConfig, jobCfg jobs.Config) *Service {
	t.Helper()
	runner := jobs.NewRunner(jobCfg, quietLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})
	return NewService(cfg, runner, quietLogger())
}

func setupTestRouter(svc *Service) *gin.Engine {
	router := gin.New()
	handlers := NewHandlers(svc)
	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)
	return router
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// seedScenario adds A -has_parameter-> B -returns-> C.
func seedScenario(t *testing.T, router http.Handler) {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/v1/knowledge/entities", AddEntitiesRequest{
		Entities: []graph.EntityRecord{
			{EntityName: "A", EntityType: "API_ENDPOINT", Description: "list users", Confidence: 0.9},
			{EntityName: "B", EntityType: "PARAMETER", Confidence: 0.8},
			{EntityName: "C", EntityType: "API_ENDPOINT", Confidence: 0.7},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, router, http.MethodPost, "/v1/knowledge/relationships", AddRelationshipsRequest{
		Relationships: []graph.RelationshipRecord{
			{SrcName: "A", TgtName: "B", Description: "has_parameter", Weight: 1},
			{SrcName: "B", TgtName: "C", Description: "returns", Weight: 1},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestHandlers_HandleHealth(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := setupTestRouter(svc)

	w := doJSON(t, router, http.MethodGet, "/v1/knowledge/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.Zero(t, resp.Entities)
	assert.Nil(t, resp.Corpus)
}

func TestHandlers_RequestID(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := setupTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/knowledge/neighbors?name=A", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))

	w = doJSON(t, router, http.MethodGet, "/v1/knowledge/entities/missing", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestHandlers_AddEntities(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := setupTestRouter(svc)

	w := doJSON(t, router, http.MethodPost, "/v1/knowledge/entities", AddEntitiesRequest{
		Entities: []graph.EntityRecord{
			{EntityName: "A", EntityType: "API_ENDPOINT", Confidence: 0.9},
			{EntityName: "A", EntityType: "OTHER", Confidence: 0.1},
			{EntityName: "", EntityType: "PARAMETER"},
			{EntityName: "B", EntityType: "PARAMETER", Confidence: 0.5},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[IngestResponse](t, w)
	assert.Equal(t, 2, resp.Added)
	assert.Equal(t, 1, resp.Duplicates)
	assert.Equal(t, []int{0, 0, 1}, resp.IDs)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, 2, resp.Failures[0].Index)
	assert.Equal(t, uint64(2), resp.Version)

	ent := decode[EntityInfo](t, doJSON(t, router, http.MethodGet, "/v1/knowledge/entities/A", nil))
	assert.Equal(t, "API_ENDPOINT", ent.Type, "first insertion wins")
}

func TestHandlers_AddEntities_InvalidBody(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := setupTestRouter(svc)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"missing entities", `{}`},
		{"empty entities", `{"entities": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/knowledge/entities", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_REQUEST", decode[ErrorResponse](t, w).Code)
		})
	}
}

func TestHandlers_AddEntities_BatchTooLarge(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.MaxBatch = 1
	svc := newTestService(t, cfg, jobs.DefaultConfig())
	router := setupTestRouter(svc)

	w := doJSON(t, router, http.MethodPost, "/v1/knowledge/entities", AddEntitiesRequest{
		Entities: []graph.EntityRecord{
			{EntityName: "A", EntityType: "T"},
			{EntityName: "B", EntityType: "T"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_RECORD", decode[ErrorResponse](t, w).Code)
}

func TestHandlers_AddRelationships_MissingEndpoint(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := setupTestRouter(svc)
	seedScenario(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/knowledge/relationships", AddRelationshipsRequest{
		Relationships: []graph.RelationshipRecord{
			{SrcName: "A", TgtName: "Z", Description: "dangling"},
			{SrcName: "A", TgtName: "C", Description: "links", Keywords: "users; detail"},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[IngestResponse](t, w)
	assert.Equal(t, 1, resp.Added)
	assert.Equal(t, []int{2}, resp.IDs)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, 0, resp.Failures[0].Index)
	assert.Contains(t, resp.Failures[0].Error, "entity not found")

	stats := decode[graph.Statistics](t, doJSON(t, router, http.MethodGet, "/v1/knowledge/stats", nil))
	assert.Equal(t, 3, stats.RelationshipCount)
}

func TestHandlers_GetEntity(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := setupTestRouter(svc)
	seedScenario(t, router)

	w := doJSON(t, router, http.MethodGet, "/v1/knowledge/entities/A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	ent := decode[EntityInfo](t, w)
	assert.Equal(t, "list users", ent.Description)
	require.Len(t, ent.Outgoing, 1)
	assert.Equal(t, "has_parameter", ent.Outgoing[0].Description)
	assert.Nil(t, ent.Centrality)

	w = doJSON(t, router, http.MethodGet, "/v1/knowledge/entities/Z", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ENTITY_NOT_FOUND", decode[ErrorResponse](t, w).Code)
}

func TestHandlers_ListEntities(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := setupTestRouter(svc)
	seedScenario(t, router)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"all by name", "", []string{"A", "B", "C"}},
		{"by type", "?type=API_ENDPOINT", []string{"A", "C"}},
		{"by prefix", "?prefix=B", []string{"B"}},
		{"limited", "?limit=2", []string{"A", "B"}},
		{"unknown type", "?type=NOPE", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodGet, "/v1/knowledge/entities"+tt.query, nil)
			require.Equal(t, http.StatusOK, w.Code)
			resp := decode[EntitiesResponse](t, w)
			names := make([]string, 0, len(resp.Entities))
			for _, e := range resp.Entities {
				names = append(names, e.Name)
			}
			assert.Equal(t, tt.want, names)
			assert.Equal(t, len(tt.want), resp.Count)
		})
	}

	w := doJSON(t, router, http.MethodGet, "/v1/knowledge/entities?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_Neighbors(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := setupTestRouter(svc)
	seedScenario(t, router)

	w := doJSON(t, router, http.MethodGet, "/v1/knowledge/neighbors?name=A&depth=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[NeighborsResponse](t, w)
	require.Len(t, resp.Neighbors, 2)
	assert.Equal(t, "B", resp.Neighbors[0].Name)
	assert.Equal(t, "C", resp.Neighbors[1].Name)

	w = doJSON(t, router, http.MethodGet, "/v1/knowledge/neighbors?name=A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[NeighborsResponse](t, w).Depth)

	w = doJSON(t, router, http.MethodGet, "/v1/knowledge/neighbors", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/knowledge/neighbors?name=A&depth=99", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "LIMIT_EXCEEDED", decode[ErrorResponse](t, w).Code)
}

func TestHandlers_FindPaths(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := setupTestRouter(svc)
	seedScenario(t, router)

	w := doJSON(t, router, http.MethodGet, "/v1/knowledge/paths?source=A&target=C&max_length=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[graph.PathResult](t, w)
	assert.Equal(t, [][]string{{"A", "B", "C"}}, res.Paths)
	assert.False(t, res.Truncated)

	w = doJSON(t, router, http.MethodGet, "/v1/knowledge/paths?source=C&target=A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[graph.PathResult](t, w).Paths)

	w = doJSON(t, router, http.MethodGet, "/v1/knowledge/paths?source=A&target=C&max_length=9", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = doJSON(t, router, http.MethodGet, "/v1/knowledge/paths?source=A", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_FindPaths_Truncated(t *testing.T) {
	cfg := DefaultServiceConfig()
	cfg.Limits = graph.Limits{MaxPaths: 1}
	svc := newTestService(t, cfg, jobs.DefaultConfig())
	router := setupTestRouter(svc)
	seedScenario(t, router)
	doJSON(t, router, http.MethodPost, "/v1/knowledge/relationships", AddRelationshipsRequest{
		Relationships: []graph.RelationshipRecord{{SrcName: "A", TgtName: "C", Description: "direct"}},
	})

	w := doJSON(t, router, http.MethodGet, "/v1/knowledge/paths?source=A&target=C", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[graph.PathResult](t, w)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Paths, 1)
}

func TestHandlers_Subgraph(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := setupTestRouter(svc)
	seedScenario(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/knowledge/subgraph", SubgraphRequest{Names: []string{"A"}, Depth: 1})
	require.Equal(t, http.StatusOK, w.Code)
	out := decode[graph.Export](t, w)
	require.Len(t, out.Nodes, 2)
	assert.Equal(t, "A", out.Nodes[0].Name)
	assert.Equal(t, "B", out.Nodes[1].Name)
	require.Len(t, out.Edges, 1)
	assert.Equal(t, "has_parameter", out.Edges[0].Description)

	w = doJSON(t, router, http.MethodPost, "/v1/knowledge/subgraph", map[string]any{"names": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_Centrality_Wait(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := setupTestRouter(svc)
	seedScenario(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/knowledge/analysis/centrality?wait=true", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	job := decode[JobResponse](t, w).Job
	assert.Equal(t, jobs.StateSucceeded, job.State)
	assert.Equal(t, JobKindCentrality, job.Kind)

	result, ok := job.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, result["converged"])
	top := result["top"].([]any)
	require.Len(t, top, 3)
	first := top[0].(map[string]any)["entity"].(map[string]any)
	assert.Equal(t, "C", first["name"])

	ent := decode[EntityInfo](t, doJSON(t, router, http.MethodGet, "/v1/knowledge/entities/C", nil))
	require.NotNil(t, ent.Centrality)
	assert.Greater(t, *ent.Centrality, 0.0)
}

func TestHandlers_Communities_Async(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := setupTestRouter(svc)
	seedScenario(t, router)

	w := doJSON(t, router, http.MethodPost, "/v1/knowledge/analysis/communities", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	job := decode[JobResponse](t, w).Job
	require.NotEmpty(t, job.ID)
	assert.Equal(t, "/v1/knowledge/jobs/"+job.ID, w.Header().Get("Location"))

	require.Eventually(t, func() bool {
		w := doJSON(t, router, http.MethodGet, "/v1/knowledge/jobs/"+job.ID, nil)
		return w.Code == http.StatusOK && decode[JobResponse](t, w).Job.State.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	w = doJSON(t, router, http.MethodGet, "/v1/knowledge/jobs/"+job.ID, nil)
	done := decode[JobResponse](t, w).Job
	require.Equal(t, jobs.StateSucceeded, done.State, done.Error)
	result := done.Result.(map[string]any)
	assert.Equal(t, float64(1), result["count"])

	stats := decode[graph.Statistics](t, doJSON(t, router, http.MethodGet, "/v1/knowledge/stats", nil))
	assert.Equal(t, 1, stats.CommunityCount)
}

func TestHandlers_Analysis_RateLimited(t *testing.T) {
	jobCfg := jobs.DefaultConfig()
	jobCfg.SubmitRate = 0.001
	jobCfg.SubmitBurst = 1
	svc := newTestService(t, DefaultServiceConfig(), jobCfg)
	router := setupTestRouter(svc)

	w := doJSON(t, router, http.MethodPost, "/v1/knowledge/analysis/centrality", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	w = doJSON(t, router, http.MethodPost, "/v1/knowledge/analysis/communities", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decode[ErrorResponse](t, w).Code)
}

func TestHandlers_GetJob_Unknown(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := setupTestRouter(svc)

	w := doJSON(t, router, http.MethodGet, "/v1/knowledge/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decode[ErrorResponse](t, w).Code)
}

func TestHandlers_Export(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := setupTestRouter(svc)
	seedScenario(t, router)

	w := doJSON(t, router, http.MethodGet, "/v1/knowledge/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	out := decode[graph.Export](t, w)
	assert.Len(t, out.Nodes, 3)
	assert.Len(t, out.Edges, 2)
	assert.Equal(t, 3, out.Statistics.EntityCount)
	assert.Nil(t, out.Nodes[0].CommunityID)
}

func TestService_Replace(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := setupTestRouter(svc)
	seedScenario(t, router)

	doc := `{"entities": [{"entity_name": "X", "entity_type": "T", "confidence": 1}], "relationships": []}`
	engine, report, err := corpus.Load(context.Background(), strings.NewReader(doc), svc.EngineOptions()...)
	require.NoError(t, err)
	svc.Replace(engine, report)
	svc.Replace(nil, nil)

	health := decode[HealthResponse](t, doJSON(t, router, http.MethodGet, "/v1/knowledge/health", nil))
	assert.Equal(t, 1, health.Entities)
	assert.Equal(t, 1, health.Reloads)
	require.NotNil(t, health.Corpus)
	assert.Equal(t, 1, health.Corpus.EntitiesAdded)

	w := doJSON(t, router, http.MethodGet, "/v1/knowledge/entities/A", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestService_JournalSurvivesReplace(t *testing.T) {
	journal, err := store.Open(store.InMemoryConfig(), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	stats, err := svc.AttachJournal(context.Background(), journal)
	require.NoError(t, err)
	assert.Zero(t, stats.Entries)

	router := setupTestRouter(svc)
	seedScenario(t, router)
	assert.Equal(t, 5, journal.Len())

	w := doJSON(t, router, http.MethodPost, "/v1/knowledge/entities", AddEntitiesRequest{
		Entities: []graph.EntityRecord{{EntityName: "A", EntityType: "API_ENDPOINT"}},
	})
	assert.True(t, decode[IngestResponse](t, w).Journaled)
	assert.Equal(t, 5, journal.Len(), "duplicates are not journaled")

	doc := `{"entities": [{"entity_name": "X", "entity_type": "T", "confidence": 1}], "relationships": [{"src_name": "X", "tgt_name": "A", "description": "links"}]}`
	engine, report, err := corpus.Load(context.Background(), strings.NewReader(doc), svc.EngineOptions()...)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DanglingRelationships)
	svc.Replace(engine, report)

	health := decode[HealthResponse](t, doJSON(t, router, http.MethodGet, "/v1/knowledge/health", nil))
	assert.Equal(t, 4, health.Entities)
	assert.Equal(t, 2, health.Relationships)

	res := decode[graph.PathResult](t, doJSON(t, router, http.MethodGet, "/v1/knowledge/paths?source=A&target=C", nil))
	assert.Equal(t, [][]string{{"A", "B", "C"}}, res.Paths)
}

func TestService_ReplaceKeepsConcurrentIngest(t *testing.T) {
	journal, err := store.Open(store.InMemoryConfig(), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })

	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	_, err = svc.AttachJournal(context.Background(), journal)
	require.NoError(t, err)

	seed := make([]graph.EntityRecord, 10000)
	for i := range seed {
		seed[i] = graph.EntityRecord{EntityName: fmt.Sprintf("seed-%d", i), EntityType: "T", Confidence: 1}
	}
	resp, err := svc.AddEntities(seed)
	require.NoError(t, err)
	require.True(t, resp.Journaled)

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Replace(graph.NewEngine(svc.EngineOptions()...), nil)
	}()

	// Keep ingesting until the reload finishes so some writes land while
	// the journal is being replayed.
	var late []string
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		name := fmt.Sprintf("late-%d", len(late))
		resp, err := svc.AddEntities([]graph.EntityRecord{{EntityName: name, EntityType: "T", Confidence: 1}})
		require.NoError(t, err)
		require.True(t, resp.Journaled)
		late = append(late, name)
	}

	assert.Equal(t, 1, svc.Health().Reloads)
	assert.Equal(t, 10000+len(late), svc.Health().Entities)
	for _, name := range late {
		_, err := svc.GetEntity(name)
		assert.NoError(t, err, "acknowledged ingest %s lost by reload", name)
	}
	assert.Equal(t, 10000+len(late), journal.Len())
}

func TestHandlers_ErrorsCarryTraceID(t *testing.T) {
	var logs bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(previous) })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := gin.New()
	router.Use(otelgin.Middleware("knowledge-test", otelgin.WithTracerProvider(tp)))
	RegisterRoutes(router.Group("/v1"), NewHandlers(svc))

	req := httptest.NewRequest(http.MethodGet, "/v1/knowledge/entities/missing", nil)
	req.Header.Set("X-Request-ID", "req-trace-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "ENTITY_NOT_FOUND", resp.Code)
	require.Len(t, resp.TraceID, 32)

	assert.Contains(t, logs.String(), `"trace_id":"`+resp.TraceID+`"`)
	assert.Contains(t, logs.String(), `"request_id":"req-trace-1"`)
}

func TestService_AnalysisVersionDetectsLaterIngest(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	seedScenario(t, setupTestRouter(svc))

	job, err := svc.RunCentrality(context.Background())
	require.NoError(t, err)
	require.Equal(t, jobs.StateSucceeded, job.State)
	result, ok := job.Result.(*CentralityResponse)
	require.True(t, ok)
	assert.Equal(t, svc.Health().GraphVersion, result.Version)

	info, err := svc.GetEntity("C")
	require.NoError(t, err)
	require.NotNil(t, info.Centrality)

	_, err = svc.AddEntities([]graph.EntityRecord{{EntityName: "D", EntityType: "T", Confidence: 1}})
	require.NoError(t, err)

	assert.Greater(t, svc.Health().GraphVersion, result.Version)
	info, err = svc.GetEntity("C")
	require.NoError(t, err)
	assert.Nil(t, info.Centrality, "annotations from an older version are not served")
}

func TestNewRouter(t *testing.T) {
	svc := newTestService(t, DefaultServiceConfig(), jobs.DefaultConfig())
	router := NewRouter(NewHandlers(svc), RouterConfig{ServiceName: "knowledge-test", MaxBodyBytes: 64})

	w := doJSON(t, router, http.MethodGet, "/v1/knowledge/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	big := AddEntitiesRequest{Entities: []graph.EntityRecord{{EntityName: strings.Repeat("x", 256), EntityType: "T"}}}
	w = doJSON(t, router, http.MethodPost, "/v1/knowledge/entities", big)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
