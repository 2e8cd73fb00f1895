// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package knowledge provides the knowledge graph HTTP service.
//
// The service exposes endpoints for:
//   - Ingesting extracted entity and relationship records
//   - Neighbor, path and subgraph retrieval
//   - Centrality and community analysis as background jobs
//   - Exporting the graph and its statistics
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianKG/services/knowledge/corpus"
	"github.com/AleutianAI/AleutianKG/services/knowledge/graph"
	"github.com/AleutianAI/AleutianKG/services/knowledge/jobs"
	"github.com/AleutianAI/AleutianKG/services/knowledge/store"
)

// Job kinds submitted to the runner.
const (
	JobKindCentrality  = "centrality"
	JobKindCommunities = "communities"
)

// ServiceConfig configures the knowledge service.
type ServiceConfig struct {
	// Limits bounds path and neighbor queries.
	Limits graph.Limits

	// Centrality holds the PageRank parameters used by analysis jobs.
	Centrality graph.CentralityOptions

	// TopK is how many ranked entities a centrality job reports.
	// Default: 20
	TopK int

	// MaxBatch caps the records accepted by one ingest request.
	// Default: 10000
	MaxBatch int
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Limits:     graph.DefaultLimits(),
		Centrality: *graph.DefaultCentralityOptions(),
		TopK:       20,
		MaxBatch:   10000,
	}
}

// Service owns the current knowledge graph.
//
// Thread Safety:
//
//	Service is safe for concurrent use. Queries share a read lock;
//	ingestion, analysis and corpus reloads take the write lock because
//	they mutate the engine or its annotations.
type Service struct {
	config ServiceConfig
	runner *jobs.Runner
	logger *slog.Logger

	// journal is optional. When set, ingested records are appended to it
	// and replayed onto every reloaded corpus.
	journal *store.Journal

	mu       sync.RWMutex
	engine   *graph.Engine
	report   *corpus.Report
	loadedAt time.Time
	reloads  int
}

// NewService creates a knowledge service around an empty graph.
//
// Inputs:
//
//	config - Service configuration. Zero TopK and MaxBatch take defaults.
//	runner - Executes analysis jobs. Must not be nil.
//	logger - Logger for the service and its engines. Nil uses slog.Default().
//
// Outputs:
//
//	*Service - The ready service.
func NewService(config ServiceConfig, runner *jobs.Runner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	d := DefaultServiceConfig()
	if config.TopK <= 0 {
		config.TopK = d.TopK
	}
	if config.MaxBatch <= 0 {
		config.MaxBatch = d.MaxBatch
	}
	s := &Service{
		config:   config,
		runner:   runner,
		logger:   logger.With(slog.String("component", "knowledge")),
		loadedAt: time.Now(),
	}
	s.engine = graph.NewEngine(s.EngineOptions()...)
	return s
}

// EngineOptions returns the options every engine owned by the service is
// built with. Corpus loaders use them so reloaded graphs keep the limits.
func (s *Service) EngineOptions() []graph.EngineOption {
	return []graph.EngineOption{
		graph.WithLogger(s.logger),
		graph.WithLimits(s.config.Limits),
	}
}

// AttachJournal replays j onto the current graph and journals all
// subsequent ingests to it.
//
// Description:
//
//	Call once at startup, after the corpus has been loaded. The service
//	does not close the journal.
//
// Outputs:
//
//	store.ReplayStats - What the replay applied.
//	error - Replay failure. The journal is not attached on error.
func (s *Service) AttachJournal(ctx context.Context, j *store.Journal) (store.ReplayStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := j.Replay(ctx, s.engine)
	if err != nil {
		return stats, fmt.Errorf("replay journal: %w", err)
	}
	s.journal = j
	return stats, nil
}

// Replace swaps in a freshly loaded graph.
//
// Description:
//
//	Matches corpus.ReloadFunc so it can be handed to a corpus.Watcher.
//	When a journal is attached it is replayed onto engine first, so
//	records ingested through the API survive the reload. The bulk of the
//	replay runs without the service lock; entries appended meanwhile are
//	applied under the lock right before the swap, so no acknowledged
//	ingest is lost. Blocks while an analysis job holds the graph.
//
// Inputs:
//
//	engine - The new graph. Nil is ignored.
//	report - The load report, may be nil.
func (s *Service) Replace(engine *graph.Engine, report *corpus.Report) {
	if engine == nil {
		return
	}
	ctx := context.Background()

	s.mu.RLock()
	journal := s.journal
	s.mu.RUnlock()

	var replayed store.ReplayStats
	if journal != nil {
		stats, err := journal.Replay(ctx, engine)
		if err != nil {
			s.logger.Error("journal replay failed, keeping current graph", slog.String("error", err.Error()))
			return
		}
		replayed = stats
	}

	s.mu.Lock()
	if s.journal != nil {
		from := replayed.Next
		if s.journal != journal {
			from = 0
		}
		if _, err := s.journal.ReplayFrom(ctx, engine, from); err != nil {
			s.mu.Unlock()
			s.logger.Error("journal catch-up failed, keeping current graph", slog.String("error", err.Error()))
			return
		}
	}
	s.engine = engine
	s.report = report
	s.loadedAt = time.Now()
	s.reloads++
	s.mu.Unlock()

	s.logger.Info("graph replaced",
		slog.Int("entities", engine.EntityCount()),
		slog.Int("relationships", engine.RelationshipCount()),
	)
}

// Health returns liveness information about the current graph.
func (s *Service) Health() *HealthResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &HealthResponse{
		Status:        "healthy",
		Version:       ServiceVersion,
		GraphVersion:  s.engine.Version(),
		Entities:      s.engine.EntityCount(),
		Relationships: s.engine.RelationshipCount(),
		LoadedAt:      s.loadedAt,
		Reloads:       s.reloads,
		Corpus:        s.report,
	}
}

// AddEntities ingests a batch of entity records.
//
// Description:
//
//	Records are validated and added in order. A failing record is
//	reported and skipped; it does not abort the batch. Re-adding an
//	existing name returns the existing id.
//
// Outputs:
//
//	*IngestResponse - Per-batch counts and the failures.
//	error - Wraps graph.ErrInvalidRecord if the batch exceeds MaxBatch.
func (s *Service) AddEntities(records []graph.EntityRecord) (*IngestResponse, error) {
	if len(records) > s.config.MaxBatch {
		return nil, fmt.Errorf("%w: batch of %d exceeds %d", graph.ErrInvalidRecord, len(records), s.config.MaxBatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &IngestResponse{Failures: []IngestFailure{}}
	accepted := make([]graph.EntityRecord, 0, len(records))
	for i, rec := range records {
		before := s.engine.EntityCount()
		id, err := s.engine.AddEntityRecord(rec)
		if err != nil {
			resp.Failures = append(resp.Failures, IngestFailure{Index: i, Error: err.Error()})
			continue
		}
		if s.engine.EntityCount() > before {
			resp.Added++
			accepted = append(accepted, rec)
		} else {
			resp.Duplicates++
		}
		resp.IDs = append(resp.IDs, int(id))
	}
	resp.Version = s.engine.Version()
	if s.journal != nil {
		resp.Journaled = s.journalAppend(s.journal.AppendEntities(accepted))
	}
	return resp, nil
}

// AddRelationships ingests a batch of relationship records.
//
// Relationships whose endpoints are not registered are reported as
// failures wrapping graph.ErrEntityNotFound.
func (s *Service) AddRelationships(records []graph.RelationshipRecord) (*IngestResponse, error) {
	if len(records) > s.config.MaxBatch {
		return nil, fmt.Errorf("%w: batch of %d exceeds %d", graph.ErrInvalidRecord, len(records), s.config.MaxBatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	resp := &IngestResponse{Failures: []IngestFailure{}}
	accepted := make([]graph.RelationshipRecord, 0, len(records))
	for i, rec := range records {
		id, err := s.engine.AddRelationshipRecord(rec)
		if err != nil {
			resp.Failures = append(resp.Failures, IngestFailure{Index: i, Error: err.Error()})
			continue
		}
		resp.Added++
		resp.IDs = append(resp.IDs, int(id))
		accepted = append(accepted, rec)
	}
	resp.Version = s.engine.Version()
	if s.journal != nil {
		resp.Journaled = s.journalAppend(s.journal.AppendRelationships(accepted))
	}
	return resp, nil
}

// journalAppend logs a failed append. The graph keeps the records either way.
func (s *Service) journalAppend(err error) bool {
	if err != nil {
		s.logger.Error("journal append failed", slog.String("error", err.Error()))
		return false
	}
	return true
}

// GetEntity returns the entity with the given name.
//
// Outputs:
//
//	*EntityInfo - The entity with its annotations.
//	error - Wraps graph.ErrEntityNotFound if the name is unknown.
func (s *Service) GetEntity(name string) (*EntityInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ent, ok := s.engine.GetByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrEntityNotFound, name)
	}
	info := s.entityInfo(ent)
	info.Outgoing = s.engine.OutgoingRelationships(name)
	return &info, nil
}

// ListEntities returns entities filtered by type or name prefix.
//
// Description:
//
//	If entityType is set the type index is used, otherwise the ordered
//	name index is scanned from prefix. An empty prefix lists entities in
//	name order. limit <= 0 means no limit.
func (s *Service) ListEntities(entityType, prefix string, limit int) []EntityInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ents []graph.Entity
	if entityType != "" {
		ents = s.engine.GetByType(entityType)
		if limit > 0 && len(ents) > limit {
			ents = ents[:limit]
		}
	} else {
		ents = s.engine.EntitiesWithPrefix(prefix, limit)
	}
	return s.entityInfos(ents)
}

// Neighbors returns entities reachable from name within depth out-edges.
func (s *Service) Neighbors(name string, depth int) ([]EntityInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ents, err := s.engine.Neighbors(name, depth)
	if err != nil {
		return nil, err
	}
	return s.entityInfos(ents), nil
}

// FindPaths enumerates simple directed paths from source to target.
//
// Outputs:
//
//	*graph.PathResult - The paths. Non-nil with Truncated set when the
//	    path count limit was hit, alongside an ErrLimitExceeded error.
//	error - graph.ErrLimitExceeded or ctx.Err().
func (s *Service) FindPaths(ctx context.Context, source, target string, maxLength int) (*graph.PathResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.FindPaths(ctx, source, target, maxLength)
}

// Subgraph exports the subgraph induced by names expanded depth hops.
func (s *Service) Subgraph(names []string, depth int) graph.Export {
	s.mu.RLock()
	sub := s.engine.Subgraph(names, depth)
	s.mu.RUnlock()
	return sub.Export()
}

// Export returns a snapshot of the whole graph.
func (s *Service) Export() graph.Export {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Export()
}

// Statistics returns graph-level statistics.
func (s *Service) Statistics() graph.Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine.Statistics()
}

// SubmitCentrality schedules a centrality analysis job.
//
// Concurrent submissions share one run. The result's Version is the graph
// version the scores were computed on; a HealthResponse.GraphVersion above
// it means ingests have landed since and the annotations are stale.
func (s *Service) SubmitCentrality() (jobs.Job, error) {
	return s.runner.Submit(JobKindCentrality, s.centralityJob)
}

// SubmitCommunities schedules a community detection job.
// Staleness works as for SubmitCentrality.
func (s *Service) SubmitCommunities() (jobs.Job, error) {
	return s.runner.Submit(JobKindCommunities, s.communitiesJob)
}

// RunCentrality runs a centrality analysis and waits for it.
func (s *Service) RunCentrality(ctx context.Context) (jobs.Job, error) {
	return s.runner.Run(ctx, JobKindCentrality, s.centralityJob)
}

// RunCommunities runs community detection and waits for it.
func (s *Service) RunCommunities(ctx context.Context) (jobs.Job, error) {
	return s.runner.Run(ctx, JobKindCommunities, s.communitiesJob)
}

// Job returns a snapshot of a submitted job.
func (s *Service) Job(id string) (jobs.Job, error) {
	return s.runner.Get(id)
}

func (s *Service) centralityJob(ctx context.Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := s.config.Centrality
	res, err := s.engine.ComputeCentrality(ctx, &opts)
	if err != nil {
		return nil, err
	}
	top := s.engine.TopCentral(s.config.TopK)
	return &CentralityResponse{
		Version:    s.engine.Version(),
		Iterations: res.Iterations,
		Converged:  res.Converged,
		Delta:      res.Delta,
		Top:        top,
	}, nil
}

func (s *Service) communitiesJob(ctx context.Context) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.engine.DetectCommunities(ctx)
	if err != nil {
		return nil, err
	}
	communities := make([]CommunityInfo, res.Count())
	for cid := 0; cid < res.Count(); cid++ {
		members := res.Communities[cid]
		names := make([]string, 0, len(members))
		for _, id := range members {
			if ent, ok := s.engine.Entity(id); ok {
				names = append(names, ent.Name)
			}
		}
		communities[cid] = CommunityInfo{ID: cid, Size: len(members), Members: names}
	}
	return &CommunityResponse{
		Version:     s.engine.Version(),
		Count:       res.Count(),
		Modularity:  res.Modularity,
		Merges:      res.Merges,
		Communities: communities,
	}, nil
}

// entityInfo must be called with s.mu held.
func (s *Service) entityInfo(ent graph.Entity) EntityInfo {
	info := EntityInfo{Entity: ent}
	if score, ok := s.engine.Centrality(ent.ID); ok {
		info.Centrality = &score
	}
	if cid, ok := s.engine.CommunityOf(ent.ID); ok {
		info.CommunityID = &cid
	}
	return info
}

func (s *Service) entityInfos(ents []graph.Entity) []EntityInfo {
	out := make([]EntityInfo, len(ents))
	for i, ent := range ents {
		out[i] = s.entityInfo(ent)
	}
	return out
}
