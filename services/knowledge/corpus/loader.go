// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package corpus builds knowledge graphs from extraction output files and
// rebuilds them when those files change.
//
// A corpus file is one JSON document:
//
//	{
//	  "entities":      [{"entity_name": "...", "entity_type": "...", ...}],
//	  "relationships": [{"src_name": "...", "tgt_name": "...", ...}]
//	}
//
// Entities are registered before relationships. Records that fail
// validation or reference unknown entities are skipped and counted in the
// Report; only an unreadable or malformed document is an error.
package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/AleutianKG/services/knowledge/graph"
)

// recordCheckInterval is how often loading checks the context.
const recordCheckInterval = 1024

// maxIssues caps the issues kept in a Report.
const maxIssues = 100

// ErrMalformedCorpus is returned when the document is not a valid corpus.
var ErrMalformedCorpus = errors.New("malformed corpus")

// Document is the on-disk corpus format.
type Document struct {
	Entities      []graph.EntityRecord       `json:"entities"`
	Relationships []graph.RelationshipRecord `json:"relationships"`
}

// Issue describes one skipped record.
type Issue struct {
	// Kind is "entity" or "relationship".
	Kind string `json:"kind"`

	// Index is the record's position in its array.
	Index int `json:"index"`

	Reason string `json:"reason"`
}

// Report summarizes a load.
type Report struct {
	Source string `json:"source"`

	EntitiesAdded         int `json:"entities_added"`
	DuplicateEntities     int `json:"duplicate_entities"`
	InvalidEntities       int `json:"invalid_entities"`
	RelationshipsAdded    int `json:"relationships_added"`
	InvalidRelationships  int `json:"invalid_relationships"`
	DanglingRelationships int `json:"dangling_relationships"`

	// Issues lists skipped records, capped at the first 100.
	Issues []Issue `json:"issues"`

	Duration time.Duration `json:"duration"`
}

// Skipped returns the total number of records not added.
func (r *Report) Skipped() int {
	return r.InvalidEntities + r.InvalidRelationships + r.DanglingRelationships
}

func (r *Report) addIssue(kind string, index int, err error) {
	if len(r.Issues) < maxIssues {
		r.Issues = append(r.Issues, Issue{Kind: kind, Index: index, Reason: err.Error()})
	}
}

// LoadFile reads the corpus at path into a new engine.
//
// Outputs:
//
//	*graph.Engine - The populated engine.
//	*Report - What was added and skipped.
//	error - Open failure, ErrMalformedCorpus, or ctx.Err().
func LoadFile(ctx context.Context, path string, opts ...graph.EngineOption) (*graph.Engine, *Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	e, report, err := Load(ctx, f, opts...)
	if report != nil {
		report.Source = path
	}
	return e, report, err
}

// Load decodes a corpus document from r into a new engine.
//
// Description:
//
//	Decodes the whole document, then registers every entity record and
//	every relationship record in document order. Re-registered names are
//	counted as duplicates; the first occurrence wins. Invalid records and
//	relationships with a missing endpoint are skipped with an Issue.
//
// Inputs:
//
//	ctx - Checked between records.
//	r - JSON document.
//	opts - Options for the new engine.
//
// Outputs:
//
//	*graph.Engine - The populated engine. Nil on error.
//	*Report - Load summary. Nil on error.
//	error - ErrMalformedCorpus or ctx.Err().
func Load(ctx context.Context, r io.Reader, opts ...graph.EngineOption) (*graph.Engine, *Report, error) {
	start := time.Now()

	var doc Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedCorpus, err)
	}

	e := graph.NewEngine(opts...)
	report := &Report{Issues: make([]Issue, 0)}

	for i, rec := range doc.Entities {
		if i%recordCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		before := e.EntityCount()
		if _, err := e.AddEntityRecord(rec); err != nil {
			report.InvalidEntities++
			report.addIssue("entity", i, err)
			continue
		}
		if e.EntityCount() == before {
			report.DuplicateEntities++
		} else {
			report.EntitiesAdded++
		}
	}

	for i, rec := range doc.Relationships {
		if i%recordCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		if _, err := e.AddRelationshipRecord(rec); err != nil {
			if errors.Is(err, graph.ErrEntityNotFound) {
				report.DanglingRelationships++
			} else {
				report.InvalidRelationships++
			}
			report.addIssue("relationship", i, err)
			continue
		}
		report.RelationshipsAdded++
	}

	report.Duration = time.Since(start)
	return e, report, nil
}

// LogValue renders the report counters for structured logging.
func (r *Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("source", r.Source),
		slog.Int("entities_added", r.EntitiesAdded),
		slog.Int("duplicate_entities", r.DuplicateEntities),
		slog.Int("invalid_entities", r.InvalidEntities),
		slog.Int("relationships_added", r.RelationshipsAdded),
		slog.Int("invalid_relationships", r.InvalidRelationships),
		slog.Int("dangling_relationships", r.DanglingRelationships),
		slog.Duration("duration", r.Duration),
	)
}
