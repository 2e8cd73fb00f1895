// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianKG/services/knowledge/graph"
	"github.com/dgraph-io/badger/v4"
)

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal closed")

// Entry kinds.
const (
	KindEntity       = "entity"
	KindRelationship = "relationship"
)

// journalPrefix namespaces entry keys. Keys are the prefix followed by a
// big-endian sequence number, so key order is arrival order.
var journalPrefix = []byte("journal/")

// replayCheckInterval is how often Replay checks the context.
const replayCheckInterval = 1024

// Entry is one journaled record.
type Entry struct {
	Kind         string                    `json:"kind"`
	Entity       *graph.EntityRecord       `json:"entity,omitempty"`
	Relationship *graph.RelationshipRecord `json:"relationship,omitempty"`
}

// ReplayStats summarizes a Replay.
type ReplayStats struct {
	Entries       int `json:"entries"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`

	// Rejected counts entries the engine did not accept, e.g. a
	// relationship whose endpoint no longer exists.
	Rejected int `json:"rejected"`

	// Next is the sequence number after the last entry read. Pass it to
	// ReplayFrom to apply only entries appended since.
	Next uint64 `json:"next"`
}

// Journal is an append-only log of ingested records.
//
// Thread Safety: Safe for concurrent use.
type Journal struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger

	mu     sync.Mutex
	next   uint64
	closed bool

	// replays tracks in-flight Replay calls so Close can wait for them.
	replays sync.WaitGroup
}

// Open opens the journal described by cfg.
//
// Inputs:
//
//	cfg - Journal configuration. Must be Enabled().
//	logger - Receives BadgerDB and journal messages. Nil uses slog.Default().
//
// Outputs:
//
//	*Journal - The opened journal. Caller must call Close() when done.
//	error - Non-nil if the database cannot be opened or scanned.
func Open(cfg Config, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "journal"))

	db, err := openDB(cfg, logger)
	if err != nil {
		return nil, err
	}

	next, err := lastSequence(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	j := &Journal{db: db, logger: logger, next: next}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		j.gc = newGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
	}
	logger.Info("journal opened", slog.Uint64("entries", next), slog.Bool("in_memory", cfg.InMemory))
	return j, nil
}

// lastSequence returns the sequence number after the newest entry.
func lastSequence(db *badger.DB) (uint64, error) {
	var next uint64
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(append([]byte{}, journalPrefix...), 0xFF))
		if it.ValidForPrefix(journalPrefix) {
			key := it.Item().Key()
			if len(key) != len(journalPrefix)+8 {
				return fmt.Errorf("corrupt journal key %q", key)
			}
			next = binary.BigEndian.Uint64(key[len(journalPrefix):]) + 1
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan journal: %w", err)
	}
	return next, nil
}

func entryKey(seq uint64) []byte {
	key := make([]byte, len(journalPrefix)+8)
	copy(key, journalPrefix)
	binary.BigEndian.PutUint64(key[len(journalPrefix):], seq)
	return key
}

// AppendEntities journals entity records in order.
func (j *Journal) AppendEntities(records []graph.EntityRecord) error {
	entries := make([]Entry, len(records))
	for i := range records {
		entries[i] = Entry{Kind: KindEntity, Entity: &records[i]}
	}
	return j.append(entries)
}

// AppendRelationships journals relationship records in order.
func (j *Journal) AppendRelationships(records []graph.RelationshipRecord) error {
	entries := make([]Entry, len(records))
	for i := range records {
		entries[i] = Entry{Kind: KindRelationship, Relationship: &records[i]}
	}
	return j.append(entries)
}

func (j *Journal) append(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}

	wb := j.db.NewWriteBatch()
	defer wb.Cancel()
	seq := j.next
	for _, e := range entries {
		val, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode journal entry: %w", err)
		}
		if err := wb.Set(entryKey(seq), val); err != nil {
			return fmt.Errorf("write journal entry: %w", err)
		}
		seq++
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	j.next = seq
	return nil
}

// Len returns the number of journaled entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return int(j.next)
}

// Replay applies every entry to e in arrival order.
// It is ReplayFrom starting at the first entry.
func (j *Journal) Replay(ctx context.Context, e *graph.Engine) (ReplayStats, error) {
	return j.ReplayFrom(ctx, e, 0)
}

// ReplayFrom applies the entries with sequence number from or later to e,
// in arrival order.
//
// Description:
//
//	Entity entries go through AddEntityRecord and relationship entries
//	through AddRelationshipRecord, so duplicates are deduplicated and
//	relationships whose endpoints are missing are rejected exactly as
//	during ingestion. Rejections are counted, not returned.
//
//	Close waits for in-flight replays before closing the database.
//
// Inputs:
//
//	ctx - Checked every 1024 entries.
//	e - The engine to populate. The caller must own it exclusively.
//	from - First sequence number to apply. Use ReplayStats.Next of an
//	earlier replay to pick up where it stopped.
//
// Outputs:
//
//	ReplayStats - What was applied.
//	error - Decode failure, ctx.Err() or ErrClosed.
func (j *Journal) ReplayFrom(ctx context.Context, e *graph.Engine, from uint64) (ReplayStats, error) {
	stats := ReplayStats{Next: from}

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return stats, ErrClosed
	}
	j.replays.Add(1)
	j.mu.Unlock()
	defer j.replays.Done()

	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(entryKey(from)); it.ValidForPrefix(journalPrefix); it.Next() {
			if stats.Entries%replayCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			key := it.Item().Key()
			if err != nil {
				return fmt.Errorf("decode journal entry %q: %w", key, err)
			}
			if len(key) != len(journalPrefix)+8 {
				return fmt.Errorf("corrupt journal key %q", key)
			}
			stats.Next = binary.BigEndian.Uint64(key[len(journalPrefix):]) + 1
			stats.Entries++
			j.apply(e, entry, &stats)
		}
		return nil
	})
	if err != nil {
		return stats, err
	}

	j.logger.Info("journal replayed",
		slog.Uint64("from", from),
		slog.Int("entries", stats.Entries),
		slog.Int("rejected", stats.Rejected),
	)
	return stats, nil
}

func (j *Journal) apply(e *graph.Engine, entry Entry, stats *ReplayStats) {
	var err error
	switch {
	case entry.Kind == KindEntity && entry.Entity != nil:
		before := e.EntityCount()
		_, err = e.AddEntityRecord(*entry.Entity)
		if err == nil && e.EntityCount() > before {
			stats.Entities++
		}
	case entry.Kind == KindRelationship && entry.Relationship != nil:
		_, err = e.AddRelationshipRecord(*entry.Relationship)
		if err == nil {
			stats.Relationships++
		}
	default:
		err = fmt.Errorf("unknown journal entry kind %q", entry.Kind)
	}
	if err != nil {
		stats.Rejected++
		j.logger.Debug("journal entry rejected", slog.String("error", err.Error()))
	}
}

// Close stops garbage collection and closes the database once in-flight
// replays have finished. Safe to call multiple times.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	j.replays.Wait()

	if j.gc != nil {
		j.gc.stop()
	}
	return j.db.Close()
}
