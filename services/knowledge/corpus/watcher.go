// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianKG/services/knowledge/graph"
)

// ReloadFunc receives a freshly built engine after the corpus file changes.
type ReloadFunc func(e *graph.Engine, report *Report)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is how long to wait for more events before rebuilding.
	// Default: 500ms
	Debounce time.Duration

	// Logger receives reload and error messages. Default: slog.Default()
	Logger *slog.Logger

	// EngineOptions are passed to every rebuilt engine.
	EngineOptions []graph.EngineOption
}

// Watcher rebuilds the graph when the corpus file changes.
//
// # Description
//
// Watches the corpus file's directory rather than the file itself, so
// editors and pipelines that replace the file by rename are still seen.
// Events for other files are ignored. Bursts of events are coalesced with
// a debounce window, then the whole graph is rebuilt from the file and
// handed to the ReloadFunc. A rebuild that fails is logged and the
// callback is not invoked, so the caller keeps serving its current graph.
//
// # Thread Safety
//
// Safe for concurrent use. The callback is called from a single goroutine.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload ReloadFunc
	debounce time.Duration
	logger   *slog.Logger
	engOpts  []graph.EngineOption

	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
	reloads  int
}

// NewWatcher creates a watcher for the corpus at path.
//
// # Example
//
//	w, err := corpus.NewWatcher(path, svc.Replace, corpus.WatcherOptions{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	if err := w.Start(ctx); err != nil {
//	    return err
//	}
func NewWatcher(path string, onReload ReloadFunc, opts WatcherOptions) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve corpus path: %w", err)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		path:     abs,
		watcher:  fw,
		onReload: onReload,
		debounce: opts.Debounce,
		logger:   opts.Logger.With(slog.String("component", "corpus_watcher"), slog.String("path", abs)),
		engOpts:  opts.EngineOptions,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching. It returns once the watch is registered; events
// are handled on a background goroutine until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
		return fmt.Errorf("watch corpus directory: %w", err)
	}

	go w.loop(ctx)
	return nil
}

// Stop stops the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching returns true if the watcher is active.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

// Reloads returns the number of successful rebuilds.
func (w *Watcher) Reloads() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reloads
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			// A removed or renamed-away file is rebuilt once it reappears.
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("corpus watch error", slog.String("error", err.Error()))

		case <-timerC:
			timer = nil
			timerC = nil
			w.rebuild(ctx)
		}
	}
}

func (w *Watcher) rebuild(ctx context.Context) {
	e, report, err := LoadFile(ctx, w.path, w.engOpts...)
	if err != nil {
		w.logger.Warn("corpus rebuild failed, keeping current graph", slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()

	w.logger.Info("corpus rebuilt", slog.Any("report", report))
	if w.onReload != nil {
		w.onReload(e, report)
	}
}
