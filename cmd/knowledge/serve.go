// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/AleutianKG/services/knowledge"
	"github.com/AleutianAI/AleutianKG/services/knowledge/config"
	"github.com/AleutianAI/AleutianKG/services/knowledge/corpus"
	"github.com/AleutianAI/AleutianKG/services/knowledge/jobs"
	"github.com/AleutianAI/AleutianKG/services/knowledge/store"
	"github.com/AleutianAI/AleutianKG/services/knowledge/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		envFiles   []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the knowledge graph HTTP service",
		Long: `Loads the configuration, the optional startup corpus and serves the
knowledge API under /v1/knowledge until interrupted.

Configuration precedence (lowest first): defaults, --config YAML file,
--env-file dotenv files, KG_* environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath, envFiles...)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
	cmd.Flags().StringSliceVar(&envFiles, "env-file", nil, "Dotenv files to load (missing files are skipped)")
	return cmd
}

// serve runs the HTTP service until ctx ends.
func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := telemetry.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	runner := jobs.NewRunner(cfg.Jobs, logger)
	svc := knowledge.NewService(knowledge.ServiceConfig{
		Limits:     cfg.Engine,
		Centrality: cfg.Centrality,
	}, runner, logger)

	if cfg.Corpus.Path != "" {
		engine, report, err := corpus.LoadFile(ctx, cfg.Corpus.Path, svc.EngineOptions()...)
		if err != nil {
			return fmt.Errorf("load corpus: %w", err)
		}
		logger.Info("Corpus loaded", slog.Any("report", report))
		svc.Replace(engine, report)
	}

	if cfg.Store.Enabled() {
		journal, err := store.Open(cfg.Store, logger)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer journal.Close()
		stats, err := svc.AttachJournal(ctx, journal)
		if err != nil {
			return err
		}
		logger.Info("Journal attached", slog.Any("replay", stats))
	}

	if cfg.Corpus.Path != "" && cfg.Corpus.Watch {
		watcher, err := corpus.NewWatcher(cfg.Corpus.Path, svc.Replace, corpus.WatcherOptions{
			Debounce:      cfg.Corpus.Debounce,
			Logger:        logger,
			EngineOptions: svc.EngineOptions(),
		})
		if err != nil {
			return fmt.Errorf("create corpus watcher: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("start corpus watcher: %w", err)
		}
		defer watcher.Stop()
	}

	gin.SetMode(cfg.Server.Mode)
	router := knowledge.NewRouter(knowledge.NewHandlers(svc), knowledge.RouterConfig{
		ServiceName:  cfg.Telemetry.ServiceName,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		AccessLog:    cfg.Server.Mode == gin.DebugMode,
	})

	server := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting knowledge server", slog.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down knowledge server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	var errs []error
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("job runner shutdown: %w", err))
	}
	return errors.Join(errs...)
}
