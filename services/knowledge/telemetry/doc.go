// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry and process logging for the
// knowledge service.
//
// Init configures the global TracerProvider, MeterProvider and text map
// propagator from Config. Engine and HTTP code then use otel.Tracer and
// otel.Meter directly; backends are swapped by changing exporters, not
// code.
//
// # Exporters
//
// Traces: "otlp" (gRPC), "stdout", or "none".
// Metrics: "prometheus" (served by MetricsHandler), "stdout", or "none".
//
// # Logging
//
// NewLogger builds the process *slog.Logger. On an interactive terminal it
// renders with charmbracelet/log; otherwise it writes JSON lines.
// LoggerWithTrace adds trace_id and span_id for log correlation.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
package telemetry

import "errors"

var (
	// ErrNilContext is returned when a nil context is passed to Init.
	ErrNilContext = errors.New("context must not be nil")

	// ErrUnknownExporter is returned for an unsupported exporter name.
	ErrUnknownExporter = errors.New("unknown exporter")

	// ErrUnknownLogFormat is returned for an unsupported log format.
	ErrUnknownLogFormat = errors.New("unknown log format")
)
