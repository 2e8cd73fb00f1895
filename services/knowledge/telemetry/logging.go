// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/otel/trace"
)

// Log output formats.
const (
	// LogFormatAuto picks LogFormatConsole on a terminal, LogFormatJSON otherwise.
	LogFormatAuto    = "auto"
	LogFormatJSON    = "json"
	LogFormatText    = "text"
	LogFormatConsole = "console"
)

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info
	Level string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`

	// Format is auto, json, text or console. Default: auto
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=auto json text console"`
}

// DefaultLogConfig returns info-level logging with automatic format.
func DefaultLogConfig() LogConfig {
	return LogConfig{Level: "info", Format: LogFormatAuto}
}

// NewLogger builds the process logger.
//
// Description:
//
//	Console output uses charmbracelet/log, which implements slog.Handler,
//	so callers only ever see *slog.Logger. JSON and text use the slog
//	handlers. With LogFormatAuto the console handler is chosen only when w
//	is a terminal.
//
// Inputs:
//
//	cfg - Level and format.
//	w - Destination, usually os.Stderr.
//
// Outputs:
//
//	*slog.Logger - The logger.
//	error - Non-nil for an unknown level or format.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" || format == LogFormatAuto {
		format = LogFormatJSON
		if isTerminal(w) {
			format = LogFormatConsole
		}
	}

	switch format {
	case LogFormatConsole:
		handler := charmlog.NewWithOptions(w, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			Level:           charmlog.Level(level),
		})
		return slog.New(handler), nil
	case LogFormatJSON:
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
	case LogFormatText:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownLogFormat, cfg.Format)
	}
}

// isTerminal reports whether w is a file attached to a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// LoggerWithTrace returns logger annotated with the trace and span ids
// from ctx. Returns logger unchanged if ctx carries no valid span.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if ctx == nil {
		return logger
	}
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
