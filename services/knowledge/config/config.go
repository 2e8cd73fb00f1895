// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads knowledge service configuration.
//
// Precedence, lowest to highest: DefaultConfig, the YAML file, .env files,
// then KG_* environment variables. The merged result is validated before
// it is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianKG/services/knowledge/graph"
	"github.com/AleutianAI/AleutianKG/services/knowledge/jobs"
	"github.com/AleutianAI/AleutianKG/services/knowledge/store"
	"github.com/AleutianAI/AleutianKG/services/knowledge/telemetry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KG_"

// ErrInvalidConfig is returned when the merged configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete service configuration.
type Config struct {
	Server     ServerConfig            `yaml:"server" envPrefix:"SERVER_"`
	Corpus     CorpusConfig            `yaml:"corpus" envPrefix:"CORPUS_"`
	Engine     graph.Limits            `yaml:"engine" envPrefix:"ENGINE_"`
	Centrality graph.CentralityOptions `yaml:"centrality" envPrefix:"CENTRALITY_"`
	Jobs       jobs.Config             `yaml:"jobs" envPrefix:"JOBS_"`
	Store      store.Config            `yaml:"store" envPrefix:"STORE_"`
	Telemetry  telemetry.Config        `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Log        telemetry.LogConfig     `yaml:"log" envPrefix:"LOG_"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Address is the listen address. Default: ":8080"
	Address string `yaml:"address" env:"ADDRESS" validate:"required"`

	// Mode is the gin mode: debug, release or test. Default: release
	Mode string `yaml:"mode" env:"MODE" validate:"oneof=debug release test"`

	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gte=0"`

	// MaxBodyBytes caps request bodies. Default: 32 MiB
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES" validate:"gt=0"`
}

// CorpusConfig controls the corpus loaded at startup.
type CorpusConfig struct {
	// Path is the corpus JSON file. Empty starts with an empty graph.
	Path string `yaml:"path" env:"PATH"`

	// Watch rebuilds the graph when the file changes.
	Watch bool `yaml:"watch" env:"WATCH"`

	// Debounce coalesces bursts of file events. Default: 500ms
	Debounce time.Duration `yaml:"debounce" env:"DEBOUNCE" validate:"gte=0"`
}

// DefaultConfig returns the defaults every other source overrides.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			Mode:            "release",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    32 << 20,
		},
		Corpus: CorpusConfig{
			Debounce: 500 * time.Millisecond,
		},
		Engine:     graph.DefaultLimits(),
		Centrality: *graph.DefaultCentralityOptions(),
		Jobs:       jobs.DefaultConfig(),
		Store:      store.DefaultConfig(),
		Telemetry:  telemetry.DefaultConfig(),
		Log:        telemetry.DefaultLogConfig(),
	}
}

// Load builds the configuration.
//
// Description:
//
//	Starts from DefaultConfig, overlays path if non-empty, loads envFiles
//	into the process environment without overriding variables that are
//	already set (missing env files are skipped), applies KG_* overrides and
//	validates.
//
// Inputs:
//
//	path - YAML file. Empty skips the file; a missing named file is an error.
//	envFiles - Optional .env files.
//
// Outputs:
//
//	*Config - The merged configuration.
//	error - Read, parse, env or validation failure. Validation failures
//	wrap ErrInvalidConfig.
//
// Example:
//
//	cfg, err := config.Load("knowledge.yaml", ".env")
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section's constraints.
func (c *Config) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		parts := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(parts, "; "))
	}
	return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
