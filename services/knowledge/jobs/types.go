// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jobs runs long graph analyses in the background.
//
// A Runner bounds how many analyses execute at once, rate limits
// submissions, applies a per-job timeout and coalesces identical work:
// jobs of the same kind submitted while one is in flight share its
// execution and result.
package jobs

import (
	"errors"
	"time"
)

var (
	// ErrRateLimited is returned when submissions exceed the configured rate.
	ErrRateLimited = errors.New("job submission rate limited")

	// ErrJobNotFound is returned for an unknown or evicted job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrClosed is returned for submissions after Shutdown.
	ErrClosed = errors.New("job runner closed")
)

// State is the lifecycle position of a job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether the job has finished.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Job is a snapshot of a submitted job.
type Job struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`

	State State `json:"state"`

	// Result is set when State is StateSucceeded.
	Result any `json:"result,omitempty"`

	// Error is set when State is StateFailed.
	Error string `json:"error,omitempty"`

	// Shared is true if the job reused the execution of an identical job
	// already in flight.
	Shared bool `json:"shared"`

	SubmittedAt time.Time `json:"submitted_at"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	FinishedAt  time.Time `json:"finished_at,omitzero"`
}

// Config controls a Runner.
type Config struct {
	// Timeout bounds a single execution. 0 disables the timeout.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT" validate:"gte=0"`

	// MaxConcurrent bounds simultaneous executions. Default: 2
	MaxConcurrent int64 `yaml:"max_concurrent" env:"MAX_CONCURRENT" validate:"gte=0"`

	// SubmitRate is the sustained submissions per second. 0 disables limiting.
	SubmitRate float64 `yaml:"submit_rate" env:"SUBMIT_RATE" validate:"gte=0"`

	// SubmitBurst is the submission burst size. Default: 10
	SubmitBurst int `yaml:"submit_burst" env:"SUBMIT_BURST" validate:"gte=0"`

	// MaxRetained is how many finished jobs are kept for Get. Default: 256
	MaxRetained int `yaml:"max_retained" env:"MAX_RETAINED" validate:"gte=0"`
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:       2 * time.Minute,
		MaxConcurrent: 2,
		SubmitRate:    5,
		SubmitBurst:   10,
		MaxRetained:   256,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.SubmitBurst <= 0 {
		c.SubmitBurst = d.SubmitBurst
	}
	if c.MaxRetained <= 0 {
		c.MaxRetained = d.MaxRetained
	}
	return c
}
