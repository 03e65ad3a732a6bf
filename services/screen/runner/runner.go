// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runner is the boundary to the external trial engines. A batch of
// generated scripts goes in; per-item completion statuses come out. The
// engines themselves (rotation function, molecular replacement, refinement)
// run as subprocesses or batch-queue jobs; nothing in this package inspects
// their output beyond existence of the log file.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Mode selects how a batch is executed.
type Mode string

const (
	// ModeLocal runs scripts as bounded-parallel subprocesses.
	ModeLocal Mode = "local"

	// ModeBatch hands scripts to a queue wrapper command and waits for
	// their logs to appear.
	ModeBatch Mode = "batch"
)

// Item is one trial script to execute. The script writes nothing to
// LogPath itself; the runner captures output there, and its appearance
// signals completion to watchers.
type Item struct {
	Code       string
	ScriptPath string
	LogPath    string
}

// StatusKind classifies an item's outcome.
type StatusKind int

const (
	// StatusCompleted means the script ran to completion and its log exists.
	StatusCompleted StatusKind = iota

	// StatusFailed means the script crashed or exceeded its timeout. The
	// run continues; the candidate is excluded from scoring.
	StatusFailed

	// StatusSkipped means the item was never started because an earlier
	// item's success requested cancellation.
	StatusSkipped

	// StatusCancelled means the item was queued but withdrawn from the
	// batch queue after an earlier item's success requested cancellation.
	StatusCancelled
)

func (k StatusKind) String() string {
	switch k {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Status is the outcome of one submitted item.
type Status struct {
	Code     string
	Kind     StatusKind
	Err      error
	Duration time.Duration
}

// Options tune a single Submit call.
type Options struct {
	// MaxParallel bounds concurrent executions; 0 means 1.
	MaxParallel int

	// Timeout is the per-item wall clock limit; 0 means none. A timed-out
	// item is killed and reported as failed, the batch continues.
	Timeout time.Duration

	// OnSuccess, when non-nil, is called with each completed item's log
	// path. Returning true requests cooperative cancellation: items not
	// yet started are skipped, in-flight items finish and keep their logs.
	OnSuccess func(logPath string) bool
}

// Submitter executes a batch of trial scripts.
type Submitter interface {
	// Submit runs the batch and returns one status per item, in item
	// order. A non-nil error means the batch machinery itself failed, not
	// that individual trials did.
	Submit(ctx context.Context, items []Item, opts Options) ([]Status, error)
}

// Config configures a Submitter.
type Config struct {
	// Mode selects local subprocess execution or batch-queue submission.
	Mode Mode

	// Shell interprets the generated scripts. Defaults to "sh".
	Shell string

	// QueueCommand is the batch-queue wrapper (e.g. a cluster submit
	// command). Required in batch mode.
	QueueCommand string

	// CancelCommand withdraws a queued job by the ID the queue command
	// printed at submission (e.g. qdel, scancel). Optional; without it an
	// early stop leaves already-queued trials running.
	CancelCommand string

	// PollInterval is the fallback polling cadence for batch completion
	// detection. Defaults to 5s.
	PollInterval time.Duration

	Logger *slog.Logger
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeLocal
	}
	if c.Shell == "" {
		c.Shell = "sh"
	}
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration, including that the shell and, in
// batch mode, the queue command resolve on PATH.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLocal, ModeBatch:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMode, c.Mode)
	}
	if _, err := exec.LookPath(c.Shell); err != nil {
		return fmt.Errorf("%w: shell %q", ErrUnknownProgram, c.Shell)
	}
	if c.Mode == ModeBatch {
		if c.QueueCommand == "" {
			return fmt.Errorf("%w: batch mode needs a queue command", ErrUnknownProgram)
		}
		if _, err := exec.LookPath(c.QueueCommand); err != nil {
			return fmt.Errorf("%w: queue command %q", ErrUnknownProgram, c.QueueCommand)
		}
		if c.CancelCommand != "" {
			if _, err := exec.LookPath(c.CancelCommand); err != nil {
				return fmt.Errorf("%w: cancel command %q", ErrUnknownProgram, c.CancelCommand)
			}
		}
	}
	return nil
}

// New builds the Submitter for the configured mode.
func New(cfg Config) (Submitter, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Mode {
	case ModeLocal:
		return &Local{cfg: cfg}, nil
	case ModeBatch:
		return &Batch{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
}

// CheckPrograms verifies every named engine binary resolves on PATH.
// Called once at configuration time so a misspelt engine aborts the run
// before any trial is dispatched.
func CheckPrograms(names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := exec.LookPath(name); err != nil {
			return fmt.Errorf("%w: %q", ErrUnknownProgram, name)
		}
	}
	return nil
}
