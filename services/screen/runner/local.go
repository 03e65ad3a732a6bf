// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Local executes trial scripts as subprocesses with bounded parallelism.
type Local struct {
	cfg Config
}

// Submit runs each item's script under the configured shell, redirecting
// combined output to the item's log path. Item failures and timeouts are
// reported in the statuses, never as the batch error. When OnSuccess
// returns true, items that have not started yet are skipped; in-flight
// items run to completion.
func (l *Local) Submit(ctx context.Context, items []Item, opts Options) ([]Status, error) {
	parallel := opts.MaxParallel
	if parallel <= 0 {
		parallel = 1
	}

	sem := semaphore.NewWeighted(int64(parallel))
	statuses := make([]Status, len(items))
	var stop atomic.Bool

	// Items are dispatched in order: the semaphore is acquired here, not in
	// the worker, so an early stop reliably skips everything after the item
	// that triggered it.
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range items {
		if stop.Load() {
			statuses[i] = Status{Code: item.Code, Kind: StatusSkipped}
			continue
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			statuses[i] = Status{Code: item.Code, Kind: StatusSkipped, Err: err}
			continue
		}
		if stop.Load() {
			sem.Release(1)
			statuses[i] = Status{Code: item.Code, Kind: StatusSkipped}
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			statuses[i] = l.runOne(gctx, item, opts.Timeout)
			if statuses[i].Kind == StatusCompleted && opts.OnSuccess != nil {
				if opts.OnSuccess(item.LogPath) {
					l.cfg.Logger.Info("early stop requested",
						slog.String("code", item.Code),
					)
					stop.Store(true)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return statuses, err
	}
	return statuses, nil
}

// runOne executes a single script. The item's own timeout, not the batch
// context, bounds the subprocess; a kill is folded into the status.
func (l *Local) runOne(ctx context.Context, item Item, timeout time.Duration) Status {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logFile, err := os.Create(item.LogPath)
	if err != nil {
		return Status{Code: item.Code, Kind: StatusFailed,
			Err: fmt.Errorf("create trial log: %w", err)}
	}
	defer logFile.Close()

	start := time.Now()
	cmd := exec.CommandContext(ctx, l.cfg.Shell, item.ScriptPath)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	runErr := cmd.Run()
	elapsed := time.Since(start)

	if runErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			runErr = fmt.Errorf("trial timed out after %s: %w", timeout, runErr)
		}
		l.cfg.Logger.Warn("trial failed",
			slog.String("code", item.Code),
			slog.String("script", item.ScriptPath),
			slog.String("error", runErr.Error()),
		)
		return Status{Code: item.Code, Kind: StatusFailed, Err: runErr, Duration: elapsed}
	}

	l.cfg.Logger.Debug("trial completed",
		slog.String("code", item.Code),
		slog.Duration("elapsed", elapsed),
	)
	return Status{Code: item.Code, Kind: StatusCompleted, Duration: elapsed}
}
