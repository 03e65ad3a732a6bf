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
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Batch submits trial scripts through a queue wrapper command and waits
// for their log files to appear. Queue latency makes subprocess exit
// useless as a completion signal; the log file is the contract.
type Batch struct {
	cfg Config
}

// Submit queues every item and blocks until all logs exist, the context
// ends, or OnSuccess requests an early stop. Items whose logs never
// appeared are withdrawn from the queue via the cancel command and
// reported as cancelled when stopping early, failed when the context
// ends first.
func (b *Batch) Submit(ctx context.Context, items []Item, opts Options) ([]Status, error) {
	statuses := make([]Status, len(items))
	pending := make(map[string]int, len(items))
	jobs := make(map[int]string, len(items))

	for i, item := range items {
		out, err := exec.CommandContext(ctx, b.cfg.QueueCommand, item.ScriptPath).CombinedOutput()
		if err != nil {
			statuses[i] = Status{Code: item.Code, Kind: StatusFailed,
				Err: fmt.Errorf("queue submit: %w: %s", err, out)}
			continue
		}
		pending[item.LogPath] = i
		jobs[i] = parseJobID(out)
	}
	if len(pending) == 0 {
		return statuses, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return statuses, fmt.Errorf("watch log dir: %w", err)
	}
	defer watcher.Close()
	for dir := range logDirs(items) {
		if err := watcher.Add(dir); err != nil {
			return statuses, fmt.Errorf("watch log dir %s: %w", dir, err)
		}
	}

	start := time.Now()
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	// Sweep immediately: logs may have appeared before the watches were in
	// place.
	stop := b.sweep(pending, items, statuses, start, opts)
	for len(pending) > 0 && !stop {
		select {
		case <-ctx.Done():
			b.cancelPending(pending, jobs)
			for path, i := range pending {
				statuses[i] = Status{Code: items[i].Code, Kind: StatusFailed,
					Err: fmt.Errorf("wait for %s: %w", path, ctx.Err())}
			}
			return statuses, nil
		case ev := <-watcher.Events:
			if i, ok := pending[ev.Name]; ok && ev.Has(fsnotify.Create|fsnotify.Write) {
				stop = b.complete(pending, items, statuses, i, ev.Name, start, opts)
			}
		case err := <-watcher.Errors:
			b.cfg.Logger.Warn("log watcher error", slog.String("error", err.Error()))
		case <-ticker.C:
			stop = b.sweep(pending, items, statuses, start, opts)
		}
	}

	b.cancelPending(pending, jobs)
	for _, i := range pending {
		statuses[i] = Status{Code: items[i].Code, Kind: StatusCancelled}
	}
	return statuses, nil
}

// cancelPending withdraws every still-queued job so an early stop does
// not leave abandoned trials consuming queue slots.
func (b *Batch) cancelPending(pending map[string]int, jobs map[int]string) {
	if len(pending) == 0 {
		return
	}
	if b.cfg.CancelCommand == "" {
		b.cfg.Logger.Warn("no cancel command configured, queued trials stay on the queue",
			slog.Int("pending", len(pending)))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, i := range pending {
		id := jobs[i]
		if id == "" {
			continue
		}
		if out, err := exec.CommandContext(ctx, b.cfg.CancelCommand, id).CombinedOutput(); err != nil {
			b.cfg.Logger.Warn("cancel queued trial failed",
				slog.String("job", id),
				slog.String("error", err.Error()),
				slog.String("output", string(out)))
		} else {
			b.cfg.Logger.Debug("cancelled queued trial", slog.String("job", id))
		}
	}
}

// parseJobID extracts the queue's job identifier from submission output.
// Schedulers print it as the last token of the first line, either bare
// (qsub) or trailing a sentence ("Submitted batch job 12345").
func parseJobID(out []byte) string {
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			return fields[len(fields)-1]
		}
	}
	return ""
}

// sweep polls every pending log path. Watcher events can be lost on NFS
// mounts common to batch clusters, so polling is the safety net.
func (b *Batch) sweep(pending map[string]int, items []Item, statuses []Status, start time.Time, opts Options) bool {
	for path, i := range pending {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if b.complete(pending, items, statuses, i, path, start, opts) {
			return true
		}
	}
	return false
}

func (b *Batch) complete(pending map[string]int, items []Item, statuses []Status, i int, path string, start time.Time, opts Options) bool {
	delete(pending, path)
	statuses[i] = Status{Code: items[i].Code, Kind: StatusCompleted, Duration: time.Since(start)}
	b.cfg.Logger.Debug("queued trial completed", slog.String("log", path))
	if opts.OnSuccess != nil && opts.OnSuccess(path) {
		b.cfg.Logger.Info("early stop requested", slog.String("log", path))
		return true
	}
	return false
}

func logDirs(items []Item) map[string]struct{} {
	dirs := make(map[string]struct{})
	for _, item := range items {
		dirs[filepath.Dir(item.LogPath)] = struct{}{}
	}
	return dirs
}
