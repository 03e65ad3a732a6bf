// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler walks a ranked candidate list in chunks, generating
// trial scripts on a bounded worker pool, handing each chunk to the runner
// and scoring the produced logs. The first trial to cross its stage's
// success threshold terminates the whole walk; remaining chunks are never
// dispatched.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xtalpipe/xtalpipe/services/screen/runner"
	"github.com/xtalpipe/xtalpipe/services/screen/score"
)

// Chunk size bounds for the adaptive default.
const (
	minChunkSize = 1
	maxChunkSize = 4000
)

// Termination reports how a run ended.
type Termination int

const (
	// TerminatedSuccess means a trial crossed the stage threshold and the
	// remaining chunks were skipped.
	TerminatedSuccess Termination = iota

	// TerminatedExhausted means every candidate was trialled without a
	// success.
	TerminatedExhausted
)

func (t Termination) String() string {
	switch t {
	case TerminatedSuccess:
		return "success"
	case TerminatedExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// State is the scheduler's observable lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateGenerating
	StateDispatched
	StateScoring
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGenerating:
		return "generating"
	case StateDispatched:
		return "dispatched"
	case StateScoring:
		return "scoring"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Config configures a Scheduler. Generate and Parse move plain data only:
// a candidate in, an item out; a completed item in, a score out.
type Config[C, S any] struct {
	// Stage identifies the trial stage for logs, spans and metrics.
	Stage score.Kind

	// ChunkSize is the number of candidates per cycle. When 0 it adapts
	// to half the candidate count, bounded to [1, 4000].
	ChunkSize int

	// Workers bounds the script-generation pool. Defaults to 1.
	Workers int

	// Submitter executes each chunk.
	Submitter runner.Submitter

	// SubmitOptions are passed through to the runner, except OnSuccess,
	// which the scheduler owns.
	SubmitOptions runner.Options

	// Generate builds the trial item for one candidate.
	Generate func(C) (runner.Item, error)

	// Parse turns a completed item's log into a score record. Skip-level
	// parse failures (missing or malformed logs) drop the one candidate.
	Parse func(runner.Item) (S, error)

	// Succeeded is the stage's early-termination predicate.
	Succeeded func(S) bool

	Logger *slog.Logger
}

// ApplyDefaults fills zero-valued fields.
func (c *Config[C, S]) ApplyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the callbacks and runner are present.
func (c *Config[C, S]) Validate() error {
	if c.Submitter == nil {
		return errors.New("scheduler: submitter is required")
	}
	if c.Generate == nil || c.Parse == nil || c.Succeeded == nil {
		return errors.New("scheduler: generate, parse and succeeded callbacks are required")
	}
	if c.ChunkSize < 0 {
		return fmt.Errorf("scheduler: negative chunk size %d", c.ChunkSize)
	}
	return nil
}

// Scheduler drives chunked trial execution for one stage.
type Scheduler[C, S any] struct {
	cfg   Config[C, S]
	state atomic.Int32
}

// New builds a Scheduler from a validated config.
func New[C, S any](cfg Config[C, S]) (*Scheduler[C, S], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler[C, S]{cfg: cfg}, nil
}

// State is the current lifecycle state, readable from other goroutines.
func (s *Scheduler[C, S]) State() State { return State(s.state.Load()) }

// chunkSize resolves the configured or adaptive chunk size for n candidates.
func (s *Scheduler[C, S]) chunkSize(n int) int {
	size := s.cfg.ChunkSize
	if size == 0 {
		size = n / 2
	}
	if size < minChunkSize {
		size = minChunkSize
	}
	if size > maxChunkSize {
		size = maxChunkSize
	}
	return size
}

// Run trials the candidates chunk by chunk and returns every score
// collected, in candidate order within each chunk. Scores stop
// accumulating the moment a trial succeeds; results of trials that were
// already in flight when the success landed are discarded.
func (s *Scheduler[C, S]) Run(ctx context.Context, candidates []C) ([]S, Termination, error) {
	defer s.state.Store(int32(StateTerminated))

	size := s.chunkSize(len(candidates))
	s.cfg.Logger.Info("trial run starting",
		slog.String("stage", s.cfg.Stage.String()),
		slog.Int("candidates", len(candidates)),
		slog.Int("chunk_size", size),
	)

	var scores []S
	for chunk := 0; chunk*size < len(candidates); chunk++ {
		lo := chunk * size
		hi := min(lo+size, len(candidates))

		chunkScores, terminated, err := s.runChunk(ctx, chunk, candidates[lo:hi])
		scores = append(scores, chunkScores...)
		if err != nil {
			return scores, TerminatedExhausted, err
		}
		if terminated {
			s.cfg.Logger.Info("early termination",
				slog.String("stage", s.cfg.Stage.String()),
				slog.Int("chunk", chunk),
				slog.Int("scored", len(scores)),
			)
			return scores, TerminatedSuccess, nil
		}
	}
	return scores, TerminatedExhausted, nil
}

func (s *Scheduler[C, S]) runChunk(ctx context.Context, index int, chunk []C) ([]S, bool, error) {
	ctx, span := startChunkSpan(ctx, s.cfg.Stage, index, len(chunk))
	defer span.End()
	start := time.Now()

	s.state.Store(int32(StateGenerating))
	items, err := s.generate(ctx, chunk)
	if err != nil {
		return nil, false, err
	}

	// The runner's success callback only flags; scoring happens after the
	// batch returns so one goroutine owns all records.
	var flagged atomic.Int64
	flagged.Store(-1)
	opts := s.cfg.SubmitOptions
	byLog := make(map[string]int, len(items))
	for i, item := range items {
		byLog[item.LogPath] = i
	}
	opts.OnSuccess = func(logPath string) bool {
		i, ok := byLog[logPath]
		if !ok {
			return false
		}
		rec, perr := s.cfg.Parse(items[i])
		if perr != nil {
			return false
		}
		if s.cfg.Succeeded(rec) {
			flagged.CompareAndSwap(-1, int64(i))
			return true
		}
		return false
	}

	s.state.Store(int32(StateDispatched))
	statuses, err := s.cfg.Submitter.Submit(ctx, items, opts)
	if err != nil {
		return nil, false, fmt.Errorf("submit chunk %d: %w", index, err)
	}

	s.state.Store(int32(StateScoring))
	scores, failed := s.score(items, statuses, int(flagged.Load()))
	terminated := flagged.Load() >= 0

	succeeded := 0
	if terminated {
		succeeded = 1
	}
	recordChunkMetrics(ctx, s.cfg.Stage, time.Since(start), len(items), succeeded, failed)
	return scores, terminated, nil
}

// generate builds the chunk's trial items on the worker pool. Workers take
// a candidate and hand back an item; nothing else crosses the pool.
func (s *Scheduler[C, S]) generate(ctx context.Context, chunk []C) ([]runner.Item, error) {
	items := make([]runner.Item, len(chunk))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, cand := range chunk {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			item, err := s.cfg.Generate(cand)
			if err != nil {
				return fmt.Errorf("generate trial script: %w", err)
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// score parses every completed item's log. When the chunk terminated early
// at item flagged, completions past it are discarded rather than scored.
func (s *Scheduler[C, S]) score(items []runner.Item, statuses []runner.Status, flagged int) ([]S, int) {
	var scores []S
	failed := 0
	for i, st := range statuses {
		switch st.Kind {
		case runner.StatusFailed:
			failed++
			s.cfg.Logger.Warn("trial excluded from scoring",
				slog.String("stage", s.cfg.Stage.String()),
				slog.String("code", st.Code),
				slog.String("error", errText(st.Err)),
			)
			continue
		case runner.StatusSkipped, runner.StatusCancelled:
			continue
		}
		if flagged >= 0 && i > flagged {
			s.cfg.Logger.Debug("result after termination discarded",
				slog.String("stage", s.cfg.Stage.String()),
				slog.String("code", st.Code),
			)
			continue
		}
		rec, err := s.cfg.Parse(items[i])
		if err != nil {
			failed++
			s.cfg.Logger.Warn("trial log unusable",
				slog.String("stage", s.cfg.Stage.String()),
				slog.String("code", st.Code),
				slog.String("error", err.Error()),
			)
			continue
		}
		scores = append(scores, rec)
	}
	return scores, failed
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
