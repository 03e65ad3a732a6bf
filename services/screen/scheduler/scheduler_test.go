// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtalpipe/xtalpipe/services/screen/runner"
	"github.com/xtalpipe/xtalpipe/services/screen/score"
)

type trialScore struct {
	code string
	z    float64
}

// fakeSubmitter completes every item in order, honoring the success
// callback's cancellation request the way the real runners do.
type fakeSubmitter struct {
	batches [][]runner.Item
	failing map[string]bool
	submits int
}

func (f *fakeSubmitter) Submit(_ context.Context, items []runner.Item, opts runner.Options) ([]runner.Status, error) {
	f.submits++
	f.batches = append(f.batches, items)
	statuses := make([]runner.Status, len(items))
	stopped := false
	for i, item := range items {
		if stopped {
			statuses[i] = runner.Status{Code: item.Code, Kind: runner.StatusSkipped}
			continue
		}
		if f.failing[item.Code] {
			statuses[i] = runner.Status{Code: item.Code, Kind: runner.StatusFailed, Err: errors.New("crashed")}
			continue
		}
		statuses[i] = runner.Status{Code: item.Code, Kind: runner.StatusCompleted}
		if opts.OnSuccess != nil && opts.OnSuccess(item.LogPath) {
			stopped = true
		}
	}
	return statuses, nil
}

// testConfig trials string candidates; the z-score of candidate "hit" is
// above the threshold, everything else below.
func testConfig(sub runner.Submitter) Config[string, trialScore] {
	return Config[string, trialScore]{
		Stage:     score.KindRotation,
		Submitter: sub,
		Generate: func(code string) (runner.Item, error) {
			return runner.Item{
				Code:       code,
				ScriptPath: code + ".sh",
				LogPath:    code + ".log",
			}, nil
		},
		Parse: func(item runner.Item) (trialScore, error) {
			if item.Code == "hit" {
				return trialScore{code: item.Code, z: 12.5}, nil
			}
			return trialScore{code: item.Code, z: 4.0}, nil
		},
		Succeeded: func(s trialScore) bool { return s.z > 10 },
	}
}

func TestChunkSize(t *testing.T) {
	s, err := New(testConfig(&fakeSubmitter{}))
	require.NoError(t, err)

	t.Run("adaptive is half the candidate count", func(t *testing.T) {
		assert.Equal(t, 5, s.chunkSize(10))
	})
	t.Run("bounded below by one", func(t *testing.T) {
		assert.Equal(t, 1, s.chunkSize(0))
		assert.Equal(t, 1, s.chunkSize(1))
	})
	t.Run("bounded above", func(t *testing.T) {
		assert.Equal(t, maxChunkSize, s.chunkSize(100000))
	})
	t.Run("explicit size wins", func(t *testing.T) {
		cfg := testConfig(&fakeSubmitter{})
		cfg.ChunkSize = 7
		s2, err := New(cfg)
		require.NoError(t, err)
		assert.Equal(t, 7, s2.chunkSize(100))
	})
}

func TestConfigValidate(t *testing.T) {
	t.Run("missing submitter", func(t *testing.T) {
		cfg := testConfig(nil)
		_, err := New(cfg)
		assert.Error(t, err)
	})
	t.Run("missing callbacks", func(t *testing.T) {
		cfg := testConfig(&fakeSubmitter{})
		cfg.Parse = nil
		_, err := New(cfg)
		assert.Error(t, err)
	})
}

func TestRunExhausted(t *testing.T) {
	sub := &fakeSubmitter{}
	cfg := testConfig(sub)
	cfg.ChunkSize = 2
	s, err := New(cfg)
	require.NoError(t, err)

	candidates := []string{"a", "b", "c", "d", "e"}
	scores, term, err := s.Run(context.Background(), candidates)
	require.NoError(t, err)
	assert.Equal(t, TerminatedExhausted, term)
	assert.Len(t, scores, 5)
	assert.Equal(t, 3, sub.submits)
	require.Len(t, sub.batches, 3)
	assert.Len(t, sub.batches[0], 2)
	assert.Len(t, sub.batches[2], 1)
	assert.Equal(t, StateTerminated, s.State())
}

func TestRunChunksCoverEveryCandidateOnce(t *testing.T) {
	cases := []struct {
		candidates int
		chunkSize  int
	}{
		{1, 1},
		{5, 1},
		{5, 4},
		{5, 5},
		{5, 6},
		{7, 3},
		{6, 0},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d candidates chunked by %d", tc.candidates, tc.chunkSize), func(t *testing.T) {
			candidates := make([]string, tc.candidates)
			for i := range candidates {
				candidates[i] = fmt.Sprintf("cand_%02d", i)
			}
			sub := &fakeSubmitter{}
			cfg := testConfig(sub)
			cfg.ChunkSize = tc.chunkSize
			s, err := New(cfg)
			require.NoError(t, err)

			_, term, err := s.Run(context.Background(), candidates)
			require.NoError(t, err)
			assert.Equal(t, TerminatedExhausted, term)

			var dispatched []string
			for _, batch := range sub.batches {
				for _, item := range batch {
					dispatched = append(dispatched, item.Code)
				}
			}
			assert.Equal(t, candidates, dispatched)
		})
	}
}

func TestRunEarlyTermination(t *testing.T) {
	t.Run("later chunks are never dispatched", func(t *testing.T) {
		sub := &fakeSubmitter{}
		cfg := testConfig(sub)
		cfg.ChunkSize = 2
		s, err := New(cfg)
		require.NoError(t, err)

		scores, term, err := s.Run(context.Background(), []string{"a", "b", "hit", "d", "e", "f"})
		require.NoError(t, err)
		assert.Equal(t, TerminatedSuccess, term)
		assert.Equal(t, 2, sub.submits)
		require.NotEmpty(t, scores)
		assert.Equal(t, "hit", scores[len(scores)-1].code)
	})

	t.Run("completions after the flag are discarded", func(t *testing.T) {
		// All three land in one chunk; the fake completes "d" before the
		// stop takes effect, mimicking an in-flight trial.
		sub := &lingering{}
		cfg := testConfig(sub)
		cfg.ChunkSize = 3
		s, err := New(cfg)
		require.NoError(t, err)

		scores, term, err := s.Run(context.Background(), []string{"a", "hit", "d"})
		require.NoError(t, err)
		assert.Equal(t, TerminatedSuccess, term)
		require.Len(t, scores, 2)
		assert.Equal(t, "a", scores[0].code)
		assert.Equal(t, "hit", scores[1].code)
	})
}

// lingering completes every item even after the success callback asks to
// stop, the way already-running local trials do.
type lingering struct{}

func (l *lingering) Submit(_ context.Context, items []runner.Item, opts runner.Options) ([]runner.Status, error) {
	statuses := make([]runner.Status, len(items))
	for i, item := range items {
		statuses[i] = runner.Status{Code: item.Code, Kind: runner.StatusCompleted}
		if opts.OnSuccess != nil {
			opts.OnSuccess(item.LogPath)
		}
	}
	return statuses, nil
}

// cancelling reports trailing items as withdrawn from the queue once the
// success callback fires, the way the batch runner does.
type cancelling struct{}

func (c *cancelling) Submit(_ context.Context, items []runner.Item, opts runner.Options) ([]runner.Status, error) {
	statuses := make([]runner.Status, len(items))
	stopped := false
	for i, item := range items {
		if stopped {
			statuses[i] = runner.Status{Code: item.Code, Kind: runner.StatusCancelled}
			continue
		}
		statuses[i] = runner.Status{Code: item.Code, Kind: runner.StatusCompleted}
		if opts.OnSuccess != nil && opts.OnSuccess(item.LogPath) {
			stopped = true
		}
	}
	return statuses, nil
}

func TestRunCancelledTrialsAreNotScored(t *testing.T) {
	cfg := testConfig(&cancelling{})
	cfg.ChunkSize = 3
	s, err := New(cfg)
	require.NoError(t, err)

	scores, term, err := s.Run(context.Background(), []string{"hit", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, TerminatedSuccess, term)
	require.Len(t, scores, 1)
	assert.Equal(t, "hit", scores[0].code)
}

func TestRunFailuresDoNotAbort(t *testing.T) {
	sub := &fakeSubmitter{failing: map[string]bool{"b": true}}
	cfg := testConfig(sub)
	cfg.ChunkSize = 2
	s, err := New(cfg)
	require.NoError(t, err)

	scores, term, err := s.Run(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, TerminatedExhausted, term)
	require.Len(t, scores, 2)
	assert.Equal(t, "a", scores[0].code)
	assert.Equal(t, "c", scores[1].code)
}

func TestRunGenerateError(t *testing.T) {
	sub := &fakeSubmitter{}
	cfg := testConfig(sub)
	cfg.Generate = func(code string) (runner.Item, error) {
		if code == "bad" {
			return runner.Item{}, fmt.Errorf("no model for %s", code)
		}
		return runner.Item{Code: code, ScriptPath: code + ".sh", LogPath: code + ".log"}, nil
	}
	s, err := New(cfg)
	require.NoError(t, err)

	_, _, err = s.Run(context.Background(), []string{"a", "bad"})
	assert.Error(t, err)
	assert.Zero(t, sub.submits)
}

func TestRunParseErrorSkipsCandidate(t *testing.T) {
	sub := &fakeSubmitter{}
	cfg := testConfig(sub)
	parse := cfg.Parse
	cfg.Parse = func(item runner.Item) (trialScore, error) {
		if item.Code == "garbled" {
			return trialScore{}, errors.New("malformed log")
		}
		return parse(item)
	}
	s, err := New(cfg)
	require.NoError(t, err)

	scores, term, err := s.Run(context.Background(), []string{"a", "garbled", "c"})
	require.NoError(t, err)
	assert.Equal(t, TerminatedExhausted, term)
	require.Len(t, scores, 2)
}
