// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, dir, stem, body string) Item {
	t.Helper()
	path := filepath.Join(dir, stem+".sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return Item{
		Code:       stem,
		ScriptPath: path,
		LogPath:    filepath.Join(dir, stem+".log"),
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("defaults to local mode with sh", func(t *testing.T) {
		cfg := Config{}
		cfg.ApplyDefaults()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, ModeLocal, cfg.Mode)
	})

	t.Run("unresolvable shell is fatal", func(t *testing.T) {
		cfg := Config{Shell: "no-such-shell-xyz"}
		cfg.ApplyDefaults()
		assert.ErrorIs(t, cfg.Validate(), ErrUnknownProgram)
	})

	t.Run("batch mode requires a queue command", func(t *testing.T) {
		cfg := Config{Mode: ModeBatch}
		cfg.ApplyDefaults()
		assert.ErrorIs(t, cfg.Validate(), ErrUnknownProgram)
	})

	t.Run("unresolvable cancel command is fatal", func(t *testing.T) {
		cfg := Config{Mode: ModeBatch, QueueCommand: "sh", CancelCommand: "no-such-qdel-xyz"}
		cfg.ApplyDefaults()
		assert.ErrorIs(t, cfg.Validate(), ErrUnknownProgram)
	})

	t.Run("unknown mode", func(t *testing.T) {
		cfg := Config{Mode: "cloud"}
		cfg.ApplyDefaults()
		assert.ErrorIs(t, cfg.Validate(), ErrUnknownMode)
	})
}

func TestCheckPrograms(t *testing.T) {
	assert.NoError(t, CheckPrograms("sh"))
	assert.ErrorIs(t, CheckPrograms("sh", "no-such-engine-xyz"), ErrUnknownProgram)
	assert.NoError(t, CheckPrograms(""))
}

func TestLocalSubmit(t *testing.T) {
	newLocal := func(t *testing.T) Submitter {
		t.Helper()
		sub, err := New(Config{Mode: ModeLocal})
		require.NoError(t, err)
		return sub
	}

	t.Run("captures output into the log", func(t *testing.T) {
		dir := t.TempDir()
		items := []Item{
			writeScript(t, dir, "trial_1AAA", "echo alpha"),
			writeScript(t, dir, "trial_2BBB", "echo beta"),
		}

		statuses, err := newLocal(t).Submit(context.Background(), items, Options{MaxParallel: 2})
		require.NoError(t, err)
		require.Len(t, statuses, 2)
		for i, st := range statuses {
			assert.Equal(t, items[i].Code, st.Code)
			assert.Equal(t, StatusCompleted, st.Kind)
		}
		data, err := os.ReadFile(items[0].LogPath)
		require.NoError(t, err)
		assert.Equal(t, "alpha\n", string(data))
	})

	t.Run("a crashing script fails alone", func(t *testing.T) {
		dir := t.TempDir()
		items := []Item{
			writeScript(t, dir, "trial_bad", "exit 3"),
			writeScript(t, dir, "trial_good", "echo fine"),
		}

		statuses, err := newLocal(t).Submit(context.Background(), items, Options{MaxParallel: 1})
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, statuses[0].Kind)
		assert.Error(t, statuses[0].Err)
		assert.Equal(t, StatusCompleted, statuses[1].Kind)
	})

	t.Run("timeout kills the item and the batch continues", func(t *testing.T) {
		dir := t.TempDir()
		items := []Item{
			writeScript(t, dir, "trial_slow", "sleep 5"),
			writeScript(t, dir, "trial_fast", "echo fine"),
		}

		statuses, err := newLocal(t).Submit(context.Background(), items,
			Options{MaxParallel: 1, Timeout: 100 * time.Millisecond})
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, statuses[0].Kind)
		assert.Equal(t, StatusCompleted, statuses[1].Kind)
	})

	t.Run("success callback skips the rest", func(t *testing.T) {
		dir := t.TempDir()
		items := []Item{
			writeScript(t, dir, "trial_hit", "echo solved"),
			writeScript(t, dir, "trial_after1", "echo more"),
			writeScript(t, dir, "trial_after2", "echo more"),
		}

		statuses, err := newLocal(t).Submit(context.Background(), items, Options{
			MaxParallel: 1,
			OnSuccess:   func(string) bool { return true },
		})
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, statuses[0].Kind)
		assert.Equal(t, StatusSkipped, statuses[1].Kind)
		assert.Equal(t, StatusSkipped, statuses[2].Kind)
	})
}

func TestBatchSubmit(t *testing.T) {
	// sh as the queue wrapper runs each script synchronously, so logs exist
	// by the time the watch loop starts sweeping.
	newBatch := func(t *testing.T) Submitter {
		t.Helper()
		sub, err := New(Config{
			Mode:         ModeBatch,
			QueueCommand: "sh",
			PollInterval: 50 * time.Millisecond,
		})
		require.NoError(t, err)
		return sub
	}

	t.Run("completion detected from log appearance", func(t *testing.T) {
		dir := t.TempDir()
		items := []Item{
			writeScript(t, dir, "q_1AAA", "echo out > "+filepath.Join(dir, "q_1AAA.log")),
			writeScript(t, dir, "q_2BBB", "echo out > "+filepath.Join(dir, "q_2BBB.log")),
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		statuses, err := newBatch(t).Submit(ctx, items, Options{})
		require.NoError(t, err)
		for i, st := range statuses {
			assert.Equal(t, items[i].Code, st.Code)
			assert.Equal(t, StatusCompleted, st.Kind, st.Code)
		}
	})

	t.Run("context expiry fails the stragglers", func(t *testing.T) {
		dir := t.TempDir()
		items := []Item{
			writeScript(t, dir, "q_never", "true"),
		}

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()
		statuses, err := newBatch(t).Submit(ctx, items, Options{})
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, statuses[0].Kind)
	})

	t.Run("early stop cancels pending jobs", func(t *testing.T) {
		dir := t.TempDir()
		items := []Item{
			writeScript(t, dir, "q_hit", "echo solved > "+filepath.Join(dir, "q_hit.log")),
			writeScript(t, dir, "q_wait", "true"),
			writeScript(t, dir, "q_tail", "true"),
		}

		cancelled := filepath.Join(dir, "cancelled.txt")
		t.Setenv("CANCEL_RECORD", cancelled)
		bindir := t.TempDir()
		stubQueue(t, bindir)
		t.Setenv("PATH", bindir+string(os.PathListSeparator)+os.Getenv("PATH"))

		sub, err := New(Config{
			Mode:          ModeBatch,
			QueueCommand:  "fakequeue",
			CancelCommand: "fakecancel",
			PollInterval:  50 * time.Millisecond,
		})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		statuses, err := sub.Submit(ctx, items, Options{
			OnSuccess: func(string) bool { return true },
		})
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, statuses[0].Kind)
		assert.Equal(t, StatusCancelled, statuses[1].Kind)
		assert.Equal(t, StatusCancelled, statuses[2].Kind)

		data, err := os.ReadFile(cancelled)
		require.NoError(t, err)
		assert.Contains(t, string(data), "job-q_wait.sh")
		assert.Contains(t, string(data), "job-q_tail.sh")
	})
}

// stubQueue installs fakequeue, which runs the script synchronously and
// prints a job ID derived from its name, and fakecancel, which appends
// the ID it was asked to withdraw to $CANCEL_RECORD.
func stubQueue(t *testing.T, dir string) {
	t.Helper()
	queue := "#!/bin/sh\nsh \"$1\" >/dev/null 2>&1\necho \"queued as job-$(basename \"$1\")\"\n"
	cancel := "#!/bin/sh\necho \"$1\" >> \"$CANCEL_RECORD\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fakequeue"), []byte(queue), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fakecancel"), []byte(cancel), 0o755))
}

func TestParseJobID(t *testing.T) {
	cases := []struct {
		name string
		out  string
		want string
	}{
		{"bare id", "12345.cluster\n", "12345.cluster"},
		{"sentence form", "Submitted batch job 98765\n", "98765"},
		{"leading blank line", "\n  4242\n", "4242"},
		{"empty output", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseJobID([]byte(tc.out)))
		})
	}
}
