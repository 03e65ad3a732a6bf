// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtalpipe/xtalpipe/pkg/logging"
)

var (
	rootCmd = &cobra.Command{
		Use:   "xtalpipe",
		Short: "Contaminant and known-structure screening for crystallographic datasets",
		Long: `xtalpipe screens a diffraction dataset against a catalogue of known
structures. The lattice stage scores unit-cell similarity, the rotation
stage runs rotation-function trials, and hits are confirmed by molecular
replacement and refinement.`,
		SilenceUsage: true,
	}

	// Persistent flags shared by every subcommand.
	flagWorkDir       string
	flagCatalogue     string
	flagLogLevel      string
	flagLogDir        string
	flagJSONLogs      bool
	flagQuiet         bool
	flagRunnerMode    string
	flagQueueCommand  string
	flagCancelCommand string
	flagMaxParallel   int
	flagTimeout       time.Duration
	flagChunkSize     int
	flagWorkers       int

	logger *logging.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagWorkDir, "workdir", "", "run directory (must not already exist; required)")
	pf.StringVar(&flagCatalogue, "db", "", "path to the candidate catalogue database (required)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&flagLogDir, "log-dir", "", "also write JSON logs to this directory")
	pf.BoolVar(&flagJSONLogs, "json-logs", false, "emit stderr logs as JSON")
	pf.BoolVar(&flagQuiet, "quiet", false, "suppress stderr logs")
	pf.StringVar(&flagRunnerMode, "runner", "local", "trial execution mode: local or batch")
	pf.StringVar(&flagQueueCommand, "queue-command", "", "batch-queue submit command (batch mode)")
	pf.StringVar(&flagCancelCommand, "cancel-command", "", "batch-queue cancel command, invoked per queued job on early stop")
	pf.IntVar(&flagMaxParallel, "max-parallel", 0, "maximum concurrent trials (0 = serial)")
	pf.DurationVar(&flagTimeout, "timeout", 0, "per-trial wall clock limit (0 = none)")
	pf.IntVar(&flagChunkSize, "chunk-size", 0, "trials per scheduling chunk (0 = adaptive)")
	pf.IntVar(&flagWorkers, "workers", 0, "script generation workers per chunk")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := parseLogLevel(flagLogLevel)
		if err != nil {
			return err
		}
		logger = logging.New(logging.Config{
			Level:   level,
			LogDir:  flagLogDir,
			Service: "xtalpipe",
			JSON:    flagJSONLogs,
			Quiet:   flagQuiet,
		})
		return nil
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	}
}

func parseLogLevel(s string) (logging.Level, error) {
	switch s {
	case "debug":
		return logging.LevelDebug, nil
	case "info":
		return logging.LevelInfo, nil
	case "warn":
		return logging.LevelWarn, nil
	case "error":
		return logging.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
