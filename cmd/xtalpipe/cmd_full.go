// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/xtalpipe/xtalpipe/services/screen/rank"
	"github.com/xtalpipe/xtalpipe/services/screen/solvent"
)

var fullCmd = &cobra.Command{
	Use:   "full",
	Short: "Run the staged screen: lattice first, then rotation",
	Long: `Runs the lattice stage and confirms its hits by molecular replacement.
If no lattice hit yields a solution, falls back to the rotation-function
screen. Stops at the first confirmed solution.`,
	RunE: runFull,
}

func init() {
	registerDatasetFlags(fullCmd)
	registerReplacementFlags(fullCmd)
	f := fullCmd.Flags()
	f.Float64Var(&flagTolerance, "tolerance", 0, "relative cell tolerance for the lattice stage (0 = default 0.05)")
	f.Float64Var(&flagMinSolvent, "min-solvent", 0, "minimum solvent fraction for a rotation candidate (0 = default)")
	f.IntVar(&flagMaxCandidates, "max-candidates", 0, "rotation trials to schedule (0 = all that fit)")
	f.Float64Var(&flagRotaStep, "step", 0, "rotation sampling step in degrees (0 = default)")
	f.BoolVar(&flagNoVerify, "no-verify", false, "trust the rotation Z-score instead of verifying hits by MR")
	f.IntVar(&flagMRTop, "mr-top", 10, "stage hits to carry into molecular replacement")

	rootCmd.AddCommand(fullCmd)
}

func runFull(cmd *cobra.Command, args []string) error {
	start := time.Now()

	info, err := loadDataset()
	if err != nil {
		return err
	}
	runDir, err := prepareRunDir()
	if err != nil {
		return err
	}
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sub, err := newSubmitter()
	if err != nil {
		return err
	}
	repl, err := newReplacement(runDir, info, sub)
	if err != nil {
		return err
	}

	// Stage 1: lattice.
	latScores, err := rank.Lattice(store, info.Cell, info.SpaceGroup, rank.LatticeOptions{
		ToleranceFraction: flagTolerance,
		Logger:            logger.Slog(),
	})
	if err != nil {
		return err
	}
	if err := summarizeLattice(filepath.Join(runDir, "lattice.csv"), latScores); err != nil {
		return err
	}
	logger.Info("lattice stage complete", "hits", len(latScores))

	if len(latScores) > 0 {
		solved, err := runReplacement(cmd.Context(), repl, runDir, "mr_lattice.csv", trialsFromLattice(latScores, flagMRTop))
		if err != nil {
			return err
		}
		if solved {
			logger.Info("screen finished", "stage", "lattice", "elapsed", time.Since(start))
			return nil
		}
		logger.Info("no lattice hit survived molecular replacement")
	}

	// Stage 2: rotation-function screen.
	calc, err := solvent.NewCalculator(info.Cell, info.SpaceGroup)
	if err != nil {
		return err
	}
	cands, err := rank.Trials(store, calc, info.AssemblyMW, rank.TrialOptions{
		MinSolvent: flagMinSolvent,
		MaxResults: flagMaxCandidates,
		Logger:     logger.Slog(),
	})
	if err != nil {
		return err
	}
	if len(cands) > 0 {
		solved, err := rotationStage(cmd.Context(), runDir, info, cands, repl)
		if err != nil {
			return err
		}
		if solved {
			logger.Info("screen finished", "stage", "rotation", "elapsed", time.Since(start))
			return nil
		}
	}

	logger.Info("screen exhausted", "elapsed", time.Since(start))
	fmt.Println("screen exhausted: no catalogue entry solved the dataset")
	return nil
}
