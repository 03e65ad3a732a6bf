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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xtalpipe/xtalpipe/services/screen/mr"
	"github.com/xtalpipe/xtalpipe/services/screen/mtz"
	"github.com/xtalpipe/xtalpipe/services/screen/rank"
	"github.com/xtalpipe/xtalpipe/services/screen/rotsearch"
	"github.com/xtalpipe/xtalpipe/services/screen/solvent"
)

var (
	rotationCmd = &cobra.Command{
		Use:   "rotation",
		Short: "Run the rotation-function screen with MR confirmation",
		Long: `Selects catalogue candidates that fit the asymmetric unit, runs
rotation-function trials over them, and confirms scoring hits by
molecular replacement and refinement. Stops at the first confirmed
solution.`,
		RunE: runRotation,
	}

	flagMinSolvent    float64
	flagMaxCandidates int
	flagRotaStep      float64
	flagNoVerify      bool
)

func init() {
	registerDatasetFlags(rotationCmd)
	registerReplacementFlags(rotationCmd)
	f := rotationCmd.Flags()
	f.Float64Var(&flagMinSolvent, "min-solvent", 0, "minimum solvent fraction for a candidate (0 = default)")
	f.IntVar(&flagMaxCandidates, "max-candidates", 0, "rotation trials to schedule (0 = all that fit)")
	f.Float64Var(&flagRotaStep, "step", 0, "rotation sampling step in degrees (0 = default)")
	f.BoolVar(&flagNoVerify, "no-verify", false, "trust the rotation Z-score instead of verifying hits by MR")
	f.IntVar(&flagMRTop, "mr-top", 10, "rotation hits to carry into molecular replacement")

	rootCmd.AddCommand(rotationCmd)
}

func runRotation(cmd *cobra.Command, args []string) error {
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
	if len(cands) == 0 {
		fmt.Println("no catalogue entry fits the asymmetric unit")
		return nil
	}
	logger.Info("rotation candidates selected", "count", len(cands))

	sub, err := newSubmitter()
	if err != nil {
		return err
	}
	repl, err := newReplacement(runDir, info, sub)
	if err != nil {
		return err
	}

	solved, err := rotationStage(cmd.Context(), runDir, info, cands, repl)
	if err != nil {
		return err
	}
	if !solved {
		fmt.Println("rotation screen exhausted without a confirmed solution")
	}
	return nil
}

// rotationStage runs the rotation-function trials and the follow-up MR
// over the surviving hits. Shared with the staged full screen.
func rotationStage(ctx context.Context, runDir string, info mtz.Info, cands []rank.TrialCandidate, repl *mr.Submit) (bool, error) {
	sub, err := newSubmitter()
	if err != nil {
		return false, err
	}

	var verify rotsearch.Verifier
	if !flagNoVerify {
		verify = repl
	}
	search, err := rotsearch.New(rotsearch.Config{
		WorkDir:       filepath.Join(runDir, "rot"),
		Data:          info,
		RotaStep:      flagRotaStep,
		MaxToKeep:     flagMaxToKeep,
		ChunkSize:     flagChunkSize,
		Workers:       flagWorkers,
		Submitter:     sub,
		SubmitOptions: submitOptions(),
		Verify:        verify,
		Logger:        logger.Slog(),
	})
	if err != nil {
		return false, err
	}

	if err := search.Prepare(ctx); err != nil {
		return false, err
	}
	scores, term, err := search.Run(ctx, cands)
	if err != nil {
		return false, err
	}

	csvPath := filepath.Join(runDir, "rotation.csv")
	if err := rotsearch.Summarize(csvPath, scores); err != nil {
		return false, err
	}
	logger.Info("rotation stage complete",
		"hits", len(scores),
		"termination", term.String(),
		"summary", csvPath)

	if len(scores) == 0 {
		return false, nil
	}

	// MR over the top rotation hits, best Z-score first.
	byCode := make(map[string]rank.TrialCandidate, len(cands))
	for _, c := range cands {
		byCode[c.Code] = c
	}
	var mrCands []rank.TrialCandidate
	for _, s := range scores {
		if flagMRTop > 0 && len(mrCands) >= flagMRTop {
			break
		}
		if c, ok := byCode[s.Code]; ok {
			mrCands = append(mrCands, c)
		}
	}
	return runReplacement(ctx, repl, runDir, "mr_rotation.csv", mrCands)
}
