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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xtalpipe/xtalpipe/services/screen/catalogue"
	"github.com/xtalpipe/xtalpipe/services/screen/mr"
	"github.com/xtalpipe/xtalpipe/services/screen/mtz"
	"github.com/xtalpipe/xtalpipe/services/screen/rank"
	"github.com/xtalpipe/xtalpipe/services/screen/results"
	"github.com/xtalpipe/xtalpipe/services/screen/runner"
	"github.com/xtalpipe/xtalpipe/services/screen/score"
	"github.com/xtalpipe/xtalpipe/services/screen/xtal"
)

// Replacement-stage flags shared by the subcommands that run MR.
var (
	flagEngine       string
	flagRefineExe    string
	flagAnomalousExe string
	flagRefineCycles int
	flagMaxToKeep    int
)

func registerReplacementFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&flagEngine, "engine", "molrep", "placement engine: molrep or phaser")
	f.StringVar(&flagRefineExe, "refine-exe", "refmac5", "refinement binary")
	f.StringVar(&flagAnomalousExe, "anomalous-exe", "", "anomalous peak report binary (empty disables the check)")
	f.IntVar(&flagRefineCycles, "refine-cycles", 0, "refinement cycles (0 = engine default)")
	f.IntVar(&flagMaxToKeep, "max-to-keep", 0, "ranked results to keep per stage (0 = default)")
}

// Dataset flags. A YAML descriptor fully describes the dataset; the
// lattice stage alone can run from bare space-group and cell literals.
var (
	flagDataset  string
	flagSpaceGrp string
	flagUnitCell string
)

func registerDatasetFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&flagDataset, "dataset", "", "YAML dataset descriptor")
	f.StringVar(&flagSpaceGrp, "sg", "", "space group symbol (lattice-only alternative to --dataset)")
	f.StringVar(&flagUnitCell, "uc", "", "unit cell 'a,b,c,alpha,beta,gamma' (with --sg)")
}

// prepareRunDir creates the run directory. An existing directory is
// refused so stale trial scripts and logs can never leak into a new run.
func prepareRunDir() (string, error) {
	if flagWorkDir == "" {
		return "", fmt.Errorf("--workdir is required")
	}
	dir, err := filepath.Abs(flagWorkDir)
	if err != nil {
		return "", err
	}
	if _, statErr := os.Stat(dir); statErr == nil {
		return "", fmt.Errorf("run directory %s already exists; remove it or pick another", dir)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating run directory: %w", err)
	}
	return dir, nil
}

func openStore() (*catalogue.Store, error) {
	if flagCatalogue == "" {
		return nil, fmt.Errorf("--db is required")
	}
	return catalogue.Open(catalogue.DefaultConfig(flagCatalogue))
}

func loadDataset() (mtz.Info, error) {
	if flagDataset == "" {
		return mtz.Info{}, fmt.Errorf("--dataset is required")
	}
	acc, err := mtz.NewFileAccessor(flagDataset)
	if err != nil {
		return mtz.Info{}, err
	}
	return acc.Info()
}

// latticeTarget resolves the lattice-stage target from either the dataset
// descriptor or the --sg/--uc literals.
func latticeTarget() (mtz.Info, error) {
	if flagDataset != "" {
		return loadDataset()
	}
	if flagSpaceGrp == "" || flagUnitCell == "" {
		return mtz.Info{}, fmt.Errorf("either --dataset or both --sg and --uc are required")
	}
	sg, err := xtal.NormalizeSpaceGroup(flagSpaceGrp)
	if err != nil {
		return mtz.Info{}, err
	}
	cell, err := xtal.ParseCell(flagUnitCell)
	if err != nil {
		return mtz.Info{}, err
	}
	return mtz.Info{SpaceGroup: sg, Cell: cell}, nil
}

func newSubmitter() (runner.Submitter, error) {
	return runner.New(runner.Config{
		Mode:          runner.Mode(flagRunnerMode),
		QueueCommand:  flagQueueCommand,
		CancelCommand: flagCancelCommand,
		Logger:        logger.Slog(),
	})
}

func submitOptions() runner.Options {
	return runner.Options{
		MaxParallel: flagMaxParallel,
		Timeout:     flagTimeout,
	}
}

func newReplacement(runDir string, data mtz.Info, sub runner.Submitter) (*mr.Submit, error) {
	return mr.New(mr.Config{
		WorkDir:       filepath.Join(runDir, "mr"),
		Engine:        score.Engine(flagEngine),
		RefineExe:     flagRefineExe,
		AnomalousExe:  flagAnomalousExe,
		Data:          data,
		RefineCycles:  flagRefineCycles,
		MaxToKeep:     flagMaxToKeep,
		ChunkSize:     flagChunkSize,
		Workers:       flagWorkers,
		Submitter:     sub,
		SubmitOptions: submitOptions(),
		Logger:        logger.Slog(),
	})
}

// trialsFromLattice converts the top lattice hits into trial candidates
// for the replacement stage.
func trialsFromLattice(scores []rank.LatticeScore, limit int) []rank.TrialCandidate {
	if limit > 0 && len(scores) > limit {
		scores = scores[:limit]
	}
	cands := make([]rank.TrialCandidate, 0, len(scores))
	for _, s := range scores {
		cands = append(cands, rank.TrialCandidate{
			Code:            s.Code,
			ModelPath:       s.ModelPath,
			MolecularWeight: s.MolecularWeight,
		})
	}
	return cands
}

// runReplacement drives MR over the candidates, writes the stage summary
// CSV, and reports the best refined solution if any trial succeeded.
func runReplacement(ctx context.Context, m *mr.Submit, runDir, csvName string, cands []rank.TrialCandidate) (bool, error) {
	scores, term, err := m.Run(ctx, cands)
	if err != nil {
		return false, err
	}

	csvPath := filepath.Join(runDir, csvName)
	if err := m.Summarize(csvPath, scores); err != nil {
		return false, err
	}
	logger.Info("replacement stage complete",
		"trials_scored", len(scores),
		"termination", term.String(),
		"summary", csvPath)

	for _, s := range scores {
		if !s.Succeeded() {
			continue
		}
		code, rFree, err := results.BestByColumn(csvPath, "final_r_free", true)
		if err != nil {
			return false, err
		}
		refined := filepath.Join(runDir, "mr", code, "mr", flagEngine,
			"refine", code+"_refinement_output.pdb")
		logger.Info("solution found",
			"pdb_code", code,
			"final_r_free", rFree,
			"refined_model", refined)
		fmt.Printf("solution: %s (R-free %.3f)\n  model: %s\n", code, rFree, refined)
		return true, nil
	}
	return false, nil
}
