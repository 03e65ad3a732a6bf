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

	"github.com/spf13/cobra"

	"github.com/xtalpipe/xtalpipe/services/screen/rank"
	"github.com/xtalpipe/xtalpipe/services/screen/results"
)

var (
	latticeCmd = &cobra.Command{
		Use:   "lattice",
		Short: "Score catalogue entries by unit-cell similarity",
		Long: `Scores every catalogue entry against the target cell using the lattice
penalty and writes the ranked hits to lattice.csv in the run directory.
With --run-mr the top hits are confirmed by molecular replacement.`,
		RunE: runLattice,
	}

	flagTolerance  float64
	flagMaxResults int
	flagRunMR      bool
	flagMRTop      int
)

func init() {
	registerDatasetFlags(latticeCmd)
	registerReplacementFlags(latticeCmd)
	f := latticeCmd.Flags()
	f.Float64Var(&flagTolerance, "tolerance", 0, "relative cell tolerance (0 = default 0.05)")
	f.IntVar(&flagMaxResults, "max-results", 0, "lattice hits to report (0 = all)")
	f.BoolVar(&flagRunMR, "run-mr", false, "confirm the top hits by molecular replacement (needs --dataset)")
	f.IntVar(&flagMRTop, "mr-top", 10, "lattice hits to carry into molecular replacement")

	rootCmd.AddCommand(latticeCmd)
}

func runLattice(cmd *cobra.Command, args []string) error {
	if flagRunMR && flagDataset == "" {
		return fmt.Errorf("--run-mr needs a full --dataset descriptor")
	}

	info, err := latticeTarget()
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

	scores, err := rank.Lattice(store, info.Cell, info.SpaceGroup, rank.LatticeOptions{
		ToleranceFraction: flagTolerance,
		MaxResults:        flagMaxResults,
		Logger:            logger.Slog(),
	})
	if err != nil {
		return err
	}

	csvPath := filepath.Join(runDir, "lattice.csv")
	if err := summarizeLattice(csvPath, scores); err != nil {
		return err
	}
	logger.Info("lattice stage complete", "hits", len(scores), "summary", csvPath)
	for i, s := range scores {
		if i >= 5 {
			break
		}
		logger.Info("lattice hit",
			"pdb_code", s.Code,
			"total_penalty", s.TotalPenalty,
			"probability", s.Probability)
	}

	if len(scores) == 0 {
		fmt.Println("no catalogue entry within the lattice tolerance")
		return nil
	}
	if !flagRunMR {
		fmt.Printf("%d lattice hits written to %s\n", len(scores), csvPath)
		return nil
	}

	sub, err := newSubmitter()
	if err != nil {
		return err
	}
	repl, err := newReplacement(runDir, info, sub)
	if err != nil {
		return err
	}
	solved, err := runReplacement(cmd.Context(), repl, runDir, "mr.csv", trialsFromLattice(scores, flagMRTop))
	if err != nil {
		return err
	}
	if !solved {
		fmt.Println("no lattice hit survived molecular replacement")
	}
	return nil
}

var latticeColumns = []results.Column[rank.LatticeScore]{
	{Name: "pdb_code", Value: func(s rank.LatticeScore) string { return s.Code }},
	{Name: "total_penalty", Value: func(s rank.LatticeScore) string { return fmt.Sprintf("%.2f", s.TotalPenalty) }},
	{Name: "length_penalty", Value: func(s rank.LatticeScore) string { return fmt.Sprintf("%.2f", s.LengthPenalty) }},
	{Name: "angle_penalty", Value: func(s rank.LatticeScore) string { return fmt.Sprintf("%.2f", s.AnglePenalty) }},
	{Name: "probability_score", Value: func(s rank.LatticeScore) string { return fmt.Sprintf("%.3f", s.Probability) }},
}

func summarizeLattice(path string, scores []rank.LatticeScore) error {
	set := results.NewSet(func(a, b rank.LatticeScore) bool {
		return a.TotalPenalty < b.TotalPenalty
	}, 0)
	set.Add(scores...)
	return set.Backup(path, latticeColumns)
}
