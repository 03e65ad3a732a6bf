// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package rank

import (
	"errors"
	"log/slog"
	"math"
	"sort"

	"github.com/xtalpipe/xtalpipe/services/screen/catalogue"
	"github.com/xtalpipe/xtalpipe/services/screen/solvent"
)

// TrialCandidate is one catalogue entry queued for a trial stage, carrying
// the paths and search parameters the stage drivers need.
type TrialCandidate struct {
	Code              string
	ModelPath         string
	MolecularWeight   float64
	IntegrationRadius float64
	X, Y, Z           float64
}

// TrialOptions configure the trial worklist.
type TrialOptions struct {
	// MinSolvent drops candidates whose single-copy solvent content in the
	// target cell would fall below this fraction. Zero keeps everything
	// that fits at all.
	MinSolvent float64

	// MaxResults truncates the worklist; 0 keeps everything.
	MaxResults int

	Logger *slog.Logger
}

// ApplyDefaults fills zero-valued options.
func (o *TrialOptions) ApplyDefaults() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Trials builds the rotation-stage worklist. Candidates that cannot be
// placed in the target asymmetric unit with acceptable solvent content are
// dropped, and the survivors are ordered by the absolute difference between
// the predicted assembly weight and the candidate weight, closest first.
// Ties are broken by candidate code.
func Trials(store *catalogue.Store, calc *solvent.Calculator, assemblyMW float64, opts TrialOptions) ([]TrialCandidate, error) {
	opts.ApplyDefaults()

	var list []TrialCandidate
	skipped := 0
	err := store.Each(func(e catalogue.Entry) error {
		content, _, serr := calc.Estimate(e.MolecularWeight)
		if serr != nil {
			if errors.Is(serr, solvent.ErrNoFit) {
				skipped++
				return nil
			}
			return serr
		}
		if content < opts.MinSolvent {
			skipped++
			return nil
		}
		list = append(list, TrialCandidate{
			Code:              e.Code,
			ModelPath:         e.ModelPath,
			MolecularWeight:   e.MolecularWeight,
			IntegrationRadius: e.IntegrationRadius,
			X:                 e.X,
			Y:                 e.Y,
			Z:                 e.Z,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(list, func(i, j int) bool {
		di := math.Abs(assemblyMW - list[i].MolecularWeight)
		dj := math.Abs(assemblyMW - list[j].MolecularWeight)
		if di != dj {
			return di < dj
		}
		return list[i].Code < list[j].Code
	})

	if opts.MaxResults > 0 && len(list) > opts.MaxResults {
		list = list[:opts.MaxResults]
	}

	opts.Logger.Info("trial worklist built",
		slog.Int("candidates", len(list)),
		slog.Int("skipped", skipped),
	)
	return list, nil
}
