// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rank turns the raw catalogue into ordered worklists for the trial
// stages: a lattice-compatibility ranking for the lattice stage and a
// solvent-filtered, molecular-weight ordering for the rotation stage.
package rank

import (
	"log/slog"
	"math"
	"sort"

	"github.com/xtalpipe/xtalpipe/services/screen/catalogue"
	"github.com/xtalpipe/xtalpipe/services/screen/xtal"
)

// penaltyPrecision is the number of decimals kept on penalty scores.
// The rounding is load-bearing: catalogue cells are stored at fixed
// precision, and score equality (including the zero-penalty identity) is
// defined at this precision.
const penaltyPrecision = 2

// probabilityDecay is the decay constant of the acceptance-probability
// curve, fitted against screening runs with known solutions. exp(-k*0.25)
// rounds to 0.902.
const probabilityDecay = 0.4125

// probabilityPrecision is the number of decimals kept on probabilities.
const probabilityPrecision = 3

// LatticeScore is the lattice-compatibility score of one candidate against
// the target cell. Lower penalties are better.
type LatticeScore struct {
	Code           string
	TotalPenalty   float64
	LengthPenalty  float64
	AnglePenalty   float64
	Probability    float64
	ModelPath      string
	MolecularWeight float64
}

// Penalty computes the three penalty terms between two cells: the sum of
// absolute length differences, the sum of absolute angle differences, and
// their total. All three are rounded to the fixed penalty precision. Both
// cells must already be in the same (Niggli) convention.
func Penalty(a, b xtal.Cell) (total, length, angle float64) {
	la, lb := a.Lengths(), b.Lengths()
	for i := range la {
		length += math.Abs(la[i] - lb[i])
	}
	aa, ab := a.Angles(), b.Angles()
	for i := range aa {
		angle += math.Abs(aa[i] - ab[i])
	}
	length = roundTo(length, penaltyPrecision)
	angle = roundTo(angle, penaltyPrecision)
	total = roundTo(length+angle, penaltyPrecision)
	return total, length, angle
}

// Probability maps a total penalty onto the acceptance probability in
// [0,1]. It is strictly decreasing in the penalty and exactly 1 at zero.
func Probability(totalPenalty float64) float64 {
	return roundTo(math.Exp(-probabilityDecay*totalPenalty), probabilityPrecision)
}

// WithinTolerance reports whether every one of the six cell parameters of a
// and b differs by no more than the corresponding tolerance. The boundary
// is inclusive: a difference exactly equal to the tolerance passes.
func WithinTolerance(a, b xtal.Cell, tolerance [6]float64) bool {
	pa, pb := a.Parameters(), b.Parameters()
	for i := range pa {
		if math.Abs(pa[i]-pb[i]) > tolerance[i] {
			return false
		}
	}
	return true
}

// RelativeTolerance builds a tolerance vector as a fraction of the target
// cell's own parameters.
func RelativeTolerance(target xtal.Cell, fraction float64) [6]float64 {
	var tol [6]float64
	for i, p := range target.Parameters() {
		tol[i] = p * fraction
	}
	return tol
}

// LatticeOptions configure a lattice ranking pass.
type LatticeOptions struct {
	// ToleranceFraction is the per-parameter relative tolerance of the
	// pre-cut. Candidates outside tolerance are not scored.
	ToleranceFraction float64

	// MaxResults truncates the ranked list; 0 keeps everything.
	MaxResults int

	Logger *slog.Logger
}

// ApplyDefaults fills zero-valued options.
func (o *LatticeOptions) ApplyDefaults() {
	if o.ToleranceFraction == 0 {
		o.ToleranceFraction = 0.05
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Lattice ranks every catalogue entry by lattice compatibility with the
// target. The target cell is Niggli-reduced first; catalogue cells are
// stored pre-reduced. The returned list is sorted by total penalty
// ascending, ties broken by candidate code for a stable order.
func Lattice(store *catalogue.Store, targetCell xtal.Cell, sg xtal.SpaceGroup, opts LatticeOptions) ([]LatticeScore, error) {
	opts.ApplyDefaults()

	reduced, err := xtal.Niggli(targetCell, sg)
	if err != nil {
		return nil, err
	}
	tol := RelativeTolerance(reduced, opts.ToleranceFraction)

	var scores []LatticeScore
	err = store.Each(func(e catalogue.Entry) error {
		if !WithinTolerance(reduced, e.NiggliCell, tol) {
			return nil
		}
		total, length, angle := Penalty(reduced, e.NiggliCell)
		scores = append(scores, LatticeScore{
			Code:            e.Code,
			TotalPenalty:    total,
			LengthPenalty:   length,
			AnglePenalty:    angle,
			Probability:     Probability(total),
			ModelPath:       e.ModelPath,
			MolecularWeight: e.MolecularWeight,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].TotalPenalty != scores[j].TotalPenalty {
			return scores[i].TotalPenalty < scores[j].TotalPenalty
		}
		return scores[i].Code < scores[j].Code
	})

	if opts.MaxResults > 0 && len(scores) > opts.MaxResults {
		scores = scores[:opts.MaxResults]
	}

	opts.Logger.Info("lattice ranking complete",
		slog.String("target_cell", reduced.String()),
		slog.String("space_group", sg.Symbol()),
		slog.Int("matches", len(scores)),
	)
	return scores, nil
}

func roundTo(x float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(x*p) / p
}
