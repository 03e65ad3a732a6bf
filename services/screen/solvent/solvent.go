// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package solvent estimates the solvent content of a crystal for a candidate
// model, and the number of copies of that model the asymmetric unit can
// plausibly hold. Candidates whose predicted solvent content is implausibly
// low cannot fit the cell and are filtered out before any trial is spent on
// them.
package solvent

import (
	"fmt"
	"math"

	"github.com/xtalpipe/xtalpipe/services/screen/xtal"
)

// proteinDensityTerm is the conventional 1.23 Da/A^3 packing term: a Matthews
// coefficient Vm in A^3/Da gives solvent fraction 1 - 1.23/Vm.
const proteinDensityTerm = 1.23

// mostProbableVm is the most probable Matthews coefficient for a protein
// crystal, used to pick the copy number when several fit.
const mostProbableVm = 2.69

// ErrNoFit is returned when not even a single copy of the model fits the
// asymmetric unit with non-negative solvent.
var ErrNoFit = fmt.Errorf("model does not fit the asymmetric unit")

// Calculator computes solvent content against a fixed crystal form.
type Calculator struct {
	asuVolume float64
}

// NewCalculator builds a Calculator for the given cell and space group.
// The relevant quantity is the asymmetric-unit volume: cell volume divided
// by the number of symmetry operations.
func NewCalculator(cell xtal.Cell, sg xtal.SpaceGroup) (*Calculator, error) {
	if err := cell.Validate(); err != nil {
		return nil, err
	}
	if sg.NumOps() <= 0 {
		return nil, fmt.Errorf("%w: %q", xtal.ErrUnknownSpaceGroup, sg.Symbol())
	}
	return &Calculator{asuVolume: cell.Volume() / float64(sg.NumOps())}, nil
}

// NewCalculatorFromVolume builds a Calculator directly from an
// asymmetric-unit volume in cubic Angstrom. Used when the volume comes from
// an upstream accessor rather than a cell.
func NewCalculatorFromVolume(asuVolume float64) (*Calculator, error) {
	if !(asuVolume > 0) {
		return nil, fmt.Errorf("asymmetric unit volume must be positive, got %v", asuVolume)
	}
	return &Calculator{asuVolume: asuVolume}, nil
}

// Content returns the solvent fraction for n copies of a model of the given
// molecular weight (Da) in the asymmetric unit.
func (c *Calculator) Content(molecularWeight float64, n int) float64 {
	if molecularWeight <= 0 || n <= 0 {
		return 1
	}
	vm := c.asuVolume / (molecularWeight * float64(n))
	return 1 - proteinDensityTerm/vm
}

// Estimate returns the solvent fraction and copy number for the most
// probable packing of the model: among all copy numbers that leave a
// non-negative solvent fraction, the one whose Matthews coefficient is
// closest to the most probable value for protein crystals.
//
// Returns ErrNoFit when one copy already overfills the asymmetric unit.
func (c *Calculator) Estimate(molecularWeight float64) (float64, int, error) {
	if molecularWeight <= 0 {
		return 0, 0, fmt.Errorf("molecular weight must be positive, got %v", molecularWeight)
	}
	if c.Content(molecularWeight, 1) < 0 {
		return 0, 0, fmt.Errorf("%w: mw %.0f, asu volume %.0f", ErrNoFit, molecularWeight, c.asuVolume)
	}

	best, bestDist := 1, math.Inf(1)
	for n := 1; ; n++ {
		if c.Content(molecularWeight, n) < 0 {
			break
		}
		vm := c.asuVolume / (molecularWeight * float64(n))
		if d := math.Abs(vm - mostProbableVm); d < bestDist {
			best, bestDist = n, d
		}
	}
	return c.Content(molecularWeight, best), best, nil
}
