// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package xtal provides the crystallographic primitives the screening engine
// ranks candidates with: unit cells, Niggli reduction and space-group symbol
// normalization.
//
// Cells reported by different processing pipelines for the same crystal can
// use different axis conventions, so every comparison in this codebase goes
// through the Niggli-reduced form. Reduction honours the space group's
// lattice centering: centred cells are transformed to their primitive
// setting before the reduction proper.
package xtal

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Cell is a crystallographic unit cell. Lengths are in Angstrom, angles
// in degrees. A Cell is a plain value; functions in this package never
// mutate their receiver.
type Cell struct {
	A, B, C            float64
	Alpha, Beta, Gamma float64
}

// ParseCell parses a cell from a comma- or whitespace-separated string of
// six real values in the order a,b,c,alpha,beta,gamma.
//
// Returns ErrMalformedCell (wrapped) if the string does not contain exactly
// six parseable values, and ErrInvalidCell if the values are not a usable
// cell. Both are per-candidate errors: callers skip and continue.
func ParseCell(s string) (Cell, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) != 6 {
		return Cell{}, fmt.Errorf("%w: %q has %d fields, want 6", ErrMalformedCell, s, len(fields))
	}

	var v [6]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return Cell{}, fmt.Errorf("%w: %q: %v", ErrMalformedCell, f, err)
		}
		v[i] = x
	}

	c := Cell{A: v[0], B: v[1], C: v[2], Alpha: v[3], Beta: v[4], Gamma: v[5]}
	if err := c.Validate(); err != nil {
		return Cell{}, err
	}
	return c, nil
}

// Validate checks that the cell is physically meaningful.
func (c Cell) Validate() error {
	for _, l := range []float64{c.A, c.B, c.C} {
		if !(l > 0) {
			return fmt.Errorf("%w: non-positive length in %v", ErrInvalidCell, c)
		}
	}
	for _, a := range []float64{c.Alpha, c.Beta, c.Gamma} {
		if !(a > 0) || !(a < 180) {
			return fmt.Errorf("%w: angle out of (0,180) in %v", ErrInvalidCell, c)
		}
	}
	return nil
}

// Lengths returns the three cell lengths as a slice.
func (c Cell) Lengths() []float64 { return []float64{c.A, c.B, c.C} }

// Angles returns the three cell angles as a slice.
func (c Cell) Angles() []float64 { return []float64{c.Alpha, c.Beta, c.Gamma} }

// Parameters returns all six parameters in a,b,c,alpha,beta,gamma order.
func (c Cell) Parameters() []float64 {
	return []float64{c.A, c.B, c.C, c.Alpha, c.Beta, c.Gamma}
}

// Volume returns the cell volume in cubic Angstrom.
func (c Cell) Volume() float64 {
	ca := math.Cos(c.Alpha * math.Pi / 180)
	cb := math.Cos(c.Beta * math.Pi / 180)
	cg := math.Cos(c.Gamma * math.Pi / 180)
	return c.A * c.B * c.C * math.Sqrt(1-ca*ca-cb*cb-cg*cg+2*ca*cb*cg)
}

// String renders the cell as a comma-separated parameter list.
func (c Cell) String() string {
	return fmt.Sprintf("%.2f,%.2f,%.2f,%.2f,%.2f,%.2f", c.A, c.B, c.C, c.Alpha, c.Beta, c.Gamma)
}

// basis returns the three cell basis vectors in a Cartesian frame using the
// standard fractional-to-Cartesian convention (a along x, b in the xy
// plane).
func (c Cell) basis() [3][3]float64 {
	ca := math.Cos(c.Alpha * math.Pi / 180)
	cb := math.Cos(c.Beta * math.Pi / 180)
	cg := math.Cos(c.Gamma * math.Pi / 180)
	sg := math.Sin(c.Gamma * math.Pi / 180)

	av := [3]float64{c.A, 0, 0}
	bv := [3]float64{c.B * cg, c.B * sg, 0}
	cx := c.C * cb
	cy := c.C * (ca - cb*cg) / sg
	cz := math.Sqrt(math.Max(0, c.C*c.C-cx*cx-cy*cy))
	cv := [3]float64{cx, cy, cz}

	return [3][3]float64{av, bv, cv}
}
