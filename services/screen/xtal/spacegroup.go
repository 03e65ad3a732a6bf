// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package xtal

import (
	"fmt"
	"strings"
)

// spaceGroupAliases maps non-standard symbols emitted by some data-processing
// pipelines onto the canonical representative used for catalogue lookups.
// Includes obverse/reverse rhombohedral settings and axis-setting variants.
var spaceGroupAliases = map[string]string{
	"A1":      "P1",
	"B2":      "B112",
	"C1211":   "C2",
	"F422":    "I422",
	"I21":     "I2",
	"I1211":   "I2",
	"P21212A": "P212121",
	"R3":      "R3:R",
	"C4212":   "P422",
}

// sohnckeGroups lists the space groups a macromolecular crystal can adopt,
// keyed by short Hermann-Mauguin symbol, with the number of symmetry
// operations of the general position (centring included). The operation
// count fixes the asymmetric-unit volume used for solvent estimates.
var sohnckeGroups = map[string]int{
	// Triclinic
	"P1": 1,
	// Monoclinic
	"P2": 2, "P21": 2, "C2": 4, "I2": 4, "B112": 4,
	// Orthorhombic
	"P222": 4, "P2221": 4, "P21212": 4, "P212121": 4,
	"C2221": 8, "C222": 8, "F222": 16, "I222": 8, "I212121": 8,
	// Tetragonal
	"P4": 4, "P41": 4, "P42": 4, "P43": 4, "I4": 8, "I41": 8,
	"P422": 8, "P4212": 8, "P4122": 8, "P41212": 8, "P4222": 8,
	"P42212": 8, "P4322": 8, "P43212": 8, "I422": 16, "I4122": 16,
	// Trigonal
	"P3": 3, "P31": 3, "P32": 3, "R3:R": 3, "R3:H": 9,
	"P312": 6, "P321": 6, "P3112": 6, "P3121": 6, "P3212": 6, "P3221": 6,
	"R32:R": 6, "R32:H": 18, "R32": 18,
	// Hexagonal
	"P6": 6, "P61": 6, "P65": 6, "P62": 6, "P64": 6, "P63": 6,
	"P622": 12, "P6122": 12, "P6522": 12, "P6222": 12, "P6422": 12, "P6322": 12,
	// Cubic
	"P23": 12, "F23": 48, "I23": 24, "P213": 12, "I213": 24,
	"P432": 24, "P4232": 24, "F432": 96, "F4132": 96, "I432": 48,
	"P4332": 24, "P4132": 24, "I4132": 48,
}

// SpaceGroup is a normalized space-group symbol.
type SpaceGroup struct {
	symbol string
	ops    int
}

// NormalizeSpaceGroup maps a space-group symbol, possibly in a non-standard
// setting, onto its canonical representative.
//
// Whitespace inside the symbol is discarded ("P 21 21 21" and "P212121" are
// the same group). Unrecognised symbols return ErrUnknownSpaceGroup; like
// cell parse failures this is fatal for a single candidate only.
func NormalizeSpaceGroup(symbol string) (SpaceGroup, error) {
	s := strings.Join(strings.Fields(symbol), "")
	if s == "" {
		return SpaceGroup{}, fmt.Errorf("%w: empty symbol", ErrUnknownSpaceGroup)
	}
	if canonical, ok := spaceGroupAliases[s]; ok {
		s = canonical
	}
	ops, ok := sohnckeGroups[s]
	if !ok {
		return SpaceGroup{}, fmt.Errorf("%w: %q", ErrUnknownSpaceGroup, symbol)
	}
	return SpaceGroup{symbol: s, ops: ops}, nil
}

// Symbol returns the canonical short Hermann-Mauguin symbol.
func (sg SpaceGroup) Symbol() string { return sg.symbol }

// NumOps returns the number of symmetry operations of the general position.
func (sg SpaceGroup) NumOps() int { return sg.ops }

// Centering returns the lattice centering letter of the group.
func (sg SpaceGroup) Centering() byte {
	if sg.symbol == "" {
		return 'P'
	}
	return sg.symbol[0]
}

func (sg SpaceGroup) String() string { return sg.symbol }
