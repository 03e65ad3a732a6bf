// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package solvent

import (
	"errors"
	"math"
	"testing"

	"github.com/xtalpipe/xtalpipe/services/screen/xtal"
)

func TestContent(t *testing.T) {
	// Asymmetric-unit volume of the 73.58 x 38.73 x 23.19 orthorhombic
	// test crystal (4 symmetry operations).
	calc, err := NewCalculatorFromVolume(16522.4616729)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("single copy", func(t *testing.T) {
		got := calc.Content(6850, 1)
		if math.Abs(got-0.49) > 0.005 {
			t.Errorf("Content = %v, want ~0.49", got)
		}
	})

	t.Run("more copies lower the solvent fraction", func(t *testing.T) {
		if calc.Content(6850, 2) >= calc.Content(6850, 1) {
			t.Error("solvent fraction should decrease with copy number")
		}
	})
}

func TestEstimate(t *testing.T) {
	calc, err := NewCalculatorFromVolume(16522.4616729)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("small protein fits once", func(t *testing.T) {
		frac, n, err := calc.Estimate(6850)
		if err != nil {
			t.Fatalf("Estimate: %v", err)
		}
		if n != 1 {
			t.Errorf("copies = %d, want 1", n)
		}
		if math.Abs(frac-0.49) > 0.005 {
			t.Errorf("solvent = %v, want ~0.49", frac)
		}
	})

	t.Run("oversized model does not fit", func(t *testing.T) {
		_, _, err := calc.Estimate(50000)
		if !errors.Is(err, ErrNoFit) {
			t.Errorf("err = %v, want ErrNoFit", err)
		}
	})

	t.Run("large cell takes multiple copies", func(t *testing.T) {
		big, err := NewCalculatorFromVolume(16522.4616729 * 4)
		if err != nil {
			t.Fatal(err)
		}
		_, n, err := big.Estimate(6850)
		if err != nil {
			t.Fatalf("Estimate: %v", err)
		}
		if n < 2 {
			t.Errorf("copies = %d, want >= 2", n)
		}
	})
}

func TestNewCalculator(t *testing.T) {
	sg, err := xtal.NormalizeSpaceGroup("P212121")
	if err != nil {
		t.Fatal(err)
	}
	cell := xtal.Cell{A: 73.58, B: 38.73, C: 23.19, Alpha: 90, Beta: 90, Gamma: 90}

	calc, err := NewCalculator(cell, sg)
	if err != nil {
		t.Fatalf("NewCalculator: %v", err)
	}
	fromVolume, _ := NewCalculatorFromVolume(cell.Volume() / 4)
	if math.Abs(calc.Content(6850, 1)-fromVolume.Content(6850, 1)) > 1e-9 {
		t.Error("cell-derived and volume-derived calculators disagree")
	}
}
