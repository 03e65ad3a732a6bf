// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package xtal

import (
	"errors"
	"math"
	"testing"
)

func TestParseCell(t *testing.T) {
	t.Run("comma separated", func(t *testing.T) {
		c, err := ParseCell("73.58,38.73,23.19,90.00,90.00,90.00")
		if err != nil {
			t.Fatalf("ParseCell: %v", err)
		}
		if c.A != 73.58 || c.B != 38.73 || c.C != 23.19 {
			t.Errorf("lengths = %v, %v, %v", c.A, c.B, c.C)
		}
		if c.Alpha != 90 || c.Beta != 90 || c.Gamma != 90 {
			t.Errorf("angles = %v, %v, %v", c.Alpha, c.Beta, c.Gamma)
		}
	})

	t.Run("whitespace separated", func(t *testing.T) {
		if _, err := ParseCell("73.58 38.73 23.19 90 90 90"); err != nil {
			t.Fatalf("ParseCell: %v", err)
		}
	})

	t.Run("wrong field count", func(t *testing.T) {
		_, err := ParseCell("73.58,38.73,23.19,90.00,90.00")
		if !errors.Is(err, ErrMalformedCell) {
			t.Errorf("err = %v, want ErrMalformedCell", err)
		}
	})

	t.Run("non-numeric field", func(t *testing.T) {
		_, err := ParseCell("73.58,38.73,xyz,90,90,90")
		if !errors.Is(err, ErrMalformedCell) {
			t.Errorf("err = %v, want ErrMalformedCell", err)
		}
	})

	t.Run("degenerate angle", func(t *testing.T) {
		_, err := ParseCell("73.58,38.73,23.19,90,180,90")
		if !errors.Is(err, ErrInvalidCell) {
			t.Errorf("err = %v, want ErrInvalidCell", err)
		}
	})
}

func TestCellVolume(t *testing.T) {
	c := Cell{A: 73.58, B: 38.73, C: 23.19, Alpha: 90, Beta: 90, Gamma: 90}
	want := 73.58 * 38.73 * 23.19
	if got := c.Volume(); math.Abs(got-want) > 1e-6 {
		t.Errorf("Volume = %v, want %v", got, want)
	}
}

func TestNormalizeSpaceGroup(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"P212121", "P212121"},
		{"P 21 21 21", "P212121"},
		{"A1", "P1"},
		{"I1211", "I2"},
		{"P21212A", "P212121"},
		{"C4212", "P422"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			sg, err := NormalizeSpaceGroup(tc.in)
			if err != nil {
				t.Fatalf("NormalizeSpaceGroup(%q): %v", tc.in, err)
			}
			if sg.Symbol() != tc.want {
				t.Errorf("Symbol = %q, want %q", sg.Symbol(), tc.want)
			}
		})
	}

	t.Run("unknown symbol", func(t *testing.T) {
		_, err := NormalizeSpaceGroup("Q999")
		if !errors.Is(err, ErrUnknownSpaceGroup) {
			t.Errorf("err = %v, want ErrUnknownSpaceGroup", err)
		}
	})

	t.Run("operation counts", func(t *testing.T) {
		for symbol, want := range map[string]int{"P1": 1, "P21": 2, "P212121": 4, "C2221": 8, "I422": 16} {
			sg, err := NormalizeSpaceGroup(symbol)
			if err != nil {
				t.Fatalf("NormalizeSpaceGroup(%q): %v", symbol, err)
			}
			if sg.NumOps() != want {
				t.Errorf("NumOps(%s) = %d, want %d", symbol, sg.NumOps(), want)
			}
		}
	})
}

func TestNiggli(t *testing.T) {
	t.Run("orthorhombic sorts lengths ascending", func(t *testing.T) {
		sg, err := NormalizeSpaceGroup("P212121")
		if err != nil {
			t.Fatal(err)
		}
		cell := Cell{A: 73.58, B: 38.73, C: 23.19, Alpha: 90, Beta: 90, Gamma: 90}

		got, err := Niggli(cell, sg)
		if err != nil {
			t.Fatalf("Niggli: %v", err)
		}
		want := Cell{A: 23.19, B: 38.73, C: 73.58, Alpha: 90, Beta: 90, Gamma: 90}
		if got != want {
			t.Errorf("Niggli = %+v, want %+v", got, want)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		sg, _ := NormalizeSpaceGroup("P1")
		cell := Cell{A: 41.34, B: 123.01, C: 93.23, Alpha: 120, Beta: 90, Gamma: 89}

		once, err := Niggli(cell, sg)
		if err != nil {
			t.Fatalf("Niggli: %v", err)
		}
		twice, err := Niggli(once, sg)
		if err != nil {
			t.Fatalf("Niggli (second pass): %v", err)
		}
		if once != twice {
			t.Errorf("reduction not stable: %+v vs %+v", once, twice)
		}
	})

	t.Run("monoclinic reduction lands on a fixed point", func(t *testing.T) {
		// A C-centred monoclinic cell reduces to a cell with a right angle.
		// The sign-fixing step must not read that angle's near-zero metric
		// parameter as a sign, or the reduced cell re-reduces to a
		// different cell and self-comparison stops being a perfect match.
		sg, err := NormalizeSpaceGroup("C2")
		if err != nil {
			t.Fatal(err)
		}
		cell := Cell{A: 97.2, B: 48.1, C: 67.3, Alpha: 90, Beta: 112.5, Gamma: 90}

		reduced, err := Niggli(cell, sg)
		if err != nil {
			t.Fatalf("Niggli: %v", err)
		}
		p1, _ := NormalizeSpaceGroup("P1")
		again, err := Niggli(reduced, p1)
		if err != nil {
			t.Fatalf("Niggli (second pass): %v", err)
		}
		if reduced != again {
			t.Errorf("reduction not stable: %+v vs %+v", reduced, again)
		}
	})

	t.Run("centred cell halves the primitive volume", func(t *testing.T) {
		sg, _ := NormalizeSpaceGroup("C2221")
		cell := Cell{A: 80, B: 100, C: 60, Alpha: 90, Beta: 90, Gamma: 90}

		got, err := Niggli(cell, sg)
		if err != nil {
			t.Fatalf("Niggli: %v", err)
		}
		if ratio := cell.Volume() / got.Volume(); math.Abs(ratio-2) > 1e-3 {
			t.Errorf("volume ratio = %v, want 2", ratio)
		}
	})

	t.Run("reduced lengths are ordered", func(t *testing.T) {
		sg, _ := NormalizeSpaceGroup("P1")
		cell := Cell{A: 90, B: 20, C: 45, Alpha: 85, Beta: 95, Gamma: 100}

		got, err := Niggli(cell, sg)
		if err != nil {
			t.Fatalf("Niggli: %v", err)
		}
		if !(got.A <= got.B+1e-9 && got.B <= got.C+1e-9) {
			t.Errorf("lengths not ascending: %+v", got)
		}
	})
}
