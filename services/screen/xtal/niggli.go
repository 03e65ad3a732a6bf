// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package xtal

import (
	"fmt"
	"math"
)

// niggliMaxIterations bounds the reduction loop. The Krivy-Gruber algorithm
// converges in a handful of steps for real cells; the cap only guards
// against oscillation from floating-point noise on pathological input.
const niggliMaxIterations = 100

// niggliPrecision is the number of decimals kept on the reduced parameters.
// Catalogue cells are stored at this precision, so reducing the same cell
// twice compares equal.
const niggliPrecision = 3

// centeringOps maps a lattice centering letter to the transformation from
// the conventional basis to a primitive one. Rows are the primitive basis
// vectors expressed in conventional-basis coordinates.
var centeringOps = map[byte][3][3]float64{
	'P': {{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	'A': {{1, 0, 0}, {0, 0.5, 0.5}, {0, -0.5, 0.5}},
	'B': {{0.5, 0, 0.5}, {0, 1, 0}, {-0.5, 0, 0.5}},
	'C': {{0.5, 0.5, 0}, {-0.5, 0.5, 0}, {0, 0, 1}},
	'I': {{1, 0, 0}, {0, 1, 0}, {0.5, 0.5, 0.5}},
	'F': {{0, 0.5, 0.5}, {0.5, 0, 0.5}, {0.5, 0.5, 0}},
	'R': {{2. / 3, 1. / 3, 1. / 3}, {-1. / 3, 1. / 3, 1. / 3}, {-1. / 3, -2. / 3, 1. / 3}},
}

// Niggli reduces a cell to its canonical Niggli form, honouring the lattice
// centering implied by the space group. All cell comparisons in the engine
// are made between Niggli-reduced cells, which makes them independent of the
// axis convention the cell was reported in.
//
// The reduced parameters are rounded to three decimals; for an orthorhombic
// primitive cell the reduction amounts to sorting the lengths ascending.
func Niggli(cell Cell, sg SpaceGroup) (Cell, error) {
	if err := cell.Validate(); err != nil {
		return Cell{}, err
	}

	centering := sg.Centering()
	if centering == 'R' && !isHexagonalCell(cell) {
		// Rhombohedral axes: the cell is already primitive. The obverse
		// hexagonal setting keeps its R centering and gets primitivized.
		centering = 'P'
	}

	op, ok := centeringOps[centering]
	if !ok {
		return Cell{}, fmt.Errorf("%w: centering %q", ErrUnknownSpaceGroup, string(centering))
	}

	basis := cell.basis()
	var prim [3][3]float64
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			for j := 0; j < 3; j++ {
				prim[i][k] += op[i][j] * basis[j][k]
			}
		}
	}

	a2 := dot(prim[0], prim[0])
	b2 := dot(prim[1], prim[1])
	c2 := dot(prim[2], prim[2])
	xi := 2 * dot(prim[1], prim[2])
	eta := 2 * dot(prim[0], prim[2])
	zeta := 2 * dot(prim[0], prim[1])

	a2, b2, c2, xi, eta, zeta = krivyGruber(a2, b2, c2, xi, eta, zeta)

	la := math.Sqrt(a2)
	lb := math.Sqrt(b2)
	lc := math.Sqrt(c2)
	reduced := Cell{
		A:     roundTo(la, niggliPrecision),
		B:     roundTo(lb, niggliPrecision),
		C:     roundTo(lc, niggliPrecision),
		Alpha: roundTo(degAcos(xi/(2*lb*lc)), niggliPrecision),
		Beta:  roundTo(degAcos(eta/(2*la*lc)), niggliPrecision),
		Gamma: roundTo(degAcos(zeta/(2*la*lb)), niggliPrecision),
	}
	return reduced, nil
}

// krivyGruber runs the Krivy & Gruber (1976) reduction on the metric
// parameters (a.a, b.b, c.c, 2b.c, 2a.c, 2a.b).
func krivyGruber(a, b, c, xi, eta, zeta float64) (float64, float64, float64, float64, float64, float64) {
	eps := 1e-5 * math.Cbrt(a*b*c)

	for iter := 0; iter < niggliMaxIterations; iter++ {
		// Step 1: order a <= b.
		if a > b+eps || (math.Abs(a-b) < eps && math.Abs(xi) > math.Abs(eta)+eps) {
			a, b = b, a
			xi, eta = eta, xi
		}
		// Step 2: order b <= c; re-check step 1 afterwards.
		if b > c+eps || (math.Abs(b-c) < eps && math.Abs(eta) > math.Abs(zeta)+eps) {
			b, c = c, b
			eta, zeta = zeta, eta
			continue
		}
		// Steps 3/4: fix the angle-parameter signs. A value within eps of
		// zero is treated as zero, never as a sign, so a right angle cannot
		// flip the cell between types on floating-point noise. With no
		// zeros, an even negative count means all three can be made
		// positive by axis flips; anything else takes the non-positive form.
		negatives, zeros := 0, 0
		for _, v := range [3]float64{xi, eta, zeta} {
			switch {
			case math.Abs(v) <= eps:
				zeros++
			case v < 0:
				negatives++
			}
		}
		if zeros == 0 && negatives%2 == 0 {
			xi, eta, zeta = math.Abs(xi), math.Abs(eta), math.Abs(zeta)
		} else {
			xi, eta, zeta = -math.Abs(xi), -math.Abs(eta), -math.Abs(zeta)
		}
		// Step 5.
		if math.Abs(xi) > b+eps ||
			(math.Abs(xi-b) < eps && 2*eta < zeta-eps) ||
			(math.Abs(xi+b) < eps && zeta < -eps) {
			s := sign(xi)
			c = b + c - xi*s
			eta = eta - zeta*s
			xi = xi - 2*b*s
			continue
		}
		// Step 6.
		if math.Abs(eta) > a+eps ||
			(math.Abs(eta-a) < eps && 2*xi < zeta-eps) ||
			(math.Abs(eta+a) < eps && zeta < -eps) {
			s := sign(eta)
			c = a + c - eta*s
			xi = xi - zeta*s
			eta = eta - 2*a*s
			continue
		}
		// Step 7.
		if math.Abs(zeta) > a+eps ||
			(math.Abs(zeta-a) < eps && 2*xi < eta-eps) ||
			(math.Abs(zeta+a) < eps && eta < -eps) {
			s := sign(zeta)
			b = a + b - zeta*s
			xi = xi - eta*s
			zeta = zeta - 2*a*s
			continue
		}
		// Step 8.
		if xi+eta+zeta+a+b < -eps ||
			(math.Abs(xi+eta+zeta+a+b) < eps && 2*(a+eta)+zeta > eps) {
			c = a + b + c + xi + eta + zeta
			xi = 2*b + xi + zeta
			eta = 2*a + eta + zeta
			continue
		}
		break
	}
	return a, b, c, xi, eta, zeta
}

// isHexagonalCell reports whether the cell looks like a hexagonal-axes
// setting (alpha=beta=90, gamma=120).
func isHexagonalCell(c Cell) bool {
	const tol = 0.5
	return math.Abs(c.Alpha-90) < tol && math.Abs(c.Beta-90) < tol && math.Abs(c.Gamma-120) < tol
}

func dot(u, v [3]float64) float64 { return u[0]*v[0] + u[1]*v[1] + u[2]*v[2] }

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

func degAcos(x float64) float64 {
	// Clamp against rounding drift at exactly 0 or 180 degrees.
	return math.Acos(math.Min(1, math.Max(-1, x))) * 180 / math.Pi
}

func roundTo(x float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(x*p) / p
}
