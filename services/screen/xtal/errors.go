// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package xtal

import "errors"

// Sentinel errors for cell and space-group parsing.
//
// These are per-candidate failures: callers skip the offending candidate
// and continue, they never abort a run.
var (
	// ErrMalformedCell is returned when a unit-cell string cannot be parsed
	// into six real parameters.
	ErrMalformedCell = errors.New("malformed unit cell")

	// ErrInvalidCell is returned when parsed cell parameters are not
	// physically meaningful (non-positive lengths, degenerate angles).
	ErrInvalidCell = errors.New("invalid unit cell parameters")

	// ErrUnknownSpaceGroup is returned when a space-group symbol is not
	// recognised after alias normalization.
	ErrUnknownSpaceGroup = errors.New("unknown space group")
)
