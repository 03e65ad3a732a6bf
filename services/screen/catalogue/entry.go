// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package catalogue holds the reference-structure catalogue the screening
// engine draws its candidates from. The catalogue is an embedded BadgerDB
// keyed by candidate code; at typical size (~10^5 entries) full scans for
// the lattice pre-screen stay in the tens of milliseconds while point
// lookups serve the trial stages.
package catalogue

import (
	"encoding/json"
	"fmt"

	"github.com/xtalpipe/xtalpipe/services/screen/xtal"
)

// Entry is one candidate reference structure. Entries are immutable once
// ranked: the scheduler and scorers only ever read them.
type Entry struct {
	// Code identifies the candidate (a four-character reference code).
	Code string `json:"code" yaml:"code"`

	// ModelPath is the path to the reference model file.
	ModelPath string `json:"model_path" yaml:"model_path"`

	// NiggliCell is the candidate's Niggli-reduced unit cell, stored
	// pre-reduced so lattice comparison never re-reduces catalogue cells.
	NiggliCell xtal.Cell `json:"niggli_cell" yaml:"niggli_cell"`

	// X, Y, Z are the model's bounding-box dimensions in Angstrom.
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`

	// IntegrationRadius is the rotation-function integration sphere radius.
	IntegrationRadius float64 `json:"integration_radius" yaml:"integration_radius"`

	// MolecularWeight is the model's molecular weight in Dalton.
	MolecularWeight float64 `json:"molecular_weight" yaml:"molecular_weight"`
}

// Validate checks the fields needed to schedule a trial for the entry.
func (e Entry) Validate() error {
	if e.Code == "" {
		return fmt.Errorf("%w: empty code", ErrInvalidEntry)
	}
	if e.ModelPath == "" {
		return fmt.Errorf("%w: %s has no model path", ErrInvalidEntry, e.Code)
	}
	if e.MolecularWeight <= 0 {
		return fmt.Errorf("%w: %s has non-positive molecular weight", ErrInvalidEntry, e.Code)
	}
	return nil
}

func (e Entry) marshal() ([]byte, error) {
	return json.Marshal(e)
}

func unmarshalEntry(data []byte) (Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, fmt.Errorf("decode catalogue entry: %w", err)
	}
	return e, nil
}
