// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mtz is the boundary to the experimental diffraction data. The
// engine never parses reflection files itself; it consumes an accessor that
// reports the crystal symmetry, the resolution and the column labels the
// external trial engines need. The shipped implementation reads a YAML
// descriptor produced by the data-preparation step.
package mtz

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/xtalpipe/xtalpipe/services/screen/xtal"
)

// Labels are the reflection-file column labels handed to trial engines.
// DAno/SigDAno are empty when the dataset carries no anomalous signal.
type Labels struct {
	F       string `yaml:"f" validate:"required"`
	SigF    string `yaml:"sigf" validate:"required"`
	DAno    string `yaml:"dano"`
	SigDAno string `yaml:"sigdano"`
	Free    string `yaml:"free"`
}

// Info is everything the screening engine needs to know about a dataset.
type Info struct {
	ReflectionFile string
	SpaceGroup     xtal.SpaceGroup
	Cell           xtal.Cell
	Resolution     float64
	Labels         Labels
	AssemblyMW     float64
}

// HasAnomalous reports whether anomalous-difference columns are present.
func (i Info) HasAnomalous() bool { return i.Labels.DAno != "" && i.Labels.SigDAno != "" }

// Accessor exposes a diffraction dataset to the engine.
type Accessor interface {
	Info() (Info, error)
}

// descriptor is the on-disk YAML form of a dataset description.
type descriptor struct {
	Reflections string  `yaml:"reflections" validate:"required"`
	SpaceGroup  string  `yaml:"space_group" validate:"required"`
	Cell        string  `yaml:"cell" validate:"required"`
	Resolution  float64 `yaml:"resolution" validate:"gt=0"`
	AssemblyMW  float64 `yaml:"assembly_mw" validate:"gte=0"`
	Labels      Labels  `yaml:"labels" validate:"required"`
}

// FileAccessor reads a YAML dataset descriptor from disk.
//
// Construction parses and validates eagerly: an unreadable or inconsistent
// descriptor is a configuration-time error and fatal for the whole run,
// unlike the per-candidate errors elsewhere in the engine.
type FileAccessor struct {
	info Info
}

// NewFileAccessor loads and validates the descriptor at path.
func NewFileAccessor(path string) (*FileAccessor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset descriptor: %w", err)
	}
	return newFromBytes(data)
}

func newFromBytes(data []byte) (*FileAccessor, error) {
	var d descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing dataset descriptor: %w", err)
	}
	if err := validator.New().Struct(&d); err != nil {
		return nil, fmt.Errorf("invalid dataset descriptor: %w", err)
	}

	sg, err := xtal.NormalizeSpaceGroup(d.SpaceGroup)
	if err != nil {
		return nil, fmt.Errorf("dataset space group: %w", err)
	}
	cell, err := xtal.ParseCell(d.Cell)
	if err != nil {
		return nil, fmt.Errorf("dataset cell: %w", err)
	}

	return &FileAccessor{info: Info{
		ReflectionFile: d.Reflections,
		SpaceGroup:     sg,
		Cell:           cell,
		Resolution:     d.Resolution,
		Labels:         d.Labels,
		AssemblyMW:     d.AssemblyMW,
	}}, nil
}

// Info returns the dataset description. Never fails after construction.
func (a *FileAccessor) Info() (Info, error) { return a.info, nil }

// Static wraps an already-known Info as an Accessor, for the space-group +
// cell literal entry path and for tests.
type Static struct {
	Data Info
}

// Info returns the wrapped dataset description.
func (s Static) Info() (Info, error) { return s.Data, nil }
