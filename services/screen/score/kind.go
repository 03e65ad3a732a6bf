// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package score parses the logs produced by trial runs into typed score
// records and decides per-stage success. Parsing is pure: a path and a
// trial kind in, a record or a skip-level error out. Absent or truncated
// logs never abort a run.
package score

// Kind discriminates the trial stages. Scheduling and scoring switch on the
// kind value rather than inspecting record types.
type Kind int

const (
	KindLattice Kind = iota
	KindRotation
	KindReplacement
)

func (k Kind) String() string {
	switch k {
	case KindLattice:
		return "lattice"
	case KindRotation:
		return "rotation"
	case KindReplacement:
		return "replacement"
	default:
		return "unknown"
	}
}

// Engine selects which molecular-replacement program runs the replacement
// trials. Exactly one engine's metric set is populated per MrScore.
type Engine string

const (
	EngineMolrep Engine = "molrep"
	EnginePhaser Engine = "phaser"
)

// Valid reports whether the engine is one of the supported programs.
func (e Engine) Valid() bool {
	return e == EngineMolrep || e == EnginePhaser
}
