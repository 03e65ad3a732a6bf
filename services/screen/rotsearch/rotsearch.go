// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package rotsearch drives the rotation-function stage: for each candidate
// it renders an AMORE tabling + cross-rotation script, schedules the
// trials in chunks and ranks the parsed Z-scores. A trial whose peak
// Z-score clears the threshold is verified inline by a single-candidate
// molecular replacement; a confirmed placement terminates the screen.
package rotsearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/xtalpipe/xtalpipe/services/screen/mtz"
	"github.com/xtalpipe/xtalpipe/services/screen/rank"
	"github.com/xtalpipe/xtalpipe/services/screen/results"
	"github.com/xtalpipe/xtalpipe/services/screen/runner"
	"github.com/xtalpipe/xtalpipe/services/screen/scheduler"
	"github.com/xtalpipe/xtalpipe/services/screen/score"
	"github.com/xtalpipe/xtalpipe/services/screen/script"
)

// Verifier confirms a rotation hit by running a full placement for the one
// candidate. Implemented by the molecular-replacement stage.
type Verifier interface {
	Verify(ctx context.Context, cand rank.TrialCandidate) (bool, error)
}

// Config configures a rotation-function search.
type Config struct {
	// WorkDir is the stage's working directory; scripts, logs and scratch
	// space live under it.
	WorkDir string

	// AmoreExe is the rotation-function binary. Defaults to "amore".
	AmoreExe string

	// Data describes the experimental dataset.
	Data mtz.Info

	// Rotation-function knobs.
	SHRes    float64 // resolution cutoff of the spherical harmonics
	PkLim    float64 // peak search limit
	NPic     int     // peaks to pick
	RotaStep float64 // rotation sampling step in degrees

	// MaxToKeep truncates the ranked result set. Defaults to 20.
	MaxToKeep int

	// ChunkSize and Workers are passed to the scheduler; zero values keep
	// its adaptive defaults.
	ChunkSize int
	Workers   int

	Submitter     runner.Submitter
	SubmitOptions runner.Options

	// Verify, when non-nil, gates early termination on a confirmed
	// placement rather than the raw Z-score.
	Verify Verifier

	Logger *slog.Logger
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.AmoreExe == "" {
		c.AmoreExe = "amore"
	}
	if c.SHRes == 0 {
		c.SHRes = 3.0
	}
	if c.PkLim == 0 {
		c.PkLim = 0.5
	}
	if c.NPic == 0 {
		c.NPic = 50
	}
	if c.RotaStep == 0 {
		c.RotaStep = 1.0
	}
	if c.MaxToKeep == 0 {
		c.MaxToKeep = 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration and that the engine binary resolves.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return errors.New("rotsearch: work dir is required")
	}
	if c.Submitter == nil {
		return errors.New("rotsearch: submitter is required")
	}
	if c.Data.ReflectionFile == "" {
		return errors.New("rotsearch: dataset is required")
	}
	return runner.CheckPrograms(c.AmoreExe)
}

// Search drives the rotation-function screen.
type Search struct {
	cfg       Config
	scriptDir string
	scratch   string
	hklpck0   string
}

// New builds a Search from a validated config.
func New(cfg Config) (*Search, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Search{
		cfg:       cfg,
		scriptDir: filepath.Join(cfg.WorkDir, "rot_scripts"),
		scratch:   filepath.Join(cfg.WorkDir, "tmp"),
		hklpck0:   filepath.Join(cfg.WorkDir, "spmipch.hkl"),
	}, nil
}

// Prepare sorts the experimental reflections into the packed file every
// rotation trial reads. Run once before the first chunk.
func (s *Search) Prepare(ctx context.Context) error {
	sc := script.New(s.scriptDir, "sortfun").
		CommandStdin(s.cfg.AmoreExe,
			[]string{"hklin", s.cfg.Data.ReflectionFile, "hklpck0", s.hklpck0},
			sortfunStdin(s.cfg.Data.Labels))
	if err := sc.Write(); err != nil {
		return err
	}
	statuses, err := s.cfg.Submitter.Submit(ctx,
		[]runner.Item{{Code: "sortfun", ScriptPath: sc.Path(), LogPath: sc.LogPath()}},
		runner.Options{MaxParallel: 1, Timeout: s.cfg.SubmitOptions.Timeout})
	if err != nil {
		return fmt.Errorf("sort reflections: %w", err)
	}
	if statuses[0].Kind != runner.StatusCompleted {
		return fmt.Errorf("sort reflections: %w", statuses[0].Err)
	}
	return nil
}

// Run screens the candidates and returns the ranked rotation scores.
// Records without a defined Z-score are excluded from the ranking.
func (s *Search) Run(ctx context.Context, candidates []rank.TrialCandidate) ([]score.RotationScore, scheduler.Termination, error) {
	byCode := make(map[string]rank.TrialCandidate, len(candidates))
	for _, c := range candidates {
		byCode[c.Code] = c
	}

	sched, err := scheduler.New(scheduler.Config[rank.TrialCandidate, score.RotationScore]{
		Stage:         score.KindRotation,
		ChunkSize:     s.cfg.ChunkSize,
		Workers:       s.cfg.Workers,
		Submitter:     s.cfg.Submitter,
		SubmitOptions: s.cfg.SubmitOptions,
		Generate:      s.generate,
		Parse: func(item runner.Item) (score.RotationScore, error) {
			return score.ParseRotationLog(item.LogPath, item.Code)
		},
		Succeeded: func(rot score.RotationScore) bool {
			if !rot.Succeeded() {
				return false
			}
			if s.cfg.Verify == nil {
				return true
			}
			ok, verr := s.cfg.Verify.Verify(ctx, byCode[rot.Code])
			if verr != nil {
				s.cfg.Logger.Warn("placement verification failed",
					slog.String("code", rot.Code),
					slog.String("error", verr.Error()),
				)
				return false
			}
			return ok
		},
		Logger: s.cfg.Logger,
	})
	if err != nil {
		return nil, scheduler.TerminatedExhausted, err
	}

	scores, term, err := sched.Run(ctx, candidates)
	if err != nil {
		return nil, term, err
	}

	set := results.NewSet(func(a, b score.RotationScore) bool {
		return a.CCFZScore > b.CCFZScore
	}, s.cfg.MaxToKeep)
	for _, rot := range scores {
		if rot.Defined() {
			set.Add(rot)
		}
	}
	return set.Ranked(), term, nil
}

// Summarize writes the ranked scores to a CSV backup.
func Summarize(path string, scores []score.RotationScore) error {
	set := results.NewSet(func(a, b score.RotationScore) bool {
		return a.CCFZScore > b.CCFZScore
	}, 0)
	set.Add(scores...)
	return set.Backup(path, rotationColumns)
}

var rotationColumns = []results.Column[score.RotationScore]{
	{Name: "pdb_code", Value: func(r score.RotationScore) string { return r.Code }},
	{Name: "ALPHA", Value: func(r score.RotationScore) string { return ftoa(r.Alpha) }},
	{Name: "BETA", Value: func(r score.RotationScore) string { return ftoa(r.Beta) }},
	{Name: "GAMMA", Value: func(r score.RotationScore) string { return ftoa(r.Gamma) }},
	{Name: "CC_F", Value: func(r score.RotationScore) string { return ftoa(r.CCF) }},
	{Name: "RF_F", Value: func(r score.RotationScore) string { return ftoa(r.RFF) }},
	{Name: "CC_I", Value: func(r score.RotationScore) string { return ftoa(r.CCI) }},
	{Name: "CC_P", Value: func(r score.RotationScore) string { return ftoa(r.CCP) }},
	{Name: "Icp", Value: func(r score.RotationScore) string { return ftoa(r.Icp) }},
	{Name: "CC_F_Z_score", Value: func(r score.RotationScore) string { return ftoa(r.CCFZScore) }},
	{Name: "CC_P_Z_score", Value: func(r score.RotationScore) string { return ftoa(r.CCPZScore) }},
	{Name: "Number_of_rotation_searches_producing_peak", Value: func(r score.RotationScore) string {
		return strconv.Itoa(r.NumOfRot)
	}},
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }

// generate renders the tabling + cross-rotation script for one candidate.
func (s *Search) generate(c rank.TrialCandidate) (runner.Item, error) {
	table1 := "$CCP4_SCR/" + c.Code + "_sfs.tab"
	hklpck1 := "$CCP4_SCR/" + c.Code + ".hkl"
	clmn0 := "$CCP4_SCR/" + c.Code + "_spmipch.clmn"
	clmn1 := "$CCP4_SCR/" + c.Code + ".clmn"
	mapout := "$CCP4_SCR/" + c.Code + "_amore_cross.map"

	sc := script.New(s.scriptDir, "amore_"+c.Code).
		WithScratch(s.scratch).
		CommandStdin(s.cfg.AmoreExe,
			[]string{"xyzin1", c.ModelPath, "xyzout1", "$CCP4_SCR/" + c.Code + ".pdb", "table1", table1},
			tabfunStdin(c)).
		CommandStdin(s.cfg.AmoreExe,
			[]string{
				"table1", table1,
				"HKLPCK1", hklpck1,
				"hklpck0", s.hklpck0,
				"clmn1", clmn1,
				"clmn0", clmn0,
				"MAPOUT", mapout,
			},
			s.rotfunStdin(c))
	if err := sc.Write(); err != nil {
		return runner.Item{}, err
	}
	return runner.Item{Code: c.Code, ScriptPath: sc.Path(), LogPath: sc.LogPath()}, nil
}

func sortfunStdin(labels mtz.Labels) string {
	return fmt.Sprintf(`TITLE   ** sort h k l F for the target crystal **
SORTFUN RESOL 100.  2.5
LABI FP=%s  SIGFP=%s`, labels.F, labels.SigF)
}

// tabfunStdin tables the model on a generous orthogonal cell so any
// candidate orientation fits.
func tabfunStdin(c rank.TrialCandidate) string {
	return fmt.Sprintf(`TITLE: Produce table for the candidate model
TABFUN
CRYSTAL %.2f %.2f %.2f 90 90 120 ORTH 1
MODEL 1 BTARGET 23.5
SAMPLE 1 RESO 2.5 SHANN 2.5 SCALE 4.0`, c.X, c.Y, c.Z)
}

func (s *Search) rotfunStdin(c rank.TrialCandidate) string {
	return fmt.Sprintf(`TITLE: Generate HKLPCK1 from the candidate model
ROTFUN
GENE 1   RESO 100.0 %.1f  CELL_MODEL 80 75 65
CLMN CRYSTAL ORTH  1 RESO  20.0  %.1f  SPHERE   %.1f
CLMN MODEL 1     RESO  20.0  %.1f SPHERE   %.1f
ROTA  CROSS  MODEL 1  PKLIM %.2f  NPIC %d STEP %.1f`,
		s.cfg.SHRes, s.cfg.SHRes, c.IntegrationRadius,
		s.cfg.SHRes, c.IntegrationRadius,
		s.cfg.PkLim, s.cfg.NPic, s.cfg.RotaStep)
}
