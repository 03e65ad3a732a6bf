// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mr drives the molecular-replacement stage: each candidate model
// is placed by the configured engine, refined, and optionally checked
// against an anomalous-difference map when the dataset carries anomalous
// columns. Results rank by R-free ascending. The same machinery also
// serves the rotation stage's inline verification of a single hit.
package mr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xtalpipe/xtalpipe/services/screen/mtz"
	"github.com/xtalpipe/xtalpipe/services/screen/rank"
	"github.com/xtalpipe/xtalpipe/services/screen/results"
	"github.com/xtalpipe/xtalpipe/services/screen/runner"
	"github.com/xtalpipe/xtalpipe/services/screen/scheduler"
	"github.com/xtalpipe/xtalpipe/services/screen/score"
	"github.com/xtalpipe/xtalpipe/services/screen/script"
)

// verifyTimeout bounds the single-candidate verification trial so a slow
// placement cannot stall the rotation screen.
const verifyTimeout = 30 * time.Minute

// Config configures the molecular-replacement stage.
type Config struct {
	// WorkDir is the stage's working directory; each candidate gets a
	// subdirectory under it.
	WorkDir string

	// Engine is the placement program. Defaults to molrep.
	Engine score.Engine

	// RefineExe is the refinement binary. Defaults to "refmac5".
	RefineExe string

	// AnomalousExe produces the anomalous-difference peak report. Only
	// used when the dataset has anomalous columns; empty skips the check.
	AnomalousExe string

	// Data describes the experimental dataset.
	Data mtz.Info

	// RefineCycles is the number of refinement cycles. Defaults to 30;
	// inline verification runs with 0.
	RefineCycles int

	// MaxToKeep truncates the ranked result set. Defaults to 20.
	MaxToKeep int

	ChunkSize int
	Workers   int

	Submitter     runner.Submitter
	SubmitOptions runner.Options

	Logger *slog.Logger
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Engine == "" {
		c.Engine = score.EngineMolrep
	}
	if c.RefineExe == "" {
		c.RefineExe = "refmac5"
	}
	if c.RefineCycles == 0 {
		c.RefineCycles = 30
	}
	if c.MaxToKeep == 0 {
		c.MaxToKeep = 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validate checks the configuration and that every engine binary resolves.
func (c *Config) Validate() error {
	if c.WorkDir == "" {
		return errors.New("mr: work dir is required")
	}
	if c.Submitter == nil {
		return errors.New("mr: submitter is required")
	}
	if c.Data.ReflectionFile == "" {
		return errors.New("mr: dataset is required")
	}
	if !c.Engine.Valid() {
		return fmt.Errorf("%w: %q", runner.ErrUnknownProgram, c.Engine)
	}
	return runner.CheckPrograms(string(c.Engine), c.RefineExe, c.AnomalousExe)
}

// Submit drives molecular replacement over a candidate worklist.
type Submit struct {
	cfg       Config
	scriptDir string
	scratch   string
	anomalous bool
}

// New builds a Submit from a validated config. The anomalous check is
// armed only when both the dataset and the configuration support it.
func New(cfg Config) (*Submit, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Submit{
		cfg:       cfg,
		scriptDir: filepath.Join(cfg.WorkDir, "mr_scripts"),
		scratch:   filepath.Join(cfg.WorkDir, "tmp"),
		anomalous: cfg.AnomalousExe != "" && cfg.Data.HasAnomalous(),
	}, nil
}

// Run places and refines every candidate, returning the scores ranked by
// R-free ascending.
func (m *Submit) Run(ctx context.Context, candidates []rank.TrialCandidate) ([]score.MrScore, scheduler.Termination, error) {
	sched, err := scheduler.New(scheduler.Config[rank.TrialCandidate, score.MrScore]{
		Stage:         score.KindReplacement,
		ChunkSize:     m.cfg.ChunkSize,
		Workers:       m.cfg.Workers,
		Submitter:     m.cfg.Submitter,
		SubmitOptions: m.cfg.SubmitOptions,
		Generate: func(c rank.TrialCandidate) (runner.Item, error) {
			return m.generate(c, m.cfg.RefineCycles)
		},
		Parse:     m.parse,
		Succeeded: score.MrScore.Succeeded,
		Logger:    m.cfg.Logger,
	})
	if err != nil {
		return nil, scheduler.TerminatedExhausted, err
	}

	scores, term, err := sched.Run(ctx, candidates)
	if err != nil {
		return nil, term, err
	}

	set := results.NewSet(func(a, b score.MrScore) bool {
		return a.RFree < b.RFree
	}, m.cfg.MaxToKeep)
	set.Add(scores...)
	return set.Ranked(), term, nil
}

// Verify runs placement and a zero-cycle refinement for one rotation hit
// and reports whether the solution crosses the replacement threshold.
func (m *Submit) Verify(ctx context.Context, cand rank.TrialCandidate) (bool, error) {
	if cand.Code == "" {
		return false, errors.New("mr: verify needs a candidate")
	}
	item, err := m.generate(cand, 0)
	if err != nil {
		return false, err
	}

	opts := runner.Options{MaxParallel: 1, Timeout: verifyTimeout}
	statuses, err := m.cfg.Submitter.Submit(ctx, []runner.Item{item}, opts)
	if err != nil {
		return false, err
	}
	if statuses[0].Kind != runner.StatusCompleted {
		return false, statuses[0].Err
	}
	rec, err := m.parse(item)
	if err != nil {
		return false, err
	}
	return rec.Succeeded(), nil
}

// generate renders the placement + refinement script for one candidate.
func (m *Submit) generate(c rank.TrialCandidate, refineCycles int) (runner.Item, error) {
	workDir := filepath.Join(m.cfg.WorkDir, c.Code, "mr", string(m.cfg.Engine))
	refineDir := filepath.Join(workDir, "refine")
	placed := filepath.Join(workDir, c.Code+"_mr_output.pdb")
	placedMtz := filepath.Join(workDir, c.Code+"_mr_output.mtz")
	refined := filepath.Join(refineDir, c.Code+"_refinement_output.pdb")
	refinedMtz := filepath.Join(refineDir, c.Code+"_refinement_output.mtz")

	sc := script.New(m.scriptDir, string(m.cfg.Engine)+"_"+c.Code).
		WithScratch(m.scratch).
		Mkdir(refineDir)

	refineIn := m.cfg.Data.ReflectionFile
	switch m.cfg.Engine {
	case score.EngineMolrep:
		sc.Command(string(m.cfg.Engine),
			"-f", m.cfg.Data.ReflectionFile,
			"-m", c.ModelPath,
			"-po", workDir+string(filepath.Separator),
		)
	case score.EnginePhaser:
		sc.CommandStdin(string(m.cfg.Engine), nil, m.phaserStdin(c, placed, placedMtz))
		refineIn = placedMtz
	}

	sc.CommandStdin(m.cfg.RefineExe,
		[]string{
			"HKLIN", refineIn,
			"HKLOUT", refinedMtz,
			"XYZIN", placed,
			"XYZOUT", refined,
		},
		fmt.Sprintf("ncyc %d\nlabin FP=%s SIGFP=%s\nEND",
			refineCycles, m.cfg.Data.Labels.F, m.cfg.Data.Labels.SigF))

	if m.anomalous {
		sc.Command(m.cfg.AnomalousExe,
			"-mtzin", refinedMtz,
			"-pdbin", refined,
			"-dano", m.cfg.Data.Labels.DAno,
			"-sigdano", m.cfg.Data.Labels.SigDAno,
		)
	}

	if err := sc.Write(); err != nil {
		return runner.Item{}, err
	}
	return runner.Item{Code: c.Code, ScriptPath: sc.Path(), LogPath: sc.LogPath()}, nil
}

func (m *Submit) phaserStdin(c rank.TrialCandidate, pdbOut, mtzOut string) string {
	return fmt.Sprintf(`MODE MR_AUTO
HKLIN %s
LABIN F=%s SIGF=%s
ENSEMBLE model PDB %s IDENTITY 100
COMPOSITION PROTEIN MW %.0f NUM 1
SEARCH ENSEMBLE model NUM 1
ROOT %s
HKLOUT %s`,
		m.cfg.Data.ReflectionFile,
		m.cfg.Data.Labels.F, m.cfg.Data.Labels.SigF,
		c.ModelPath, c.MolecularWeight,
		pdbOut, mtzOut)
}

// parse assembles the MrScore from a trial's combined log: the engine's
// placement metrics, the refinement R-factors and, when armed, the
// anomalous peak counts. A missing anomalous report is tolerated; missing
// placement or refinement metrics skip the candidate.
func (m *Submit) parse(item runner.Item) (score.MrScore, error) {
	rec := score.MrScore{Code: item.Code}

	switch m.cfg.Engine {
	case score.EngineMolrep:
		metrics, err := score.ParseMolrepLog(item.LogPath)
		if err != nil {
			return score.MrScore{}, err
		}
		rec.Molrep = &metrics
	case score.EnginePhaser:
		metrics, err := score.ParsePhaserLog(item.LogPath)
		if err != nil {
			return score.MrScore{}, err
		}
		rec.Phaser = &metrics
	}

	rFact, rFree, err := score.ParseRefmacLog(item.LogPath)
	if err != nil {
		return score.MrScore{}, err
	}
	rec.RFact, rec.RFree = rFact, rFree

	if m.anomalous {
		anom, err := score.ParseAnomalousLog(item.LogPath)
		if err != nil {
			m.cfg.Logger.Debug("anomalous report unusable",
				slog.String("code", item.Code),
				slog.String("error", err.Error()),
			)
		} else {
			rec.Anomalous = &anom
		}
	}
	return rec, nil
}

// Summarize writes the ranked scores to a CSV backup. The column set
// follows the engine that ran and whether anomalous metrics were taken.
func (m *Submit) Summarize(path string, scores []score.MrScore) error {
	set := results.NewSet(func(a, b score.MrScore) bool {
		return a.RFree < b.RFree
	}, 0)
	set.Add(scores...)
	return set.Backup(path, m.columns())
}

func (m *Submit) columns() []results.Column[score.MrScore] {
	cols := []results.Column[score.MrScore]{
		{Name: "pdb_code", Value: func(r score.MrScore) string { return r.Code }},
	}
	switch m.cfg.Engine {
	case score.EngineMolrep:
		cols = append(cols,
			results.Column[score.MrScore]{Name: "molrep_score", Value: func(r score.MrScore) string {
				if r.Molrep == nil {
					return ""
				}
				return ftoa(r.Molrep.Score)
			}},
			results.Column[score.MrScore]{Name: "molrep_tfscore", Value: func(r score.MrScore) string {
				if r.Molrep == nil {
					return ""
				}
				return ftoa(r.Molrep.TFScore)
			}},
		)
	case score.EnginePhaser:
		cols = append(cols,
			results.Column[score.MrScore]{Name: "phaser_tfz", Value: func(r score.MrScore) string {
				if r.Phaser == nil {
					return ""
				}
				return ftoa(r.Phaser.TFZ)
			}},
			results.Column[score.MrScore]{Name: "phaser_llg", Value: func(r score.MrScore) string {
				if r.Phaser == nil {
					return ""
				}
				return ftoa(r.Phaser.LLG)
			}},
			results.Column[score.MrScore]{Name: "phaser_rfz", Value: func(r score.MrScore) string {
				if r.Phaser == nil {
					return ""
				}
				return ftoa(r.Phaser.RFZ)
			}},
		)
	}
	cols = append(cols,
		results.Column[score.MrScore]{Name: "final_r_fact", Value: func(r score.MrScore) string { return ftoa(r.RFact) }},
		results.Column[score.MrScore]{Name: "final_r_free", Value: func(r score.MrScore) string { return ftoa(r.RFree) }},
	)
	if m.anomalous {
		cols = append(cols,
			results.Column[score.MrScore]{Name: "peaks_over_6_rms", Value: anomCol(func(a *score.AnomalousMetrics) int { return a.PeaksOver6RMS })},
			results.Column[score.MrScore]{Name: "peaks_over_6_rms_within_2A_of_model", Value: anomCol(func(a *score.AnomalousMetrics) int { return a.PeaksOver6RMSWithin2A })},
			results.Column[score.MrScore]{Name: "peaks_over_12_rms", Value: anomCol(func(a *score.AnomalousMetrics) int { return a.PeaksOver12RMS })},
			results.Column[score.MrScore]{Name: "peaks_over_12_rms_within_2A_of_model", Value: anomCol(func(a *score.AnomalousMetrics) int { return a.PeaksOver12RMSWithin2A })},
		)
	}
	return cols
}

func anomCol(pick func(*score.AnomalousMetrics) int) func(score.MrScore) string {
	return func(r score.MrScore) string {
		if r.Anomalous == nil {
			return ""
		}
		return strconv.Itoa(pick(r.Anomalous))
	}
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }
