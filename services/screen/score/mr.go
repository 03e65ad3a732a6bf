// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package score

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// Replacement-stage success thresholds.
const (
	maxAcceptableRFact = 0.45
	maxAcceptableRFree = 0.45
	minAcceptableLLG   = 120
	minAcceptableTFZ   = 8
)

// MolrepMetrics is the metric set of a molrep placement.
type MolrepMetrics struct {
	Score   float64
	TFScore float64
}

// PhaserMetrics is the metric set of a phaser placement.
type PhaserMetrics struct {
	LLG float64
	TFZ float64
	RFZ float64
}

// AnomalousMetrics summarize the anomalous-difference map check run after a
// placement when the dataset carries anomalous columns.
type AnomalousMetrics struct {
	PeaksOver6RMS          int
	PeaksOver6RMSWithin2A  int
	PeaksOver12RMS         int
	PeaksOver12RMSWithin2A int
}

// MrScore is the parsed outcome of one molecular-replacement trial plus its
// refinement. Exactly one of Molrep or Phaser is set, matching the engine
// that placed the model.
type MrScore struct {
	Code string

	Molrep *MolrepMetrics
	Phaser *PhaserMetrics

	RFact float64
	RFree float64

	Anomalous *AnomalousMetrics
}

// Succeeded reports whether the trial crossed the replacement-stage success
// threshold: acceptable refinement R-factors, or for a phaser placement an
// acceptable likelihood gain together with a strong translation Z-score.
func (m MrScore) Succeeded() bool {
	if m.RFact < maxAcceptableRFact && m.RFree < maxAcceptableRFree {
		return true
	}
	if m.Phaser != nil && m.Phaser.LLG > minAcceptableLLG && m.Phaser.TFZ > minAcceptableTFZ {
		return true
	}
	return false
}

// ParseMolrepLog extracts the placement score and translation-function
// contrast from a molrep log. The log's summary table has a header row
// naming the TF/sg and Score columns followed by one row per solution; the
// first solution row is taken.
func ParseMolrepLog(path string) (MolrepMetrics, error) {
	lines, err := readLog(path)
	if err != nil {
		return MolrepMetrics{}, err
	}
	for i, line := range lines {
		if !strings.Contains(line, "TF/sg") || !strings.Contains(line, "Score") {
			continue
		}
		header := strings.Fields(line)
		tfCol, scoreCol := -1, -1
		for c, name := range header {
			switch name {
			case "TF/sg":
				tfCol = c
			case "Score":
				scoreCol = c
			}
		}
		if tfCol < 0 || scoreCol < 0 {
			continue
		}
		for _, row := range lines[i+1:] {
			fields := strings.Fields(row)
			if len(fields) <= scoreCol || len(fields) <= tfCol {
				continue
			}
			tf, err1 := strconv.ParseFloat(fields[tfCol], 64)
			sc, err2 := strconv.ParseFloat(fields[scoreCol], 64)
			if err1 != nil || err2 != nil {
				continue
			}
			return MolrepMetrics{Score: sc, TFScore: tf}, nil
		}
	}
	return MolrepMetrics{}, &MalformedLogError{Path: path, Field: "Score"}
}

// ParsePhaserLog extracts the likelihood gain and Z-scores from a phaser
// log. Phaser reports solutions as SOLU SET lines carrying RFZ=, TFZ= and
// LLG= annotations; the last solution line wins.
func ParsePhaserLog(path string) (PhaserMetrics, error) {
	lines, err := readLog(path)
	if err != nil {
		return PhaserMetrics{}, err
	}
	var metrics PhaserMetrics
	found := false
	for _, line := range lines {
		if !strings.Contains(line, "SOLU") {
			continue
		}
		m := metrics
		ok := false
		for _, fld := range strings.Fields(line) {
			for _, tag := range []struct {
				prefix string
				dst    *float64
			}{
				{"RFZ=", &m.RFZ},
				{"TFZ=", &m.TFZ},
				{"LLG=", &m.LLG},
			} {
				if v, perr := parseTagged(fld, tag.prefix); perr == nil {
					*tag.dst = v
					ok = true
				}
			}
		}
		if ok {
			metrics = m
			found = true
		}
	}
	if !found {
		return PhaserMetrics{}, &MalformedLogError{Path: path, Field: "LLG"}
	}
	return metrics, nil
}

// ParseRefmacLog extracts the final R-factor and R-free from a refmac log.
// The final-results table lists each statistic with its initial and final
// value; the last column is taken.
func ParseRefmacLog(path string) (rFact, rFree float64, err error) {
	lines, lerr := readLog(path)
	if lerr != nil {
		return 0, 0, lerr
	}
	haveFact, haveFree := false, false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		fields := strings.Fields(trimmed)
		if len(fields) < 3 {
			continue
		}
		last := fields[len(fields)-1]
		switch {
		case strings.HasPrefix(trimmed, "R factor"):
			if v, perr := strconv.ParseFloat(last, 64); perr == nil {
				rFact, haveFact = v, true
			}
		case strings.HasPrefix(trimmed, "R free"):
			if v, perr := strconv.ParseFloat(last, 64); perr == nil {
				rFree, haveFree = v, true
			}
		}
	}
	if !haveFact {
		return 0, 0, &MalformedLogError{Path: path, Field: "R factor"}
	}
	if !haveFree {
		return 0, 0, &MalformedLogError{Path: path, Field: "R free"}
	}
	return rFact, rFree, nil
}

// ParseAnomalousLog extracts the peak counts from an anomalous-difference
// map report.
func ParseAnomalousLog(path string) (AnomalousMetrics, error) {
	lines, err := readLog(path)
	if err != nil {
		return AnomalousMetrics{}, err
	}
	var m AnomalousMetrics
	seen := 0
	for _, line := range lines {
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			continue
		}
		n, perr := strconv.Atoi(strings.TrimSpace(line[idx+1:]))
		if perr != nil {
			continue
		}
		key := strings.ToLower(line[:idx])
		within := strings.Contains(key, "within")
		switch {
		case strings.Contains(key, "6 rms") && within:
			m.PeaksOver6RMSWithin2A = n
			seen++
		case strings.Contains(key, "6 rms"):
			m.PeaksOver6RMS = n
			seen++
		case strings.Contains(key, "12 rms") && within:
			m.PeaksOver12RMSWithin2A = n
			seen++
		case strings.Contains(key, "12 rms"):
			m.PeaksOver12RMS = n
			seen++
		}
	}
	if seen == 0 {
		return AnomalousMetrics{}, &MalformedLogError{Path: path, Field: "rms peaks"}
	}
	return m, nil
}

func parseTagged(field, prefix string) (float64, error) {
	if !strings.HasPrefix(field, prefix) {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseFloat(strings.TrimPrefix(field, prefix), 64)
}

func readLog(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &MissingLogError{Path: path}
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, &MalformedLogError{Path: path, Field: "truncated"}
	}
	return lines, nil
}
