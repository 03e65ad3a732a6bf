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

// rotationZThreshold is the peak Z-score above which a rotation trial
// counts as a hit worth verifying by molecular replacement.
const rotationZThreshold = 10

// RotationScore is the parsed outcome of one rotation-function trial.
type RotationScore struct {
	Code string

	Alpha float64
	Beta  float64
	Gamma float64

	CCF float64
	RFF float64
	CCI float64
	CCP float64
	Icp float64

	// CCFZScore is the primary Z-score; candidates rank by it descending.
	CCFZScore float64
	CCPZScore float64

	// NumOfRot is the number of rotation peaks reported.
	NumOfRot int
}

// Defined reports whether the record carries a usable primary Z-score.
// Undefined records are excluded from ranking.
func (r RotationScore) Defined() bool { return r.CCFZScore != 0 }

// Succeeded reports whether the trial crossed the rotation-stage success
// threshold.
func (r RotationScore) Succeeded() bool { return r.CCFZScore > rotationZThreshold }

// ParseRotationLog reads a rotation-function log and extracts the first
// solution record. The solution line carries, after the DEG marker, the
// three Euler angles, three translations, the five correlation metrics,
// the two Z-scores and the peak count.
//
// A missing file yields *MissingLogError; a log without a solution line or
// with too few fields yields *MalformedLogError.
func ParseRotationLog(path, code string) (RotationScore, error) {
	f, err := os.Open(path)
	if err != nil {
		return RotationScore{}, &MissingLogError{Path: path}
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "SOLUTIONRCD") {
			continue
		}
		fields := strings.Fields(line)
		deg := -1
		for i, fld := range fields {
			if fld == "DEG" {
				deg = i
				break
			}
		}
		if deg < 0 || len(fields) < deg+15 {
			return RotationScore{}, &MalformedLogError{Path: path, Field: "SOLUTIONRCD"}
		}
		vals := make([]float64, 14)
		for i := range vals {
			v, perr := strconv.ParseFloat(fields[deg+1+i], 64)
			if perr != nil {
				return RotationScore{}, &MalformedLogError{Path: path, Field: "SOLUTIONRCD"}
			}
			vals[i] = v
		}
		return RotationScore{
			Code:      code,
			Alpha:     vals[0],
			Beta:      vals[1],
			Gamma:     vals[2],
			CCF:       vals[6],
			RFF:       vals[7],
			CCI:       vals[8],
			CCP:       vals[9],
			Icp:       vals[10],
			CCFZScore: vals[11],
			CCPZScore: vals[12],
			NumOfRot:  int(vals[13]),
		}, nil
	}
	if err := sc.Err(); err != nil {
		return RotationScore{}, &MalformedLogError{Path: path, Field: "SOLUTIONRCD"}
	}
	return RotationScore{}, &MalformedLogError{Path: path, Field: "SOLUTIONRCD"}
}
