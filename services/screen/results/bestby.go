// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// BestByColumn reads a stage CSV backup and returns the record identifier
// (first column) of the row with the best numeric value in the named
// column, smallest value when ascending and largest otherwise. Rows whose
// value does not parse are skipped.
func BestByColumn(path, column string, ascending bool) (string, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open results %s: %w", path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return "", 0, fmt.Errorf("read results %s: %w", path, err)
	}
	if len(rows) == 0 {
		return "", 0, fmt.Errorf("results %s: empty table", path)
	}

	col := -1
	for i, name := range rows[0] {
		if name == column {
			col = i
			break
		}
	}
	if col < 0 {
		return "", 0, fmt.Errorf("results %s: no column %q", path, column)
	}

	bestCode, bestVal, found := "", 0.0, false
	for _, row := range rows[1:] {
		if len(row) <= col {
			continue
		}
		v, perr := strconv.ParseFloat(row[col], 64)
		if perr != nil {
			continue
		}
		if !found || (ascending && v < bestVal) || (!ascending && v > bestVal) {
			bestCode, bestVal, found = row[0], v, true
		}
	}
	if !found {
		return "", 0, fmt.Errorf("results %s: no usable rows for column %q", path, column)
	}
	return bestCode, bestVal, nil
}
