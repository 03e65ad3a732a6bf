// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package results aggregates finished score records into stable ranked
// tables and persists them as CSV backups. Aggregation only reads records;
// it never mutates them, and rendering the same set twice produces the same
// table.
package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Column maps one record field to a named CSV column.
type Column[T any] struct {
	Name  string
	Value func(T) string
}

// Set is an ordered collection of score records of one kind. Records rank
// by the stage's key; ties keep discovery order.
type Set[T any] struct {
	less      func(a, b T) bool
	maxToKeep int
	records   []T
}

// NewSet builds a Set ranked by less. maxToKeep truncates the ranked view;
// 0 keeps everything.
func NewSet[T any](less func(a, b T) bool, maxToKeep int) *Set[T] {
	return &Set[T]{less: less, maxToKeep: maxToKeep}
}

// Add appends a record in discovery order.
func (s *Set[T]) Add(records ...T) {
	s.records = append(s.records, records...)
}

// Len is the number of records held, before truncation.
func (s *Set[T]) Len() int { return len(s.records) }

// Ranked returns the records sorted by the ranking key and truncated to the
// retained count. The returned slice is a copy.
func (s *Set[T]) Ranked() []T {
	out := make([]T, len(s.records))
	copy(out, s.records)
	sort.SliceStable(out, func(i, j int) bool { return s.less(out[i], out[j]) })
	if s.maxToKeep > 0 && len(out) > s.maxToKeep {
		out = out[:s.maxToKeep]
	}
	return out
}

// Render writes the ranked records as CSV.
func (s *Set[T]) Render(w io.Writer, columns []Column[T]) error {
	cw := csv.NewWriter(w)
	header := make([]string, len(columns))
	for i, c := range columns {
		header[i] = c.Name
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	row := make([]string, len(columns))
	for _, rec := range s.Ranked() {
		for i, c := range columns {
			row[i] = c.Value(rec)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Backup renders the ranked records to a CSV file, replacing any previous
// backup at the same path.
func (s *Set[T]) Backup(path string, columns []Column[T]) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create backup %s: %w", path, err)
	}
	if err := s.Render(f, columns); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
