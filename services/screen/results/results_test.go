// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package results

import (
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	code string
	z    float64
}

func zDescending(a, b rec) bool { return a.z > b.z }

var recColumns = []Column[rec]{
	{Name: "code", Value: func(r rec) string { return r.code }},
	{Name: "z_score", Value: func(r rec) string { return strconv.FormatFloat(r.z, 'f', 2, 64) }},
}

func TestSetRanked(t *testing.T) {
	t.Run("sorts by ranking key", func(t *testing.T) {
		s := NewSet(zDescending, 0)
		s.Add(rec{"1AAA", 5.0}, rec{"2BBB", 12.1}, rec{"3CCC", 8.4})
		ranked := s.Ranked()
		require.Len(t, ranked, 3)
		assert.Equal(t, "2BBB", ranked[0].code)
		assert.Equal(t, "3CCC", ranked[1].code)
		assert.Equal(t, "1AAA", ranked[2].code)
	})

	t.Run("ties keep discovery order", func(t *testing.T) {
		s := NewSet(zDescending, 0)
		s.Add(rec{"ZZZZ", 7.0}, rec{"AAAA", 7.0}, rec{"MMMM", 7.0})
		ranked := s.Ranked()
		assert.Equal(t, []rec{{"ZZZZ", 7.0}, {"AAAA", 7.0}, {"MMMM", 7.0}}, ranked)
	})

	t.Run("truncates to retained count", func(t *testing.T) {
		s := NewSet(zDescending, 2)
		s.Add(rec{"1AAA", 5.0}, rec{"2BBB", 12.1}, rec{"3CCC", 8.4})
		ranked := s.Ranked()
		require.Len(t, ranked, 2)
		assert.Equal(t, "2BBB", ranked[0].code)
		assert.Equal(t, 3, s.Len())
	})

	t.Run("ranking does not mutate the set", func(t *testing.T) {
		s := NewSet(zDescending, 0)
		s.Add(rec{"1AAA", 5.0}, rec{"2BBB", 12.1})
		first := s.Ranked()
		second := s.Ranked()
		assert.Equal(t, first, second)
	})
}

func TestSetRender(t *testing.T) {
	s := NewSet(zDescending, 0)
	s.Add(rec{"1AAA", 5.0}, rec{"2BBB", 12.1})

	var buf bytes.Buffer
	require.NoError(t, s.Render(&buf, recColumns))
	assert.Equal(t, "code,z_score\n2BBB,12.10\n1AAA,5.00\n", buf.String())

	t.Run("rendering twice is identical", func(t *testing.T) {
		var again bytes.Buffer
		require.NoError(t, s.Render(&again, recColumns))
		assert.Equal(t, buf.String(), again.String())
	})
}

func TestSetBackup(t *testing.T) {
	s := NewSet(zDescending, 0)
	s.Add(rec{"1AAA", 5.0}, rec{"2BBB", 12.1})

	path := filepath.Join(t.TempDir(), "out", "rot.csv")
	require.NoError(t, s.Backup(path, recColumns))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, s.Backup(path, recColumns))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestBestByColumn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mr.csv")
	table := "code,final_r_fact,final_r_free\n1AAA,0.41,0.44\n2BBB,0.30,0.35\n3CCC,0.50,n/a\n"
	require.NoError(t, os.WriteFile(path, []byte(table), 0o644))

	t.Run("ascending picks the smallest", func(t *testing.T) {
		code, val, err := BestByColumn(path, "final_r_free", true)
		require.NoError(t, err)
		assert.Equal(t, "2BBB", code)
		assert.Equal(t, 0.35, val)
	})

	t.Run("descending picks the largest", func(t *testing.T) {
		code, val, err := BestByColumn(path, "final_r_fact", false)
		require.NoError(t, err)
		assert.Equal(t, "3CCC", code)
		assert.Equal(t, 0.50, val)
	})

	t.Run("unknown column", func(t *testing.T) {
		_, _, err := BestByColumn(path, "z_score", true)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := BestByColumn(filepath.Join(dir, "none.csv"), "final_r_free", true)
		assert.Error(t, err)
	})
}
