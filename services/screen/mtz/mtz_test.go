// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mtz

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const toxdDescriptor = `
reflections: /data/toxd/toxd.mtz
space_group: P212121
cell: "73.58,38.73,23.19,90.00,90.00,90.00"
resolution: 2.3
assembly_mw: 7139
labels:
  f: FTOXD3
  sigf: SIGFTOXD3
  free: FreeR_flag
`

const anomalousDescriptor = `
reflections: /data/rnase/rnase25.mtz
space_group: P212121
cell: "64.90,78.32,38.79,90.00,90.00,90.00"
resolution: 2.5
labels:
  f: FNAT
  sigf: SIGFNAT
  dano: DANO
  sigdano: SIGDANO
  free: FreeR_flag
`

func TestNewFileAccessor(t *testing.T) {
	t.Run("valid descriptor", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "dataset.yaml")
		require.NoError(t, os.WriteFile(path, []byte(toxdDescriptor), 0644))

		acc, err := NewFileAccessor(path)
		require.NoError(t, err)

		info, err := acc.Info()
		require.NoError(t, err)
		assert.Equal(t, "P212121", info.SpaceGroup.Symbol())
		assert.InDelta(t, 73.58, info.Cell.A, 1e-9)
		assert.InDelta(t, 2.3, info.Resolution, 1e-9)
		assert.Equal(t, "FTOXD3", info.Labels.F)
		assert.False(t, info.HasAnomalous())
	})

	t.Run("anomalous columns detected", func(t *testing.T) {
		acc, err := newFromBytes([]byte(anomalousDescriptor))
		require.NoError(t, err)

		info, err := acc.Info()
		require.NoError(t, err)
		assert.True(t, info.HasAnomalous())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewFileAccessor(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("missing required label", func(t *testing.T) {
		_, err := newFromBytes([]byte(`
reflections: /data/x.mtz
space_group: P1
cell: "10,10,10,90,90,90"
resolution: 2.0
labels:
  f: F
`))
		assert.Error(t, err)
	})

	t.Run("unknown space group is fatal", func(t *testing.T) {
		_, err := newFromBytes([]byte(`
reflections: /data/x.mtz
space_group: Q999
cell: "10,10,10,90,90,90"
resolution: 2.0
labels: {f: F, sigf: SIGF}
`))
		assert.Error(t, err)
	})
}
