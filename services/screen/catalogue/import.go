// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package catalogue

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xtalpipe/xtalpipe/pkg/validation"
)

// ImportYAML bulk-loads entries from a YAML file (a list of entries) into
// the store. Codes are normalized to their canonical lowercase form;
// entries whose code or fields fail validation are skipped with a warning
// and the import continues. Returns the number of entries written.
func (s *Store) ImportYAML(path string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading catalogue import: %w", err)
	}

	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return 0, fmt.Errorf("parsing catalogue import: %w", err)
	}

	written := 0
	for _, e := range entries {
		code, err := validation.SanitizeCode(e.Code)
		if err != nil {
			logger.Warn("skipping catalogue entry",
				slog.String("code", e.Code),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.Code = code
		if err := e.Validate(); err != nil {
			logger.Warn("skipping catalogue entry",
				slog.String("code", e.Code),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := s.Put(e); err != nil {
			return written, fmt.Errorf("importing %s: %w", e.Code, err)
		}
		written++
	}

	logger.Info("catalogue import complete",
		slog.String("source", path),
		slog.Int("imported", written),
		slog.Int("skipped", len(entries)-written),
	)
	return written, nil
}
