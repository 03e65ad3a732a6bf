// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package score

import "fmt"

// MissingLogError reports that a trial produced no log file. The candidate
// is skipped for that metric set; the run continues.
type MissingLogError struct {
	Path string
}

func (e *MissingLogError) Error() string {
	return fmt.Sprintf("trial log missing: %s", e.Path)
}

// MalformedLogError reports that a log file exists but lacks an expected
// field. No partial record is produced; the candidate is skipped for that
// metric set.
type MalformedLogError struct {
	Path  string
	Field string
}

func (e *MalformedLogError) Error() string {
	return fmt.Sprintf("trial log %s: missing field %q", e.Path, e.Field)
}
