// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation provides input validation for values that end up in
// file paths and shell scripts.
//
// Candidate codes name per-trial work directories and are interpolated
// into generated run scripts, so anything outside the expected character
// set is rejected before it reaches the filesystem or a subprocess.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// codePattern matches PDB-style entry codes: a leading digit followed by
// three alphanumerics (1dtx, 2qua). Codes are canonically lowercase.
var codePattern = regexp.MustCompile(`^[0-9][a-z0-9]{3}$`)

// chainSuffixPattern matches a code extended with a chain identifier,
// as catalogue entries derived from single chains carry (1dtx_a).
var chainSuffixPattern = regexp.MustCompile(`^[0-9][a-z0-9]{3}_[a-z0-9]{1,2}$`)

// ValidateCode checks that a candidate code is a PDB-style entry code,
// optionally with a chain suffix.
//
// Valid codes:
//   - 4 characters, leading digit, lowercase alphanumerics (1dtx)
//   - optionally followed by "_" and a 1-2 character chain id (1dtx_a)
func ValidateCode(code string) error {
	if code == "" {
		return fmt.Errorf("candidate code cannot be empty")
	}

	if !codePattern.MatchString(code) && !chainSuffixPattern.MatchString(code) {
		return fmt.Errorf("invalid candidate code %q (expected a PDB-style code like 1dtx or 1dtx_a)", code)
	}

	return nil
}

// SanitizeCode normalizes and validates a candidate code. Returns the
// lowercase code if valid.
//
//	code, err := validation.SanitizeCode(userInput)
//	if err != nil {
//	    return err
//	}
//	// code is lowercase and safe to use in paths and scripts
func SanitizeCode(code string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(code))
	if err := ValidateCode(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
