// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runner

import "errors"

var (
	// ErrUnknownProgram reports a trial-engine binary that cannot be found
	// on PATH. Raised at configuration time, before any dispatch; fatal.
	ErrUnknownProgram = errors.New("unknown trial program")

	// ErrUnknownMode reports an unsupported submission mode.
	ErrUnknownMode = errors.New("unknown submission mode")
)
