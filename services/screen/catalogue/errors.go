// Copyright (C) 2025 The xtalpipe authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package catalogue

import "errors"

var (
	// ErrInvalidEntry is returned when an entry is missing required fields.
	ErrInvalidEntry = errors.New("invalid catalogue entry")

	// ErrNotFound is returned when a candidate code is not in the store.
	ErrNotFound = errors.New("catalogue entry not found")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("catalogue store is closed")
)
