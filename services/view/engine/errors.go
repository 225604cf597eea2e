// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import "errors"

var (
	// ErrMissingArgument is returned by New when a required collaborator
	// is nil.
	ErrMissingArgument = errors.New("missing required argument")

	// ErrOracle wraps an error reported by the clustering oracle. It is only
	// logged; engine operations never return it.
	ErrOracle = errors.New("clustering oracle error")

	// ErrInvalidLimit is returned for a node or child limit below one.
	ErrInvalidLimit = errors.New("limit must be at least 1")

	// ErrNotTopLevel is returned when an operation needs a visible entity
	// but was given an absorbed member or a removed entity.
	ErrNotTopLevel = errors.New("entity is not at the top level")
)
