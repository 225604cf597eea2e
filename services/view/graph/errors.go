// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph holds the working subset of a large graph that a view
// currently shows.
//
// The store is an arena of entities addressed by handle. Every external
// node id maps to a resolution entry; absorbing a node into a community
// re-points that entry at the community instead of deleting anything, so
// callers holding an id always resolve to whatever currently represents it.
//
// # Entities
//
// An Entity is either a plain *Node or a *Community. Call sites use a type
// switch rather than flag checks:
//
//	switch v := e.(type) {
//	case *graph.Node:
//	    ...
//	case *graph.Community:
//	    ...
//	}
//
// # Edges
//
// An edge always keeps its true endpoints. Its placement (top level,
// community inbound, outbound or internal) is derived from where those
// endpoints currently live, so dissolving a community restores the original
// edge verbatim.
//
// # Counters
//
// Inbound and outbound counters are unexported and change only inside
// InsertEdge and RemoveEdge.
//
// # Thread Safety
//
// Store is NOT safe for concurrent use. It is owned by a single mutator.
package graph

import "errors"

// Sentinel errors for store operations.
var (
	// ErrDanglingEndpoint is returned when an edge references an id that
	// does not resolve to a node.
	ErrDanglingEndpoint = errors.New("edge endpoint does not resolve to a node")

	// ErrDuplicateEntity indicates two entities claim the same id. This is
	// a programming error, not a recoverable condition.
	ErrDuplicateEntity = errors.New("duplicate entity id")

	// ErrUnknownMember is returned (joined) for each collapse id that could
	// not be absorbed. The remaining ids are still collapsed.
	ErrUnknownMember = errors.New("unknown community member")

	// ErrEmptyCommunity is returned when no requested id could be absorbed.
	ErrEmptyCommunity = errors.New("community has no members")

	// ErrNotFound is returned when an entity or edge is not in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrNotLive is returned when an operation receives an entity that has
	// already been removed from the store.
	ErrNotLive = errors.New("entity is no longer in the store")

	// ErrEmptyID is returned when a payload carries no id.
	ErrEmptyID = errors.New("payload id must not be empty")

	// ErrInvariantViolation wraps every failure reported by CheckInvariants.
	ErrInvariantViolation = errors.New("graph invariant violated")
)
