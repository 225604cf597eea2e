// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"errors"
	"fmt"
)

// CheckInvariants verifies the structural bookkeeping of the store.
//
// Description:
//
//	Checks that every counter equals the number of edges naming the node as
//	true endpoint, that every edge is registered in exactly one collection
//	and that collection matches its endpoints, and that the resolution
//	table agrees with community membership.
//
// Outputs:
//
//	error - nil when consistent, otherwise every violation joined, each
//	        wrapping ErrInvariantViolation.
//
// Complexity: O(V + E).
func (s *Store) CheckInvariants() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...)))
	}

	inCount := make(map[*Node]int)
	outCount := make(map[*Node]int)
	for id, e := range s.edges {
		if id != e.id {
			fail("edge %s indexed under %s", e.id, id)
		}
		if !s.Live(e.source) || !s.Live(e.target) {
			fail("edge %s has an evicted endpoint", e.id)
			continue
		}
		inCount[e.target]++
		outCount[e.source]++

		want := placementFor(e.source, e.target)
		if e.placement != want {
			fail("edge %s placed %s, endpoints imply %s", e.id, e.placement.Kind, want.Kind)
		}
		registered := 0
		if s.top.has(e) {
			registered++
		}
		for _, c := range s.Communities() {
			for _, set := range []edgeSet{c.internal, c.inbound, c.outbound} {
				if set.has(e) {
					registered++
				}
			}
		}
		if registered != 1 {
			fail("edge %s registered %d times", e.id, registered)
		}
		if !s.container(e.placement).has(e) {
			fail("edge %s missing from its %s collection", e.id, e.placement.Kind)
		}
	}

	for h, ent := range s.slots {
		switch v := ent.(type) {
		case *Node:
			if int(v.h) != h {
				fail("node %s holds handle %d in slot %d", v.id, v.h, h)
			}
			if v.inbound != inCount[v] || v.inbound != len(v.in) {
				fail("node %s inbound=%d, edges=%d", v.id, v.inbound, inCount[v])
			}
			if v.outbound != outCount[v] || v.outbound != len(v.out) {
				fail("node %s outbound=%d, edges=%d", v.id, v.outbound, outCount[v])
			}
			r, ok := s.index[v.id]
			switch {
			case !ok:
				fail("node %s not in resolution table", v.id)
			case v.community == nil && (r.joined || r.owner != v.h):
				fail("node %s is top level but resolves elsewhere", v.id)
			case v.community != nil && (!r.joined || r.owner != v.community.h || r.member != v.h):
				fail("member %s does not resolve to %s", v.id, v.community.id)
			}
			if v.community != nil && !s.Live(v.community) {
				fail("member %s owned by evicted community", v.id)
			}
		case *Community:
			if int(v.h) != h {
				fail("community %s holds handle %d in slot %d", v.id, v.h, h)
			}
			if len(v.members) == 0 {
				fail("community %s has no members", v.id)
			}
			for _, m := range v.members {
				if m.community != v {
					fail("community %s lists foreign member %s", v.id, m.id)
				}
			}
			if r, ok := s.index[v.id]; !ok || r.owner != v.h || r.joined {
				fail("community %s not resolvable", v.id)
			}
		}
	}

	for id, r := range s.index {
		if int(r.owner) >= len(s.slots) || s.slots[r.owner] == nil {
			fail("id %s resolves to an empty slot", id)
		}
	}
	return errors.Join(errs...)
}
