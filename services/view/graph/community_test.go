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
	"context"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// edgeFingerprint renders every edge with its true endpoints and placement.
func edgeFingerprint(s *Store) []string {
	var out []string
	for _, e := range s.Edges() {
		out = append(out, e.ID()+":"+e.TrueSource().ID()+"->"+e.TrueTarget().ID()+":"+e.Placement().Kind.String())
	}
	sort.Strings(out)
	return out
}

func counterFingerprint(s *Store) map[string][2]int {
	out := make(map[string][2]int)
	for _, e := range s.Entities() {
		if n, ok := e.(*Node); ok {
			out[n.ID()] = [2]int{n.Inbound(), n.Outbound()}
		}
	}
	return out
}

func TestCollapseDissolve_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, obs := newTestStore(t, []string{"A", "B", "C"}, [][2]string{{"A", "B"}, {"B", "C"}})
	edgesBefore := edgeFingerprint(s)
	countersBefore := counterFingerprint(s)

	c, err := s.Collapse(ctx, []string{"B", "C"}, Reason{Type: "demo"})
	require.NoError(t, err)
	require.NoError(t, s.CheckInvariants())

	assert.True(t, strings.HasPrefix(c.ID(), CommunityPrefix))
	assert.Equal(t, 2, c.Size())
	assert.Equal(t, "demo", c.Reason().Type)
	assert.Equal(t, "B", c.Reason().Example)
	assert.ElementsMatch(t, []string{"-A->B", "-B->C"}, obs.events)

	ab, _ := s.Edge("A-B")
	bc, _ := s.Edge("B-C")
	assert.Equal(t, Placement{Kind: Inbound, Owner: c}, ab.Placement())
	assert.Equal(t, Placement{Kind: Internal, Owner: c}, bc.Placement())
	assert.Same(t, c, ab.Target())
	assert.Equal(t, "B", ab.TrueTarget().ID())

	obs.events = nil
	res, err := s.Dissolve(ctx, c)
	require.NoError(t, err)
	require.NoError(t, s.CheckInvariants())

	assert.Len(t, res.Nodes, 2)
	assert.Len(t, res.Edges, 2)
	assert.ElementsMatch(t, []string{"+A->B", "+B->C"}, obs.events)
	assert.Equal(t, edgesBefore, edgeFingerprint(s))
	assert.Equal(t, countersBefore, counterFingerprint(s))
	assert.Equal(t, 1, mustNode(t, s, "A").Outbound())
	assert.False(t, s.Live(c))
}

func TestCollapse_CommunityCountersFromFrontier(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t,
		[]string{"0", "1", "2", "3", "4"},
		[][2]string{{"0", "1"}, {"0", "2"}, {"0", "3"}, {"1", "2"}, {"3", "4"}},
	)

	v1 := mustNode(t, s, "1")
	beforeIn, beforeOut := v1.Inbound(), v1.Outbound()

	c, err := s.Collapse(ctx, []string{"1", "2", "3"}, Reason{})
	require.NoError(t, err)

	assert.Equal(t, 3, c.Inbound())
	assert.Equal(t, 1, c.Outbound())
	assert.Len(t, c.InboundEdges(), 3)
	assert.Len(t, c.OutboundEdges(), 1)
	assert.Len(t, c.InternalEdges(), 1)
	assert.Equal(t, beforeIn, v1.Inbound(), "member counters are preserved")
	assert.Equal(t, beforeOut, v1.Outbound())
	assert.Empty(t, s.TopLevelEdges())
	require.NoError(t, s.CheckInvariants())
}

func TestCollapse_EdgesBetweenCommunities(t *testing.T) {
	ctx := context.Background()
	s, obs := newTestStore(t, []string{"A", "B", "C", "D"}, [][2]string{{"A", "C"}, {"D", "B"}})

	left, err := s.Collapse(ctx, []string{"A", "B"}, Reason{})
	require.NoError(t, err)
	right, err := s.Collapse(ctx, []string{"C", "D"}, Reason{})
	require.NoError(t, err)
	require.NoError(t, s.CheckInvariants())

	ac, _ := s.Edge("A-C")
	db, _ := s.Edge("D-B")
	assert.Equal(t, Placement{Kind: Outbound, Owner: left}, ac.Placement())
	assert.Equal(t, Placement{Kind: Outbound, Owner: right}, db.Placement())
	assert.Equal(t, 1, left.Inbound())
	assert.Equal(t, 1, right.Inbound())
	// Only the first collapse took the edges off the top level.
	assert.Equal(t, []string{"-A->C", "-D->B"}, obs.events)

	obs.events = nil
	_, err = s.Dissolve(ctx, left)
	require.NoError(t, err)
	require.NoError(t, s.CheckInvariants())

	assert.Equal(t, Placement{Kind: Inbound, Owner: right}, ac.Placement())
	assert.Equal(t, Placement{Kind: Outbound, Owner: right}, db.Placement())
	assert.Empty(t, obs.events, "edges still touch a community")
}

func TestCollapse_SkipsUnknownMembers(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, []string{"A", "B", "C"}, nil)
	first, err := s.Collapse(ctx, []string{"A"}, Reason{})
	require.NoError(t, err)

	c, err := s.Collapse(ctx, []string{"B", "missing", "A", first.ID(), "C", "B"}, Reason{})
	require.NotNil(t, c)
	require.ErrorIs(t, err, ErrUnknownMember)

	var ids []string
	for _, m := range c.Members() {
		ids = append(ids, m.ID())
	}
	assert.Equal(t, []string{"B", "C"}, ids)
	assert.Contains(t, err.Error(), "missing")
	require.NoError(t, s.CheckInvariants())
}

func TestCollapse_Empty(t *testing.T) {
	s, _ := newTestStore(t, []string{"A"}, nil)

	c, err := s.Collapse(context.Background(), []string{"x", "y"}, Reason{})

	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrEmptyCommunity)
	assert.ErrorIs(t, err, ErrUnknownMember)
	assert.Len(t, s.Communities(), 0)
}

func TestCollapse_PositionFromFirstMember(t *testing.T) {
	s, _ := newTestStore(t, []string{"A", "B"}, nil)
	b := mustNode(t, s, "B")

	c, err := s.Collapse(context.Background(), []string{"B", "A"}, Reason{})
	require.NoError(t, err)

	assert.Equal(t, b.Position(), c.Position())
}

func TestInsertNode_RedirectsToAbsorbedMember(t *testing.T) {
	s, _ := newTestStore(t, []string{"A", "B"}, nil)
	b := mustNode(t, s, "B")
	c, err := s.Collapse(context.Background(), []string{"B"}, Reason{})
	require.NoError(t, err)

	again, err := s.InsertNode(NodePayload{ID: "B"})
	require.NoError(t, err)

	assert.Same(t, b, again)
	assert.Same(t, c, again.Community())
	assert.Equal(t, 2, s.NodeCount())

	r, ok := s.Resolve("B")
	require.True(t, ok)
	assert.Same(t, c, r.Entity)
	assert.Same(t, b, r.Member)
}

func TestInsertNode_CommunityIDIsDuplicate(t *testing.T) {
	s, _ := newTestStore(t, []string{"A"}, nil)
	c, err := s.Collapse(context.Background(), []string{"A"}, Reason{})
	require.NoError(t, err)

	_, err = s.InsertNode(NodePayload{ID: c.ID()})
	assert.ErrorIs(t, err, ErrDuplicateEntity)
}

func TestInsertEdge_IntoCommunity(t *testing.T) {
	s, obs := newTestStore(t, []string{"A", "B", "C"}, nil)
	c, err := s.Collapse(context.Background(), []string{"B", "C"}, Reason{})
	require.NoError(t, err)

	tests := []struct {
		name   string
		source string
		target string
		want   PlacementKind
	}{
		{name: "inbound", source: "A", target: "B", want: Inbound},
		{name: "outbound", source: "C", target: "A", want: Outbound},
		{name: "internal", source: "B", target: "C", want: Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := s.InsertEdge(EdgePayload{ID: tt.name, Source: tt.source, Target: tt.target})
			require.NoError(t, err)
			assert.Equal(t, Placement{Kind: tt.want, Owner: c}, e.Placement())
			require.NoError(t, s.CheckInvariants())
		})
	}

	b, cc := mustNode(t, s, "B"), mustNode(t, s, "C")
	assert.Equal(t, [2]int{1, 1}, [2]int{b.Inbound(), b.Outbound()}, "counters belong to the member")
	assert.Equal(t, [2]int{1, 1}, [2]int{cc.Inbound(), cc.Outbound()})
	assert.Equal(t, 1, c.Inbound())
	assert.Equal(t, 1, c.Outbound())
	assert.Empty(t, obs.events)
}

func TestDissolve_NotLive(t *testing.T) {
	s, _ := newTestStore(t, []string{"A"}, nil)
	c, err := s.Collapse(context.Background(), []string{"A"}, Reason{})
	require.NoError(t, err)
	_, err = s.Dissolve(context.Background(), c)
	require.NoError(t, err)

	_, err = s.Dissolve(context.Background(), c)
	assert.ErrorIs(t, err, ErrNotLive)
}

func TestCheckInvariants_DetectsCorruption(t *testing.T) {
	s, _ := newTestStore(t, []string{"A", "B"}, [][2]string{{"A", "B"}})
	mustNode(t, s, "B").inbound = 5

	err := s.CheckInvariants()

	require.ErrorIs(t, err, ErrInvariantViolation)
	assert.Contains(t, err.Error(), "node B inbound=5")
}
