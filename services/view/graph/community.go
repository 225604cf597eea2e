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
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DissolveResult lists what a dissolve put back at the top level.
type DissolveResult struct {
	Nodes []*Node
	Edges []*Edge
}

// Collapse folds the nodes named by ids into a new community.
//
// Description:
//
//	Each id is resolved first. Unknown ids, ids already absorbed elsewhere
//	and community ids are skipped and reported through a joined
//	ErrUnknownMember error; the rest are collapsed. Nothing is mutated
//	until every member and the new id have been validated.
//
//	Every edge touching a member is re-registered: internal when both
//	endpoints are members, otherwise on the inbound or outbound frontier.
//	Edges that leave the top level are reported to the observer as
//	detached.
//
// Outputs:
//
//	*Community - The new community. Non-nil whenever at least one id was
//	             absorbed, even if err is also non-nil.
//	error - ErrEmptyCommunity when nothing could be absorbed, joined
//	        ErrUnknownMember errors for skipped ids, ErrDuplicateEntity on
//	        an id collision.
func (s *Store) Collapse(ctx context.Context, ids []string, reason Reason) (*Community, error) {
	ctx, span := tracer.Start(ctx, "Store.Collapse",
		trace.WithAttributes(
			attribute.Int("requested", len(ids)),
			attribute.String("reason", reason.String()),
		),
	)
	defer span.End()

	members, skipped := s.resolveMembers(ids)
	if len(members) == 0 {
		err := errors.Join(append([]error{ErrEmptyCommunity}, skipped...)...)
		span.SetStatus(codes.Error, "empty community")
		return nil, err
	}

	id := CommunityPrefix + uuid.NewString()
	if _, taken := s.index[id]; taken {
		span.SetStatus(codes.Error, "duplicate id")
		return nil, fmt.Errorf("%w: %s", ErrDuplicateEntity, id)
	}
	if reason.Example == "" {
		reason.Example = members[0].id
	}
	c := &Community{
		id:      id,
		pos:     members[0].pos,
		reason:  reason,
		members: members,
	}

	s.place(c)
	s.index[c.id] = ref{owner: c.h}
	for _, m := range members {
		m.community = c
		s.index[m.id] = ref{owner: c.h, member: m.h, joined: true}
	}

	var moved []transition
	for _, e := range incidentEdges(members) {
		if t, ok := s.relocate(e); ok {
			moved = append(moved, t)
		}
	}
	s.notify(moved)

	recordCollapse(ctx, len(members), reason.Type)
	span.SetAttributes(
		attribute.String("community_id", c.id),
		attribute.Int("members", len(members)),
		attribute.Int("skipped", len(skipped)),
	)
	s.logger.Debug("community collapsed",
		slog.String("community_id", c.id),
		slog.Int("member_count", len(members)),
		slog.Int("skipped", len(skipped)),
		slog.String("reason", reason.String()),
	)
	return c, errors.Join(skipped...)
}

// resolveMembers returns the live top-level nodes named by ids, plus one
// ErrUnknownMember error per id that was skipped. Duplicates are ignored.
func (s *Store) resolveMembers(ids []string) ([]*Node, []error) {
	seen := make(map[string]bool, len(ids))
	members := make([]*Node, 0, len(ids))
	var skipped []error
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		r, ok := s.Resolve(id)
		if !ok {
			skipped = append(skipped, fmt.Errorf("%w: %s", ErrUnknownMember, id))
			continue
		}
		if r.Member != nil {
			skipped = append(skipped, fmt.Errorf("%w: %s already in %s", ErrUnknownMember, id, r.Entity.ID()))
			continue
		}
		n, ok := r.Entity.(*Node)
		if !ok {
			skipped = append(skipped, fmt.Errorf("%w: %s is a community", ErrUnknownMember, id))
			continue
		}
		members = append(members, n)
	}
	return members, skipped
}

// Dissolve puts the members of c back at the top level and restores their
// edges to the placement their true endpoints imply.
func (s *Store) Dissolve(ctx context.Context, c *Community) (DissolveResult, error) {
	if !s.Live(c) {
		return DissolveResult{}, ErrNotLive
	}
	ctx, span := tracer.Start(ctx, "Store.Dissolve",
		trace.WithAttributes(
			attribute.String("community_id", c.id),
			attribute.Int("members", len(c.members)),
		),
	)
	defer span.End()

	members := c.members
	s.release(c)
	for _, m := range members {
		m.community = nil
		s.index[m.id] = ref{owner: m.h}
	}

	var moved []transition
	var restored []*Edge
	for _, e := range incidentEdges(members) {
		if t, ok := s.relocate(e); ok {
			moved = append(moved, t)
		}
		restored = append(restored, e)
	}
	c.members = nil
	s.notify(moved)

	recordDissolve(ctx)
	s.logger.Debug("community dissolved",
		slog.String("community_id", c.id),
		slog.Int("member_count", len(members)),
		slog.Int("edges_restored", len(restored)),
	)
	return DissolveResult{Nodes: members, Edges: restored}, nil
}

// discard tears c down with its members and every edge touching them.
// Nothing is restored.
func (s *Store) discard(c *Community) {
	members := c.members
	for _, e := range incidentEdges(members) {
		_ = s.RemoveEdge(e, false)
	}
	for _, m := range members {
		s.evict(m)
	}
	c.members = nil
	s.release(c)
	s.logger.Debug("community discarded",
		slog.String("community_id", c.id),
		slog.Int("member_count", len(members)),
	)
}

// incidentEdges returns every edge touching any of nodes once, in
// insertion order.
func incidentEdges(nodes []*Node) []*Edge {
	set := make(edgeSet)
	for _, n := range nodes {
		for e := range n.in {
			set.add(e)
		}
		for e := range n.out {
			set.add(e)
		}
	}
	return set.list()
}
