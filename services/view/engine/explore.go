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

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/GraphView/services/view/graph"
)

// =============================================================================
// Loading
// =============================================================================

// LoadNode fetches id and its outbound neighbourhood from the loader and
// inserts it.
//
// Description:
//
//	The loader is called without the engine lock. The batch is then
//	inserted, id is marked expanded, the nodes the batch created are
//	bucketed if there are more than the child limit, and the node budget
//	is re-checked with id as the focus.
//
// Outputs:
//
//	*graph.Node - The loaded node.
//	error - Loader errors, or graph errors from a malformed batch.
func (e *Engine) LoadNode(ctx context.Context, id string) (*graph.Node, error) {
	return e.load(ctx, id, false)
}

// LoadInitialNode resets the view and loads id as the pinned root.
func (e *Engine) LoadInitialNode(ctx context.Context, id string) (*graph.Node, error) {
	return e.load(ctx, id, true)
}

func (e *Engine) load(ctx context.Context, id string, initial bool) (*graph.Node, error) {
	ctx, span := tracer.Start(ctx, "Engine.LoadNode",
		trace.WithAttributes(
			attribute.String("node_id", id),
			attribute.Bool("initial", initial),
		),
	)
	defer span.End()
	start := time.Now()

	batch, err := e.loader.LoadNode(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	if batch == nil {
		batch = &Batch{}
	}

	e.mu.Lock()
	defer e.unlock()

	if initial {
		e.cleanUp(ctx)
	}
	n, created, err := e.insertBatch(id, batch, initial)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return nil, err
	}
	n.SetExpanded(true)
	if initial {
		e.root = n
	}

	e.checkSizeOfInserted(ctx, created)
	e.checkNodeLimit(ctx, n)

	e.metrics.NodesInserted.Add(ctx, int64(len(created)))
	e.metrics.EdgesInserted.Add(ctx, int64(len(batch.Edges)))
	e.metrics.LoadDuration.Record(ctx, time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("nodes_created", len(created)),
		attribute.Int("visible", e.store.VisibleCount()),
	)
	e.logger.Info("node loaded",
		slog.String("node_id", id),
		slog.Int("nodes_created", len(created)),
		slog.Int("edges", len(batch.Edges)),
		slog.Int("visible", e.store.VisibleCount()),
	)
	return n, nil
}

// insertBatch inserts the node for id first, then the rest of the batch.
// It returns the nodes other than id that did not exist before. Edges
// whose endpoints do not resolve are skipped.
func (e *Engine) insertBatch(id string, b *Batch, initial bool) (*graph.Node, []*graph.Node, error) {
	self := graph.NodePayload{ID: id}
	for _, p := range b.Nodes {
		if p.ID == id {
			self = p
			break
		}
	}

	var n *graph.Node
	var err error
	if initial {
		n, err = e.store.InsertInitialNode(self)
	} else {
		n, err = e.store.InsertNode(self)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("insert %s: %w", id, err)
	}

	var created []*graph.Node
	for _, p := range b.Nodes {
		if p.ID == id {
			continue
		}
		_, known := e.store.Resolve(p.ID)
		m, err := e.store.InsertNode(p)
		if err != nil {
			return nil, nil, fmt.Errorf("insert %s: %w", p.ID, err)
		}
		if !known {
			created = append(created, m)
		}
	}
	for _, p := range b.Edges {
		_, err := e.store.InsertEdge(p)
		switch {
		case err == nil:
		case errors.Is(err, graph.ErrDanglingEndpoint):
			// The loader cannot know what a cascade has removed since.
			e.logger.Warn("batch edge skipped", slog.String("edge_id", p.ID), slog.String("error", err.Error()))
		default:
			return nil, nil, fmt.Errorf("insert edge %s: %w", p.ID, err)
		}
	}
	return n, created, nil
}

// =============================================================================
// Explore
// =============================================================================

// Explore toggles a visible entity.
//
// A collapsed node is loaded and becomes expanded; an expanded node is
// collapsed, cascading through neighbours it alone kept visible. A
// community toggles between showing and hiding its members.
func (e *Engine) Explore(ctx context.Context, ent graph.Entity) error {
	ctx, span := tracer.Start(ctx, "Engine.Explore",
		trace.WithAttributes(attribute.String("entity_id", idOf(ent))),
	)
	defer span.End()

	switch v := ent.(type) {
	case *graph.Node:
		e.mu.Lock()
		if !e.topLevel(v) {
			e.unlock()
			return fmt.Errorf("%w: %s", ErrNotTopLevel, idOf(ent))
		}
		expanded := v.Expanded()
		e.unlock()
		if !expanded {
			_, err := e.LoadNode(ctx, v.ID())
			return err
		}

		e.mu.Lock()
		defer e.unlock()
		removed := e.collapseNode(ctx, v)
		span.SetAttributes(attribute.Int("cascade_removed", removed))
		e.recordVisible(ctx)
		return nil

	case *graph.Community:
		e.mu.Lock()
		defer e.unlock()
		if !e.store.Live(v) {
			return fmt.Errorf("%w: %s", ErrNotTopLevel, idOf(v))
		}
		if v.Expanded() {
			v.SetExpanded(false)
			e.recordVisible(ctx)
			return nil
		}
		v.SetExpanded(true)
		e.checkNodeLimit(ctx, v)
		return nil

	default:
		return fmt.Errorf("%w: %v", ErrNotTopLevel, ent)
	}
}

// ExpandCommunity shows the members of c inside it and re-checks the
// budget with c as the focus.
func (e *Engine) ExpandCommunity(ctx context.Context, c *graph.Community) error {
	e.mu.Lock()
	defer e.unlock()
	if !e.store.Live(c) {
		return fmt.Errorf("%w: %s", ErrNotTopLevel, idOf(c))
	}
	c.SetExpanded(true)
	e.checkNodeLimit(ctx, c)
	return nil
}

// CollapseCommunityView hides the members of c again.
func (e *Engine) CollapseCommunityView(ctx context.Context, c *graph.Community) error {
	e.mu.Lock()
	defer e.unlock()
	if !e.store.Live(c) {
		return fmt.Errorf("%w: %s", ErrNotTopLevel, idOf(c))
	}
	c.SetExpanded(false)
	e.recordVisible(ctx)
	return nil
}

// DissolveCommunity puts the members of c back at the top level. If the
// restored view is over budget, the governor re-balances it.
func (e *Engine) DissolveCommunity(ctx context.Context, c *graph.Community) (graph.DissolveResult, error) {
	ctx, span := tracer.Start(ctx, "Engine.DissolveCommunity",
		trace.WithAttributes(attribute.String("community_id", idOf(c))),
	)
	defer span.End()

	e.mu.Lock()
	defer e.unlock()

	res, err := e.store.Dissolve(ctx, c)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dissolve failed")
		return graph.DissolveResult{}, err
	}
	e.metrics.Dissolves.Add(ctx, 1)
	e.logger.Info("community dissolved",
		slog.String("community_id", c.ID()),
		slog.Int("member_count", len(res.Nodes)),
		slog.Int("visible", e.store.VisibleCount()),
	)
	if e.store.VisibleCount() > e.settings.NodeLimit {
		e.checkNodeLimit(ctx, nil)
	} else {
		e.recordVisible(ctx)
	}
	return res, nil
}

// CollapseCommunity folds the named nodes into a community. Unknown or
// already absorbed ids are skipped and reported in the returned error.
func (e *Engine) CollapseCommunity(ctx context.Context, ids []string, reason graph.Reason) (*graph.Community, error) {
	e.mu.Lock()
	defer e.unlock()
	c, err := e.store.Collapse(ctx, ids, reason)
	if c != nil {
		e.metrics.Collapses.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", "manual")))
		e.recordVisible(ctx)
	}
	return c, err
}

// =============================================================================
// Collapse cascade
// =============================================================================

// cascade removes what a collapsing node alone kept reachable. Each node
// enters the stack at most once, so the walk terminates.
type cascade struct {
	store   *graph.Store
	keep    map[*graph.Node]bool
	seen    map[*graph.Node]bool
	stack   []*graph.Node
	removed int
}

// collapseNode removes the outbound edges of n and every neighbour whose
// inbound count reaches zero, transitively. n and the root survive. It
// returns the number of nodes removed.
func (e *Engine) collapseNode(ctx context.Context, n *graph.Node) int {
	n.SetExpanded(false)

	cs := &cascade{
		store: e.store,
		keep:  map[*graph.Node]bool{n: true},
		seen:  map[*graph.Node]bool{n: true},
	}
	if e.root != nil {
		cs.keep[e.root] = true
	}

	cs.strip(n)
	for len(cs.stack) > 0 {
		next := cs.stack[len(cs.stack)-1]
		cs.stack = cs.stack[:len(cs.stack)-1]
		if !e.store.Live(next) {
			continue
		}
		cs.strip(next)
		if err := e.store.RemoveNode(next); err == nil {
			cs.removed++
		}
	}

	e.metrics.CascadeRemovals.Add(ctx, int64(cs.removed))
	e.logger.Info("node collapsed",
		slog.String("node_id", n.ID()),
		slog.Int("cascade_removed", cs.removed),
		slog.Int("visible", e.store.VisibleCount()),
	)
	return cs.removed
}

// strip removes the outbound edges of n and considers each target.
func (cs *cascade) strip(n *graph.Node) {
	for _, edge := range n.OutEdges() {
		target := edge.TrueTarget()
		_ = cs.store.RemoveEdge(edge, false)
		cs.consider(target)
	}
}

// consider queues t for removal once nothing points at it. A member whose
// community has lost its last inbound edge takes the whole community down.
func (cs *cascade) consider(t *graph.Node) {
	if cs.keep[t] || cs.seen[t] || !cs.store.Live(t) {
		return
	}
	if c := t.Community(); c != nil && c.Inbound() == 0 && !cs.holdsKept(c) {
		cs.teardown(c)
		return
	}
	if t.Inbound() == 0 {
		cs.seen[t] = true
		cs.stack = append(cs.stack, t)
	}
}

// teardown discards c with its members. Their edges are dropped, not
// restored, and targets outside c are considered in turn.
func (cs *cascade) teardown(c *graph.Community) {
	members := c.Members()
	var outside []*graph.Node
	for _, m := range members {
		cs.seen[m] = true
		for _, edge := range m.OutEdges() {
			if t := edge.TrueTarget(); !c.Contains(t) {
				outside = append(outside, t)
			}
		}
	}
	if err := cs.store.RemoveNode(c); err != nil {
		return
	}
	cs.removed += len(members)
	for _, t := range outside {
		cs.consider(t)
	}
}

func (cs *cascade) holdsKept(c *graph.Community) bool {
	for n := range cs.keep {
		if c.Contains(n) {
			return true
		}
	}
	return false
}

// idOf tolerates nil entities, including typed nil pointers.
func idOf(ent graph.Entity) string {
	switch v := ent.(type) {
	case *graph.Node:
		if v != nil {
			return v.ID()
		}
	case *graph.Community:
		if v != nil {
			return v.ID()
		}
	}
	return ""
}
