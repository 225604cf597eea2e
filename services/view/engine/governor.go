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
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/GraphView/services/view/graph"
	"github.com/AleutianAI/GraphView/services/view/reducer"
)

// SetNodeLimit sets the visible entity budget and re-checks it.
//
// done, when non-nil, is called once the partition request triggered by
// the check (or one already in flight) has been resolved. When no request
// is outstanding it is called before SetNodeLimit returns.
func (e *Engine) SetNodeLimit(ctx context.Context, limit int, done func()) error {
	if limit < 1 {
		return fmt.Errorf("%w: node limit %d", ErrInvalidLimit, limit)
	}
	e.mu.Lock()
	defer e.unlock()

	e.settings.NodeLimit = limit
	e.checkNodeLimit(ctx, nil)
	if done != nil {
		if e.inFlight {
			e.pending = append(e.pending, done)
		} else {
			e.ready = append(e.ready, done)
		}
	}
	return nil
}

// SetChildLimit sets the batch size above which new nodes are bucketed.
func (e *Engine) SetChildLimit(limit int) error {
	if limit < 1 {
		return fmt.Errorf("%w: child limit %d", ErrInvalidLimit, limit)
	}
	e.mu.Lock()
	defer e.unlock()
	e.settings.ChildLimit = limit
	return nil
}

// ChangeTo replaces the settings live and re-checks the budget. The graph
// is kept.
func (e *Engine) ChangeTo(ctx context.Context, s Settings) error {
	if err := s.validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.unlock()
	s.PriorityList = append([]string(nil), s.PriorityList...)
	e.settings = s
	e.logger.Info("settings changed",
		slog.Int("node_limit", s.NodeLimit),
		slog.Int("child_limit", s.ChildLimit),
		slog.Any("priority_list", s.PriorityList),
	)
	e.checkNodeLimit(ctx, nil)
	return nil
}

// CheckNodeLimit enforces the budget. focus, when non-nil, is kept
// expanded and steers the oracle away from it.
func (e *Engine) CheckNodeLimit(ctx context.Context, focus graph.Entity) {
	e.mu.Lock()
	defer e.unlock()
	e.checkNodeLimit(ctx, focus)
}

// checkNodeLimit collapses expanded communities, largest first, until the
// view fits. If it still does not fit, a partition is requested.
func (e *Engine) checkNodeLimit(ctx context.Context, focus graph.Entity) {
	for e.store.VisibleCount() > e.settings.NodeLimit {
		c := e.largestExpanded(focus)
		if c == nil {
			focusID := ""
			if focus != nil {
				focusID = focus.ID()
			}
			e.requestCollapse(ctx, focusID)
			return
		}
		c.SetExpanded(false)
		e.logger.Info("expanded community collapsed for budget",
			slog.String("community_id", c.ID()),
			slog.Int("member_count", c.Size()),
			slog.Int("visible", e.store.VisibleCount()),
			slog.Int("limit", e.settings.NodeLimit),
		)
	}
	e.recordVisible(ctx)
}

// largestExpanded returns the biggest expanded community other than
// focus. Communities come in handle order, so ties go to the oldest.
func (e *Engine) largestExpanded(focus graph.Entity) *graph.Community {
	var best *graph.Community
	for _, c := range e.store.Communities() {
		if !c.Expanded() || graph.Entity(c) == focus {
			continue
		}
		if best == nil || c.Size() > best.Size() {
			best = c
		}
	}
	return best
}

// CheckSizeOfInserted buckets the named nodes when there are more of them
// than the child limit. The ids should be the nodes a single load created.
func (e *Engine) CheckSizeOfInserted(ctx context.Context, ids []string) []*graph.Community {
	e.mu.Lock()
	defer e.unlock()
	nodes := make([]*graph.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := e.store.Node(id); ok {
			nodes = append(nodes, n)
		}
	}
	return e.checkSizeOfInserted(ctx, nodes)
}

// checkSizeOfInserted collapses each bucket of two or more nodes into its
// own community. Single-node buckets stay plain.
func (e *Engine) checkSizeOfInserted(ctx context.Context, inserted []*graph.Node) []*graph.Community {
	plain := make([]*graph.Node, 0, len(inserted))
	for _, n := range inserted {
		if e.store.Live(n) && n.Community() == nil {
			plain = append(plain, n)
		}
	}
	if len(plain) <= e.settings.ChildLimit {
		return nil
	}

	buckets := reducer.BucketNodes(plain, e.settings.ChildLimit, e.settings.PriorityList)
	var made []*graph.Community
	for _, b := range buckets {
		if len(b.Nodes) < 2 {
			continue
		}
		c, err := e.store.Collapse(ctx, b.IDs(), b.Reason)
		if c == nil {
			e.logger.Warn("bucket collapse failed",
				slog.String("reason", b.Reason.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		made = append(made, c)
		e.metrics.Collapses.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", "bucket")))
	}
	e.logger.Info("inserted batch bucketed",
		slog.Int("inserted", len(plain)),
		slog.Int("child_limit", e.settings.ChildLimit),
		slog.Int("buckets", len(buckets)),
		slog.Int("communities", len(made)),
	)
	return made
}
