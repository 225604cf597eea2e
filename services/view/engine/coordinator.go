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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/GraphView/services/view/cluster"
	"github.com/AleutianAI/GraphView/services/view/graph"
	"github.com/AleutianAI/GraphView/services/view/telemetry"
)

// mirrorSync forwards top-level edge changes to the oracle so its mirror
// tracks the plain edges of the view. It runs with the engine lock held.
type mirrorSync struct{ e *Engine }

func (m mirrorSync) EdgeAttached(edge *graph.Edge) {
	m.e.notifyOracle(cluster.CmdInsertEdge, edge)
}

func (m mirrorSync) EdgeDetached(edge *graph.Edge) {
	m.e.notifyOracle(cluster.CmdDeleteEdge, edge)
}

func (e *Engine) notifyOracle(cmd cluster.Command, edge *graph.Edge) {
	err := e.oracle.Send(cluster.Message{
		Cmd:    cmd,
		Source: edge.TrueSource().ID(),
		Target: edge.TrueTarget().ID(),
	})
	if err != nil {
		level := slog.LevelError
		if isClosed(err) {
			level = slog.LevelDebug
		}
		e.logger.Log(context.Background(), level, "oracle notification failed",
			slog.String("cmd", string(cmd)),
			slog.String("edge_id", edge.ID()),
			slog.String("error", err.Error()),
		)
	}
}

// requestCollapse asks the oracle for a partition unless one is already
// outstanding. It reports whether a request was sent.
func (e *Engine) requestCollapse(ctx context.Context, focus string) bool {
	if e.inFlight {
		e.logger.Debug("partition request already in flight", slog.Uint64("generation", e.generation))
		return false
	}
	if e.limiter != nil && !e.limiter.Allow() {
		e.logger.Debug("partition request rate limited")
		return false
	}

	ctx, span := tracer.Start(ctx, "Engine.requestCollapse",
		trace.WithAttributes(
			attribute.String("focus", focus),
			attribute.Int("limit", e.settings.NodeLimit),
			attribute.Int64("generation", int64(e.generation)),
		),
	)
	defer span.End()

	e.inFlight = true
	e.settled = make(chan struct{})
	err := e.oracle.Send(cluster.Message{
		Cmd:        cluster.CmdGetCommunity,
		Limit:      e.settings.NodeLimit,
		Focus:      focus,
		Generation: e.generation,
		Trace:      telemetry.InjectToMap(ctx, nil),
	})
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.LoggerWithTrace(ctx, e.logger).Error("partition request failed",
			slog.String("error", err.Error()),
		)
		e.finishRequest()
		return false
	}

	e.metrics.OracleRequests.Add(ctx, 1)
	telemetry.LoggerWithTrace(ctx, e.logger).Info("partition requested",
		slog.String("focus", focus),
		slog.Int("visible", e.store.VisibleCount()),
		slog.Int("limit", e.settings.NodeLimit),
		slog.Uint64("generation", e.generation),
	)
	return true
}

// finishRequest clears the in-flight flag and releases everything waiting
// on it.
func (e *Engine) finishRequest() {
	if !e.inFlight {
		return
	}
	e.inFlight = false
	close(e.settled)
	e.ready = append(e.ready, e.pending...)
	e.pending = nil
}

// ApplyReply applies one oracle reply on the engine timeline.
//
// Description:
//
//	Only getCommunity replies of the current generation are applied, and
//	only while a request is in flight; anything else is stale and
//	dropped. An error reply is logged and leaves the graph unchanged. A
//	result is collapsed against live state: ids absorbed or removed since
//	the request was sent are skipped.
//
//	The in-flight flag is cleared for every applied or failed reply, and
//	the SetNodeLimit callbacks waiting on it fire. The budget is not
//	re-checked; the next governor check may request again.
func (e *Engine) ApplyReply(ctx context.Context, r cluster.Reply) {
	if r.Cmd != cluster.CmdGetCommunity {
		return
	}

	e.mu.Lock()
	defer e.unlock()

	logger := e.logger.With(slog.Uint64("generation", r.Generation))
	if !e.inFlight || r.Generation != e.generation {
		logger.Warn("stale oracle reply dropped",
			slog.Uint64("current_generation", e.generation),
			slog.Bool("in_flight", e.inFlight),
		)
		e.countReply(ctx, "stale")
		return
	}
	defer e.finishRequest()

	if r.Error != "" {
		err := fmt.Errorf("%w: %s", ErrOracle, r.Error)
		logger.Warn("oracle reported an error", slog.String("error", err.Error()))
		e.countReply(ctx, "error")
		return
	}
	if len(r.Result) == 0 {
		logger.Info("oracle returned no community")
		e.countReply(ctx, "empty")
		return
	}

	c, err := e.store.Collapse(ctx, r.Result, graph.Reason{Type: ReasonCommunity})
	if c == nil {
		logger.Warn("oracle community could not be built",
			slog.Int("requested", len(r.Result)),
			slog.String("error", err.Error()),
		)
		e.countReply(ctx, "empty")
		return
	}
	if err != nil {
		logger.Warn("oracle community built partially",
			slog.String("community_id", c.ID()),
			slog.String("skipped", err.Error()),
		)
	}
	e.countReply(ctx, "applied")
	e.metrics.Collapses.Add(ctx, 1, metric.WithAttributes(attribute.String("origin", "oracle")))
	e.recordVisible(ctx)
	logger.Info("oracle community collapsed",
		slog.String("community_id", c.ID()),
		slog.Int("member_count", c.Size()),
		slog.Int("visible", e.store.VisibleCount()),
	)
}

func (e *Engine) countReply(ctx context.Context, outcome string) {
	e.metrics.OracleReplies.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Run applies oracle replies until ctx is done or the reply channel is
// closed.
func (e *Engine) Run(ctx context.Context) error {
	replies := e.oracle.Replies()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r, ok := <-replies:
			if !ok {
				return nil
			}
			e.ApplyReply(ctx, r)
		}
	}
}

// Settle blocks until no partition request is in flight.
func (e *Engine) Settle(ctx context.Context) error {
	for {
		e.mu.Lock()
		ch := e.settled
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}

		e.mu.Lock()
		busy := e.inFlight
		e.mu.Unlock()
		if !busy {
			return nil
		}
	}
}

// InFlight reports whether a partition request is outstanding.
func (e *Engine) InFlight() bool {
	e.mu.Lock()
	defer e.unlock()
	return e.inFlight
}

// CleanUp resets the view to empty.
//
// Description:
//
//	Every plain top-level edge is reported to the oracle as deleted so its
//	mirror empties, then the store is cleared. The generation is bumped,
//	so a reply to a request sent before the reset is dropped when it
//	arrives, and callbacks waiting on that request fire now.
func (e *Engine) CleanUp(ctx context.Context) {
	e.mu.Lock()
	defer e.unlock()
	e.cleanUp(ctx)
}

func (e *Engine) cleanUp(ctx context.Context) {
	edges := e.store.TopLevelEdges()
	for _, edge := range edges {
		e.notifyOracle(cluster.CmdDeleteEdge, edge)
	}
	e.store.Clear()
	e.root = nil
	e.generation++
	e.finishRequest()
	e.recordVisible(ctx)
	e.logger.Info("view cleaned up",
		slog.Int("edges_released", len(edges)),
		slog.Uint64("generation", e.generation),
	)
}

// isClosed reports whether err means the oracle is gone.
func isClosed(err error) bool {
	return errors.Is(err, cluster.ErrOracleClosed)
}
