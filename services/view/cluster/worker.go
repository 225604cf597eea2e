// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/GraphView/services/view/telemetry"
)

// DefaultMailboxSize bounds the number of queued messages.
const DefaultMailboxSize = 10000

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// MailboxSize is the message buffer. Default: 10000
	MailboxSize int

	// Leiden tunes the partitioner.
	Leiden LeidenOptions
}

// Worker is the in-process oracle. It owns a Mirror and answers
// getCommunity requests from its own goroutine.
//
// Messages are handled strictly in arrival order. Send never blocks; a
// full mailbox is reported as ErrMailboxFull.
//
// Thread Safety: Send, Replies and Close are safe for concurrent use. Run
// must be called exactly once.
type Worker struct {
	mailbox chan Message
	replies chan Reply
	mirror  *Mirror
	opts    LeidenOptions
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var _ Oracle = (*Worker)(nil)

// NewWorker creates a worker. Call Run to start processing.
func NewWorker(cfg WorkerConfig, logger *slog.Logger) *Worker {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = DefaultMailboxSize
	}
	cfg.Leiden.Validate()
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		mailbox: make(chan Message, cfg.MailboxSize),
		replies: make(chan Reply, 16),
		mirror:  NewMirror(),
		opts:    cfg.Leiden,
		logger:  logger.With(slog.String("component", "oracle")),
	}
}

// Send enqueues msg without blocking.
func (w *Worker) Send(msg Message) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrOracleClosed
	}
	select {
	case w.mailbox <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Replies returns the reply channel. It is closed when Run returns.
func (w *Worker) Replies() <-chan Reply { return w.replies }

// Close stops accepting messages. Run drains what is queued and returns.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		w.closed = true
		close(w.mailbox)
	}
	return nil
}

// Run processes messages until the mailbox is closed and drained or ctx
// is done.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.replies)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-w.mailbox:
			if !ok {
				return nil
			}
			reply, respond := w.handle(ctx, msg)
			if !respond {
				continue
			}
			select {
			case w.replies <- reply:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg Message) (Reply, bool) {
	switch msg.Cmd {
	case CmdInsertEdge:
		w.mirror.Insert(msg.Source, msg.Target)
		return Reply{}, false
	case CmdDeleteEdge:
		w.mirror.Delete(msg.Source, msg.Target)
		return Reply{}, false
	case CmdGetCommunity:
		reply := Reply{Cmd: CmdGetCommunity, Generation: msg.Generation}
		ids, err := w.getCommunity(telemetry.ExtractFromMap(ctx, msg.Trace), msg.Limit, msg.Focus)
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.Result = ids
		}
		return reply, true
	default:
		w.logger.Warn("dropping message", slog.String("cmd", string(msg.Cmd)))
		return Reply{Cmd: msg.Cmd, Error: fmt.Sprintf("%s: %q", ErrUnknownCommand, msg.Cmd), Generation: msg.Generation}, true
	}
}

func (w *Worker) getCommunity(ctx context.Context, limit int, focus string) ([]string, error) {
	ctx, span := tracer.Start(ctx, "Worker.getCommunity",
		trace.WithAttributes(
			attribute.Int("limit", limit),
			attribute.String("focus", focus),
			attribute.Int("mirror_nodes", w.mirror.NodeCount()),
		),
	)
	defer span.End()

	opts := w.opts
	ids, err := Propose(ctx, w.mirror, focus, &opts)
	if err != nil {
		telemetry.RecordError(span, err)
		w.logger.Debug("no proposal", slog.String("error", err.Error()))
		return nil, err
	}
	span.SetAttributes(attribute.Int("proposed", len(ids)))
	telemetry.LoggerWithTrace(ctx, w.logger).Debug("community proposed",
		slog.Int("member_count", len(ids)),
		slog.String("focus", focus),
	)
	return ids, nil
}

// Propose picks the community to collapse: the largest detected community
// of at least two nodes that does not contain focus. When detection finds
// none, it falls back to the highest-degree node with its neighbours.
func Propose(ctx context.Context, g *Mirror, focus string, opts *LeidenOptions) ([]string, error) {
	part, err := Detect(ctx, g, opts)
	if err != nil {
		return nil, err
	}
	for _, comm := range part.Communities {
		if len(comm) >= 2 && !contains(comm, focus) {
			return comm, nil
		}
	}

	hub, best := "", 0
	for _, id := range g.Nodes() {
		if id == focus {
			continue
		}
		if d := g.Degree(id); d > best {
			hub, best = id, d
		}
	}
	if hub == "" {
		return nil, ErrNoCommunity
	}
	ids := []string{hub}
	for _, nb := range g.Neighbors(hub) {
		if nb != focus {
			ids = append(ids, nb)
		}
	}
	if len(ids) < 2 {
		return nil, ErrNoCommunity
	}
	return ids, nil
}

func contains(ids []string, id string) bool {
	if id == "" {
		return false
	}
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
