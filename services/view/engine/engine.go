// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine is the public surface of the graph view.
//
// An Engine owns a graph.Store and keeps it within a node budget. It
// coordinates three things on one sequential timeline:
//
//   - the size governor, which collapses expanded communities locally or
//     asks the oracle for a new partition;
//   - the clustering coordinator, which keeps at most one partition
//     request in flight and applies replies against live state;
//   - the explore state machine, which loads neighbours through a Loader
//     and cascades removals when a node is collapsed.
//
// # Thread Safety
//
// Every exported method takes the engine lock, so callers may use an
// Engine from several goroutines. Oracle replies are applied by Run (or
// ApplyReply) under the same lock. Callbacks passed to SetNodeLimit run
// after the lock is released.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/GraphView/services/view/cluster"
	"github.com/AleutianAI/GraphView/services/view/graph"
	"github.com/AleutianAI/GraphView/services/view/telemetry"
)

var tracer = otel.Tracer("graphview.engine")

// Defaults for Settings.
const (
	DefaultNodeLimit  = 150
	DefaultChildLimit = 15
)

// ReasonCommunity labels communities proposed by the oracle.
const ReasonCommunity = "community"

// Settings are the live-reconfigurable knobs of the view.
type Settings struct {
	// NodeLimit is the maximum number of visible entities.
	NodeLimit int `yaml:"node_limit" json:"node_limit"`

	// ChildLimit is the largest batch of new nodes one load may reveal
	// before it is bucketed.
	ChildLimit int `yaml:"child_limit" json:"child_limit"`

	// PriorityList orders the attributes used for bucketing.
	PriorityList []string `yaml:"priority_list" json:"priority_list"`
}

// DefaultSettings returns NodeLimit 150 and ChildLimit 15.
func DefaultSettings() Settings {
	return Settings{NodeLimit: DefaultNodeLimit, ChildLimit: DefaultChildLimit}
}

func (s Settings) validate() error {
	if s.NodeLimit < 1 {
		return fmt.Errorf("%w: node limit %d", ErrInvalidLimit, s.NodeLimit)
	}
	if s.ChildLimit < 1 {
		return fmt.Errorf("%w: child limit %d", ErrInvalidLimit, s.ChildLimit)
	}
	return nil
}

// Batch is one loader response.
type Batch struct {
	Nodes []graph.NodePayload `json:"nodes" yaml:"nodes"`
	Edges []graph.EdgePayload `json:"edges" yaml:"edges"`
}

// Loader fetches a node and its outbound neighbourhood. It is called
// without the engine lock held.
type Loader interface {
	LoadNode(ctx context.Context, id string) (*Batch, error)
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	width   float64
	height  float64
	seed    uint64
	rps     float64
	metrics *telemetry.EngineMetrics
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithViewport sets the layout area for new node positions.
func WithViewport(width, height float64) Option {
	return func(o *options) { o.width, o.height = width, height }
}

// WithSeed makes node positions reproducible.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = seed }
}

// WithRateLimit caps partition requests per second. Zero is unlimited.
func WithRateLimit(rps float64) Option {
	return func(o *options) { o.rps = rps }
}

// WithMetrics sets the metric instruments. Defaults to instruments on the
// global meter provider.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// Engine is the graph view engine.
type Engine struct {
	mu sync.Mutex

	store    *graph.Store
	oracle   cluster.Oracle
	loader   Loader
	settings Settings
	logger   *slog.Logger
	metrics  *telemetry.EngineMetrics
	limiter  *rate.Limiter

	// root is the node of the last LoadInitialNode. Cascades never remove it.
	root *graph.Node

	// generation tags partition requests. CleanUp bumps it so replies
	// issued before the reset are dropped.
	generation uint64
	inFlight   bool
	settled    chan struct{}

	// pending callbacks fire when the in-flight request finishes; ready
	// callbacks fire when the lock is next released.
	pending []func()
	ready   []func()
}

// New creates an engine.
//
// Inputs:
//
//	settings - Node and child limits, priority list.
//	oracle - The clustering oracle. Must not be nil.
//	loader - The neighbour loader. Must not be nil.
//
// Outputs:
//
//	*Engine - Ready to use. Call Run to start applying oracle replies.
//	error - ErrMissingArgument or ErrInvalidLimit.
func New(settings Settings, oracle cluster.Oracle, loader Loader, opts ...Option) (*Engine, error) {
	if oracle == nil {
		return nil, fmt.Errorf("%w: oracle", ErrMissingArgument)
	}
	if loader == nil {
		return nil, fmt.Errorf("%w: loader", ErrMissingArgument)
	}
	if err := settings.validate(); err != nil {
		return nil, err
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		m, err := telemetry.NewEngineMetrics(otel.Meter("graphview.engine"))
		if err != nil {
			o.logger.Warn("engine metrics unavailable, using no-op meter", slog.String("error", err.Error()))
			m, _ = telemetry.NewEngineMetrics(noop.NewMeterProvider().Meter("graphview.engine"))
		}
		o.metrics = m
	}

	settings.PriorityList = append([]string(nil), settings.PriorityList...)
	e := &Engine{
		oracle:     oracle,
		loader:     loader,
		settings:   settings,
		logger:     o.logger.With(slog.String("component", "engine")),
		metrics:    o.metrics,
		generation: 1,
		settled:    closedChan(),
	}
	if o.rps > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(o.rps), 1)
	}
	e.store = graph.NewStore(
		graph.WithViewport(o.width, o.height),
		graph.WithSeed(o.seed),
		graph.WithLogger(e.logger),
		graph.WithObserver(mirrorSync{e}),
	)
	return e, nil
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// unlock releases the engine lock and runs the callbacks queued while it
// was held.
func (e *Engine) unlock() {
	ready := e.ready
	e.ready = nil
	e.mu.Unlock()
	for _, fn := range ready {
		fn()
	}
}

// Settings returns a copy of the current settings.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.unlock()
	s := e.settings
	s.PriorityList = append([]string(nil), s.PriorityList...)
	return s
}

// =============================================================================
// Graph store surface
// =============================================================================

// InsertNode inserts a node, or returns the existing one for p.ID.
func (e *Engine) InsertNode(p graph.NodePayload) (*graph.Node, error) {
	e.mu.Lock()
	defer e.unlock()
	return e.store.InsertNode(p)
}

// InsertInitialNode inserts a node pinned at the view centre.
func (e *Engine) InsertInitialNode(p graph.NodePayload) (*graph.Node, error) {
	e.mu.Lock()
	defer e.unlock()
	n, err := e.store.InsertInitialNode(p)
	if err != nil {
		return nil, err
	}
	e.root = n
	return n, nil
}

// InsertEdge inserts an edge between two known nodes.
func (e *Engine) InsertEdge(p graph.EdgePayload) (*graph.Edge, error) {
	e.mu.Lock()
	defer e.unlock()
	return e.store.InsertEdge(p)
}

// RemoveNode removes a node or community with every edge touching it.
func (e *Engine) RemoveNode(ent graph.Entity) error {
	e.mu.Lock()
	defer e.unlock()
	if n, ok := ent.(*graph.Node); ok && n == e.root {
		e.root = nil
	}
	return e.store.RemoveNode(ent)
}

// RemoveEdge removes one edge. A silent removal is not mirrored to the
// oracle.
func (e *Engine) RemoveEdge(edge *graph.Edge, silent bool) error {
	e.mu.Lock()
	defer e.unlock()
	return e.store.RemoveEdge(edge, silent)
}

// RemoveEdgesForNode removes every edge touching n.
func (e *Engine) RemoveEdgesForNode(n *graph.Node) ([]*graph.Edge, error) {
	e.mu.Lock()
	defer e.unlock()
	return e.store.RemoveEdgesForNode(n)
}

// Resolve looks up an id through community membership.
func (e *Engine) Resolve(id string) (graph.Resolution, bool) {
	e.mu.Lock()
	defer e.unlock()
	return e.store.Resolve(id)
}

// VisibleCount is the number of entities the view draws.
func (e *Engine) VisibleCount() int {
	e.mu.Lock()
	defer e.unlock()
	return e.store.VisibleCount()
}

// CheckInvariants verifies the store bookkeeping.
func (e *Engine) CheckInvariants() error {
	e.mu.Lock()
	defer e.unlock()
	return e.store.CheckInvariants()
}

// topLevel reports whether ent is live and not absorbed.
func (e *Engine) topLevel(ent graph.Entity) bool {
	if !e.store.Live(ent) {
		return false
	}
	if n, ok := ent.(*graph.Node); ok {
		return n.Community() == nil
	}
	return true
}

func (e *Engine) recordVisible(ctx context.Context) {
	e.metrics.VisibleNodes.Record(ctx, int64(e.store.VisibleCount()))
}
