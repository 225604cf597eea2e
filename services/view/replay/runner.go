// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/GraphView/services/view/cluster"
	"github.com/AleutianAI/GraphView/services/view/config"
	"github.com/AleutianAI/GraphView/services/view/engine"
	"github.com/AleutianAI/GraphView/services/view/graph"
	"github.com/AleutianAI/GraphView/services/view/loader"
	"github.com/AleutianAI/GraphView/services/view/telemetry"
)

var tracer = otel.Tracer("graphview.replay")

// DefaultSettleTimeout bounds each settle step and the final settle.
const DefaultSettleTimeout = 10 * time.Second

// ReasonManual labels communities made by a collapse step without a
// reason.
const ReasonManual = "manual"

// Labeled is a snapshot taken by a snapshot step.
type Labeled struct {
	Label    string          `json:"label" yaml:"label"`
	Step     int             `json:"step" yaml:"step"`
	Snapshot engine.Snapshot `json:"snapshot" yaml:"snapshot"`
}

// Result is the outcome of one scenario run.
type Result struct {
	Scenario  string          `json:"scenario,omitempty" yaml:"scenario,omitempty"`
	Steps     int             `json:"steps" yaml:"steps"`
	Snapshots []Labeled       `json:"snapshots,omitempty" yaml:"snapshots,omitempty"`
	Final     engine.Snapshot `json:"final" yaml:"final"`
	Duration  time.Duration   `json:"duration" yaml:"duration"`
}

// Runner executes scenarios. Each Run builds a fresh engine and oracle.
//
// Thread Safety: Safe for concurrent use; runs share nothing but the
// logger and metrics.
type Runner struct {
	cfg           config.Config
	logger        *slog.Logger
	metrics       *telemetry.EngineMetrics
	settleTimeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for the runner, engine and oracle.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics shares one set of engine instruments across runs.
func WithMetrics(m *telemetry.EngineMetrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithSettleTimeout bounds how long a settle waits for the oracle.
func WithSettleTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.settleTimeout = d
		}
	}
}

// NewRunner creates a runner over the base configuration.
func NewRunner(cfg config.Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:           cfg,
		logger:        slog.Default(),
		settleTimeout: DefaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes sc to completion.
//
// Description:
//
//	Reads the fixture, starts an in-process oracle and the engine's reply
//	pump, then executes the steps in order. The store invariants are
//	checked after each step. When the steps are done the runner waits for
//	any outstanding partition and takes the final snapshot.
//
// Outputs:
//
//	*Result - Snapshots taken and the final view.
//	error - The first failing step, wrapped with its index.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	if sc == nil {
		return nil, fmt.Errorf("%w: nil scenario", ErrInvalidScenario)
	}
	ctx, span := tracer.Start(ctx, "Runner.Run",
		trace.WithAttributes(
			attribute.String("scenario", sc.Name),
			attribute.Int("steps", len(sc.Steps)),
		),
	)
	defer span.End()

	fx, err := loader.ReadFixture(sc.FixturePath())
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	ld, err := loader.NewFixtureLoader(fx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	cfg := sc.Config.Apply(r.cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	worker := cluster.NewWorker(cfg.WorkerConfig(), r.logger)
	opts := append(cfg.EngineOptions(), engine.WithLogger(r.logger))
	if r.metrics != nil {
		opts = append(opts, engine.WithMetrics(r.metrics))
	}
	eng, err := engine.New(cfg.Settings(), worker, ld, opts...)
	if err != nil {
		_ = worker.Close()
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return eng.Run(gctx) })

	start := time.Now()
	res, runErr := r.execute(gctx, eng, ld, sc)
	_ = worker.Close()
	waitErr := g.Wait()

	if runErr != nil {
		telemetry.RecordError(span, runErr)
		return nil, runErr
	}
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		telemetry.RecordError(span, waitErr)
		return nil, waitErr
	}
	res.Duration = time.Since(start)
	telemetry.SetSpanOK(span)

	r.logger.Info("Scenario finished",
		slog.String("scenario", sc.Name),
		slog.Int("steps", res.Steps),
		slog.Int("visible", res.Final.Visible),
		slog.Int("communities", len(res.Final.Communities)),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

func (r *Runner) execute(ctx context.Context, eng *engine.Engine, ld *loader.FixtureLoader, sc *Scenario) (*Result, error) {
	res := &Result{Scenario: sc.Name}
	for i, st := range sc.Steps {
		r.logger.Debug("replay step", slog.Int("step", i), slog.String("op", string(st.Op)), slog.String("id", st.ID))
		if err := r.step(ctx, eng, ld, st, i, res); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, st, err)
		}
		if err := eng.CheckInvariants(); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, st, err)
		}
		res.Steps++
	}
	if err := r.settle(ctx, eng); err != nil {
		return nil, fmt.Errorf("final settle: %w", err)
	}
	res.Final = eng.Snapshot()
	return res, nil
}

func (r *Runner) step(ctx context.Context, eng *engine.Engine, ld *loader.FixtureLoader, st Step, index int, res *Result) error {
	switch st.Op {
	case OpLoadInitial:
		ld.Reset()
		_, err := eng.LoadInitialNode(ctx, st.ID)
		return err
	case OpLoad:
		_, err := eng.LoadNode(ctx, st.ID)
		return err
	case OpExplore:
		found, err := resolve(eng, st.ID)
		if err != nil {
			return err
		}
		return eng.Explore(ctx, found.Entity)
	case OpExpand:
		c, err := community(eng, st.ID)
		if err != nil {
			return err
		}
		return eng.ExpandCommunity(ctx, c)
	case OpCollapseView:
		c, err := community(eng, st.ID)
		if err != nil {
			return err
		}
		return eng.CollapseCommunityView(ctx, c)
	case OpDissolve:
		c, err := community(eng, st.ID)
		if err != nil {
			return err
		}
		_, err = eng.DissolveCommunity(ctx, c)
		return err
	case OpCollapse:
		reason := st.Reason
		if reason == "" {
			reason = ReasonManual
		}
		_, err := eng.CollapseCommunity(ctx, st.IDs, graph.Reason{Type: reason})
		return err
	case OpSetNodeLimit:
		return eng.SetNodeLimit(ctx, st.Value, nil)
	case OpSetChildLimit:
		return eng.SetChildLimit(st.Value)
	case OpRemoveNode:
		found, err := resolve(eng, st.ID)
		if err != nil {
			return err
		}
		if found.Member != nil {
			return fmt.Errorf("%w: %s is inside %s", engine.ErrNotTopLevel, st.ID, found.Entity.ID())
		}
		return eng.RemoveNode(found.Entity)
	case OpSettle:
		return r.settle(ctx, eng)
	case OpCleanUp:
		eng.CleanUp(ctx)
		ld.Reset()
		return nil
	case OpSnapshot:
		res.Snapshots = append(res.Snapshots, Labeled{Label: st.ID, Step: index, Snapshot: eng.Snapshot()})
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStep, st.Op)
	}
}

func (r *Runner) settle(ctx context.Context, eng *engine.Engine) error {
	ctx, cancel := context.WithTimeout(ctx, r.settleTimeout)
	defer cancel()
	return eng.Settle(ctx)
}

func resolve(eng *engine.Engine, id string) (graph.Resolution, error) {
	found, ok := eng.Resolve(id)
	if !ok {
		return graph.Resolution{}, fmt.Errorf("%w: %q", ErrUnresolved, id)
	}
	return found, nil
}

// community resolves id to a community, directly or through a member.
func community(eng *engine.Engine, id string) (*graph.Community, error) {
	found, err := resolve(eng, id)
	if err != nil {
		return nil, err
	}
	c, ok := found.Entity.(*graph.Community)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not in a community", ErrUnresolved, id)
	}
	return c, nil
}
