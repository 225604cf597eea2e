// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/GraphView/services/view/replay"
	"github.com/AleutianAI/GraphView/services/view/telemetry"
)

type replayOptions struct {
	watch    bool
	json     bool
	debounce time.Duration
}

func newReplayCmd(a *app) *cobra.Command {
	var opts replayOptions
	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Run a scripted view session against a fixture graph",
		Long: `Runs the steps of a scenario file against a fresh engine and prints the
final view. With --watch the scenario is re-run whenever it or its fixture
changes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runReplay(commandContext(cmd), cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "re-run when the scenario or fixture changes")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the result as JSON")
	cmd.Flags().DurationVar(&opts.debounce, "debounce", replay.DefaultDebounce, "quiet period before a watched re-run")
	cmd.Flags().StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func (a *app) runReplay(ctx context.Context, out io.Writer, path string, opts replayOptions) error {
	logger := a.logger.Slog()
	metrics, err := telemetry.NewEngineMetrics(otel.Meter("graphview.engine"))
	if err != nil {
		return err
	}
	runner := replay.NewRunner(a.cfg, replay.WithLogger(logger), replay.WithMetrics(metrics))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if a.metricsAddr != "" {
		a.serveMetrics(gctx, g, logger)
	}

	runOnce := func(ctx context.Context) error {
		sc, err := replay.ReadScenario(path)
		if err != nil {
			return err
		}
		res, err := runner.Run(ctx, sc)
		if err != nil {
			return err
		}
		return renderResult(out, res, opts.json)
	}

	g.Go(func() error {
		defer cancel()
		if !opts.watch {
			return runOnce(gctx)
		}
		if err := runOnce(gctx); err != nil {
			logger.Error("replay failed", slog.String("error", err.Error()))
		}
		sc, err := replay.ReadScenario(path)
		watched := []string{path}
		if err == nil {
			watched = append(watched, sc.FixturePath())
		}
		logger.Info("watching for changes", slog.Any("paths", watched))
		return replay.Watch(gctx, watched, opts.debounce, logger, func(ctx context.Context) {
			if err := runOnce(ctx); err != nil {
				logger.Error("replay failed", slog.String("error", err.Error()))
			}
		})
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// serveMetrics runs the /metrics endpoint until ctx is done.
func (a *app) serveMetrics(ctx context.Context, g *errgroup.Group, logger *slog.Logger) {
	handler := telemetry.MetricsHandler()
	if handler == nil {
		handler = promhttp.Handler()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              a.metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		logger.Info("serving metrics", slog.String("addr", a.metricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
