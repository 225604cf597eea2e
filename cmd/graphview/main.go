// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command graphview drives the graph view engine from the command line.
//
//	graphview replay scenario.yaml [--watch] [--json] [--metrics-addr :9090]
//	graphview partition fixture.yaml --limit 20 [--focus id]
//	graphview version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/GraphView/pkg/logging"
	"github.com/AleutianAI/GraphView/services/view/config"
	"github.com/AleutianAI/GraphView/services/view/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app holds what the subcommands share once the root has run its setup.
type app struct {
	configPath  string
	logLevel    string
	logJSON     bool
	metricsAddr string

	cfg      config.Config
	logger   *logging.Logger
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "graphview",
		Short:         "Explore large graphs through a size-bounded, clustered view",
		SilenceUsage:  true,
		Version:       version,
		Long: `graphview keeps a client-side view of a graph within a node budget.
Neighbourhoods are loaded on demand, over-large batches are bucketed and
an in-process clustering oracle folds communities when the view grows too
large.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "configuration file (YAML or JSON)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&a.logJSON, "log-json", false, "write logs as JSON")

	root.AddCommand(newReplayCmd(a), newPartitionCmd(a), newVersionCmd())
	return root
}

// setup loads configuration and starts logging and telemetry.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	if a.metricsAddr != "" {
		cfg.Telemetry.MetricExporter = "prometheus"
		cfg.Telemetry.MetricsAddr = a.metricsAddr
	}
	cfg.Telemetry.ServiceVersion = version
	a.cfg = cfg

	stderr := cmd.ErrOrStderr()
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "graphview",
		JSON:    cfg.Logging.JSON || a.logJSON || !isTerminal(stderr),
		Writer:  stderr,
	})

	shutdown, err := telemetry.Init(commandContext(cmd), cfg.Telemetry)
	if err != nil {
		_ = a.logger.Close()
		return err
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) teardown() error {
	var errs []error
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// isTerminal reports whether w is an interactive terminal. Anything that
// is not a file, such as a test buffer, counts as a terminal so logs stay
// readable text.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return true
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
