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
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/GraphView/services/view/cluster"
	"github.com/AleutianAI/GraphView/services/view/engine"
	"github.com/AleutianAI/GraphView/services/view/loader"
)

type partitionOptions struct {
	limit   int
	focus   string
	json    bool
	timeout time.Duration
}

// PartitionResult is what partition prints.
type PartitionResult struct {
	Fixture string   `json:"fixture"`
	Nodes   int      `json:"nodes"`
	Edges   int      `json:"edges"`
	Limit   int      `json:"limit"`
	Focus   string   `json:"focus,omitempty"`
	Result  []string `json:"result"`
}

func newPartitionCmd(a *app) *cobra.Command {
	var opts partitionOptions
	cmd := &cobra.Command{
		Use:   "partition <fixture.yaml>",
		Short: "Ask the clustering oracle for a community on a whole fixture",
		Long: `Feeds every fixture edge to an in-process oracle, sends one
getCommunity request and prints the proposed community.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.limit == 0 {
				opts.limit = a.cfg.View.NodeLimit
			}
			res, err := a.runPartition(commandContext(cmd), args[0], opts)
			if err != nil {
				return err
			}
			return renderPartition(cmd.OutOrStdout(), res, opts.json)
		},
	}
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "node budget sent with the request (default view.node_limit)")
	cmd.Flags().StringVar(&opts.focus, "focus", "", "node id the community must not contain")
	cmd.Flags().BoolVar(&opts.json, "json", false, "print the result as JSON")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "how long to wait for the oracle")
	return cmd
}

func (a *app) runPartition(ctx context.Context, path string, opts partitionOptions) (*PartitionResult, error) {
	fx, err := loader.ReadFixture(path)
	if err != nil {
		return nil, err
	}
	ld, err := loader.NewFixtureLoader(fx)
	if err != nil {
		return nil, err
	}
	edges := ld.Edges()

	wcfg := a.cfg.WorkerConfig()
	if wcfg.MailboxSize <= len(edges) {
		wcfg.MailboxSize = len(edges) + 1
	}
	worker := cluster.NewWorker(wcfg, a.logger.Slog())

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })

	var reply cluster.Reply
	g.Go(func() error {
		defer worker.Close()
		for _, e := range edges {
			if err := worker.Send(cluster.Message{Cmd: cluster.CmdInsertEdge, Source: e.Source, Target: e.Target}); err != nil {
				return err
			}
		}
		if err := worker.Send(cluster.Message{
			Cmd:        cluster.CmdGetCommunity,
			Limit:      opts.limit,
			Focus:      opts.focus,
			Generation: 1,
		}); err != nil {
			return err
		}
		select {
		case r, ok := <-worker.Replies():
			if !ok {
				return cluster.ErrOracleClosed
			}
			reply = r
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", engine.ErrOracle, reply.Error)
	}

	return &PartitionResult{
		Fixture: path,
		Nodes:   ld.NodeCount(),
		Edges:   len(edges),
		Limit:   opts.limit,
		Focus:   opts.focus,
		Result:  reply.Result,
	}, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the graphview version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderVersion(cmd.OutOrStdout())
		},
	}
}
