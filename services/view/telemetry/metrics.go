// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// EngineMetrics holds the instruments recorded by the view engine. All
// names use the "graphview_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type EngineMetrics struct {
	// NodesInserted counts nodes created by loads.
	NodesInserted metric.Int64Counter

	// EdgesInserted counts edges created by loads.
	EdgesInserted metric.Int64Counter

	// Collapses counts communities created, by origin (oracle, bucket, manual).
	Collapses metric.Int64Counter

	// Dissolves counts communities dissolved back into members.
	Dissolves metric.Int64Counter

	// CascadeRemovals counts nodes removed by explore-collapse cascades.
	CascadeRemovals metric.Int64Counter

	// OracleRequests counts getCommunity requests sent.
	OracleRequests metric.Int64Counter

	// OracleReplies counts replies by outcome (applied, error, stale, empty).
	OracleReplies metric.Int64Counter

	// VisibleNodes is the visible entity count after each operation.
	VisibleNodes metric.Int64Gauge

	// LoadDuration records LoadNode latency in seconds.
	LoadDuration metric.Float64Histogram
}

// NewEngineMetrics registers the engine instruments with meter.
//
// Example:
//
//	m, err := telemetry.NewEngineMetrics(otel.Meter("graphview.engine"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
func NewEngineMetrics(meter metric.Meter) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	var err error

	m.NodesInserted, err = meter.Int64Counter(
		"graphview_nodes_inserted_total",
		metric.WithDescription("Nodes created by loads"),
		metric.WithUnit("{node}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create nodes_inserted_total: %w", err)
	}

	m.EdgesInserted, err = meter.Int64Counter(
		"graphview_edges_inserted_total",
		metric.WithDescription("Edges created by loads"),
		metric.WithUnit("{edge}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create edges_inserted_total: %w", err)
	}

	m.Collapses, err = meter.Int64Counter(
		"graphview_communities_collapsed_total",
		metric.WithDescription("Communities created, by origin"),
		metric.WithUnit("{community}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create communities_collapsed_total: %w", err)
	}

	m.Dissolves, err = meter.Int64Counter(
		"graphview_communities_dissolved_total",
		metric.WithDescription("Communities dissolved back into members"),
		metric.WithUnit("{community}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create communities_dissolved_total: %w", err)
	}

	m.CascadeRemovals, err = meter.Int64Counter(
		"graphview_cascade_removals_total",
		metric.WithDescription("Nodes removed by collapse cascades"),
		metric.WithUnit("{node}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cascade_removals_total: %w", err)
	}

	m.OracleRequests, err = meter.Int64Counter(
		"graphview_oracle_requests_total",
		metric.WithDescription("Partition requests sent to the oracle"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oracle_requests_total: %w", err)
	}

	m.OracleReplies, err = meter.Int64Counter(
		"graphview_oracle_replies_total",
		metric.WithDescription("Oracle replies, by outcome"),
		metric.WithUnit("{reply}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create oracle_replies_total: %w", err)
	}

	m.VisibleNodes, err = meter.Int64Gauge(
		"graphview_visible_nodes",
		metric.WithDescription("Visible entities in the view"),
		metric.WithUnit("{node}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create visible_nodes: %w", err)
	}

	m.LoadDuration, err = meter.Float64Histogram(
		"graphview_load_duration_seconds",
		metric.WithDescription("LoadNode duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create load_duration: %w", err)
	}

	return m, nil
}
