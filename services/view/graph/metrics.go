// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Package-level tracer and meter for store operations.
var (
	tracer = otel.Tracer("graphview.graph")
	meter  = otel.Meter("graphview.graph")
)

var (
	collapseTotal  metric.Int64Counter
	collapseSize   metric.Int64Histogram
	dissolveTotal  metric.Int64Counter
	metricsOnce    sync.Once
	metricsInitErr error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		collapseTotal, err = meter.Int64Counter(
			"graphview_graph_collapse_total",
			metric.WithDescription("Communities created by collapse"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}

		collapseSize, err = meter.Int64Histogram(
			"graphview_graph_collapse_members",
			metric.WithDescription("Members absorbed per collapse"),
			metric.WithExplicitBucketBoundaries(2, 5, 10, 25, 50, 100, 250),
		)
		if err != nil {
			metricsInitErr = err
			return
		}

		dissolveTotal, err = meter.Int64Counter(
			"graphview_graph_dissolve_total",
			metric.WithDescription("Communities dissolved back into members"),
		)
		if err != nil {
			metricsInitErr = err
			return
		}
	})
	return metricsInitErr
}

func recordCollapse(ctx context.Context, members int, reasonType string) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("reason", reasonType))
	collapseTotal.Add(ctx, 1, attrs)
	collapseSize.Record(ctx, int64(members), attrs)
}

func recordDissolve(ctx context.Context) {
	if initMetrics() != nil {
		return
	}
	dissolveTotal.Add(ctx, 1)
}
