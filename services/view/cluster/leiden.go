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
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("graphview.cluster")

// Leiden configuration constants.
const (
	// DefaultMaxIterations is the maximum outer loop iterations.
	DefaultMaxIterations = 100

	// DefaultConvergenceThreshold stops early if modularity gain < this.
	DefaultConvergenceThreshold = 1e-6

	// DefaultResolution affects community granularity.
	// Higher values = smaller communities, lower = larger communities.
	DefaultResolution = 1.0
)

// LeidenOptions configures the partitioner.
type LeidenOptions struct {
	// MaxIterations limits total outer loop passes. Default: 100
	MaxIterations int

	// ConvergenceThreshold stops early if modularity gain < this. Default: 1e-6
	ConvergenceThreshold float64

	// Resolution affects community granularity. Default: 1.0
	Resolution float64
}

// Validate applies defaults for invalid values.
func (o *LeidenOptions) Validate() {
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.ConvergenceThreshold <= 0 {
		o.ConvergenceThreshold = DefaultConvergenceThreshold
	}
	if o.Resolution <= 0 {
		o.Resolution = DefaultResolution
	}
}

// DefaultLeidenOptions returns sensible defaults.
func DefaultLeidenOptions() *LeidenOptions {
	return &LeidenOptions{
		MaxIterations:        DefaultMaxIterations,
		ConvergenceThreshold: DefaultConvergenceThreshold,
		Resolution:           DefaultResolution,
	}
}

// Partition is the result of a detection run.
type Partition struct {
	// Communities holds sorted member ids, largest community first.
	Communities [][]string

	Modularity float64
	Iterations int
	Converged  bool
}

// Detect partitions the mirror with the Leiden method: greedy local moves
// followed by a refinement that splits every community into its connected
// components.
//
// Node order is sorted so the result is deterministic.
//
// Complexity: O(V + E) per iteration.
func Detect(ctx context.Context, g *Mirror, opts *LeidenOptions) (*Partition, error) {
	nodeCount := g.NodeCount()
	edgeCount := g.EdgeCount()

	ctx, span := tracer.Start(ctx, "Leiden.Detect",
		trace.WithAttributes(
			attribute.Int("node_count", nodeCount),
			attribute.Int("edge_count", edgeCount),
		),
	)
	defer span.End()

	if nodeCount == 0 {
		span.AddEvent("empty_graph")
		return &Partition{Converged: true}, nil
	}

	if opts == nil {
		opts = DefaultLeidenOptions()
	} else {
		opts.Validate()
	}

	nodeIDs := g.Nodes()
	nodeToComm := make(map[string]int, nodeCount)
	degrees := make(map[string]float64, nodeCount)
	commDegreeSum := make(map[int]float64, nodeCount)
	for i, id := range nodeIDs {
		nodeToComm[id] = i
		degrees[id] = float64(g.Degree(id))
		commDegreeSum[i] = degrees[id]
	}
	m := float64(edgeCount)

	previousQ := -1.0
	iterations := 0
	converged := false

	for iterations < opts.MaxIterations {
		if ctx.Err() != nil {
			span.AddEvent("cancelled", trace.WithAttributes(
				attribute.Int("iterations_completed", iterations),
			))
			return nil, ctx.Err()
		}

		iterations++
		improved := false

		// Phase 1: local moves
		for _, id := range nodeIDs {
			currentComm := nodeToComm[id]
			bestComm := currentComm
			bestDeltaQ := 0.0
			ki := degrees[id]

			weightTo := make(map[int]float64)
			var candidates []int
			for _, nb := range g.Neighbors(id) {
				comm := nodeToComm[nb]
				if _, seen := weightTo[comm]; !seen {
					candidates = append(candidates, comm)
				}
				weightTo[comm] += float64(g.Weight(id, nb))
			}

			for _, comm := range candidates {
				if comm == currentComm {
					continue
				}
				deltaQ := deltaModularity(weightTo[comm], weightTo[currentComm],
					commDegreeSum[comm], commDegreeSum[currentComm]-ki, ki, m, opts.Resolution)
				if deltaQ > bestDeltaQ {
					bestDeltaQ = deltaQ
					bestComm = comm
				}
			}

			if bestComm != currentComm {
				commDegreeSum[currentComm] -= ki
				commDegreeSum[bestComm] += ki
				nodeToComm[id] = bestComm
				improved = true
			}
		}

		// Phase 2: refinement keeps every community connected
		if improved {
			nodeToComm = refine(g, nodeToComm, nodeIDs)
			commDegreeSum = make(map[int]float64)
			for _, id := range nodeIDs {
				commDegreeSum[nodeToComm[id]] += degrees[id]
			}
		}

		currentQ := modularity(g, nodeToComm, nodeIDs, commDegreeSum, m, opts.Resolution)
		if !improved || (currentQ-previousQ < opts.ConvergenceThreshold && previousQ >= 0) {
			previousQ = currentQ
			converged = true
			break
		}
		previousQ = currentQ
	}

	result := &Partition{
		Communities: group(nodeToComm, nodeIDs),
		Modularity:  previousQ,
		Iterations:  iterations,
		Converged:   converged,
	}

	slog.Debug("Leiden community detection completed",
		slog.Int("iterations", iterations),
		slog.Int("communities", len(result.Communities)),
		slog.Float64("modularity", result.Modularity),
		slog.Bool("converged", converged),
		slog.Int("node_count", nodeCount),
		slog.Int("edge_count", edgeCount),
	)
	span.SetAttributes(
		attribute.Int("iterations", iterations),
		attribute.Int("communities_found", len(result.Communities)),
		attribute.Float64("modularity", result.Modularity),
		attribute.Bool("converged", converged),
	)
	return result, nil
}

// deltaModularity is the gain of moving a node of degree ki from its
// community (sumCurrent excludes ki) to target.
func deltaModularity(toTarget, toCurrent, sumTarget, sumCurrent, ki, m, resolution float64) float64 {
	if m == 0 {
		return 0
	}
	dq := (toTarget - toCurrent) / m
	dq -= resolution * ki * (sumTarget - sumCurrent) / (2 * m * m)
	return dq
}

func modularity(g *Mirror, nodeToComm map[string]int, nodeIDs []string, commDegreeSum map[int]float64, m, resolution float64) float64 {
	if m == 0 {
		return 0
	}
	internal := make(map[int]float64)
	for _, id := range nodeIDs {
		c := nodeToComm[id]
		for _, nb := range g.Neighbors(id) {
			if nodeToComm[nb] == c {
				internal[c] += float64(g.Weight(id, nb))
			}
		}
	}
	q := 0.0
	for c, sum := range commDegreeSum {
		// each internal edge was seen from both ends
		q += internal[c]/(2*m) - resolution*(sum/(2*m))*(sum/(2*m))
	}
	return q
}

// refine splits every community into connected components and renumbers
// them in first-seen order.
func refine(g *Mirror, nodeToComm map[string]int, nodeIDs []string) map[string]int {
	refined := make(map[string]int, len(nodeIDs))
	next := 0
	for _, start := range nodeIDs {
		if _, done := refined[start]; done {
			continue
		}
		comm := nodeToComm[start]
		queue := []string{start}
		refined[start] = next
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, nb := range g.Neighbors(cur) {
				if _, done := refined[nb]; done || nodeToComm[nb] != comm {
					continue
				}
				refined[nb] = next
				queue = append(queue, nb)
			}
		}
		next++
	}
	return refined
}

// group returns communities largest first, ties broken by first member.
func group(nodeToComm map[string]int, nodeIDs []string) [][]string {
	byComm := make(map[int][]string)
	var order []int
	for _, id := range nodeIDs {
		c := nodeToComm[id]
		if _, ok := byComm[c]; !ok {
			order = append(order, c)
		}
		byComm[c] = append(byComm[c], id)
	}
	out := make([][]string, 0, len(order))
	for _, c := range order {
		out = append(out, byComm[c])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0] < out[j][0]
	})
	return out
}
