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

import "sort"

// Mirror is the oracle's private copy of the plain edges of the view,
// stored undirected with multiplicities. Self loops are not tracked.
//
// Thread Safety: NOT safe for concurrent use. Owned by the worker goroutine.
type Mirror struct {
	adj   map[string]map[string]int
	edges int
}

// NewMirror creates an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{adj: make(map[string]map[string]int)}
}

// Insert records one edge between source and target.
func (m *Mirror) Insert(source, target string) {
	if source == target || source == "" || target == "" {
		return
	}
	m.link(source, target, 1)
	m.link(target, source, 1)
	m.edges++
}

// Delete forgets one edge between source and target. Deleting an edge the
// mirror never saw is a no-op.
func (m *Mirror) Delete(source, target string) {
	if m.adj[source][target] == 0 {
		return
	}
	m.link(source, target, -1)
	m.link(target, source, -1)
	m.edges--
}

func (m *Mirror) link(a, b string, delta int) {
	row := m.adj[a]
	if row == nil {
		row = make(map[string]int)
		m.adj[a] = row
	}
	row[b] += delta
	if row[b] <= 0 {
		delete(row, b)
	}
	if len(row) == 0 {
		delete(m.adj, a)
	}
}

// NodeCount returns the number of nodes with at least one edge.
func (m *Mirror) NodeCount() int { return len(m.adj) }

// EdgeCount returns the number of edges, counting multiplicity.
func (m *Mirror) EdgeCount() int { return m.edges }

// Nodes returns node ids in sorted order.
func (m *Mirror) Nodes() []string {
	ids := make([]string, 0, len(m.adj))
	for id := range m.adj {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Neighbors returns the sorted neighbours of id.
func (m *Mirror) Neighbors(id string) []string {
	row := m.adj[id]
	out := make([]string, 0, len(row))
	for n := range row {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Weight returns the multiplicity of the edge between a and b.
func (m *Mirror) Weight(a, b string) int { return m.adj[a][b] }

// Degree returns the weighted degree of id.
func (m *Mirror) Degree(id string) int {
	d := 0
	for _, w := range m.adj[id] {
		d += w
	}
	return d
}

// Reset forgets everything.
func (m *Mirror) Reset() {
	m.adj = make(map[string]map[string]int)
	m.edges = 0
}
