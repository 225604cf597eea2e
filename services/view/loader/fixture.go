// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package loader serves graph neighbourhoods from a fixture file.
//
// A fixture is a YAML or JSON document:
//
//	nodes:
//	  - id: a
//	    data: {type: person}
//	edges:
//	  - {id: e1, source: a, target: b}
//
// Each LoadNode returns the node with its outbound neighbours, the same way
// a remote graph API answers a depth-1 traversal.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/GraphView/services/view/engine"
	"github.com/AleutianAI/GraphView/services/view/graph"
	"github.com/AleutianAI/GraphView/services/view/telemetry"
)

var (
	// ErrUnknownNode is returned by LoadNode for an id not in the fixture.
	ErrUnknownNode = errors.New("unknown node")

	// ErrInvalidFixture is returned for duplicate ids or edges to unknown
	// nodes.
	ErrInvalidFixture = errors.New("invalid fixture")
)

// Fixture is the on-disk graph.
type Fixture struct {
	Nodes []graph.NodePayload `json:"nodes" yaml:"nodes"`
	Edges []graph.EdgePayload `json:"edges" yaml:"edges"`
}

// ReadFixture reads a fixture file.
func ReadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes YAML, falling back to JSON.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		if jsonErr := json.Unmarshal(data, &f); jsonErr != nil {
			return nil, fmt.Errorf("parse fixture (tried YAML and JSON): YAML error: %v, JSON error: %w", err, jsonErr)
		}
	}
	return &f, nil
}

// FixtureLoader implements engine.Loader over a Fixture.
//
// Thread Safety: Safe for concurrent use.
type FixtureLoader struct {
	nodes map[string]graph.NodePayload
	out   map[string][]graph.EdgePayload
	edges []graph.EdgePayload

	mu     sync.Mutex
	served map[string]bool
}

var _ engine.Loader = (*FixtureLoader)(nil)

// NewFixtureLoader indexes f. Every edge must connect two fixture nodes.
func NewFixtureLoader(f *Fixture) (*FixtureLoader, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil fixture", ErrInvalidFixture)
	}
	l := &FixtureLoader{
		nodes:  make(map[string]graph.NodePayload, len(f.Nodes)),
		out:    make(map[string][]graph.EdgePayload),
		served: make(map[string]bool),
	}
	for _, n := range f.Nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: node without id", ErrInvalidFixture)
		}
		if _, dup := l.nodes[n.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate node %q", ErrInvalidFixture, n.ID)
		}
		l.nodes[n.ID] = n
	}
	seen := make(map[string]bool, len(f.Edges))
	for i, e := range f.Edges {
		if e.ID == "" {
			e.ID = fmt.Sprintf("%s->%s#%d", e.Source, e.Target, i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("%w: duplicate edge %q", ErrInvalidFixture, e.ID)
		}
		seen[e.ID] = true
		if _, ok := l.nodes[e.Source]; !ok {
			return nil, fmt.Errorf("%w: edge %q source %q", ErrInvalidFixture, e.ID, e.Source)
		}
		if _, ok := l.nodes[e.Target]; !ok {
			return nil, fmt.Errorf("%w: edge %q target %q", ErrInvalidFixture, e.ID, e.Target)
		}
		l.out[e.Source] = append(l.out[e.Source], e)
		l.edges = append(l.edges, e)
	}
	return l, nil
}

// LoadNode returns id, its outbound neighbours and the edges among them
// and every node served before.
func (l *FixtureLoader) LoadNode(ctx context.Context, id string) (*engine.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, span := telemetry.StartSpan(ctx, "graphview.loader", "FixtureLoader.LoadNode",
		trace.WithAttributes(attribute.String("node_id", id)),
	)
	defer span.End()

	self, ok := l.nodes[id]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownNode, id)
		telemetry.RecordError(span, err)
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	batch := &engine.Batch{Nodes: []graph.NodePayload{self}}
	included := map[string]bool{id: true}
	for _, e := range l.out[id] {
		if !included[e.Target] {
			included[e.Target] = true
			batch.Nodes = append(batch.Nodes, l.nodes[e.Target])
		}
	}
	for n := range included {
		l.served[n] = true
	}
	for _, e := range l.edges {
		if !l.served[e.Source] || !l.served[e.Target] {
			continue
		}
		if included[e.Source] || included[e.Target] {
			batch.Edges = append(batch.Edges, e)
		}
	}
	span.SetAttributes(
		attribute.Int("batch_nodes", len(batch.Nodes)),
		attribute.Int("batch_edges", len(batch.Edges)),
	)
	return batch, nil
}

// NodeCount returns the number of fixture nodes.
func (l *FixtureLoader) NodeCount() int { return len(l.nodes) }

// Edges returns the fixture edges in file order.
func (l *FixtureLoader) Edges() []graph.EdgePayload {
	return append([]graph.EdgePayload(nil), l.edges...)
}

// Reset forgets which nodes were served.
func (l *FixtureLoader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.served = make(map[string]bool)
}
