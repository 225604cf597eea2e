// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package loader

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/GraphView/services/view/engine"
	"github.com/AleutianAI/GraphView/services/view/graph"
)

const chainYAML = `
nodes:
  - id: a
    data: {type: person}
  - id: b
  - id: c
  - id: d
edges:
  - {id: ab, source: a, target: b}
  - {id: ac, source: a, target: c}
  - {id: bc, source: b, target: c}
  - {id: cd, source: c, target: d}
  - {id: da, source: d, target: a}
`

func newChain(t *testing.T) *FixtureLoader {
	t.Helper()
	f, err := ParseFixture([]byte(chainYAML))
	require.NoError(t, err)
	l, err := NewFixtureLoader(f)
	require.NoError(t, err)
	return l
}

func batchIDs(b *engine.Batch) (nodes, edges []string) {
	for _, n := range b.Nodes {
		nodes = append(nodes, n.ID)
	}
	for _, e := range b.Edges {
		edges = append(edges, e.ID)
	}
	sort.Strings(edges)
	return nodes, edges
}

func TestLoadNode_OutboundNeighbourhood(t *testing.T) {
	l := newChain(t)

	b, err := l.LoadNode(context.Background(), "a")
	require.NoError(t, err)

	nodes, edges := batchIDs(b)
	assert.Equal(t, []string{"a", "b", "c"}, nodes)
	assert.Equal(t, []string{"ab", "ac", "bc"}, edges)
	assert.Equal(t, "person", b.Nodes[0].Data["type"])
}

func TestLoadNode_LinksToServedNodes(t *testing.T) {
	ctx := context.Background()
	l := newChain(t)

	_, err := l.LoadNode(ctx, "a")
	require.NoError(t, err)
	b, err := l.LoadNode(ctx, "c")
	require.NoError(t, err)

	nodes, edges := batchIDs(b)
	assert.Equal(t, []string{"c", "d"}, nodes)
	// da closes the loop back to a, which was served by the first load.
	assert.Equal(t, []string{"ac", "bc", "cd", "da"}, edges)

	l.Reset()
	b, err = l.LoadNode(ctx, "c")
	require.NoError(t, err)
	_, edges = batchIDs(b)
	assert.Equal(t, []string{"cd"}, edges)
}

func TestLoadNode_Unknown(t *testing.T) {
	l := newChain(t)
	_, err := l.LoadNode(context.Background(), "zz")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestLoadNode_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newChain(t).LoadNode(ctx, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFixtureLoader_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		fixture *Fixture
	}{
		{name: "nil", fixture: nil},
		{name: "empty id", fixture: &Fixture{Nodes: []graph.NodePayload{{ID: ""}}}},
		{name: "duplicate node", fixture: &Fixture{Nodes: []graph.NodePayload{{ID: "a"}, {ID: "a"}}}},
		{name: "unknown source", fixture: &Fixture{
			Nodes: []graph.NodePayload{{ID: "a"}},
			Edges: []graph.EdgePayload{{ID: "e", Source: "x", Target: "a"}},
		}},
		{name: "unknown target", fixture: &Fixture{
			Nodes: []graph.NodePayload{{ID: "a"}},
			Edges: []graph.EdgePayload{{ID: "e", Source: "a", Target: "x"}},
		}},
		{name: "duplicate edge", fixture: &Fixture{
			Nodes: []graph.NodePayload{{ID: "a"}, {ID: "b"}},
			Edges: []graph.EdgePayload{{ID: "e", Source: "a", Target: "b"}, {ID: "e", Source: "b", Target: "a"}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFixtureLoader(tt.fixture)
			assert.ErrorIs(t, err, ErrInvalidFixture)
		})
	}
}

func TestNewFixtureLoader_NamesAnonymousEdges(t *testing.T) {
	l, err := NewFixtureLoader(&Fixture{
		Nodes: []graph.NodePayload{{ID: "a"}, {ID: "b"}},
		Edges: []graph.EdgePayload{{Source: "a", Target: "b"}, {Source: "a", Target: "b"}},
	})
	require.NoError(t, err)

	edges := l.Edges()
	require.Len(t, edges, 2)
	assert.NotEqual(t, edges[0].ID, edges[1].ID)
	assert.Equal(t, 2, l.NodeCount())
}

func TestReadFixture_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"nodes":[{"id":"a"},{"id":"b"}],"edges":[{"id":"ab","source":"a","target":"b"}]}`), 0644))

	f, err := ReadFixture(path)
	require.NoError(t, err)
	assert.Len(t, f.Nodes, 2)
	assert.Equal(t, "b", f.Edges[0].Target)

	_, err = ReadFixture(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestParseFixture_Garbage(t *testing.T) {
	_, err := ParseFixture([]byte("nodes: [unclosed"))
	assert.Error(t, err)
}
