// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reducer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/GraphView/services/view/graph"
)

type nodeDef struct {
	id   string
	data map[string]any
}

func makeNodes(t *testing.T, defs ...nodeDef) []*graph.Node {
	t.Helper()
	s := graph.NewStore(graph.WithSeed(1))
	out := make([]*graph.Node, 0, len(defs))
	for _, d := range defs {
		n, err := s.InsertNode(graph.NodePayload{ID: d.id, Data: d.data})
		require.NoError(t, err)
		out = append(out, n)
	}
	return out
}

func mixedBatch(t *testing.T) []*graph.Node {
	return makeNodes(t,
		nodeDef{"n1", map[string]any{"type": "a"}},
		nodeDef{"n2", map[string]any{"type": "b"}},
		nodeDef{"n3", map[string]any{"type": "a"}},
		nodeDef{"n4", map[string]any{"type": "b"}},
		nodeDef{"n5", map[string]any{"type": "a"}},
		nodeDef{"n6", map[string]any{"name": "x"}},
	)
}

func TestBucketNodes_PriorityGroups(t *testing.T) {
	buckets := BucketNodes(mixedBatch(t), 3, []string{"type"})

	require.Len(t, buckets, 3)
	assert.Equal(t, []string{"n1", "n3", "n5"}, buckets[0].IDs())
	assert.Equal(t, graph.Reason{Type: ReasonSimilar, Key: "type", Value: "a", Example: "n1"}, buckets[0].Reason)
	assert.Equal(t, []string{"n2", "n4"}, buckets[1].IDs())
	assert.Equal(t, "b", buckets[1].Reason.Value)
	assert.Equal(t, []string{"n6"}, buckets[2].IDs())
	assert.Equal(t, "name", buckets[2].Reason.Value)
}

func TestBucketNodes_MergesSmallestIntoOverview(t *testing.T) {
	buckets := BucketNodes(mixedBatch(t), 2, []string{"type"})

	require.Len(t, buckets, 2)
	assert.Equal(t, []string{"n1", "n3", "n5"}, buckets[0].IDs())
	assert.Equal(t, ReasonSimilar, buckets[0].Reason.Type)

	assert.Equal(t, []string{"n2", "n4", "n6"}, buckets[1].IDs())
	assert.Equal(t, graph.Reason{Type: ReasonOverview, Example: "n2"}, buckets[1].Reason)
}

func TestBucketNodes_FallsBackToLaterPriority(t *testing.T) {
	nodes := makeNodes(t,
		nodeDef{"a", map[string]any{"color": "red"}},
		nodeDef{"b", map[string]any{"type": "x", "color": "red"}},
		nodeDef{"c", map[string]any{"color": "red"}},
	)

	buckets := BucketNodes(nodes, 5, []string{"type", "color"})

	require.Len(t, buckets, 2)
	assert.Equal(t, []string{"a", "c"}, buckets[0].IDs())
	assert.Equal(t, "color", buckets[0].Reason.Key)
	assert.Equal(t, []string{"b"}, buckets[1].IDs())
	assert.Equal(t, "type", buckets[1].Reason.Key)
}

func TestBucketNodes_SignatureWithoutPriorityList(t *testing.T) {
	nodes := makeNodes(t,
		nodeDef{"a", map[string]any{"x": 1, "y": 2}},
		nodeDef{"b", map[string]any{"z": 1}},
		nodeDef{"c", map[string]any{"y": 5, "x": 9}},
	)

	buckets := BucketNodes(nodes, 4, nil)

	require.Len(t, buckets, 2)
	assert.Equal(t, []string{"a", "c"}, buckets[0].IDs())
	assert.Equal(t, "x,y", buckets[0].Reason.Value)
	assert.Equal(t, []string{"b"}, buckets[1].IDs())
}

func TestBucketNodes_Bounds(t *testing.T) {
	tests := []struct {
		name       string
		numBuckets int
		want       int
	}{
		{name: "zero means one", numBuckets: 0, want: 1},
		{name: "negative means one", numBuckets: -3, want: 1},
		{name: "exact", numBuckets: 3, want: 3},
		{name: "more than groups", numBuckets: 10, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buckets := BucketNodes(mixedBatch(t), tt.numBuckets, []string{"type"})
			assert.Len(t, buckets, tt.want)

			total := 0
			for _, b := range buckets {
				total += len(b.Nodes)
			}
			assert.Equal(t, 6, total)
		})
	}
}

func TestBucketNodes_Empty(t *testing.T) {
	assert.Empty(t, BucketNodes(nil, 3, []string{"type"}))
	assert.Empty(t, BucketNodes([]*graph.Node{nil}, 3, nil))
}

func TestBucketNodes_Deterministic(t *testing.T) {
	first := BucketNodes(mixedBatch(t), 2, []string{"type"})
	for i := 0; i < 10; i++ {
		again := BucketNodes(mixedBatch(t), 2, []string{"type"})
		require.Len(t, again, len(first))
		for j := range first {
			assert.Equal(t, first[j].IDs(), again[j].IDs())
			assert.Equal(t, first[j].Reason, again[j].Reason)
		}
	}
}
