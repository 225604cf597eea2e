// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reducer groups a batch of freshly loaded nodes into a bounded
// number of buckets without consulting the clustering oracle.
//
// Grouping is deterministic for a given input order:
//
//  1. A node is keyed by the first attribute of the priority list present
//     in its data. Nodes sharing key and value form a "similar" group.
//  2. Nodes carrying none of the priority attributes are grouped by the
//     sorted set of their attribute names.
//  3. While there are more groups than requested, the two smallest groups
//     are merged into an "overview" group.
package reducer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/GraphView/services/view/graph"
)

const (
	// ReasonSimilar labels a bucket whose members share one attribute value.
	ReasonSimilar = "similar"

	// ReasonOverview labels a bucket built by merging smaller groups.
	ReasonOverview = "overview"
)

// Bucket is one group of nodes with the reason it was formed.
type Bucket struct {
	Reason graph.Reason
	Nodes  []*graph.Node
}

// IDs returns the member ids in bucket order.
func (b Bucket) IDs() []string {
	ids := make([]string, len(b.Nodes))
	for i, n := range b.Nodes {
		ids[i] = n.ID()
	}
	return ids
}

// group is a bucket under construction. first is the input position of its
// earliest node and breaks size ties.
type group struct {
	reason graph.Reason
	nodes  []*graph.Node
	first  int
}

// BucketNodes splits nodes into at most numBuckets buckets.
//
// Description:
//
//	Groups are formed by prioList as described in the package comment and
//	then merged smallest-first until no more than numBuckets remain.
//	Buckets are returned largest first; equal sizes keep input order.
//
// Inputs:
//
//	nodes - The batch to bucket. Nil entries are ignored.
//	numBuckets - Upper bound on the number of buckets. Values below 1 are
//	             treated as 1.
//	prioList - Attribute names in priority order. May be empty.
//
// Outputs:
//
//	[]Bucket - The buckets. Empty when nodes is empty.
func BucketNodes(nodes []*graph.Node, numBuckets int, prioList []string) []Bucket {
	if numBuckets < 1 {
		numBuckets = 1
	}

	groups := make([]*group, 0)
	byKey := make(map[string]*group)
	pos := 0
	for _, n := range nodes {
		if n == nil {
			continue
		}
		key, reason := classify(n, prioList)
		g, ok := byKey[key]
		if !ok {
			g = &group{reason: reason, first: pos}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.nodes = append(g.nodes, n)
		pos++
	}

	for len(groups) > numBuckets {
		sortGroups(groups)
		// The two smallest sit at the tail after sorting.
		a, b := groups[len(groups)-2], groups[len(groups)-1]
		groups = groups[:len(groups)-2]
		groups = append(groups, merge(a, b))
	}
	sortGroups(groups)

	out := make([]Bucket, len(groups))
	for i, g := range groups {
		if g.reason.Example == "" && len(g.nodes) > 0 {
			g.reason.Example = g.nodes[0].ID()
		}
		out[i] = Bucket{Reason: g.reason, Nodes: g.nodes}
	}
	return out
}

// classify returns the grouping key of n and the reason its group carries.
func classify(n *graph.Node, prioList []string) (string, graph.Reason) {
	for _, attr := range prioList {
		v, ok := n.Data[attr]
		if !ok {
			continue
		}
		value := fmt.Sprint(v)
		return "p\x00" + attr + "\x00" + value, graph.Reason{
			Type:  ReasonSimilar,
			Key:   attr,
			Value: value,
		}
	}
	sig := signature(n.Data)
	return "s\x00" + sig, graph.Reason{Type: ReasonSimilar, Key: "attributes", Value: sig}
}

// signature is the sorted, comma separated attribute names of data.
func signature(data map[string]any) string {
	names := make([]string, 0, len(data))
	for k := range data {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

func merge(a, b *group) *group {
	first := a
	if b.first < a.first {
		first = b
	}
	nodes := make([]*graph.Node, 0, len(a.nodes)+len(b.nodes))
	if first == a {
		nodes = append(append(nodes, a.nodes...), b.nodes...)
	} else {
		nodes = append(append(nodes, b.nodes...), a.nodes...)
	}
	return &group{
		reason: graph.Reason{Type: ReasonOverview, Example: nodes[0].ID()},
		nodes:  nodes,
		first:  first.first,
	}
}

// sortGroups orders groups by size descending, then by first appearance.
func sortGroups(groups []*group) {
	sort.SliceStable(groups, func(i, j int) bool {
		if len(groups[i].nodes) != len(groups[j].nodes) {
			return len(groups[i].nodes) > len(groups[j].nodes)
		}
		return groups[i].first < groups[j].first
	})
}
