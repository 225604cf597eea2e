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
	"fmt"
	"sort"
)

// CommunityPrefix namespaces generated community ids so they cannot collide
// with external node keys.
const CommunityPrefix = "*community_"

// Handle addresses an entity slot in the store arena.
type Handle uint32

// Position is a 2D layout coordinate.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// NodePayload is the raw node record supplied by a loader.
type NodePayload struct {
	ID   string         `json:"id" yaml:"id"`
	Data map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// EdgePayload is the raw edge record supplied by a loader.
type EdgePayload struct {
	ID     string         `json:"id" yaml:"id"`
	Source string         `json:"source" yaml:"source"`
	Target string         `json:"target" yaml:"target"`
	Data   map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// Reason labels why a community was formed.
type Reason struct {
	// Type is "community" for oracle partitions, "similar" for attribute
	// buckets and "overview" for merged remainder buckets.
	Type string `json:"type" yaml:"type"`

	// Key and Value name the grouping attribute, when there is one.
	Key   string `json:"key,omitempty" yaml:"key,omitempty"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Example is the id of one member, for display.
	Example string `json:"example,omitempty" yaml:"example,omitempty"`
}

// String renders the reason for logs.
func (r Reason) String() string {
	switch {
	case r.Key != "":
		return fmt.Sprintf("%s(%s=%s)", r.Type, r.Key, r.Value)
	case r.Type == "":
		return "unspecified"
	default:
		return r.Type
	}
}

// Entity is a top-level graph entity: a plain *Node or a *Community.
type Entity interface {
	ID() string
	Position() Position
	handle() Handle
	sealed()
}

// =============================================================================
// Node
// =============================================================================

// Node is a plain graph node.
type Node struct {
	id  string
	h   Handle
	pos Position

	// Data is the opaque loader payload.
	Data map[string]any

	// Fixed pins the position.
	Fixed bool

	expanded bool
	inbound  int
	outbound int

	// community is non-nil while the node is absorbed.
	community *Community

	in  edgeSet
	out edgeSet
}

func (n *Node) ID() string         { return n.id }
func (n *Node) Position() Position { return n.pos }
func (n *Node) handle() Handle {
	if n == nil {
		return 0
	}
	return n.h
}
func (n *Node) sealed()            {}

// Inbound returns the number of edges whose true target is n.
func (n *Node) Inbound() int { return n.inbound }

// Outbound returns the number of edges whose true source is n.
func (n *Node) Outbound() int { return n.outbound }

// Expanded reports whether the node's neighbourhood has been loaded.
func (n *Node) Expanded() bool { return n.expanded }

// SetExpanded sets the traversal state.
func (n *Node) SetExpanded(v bool) { n.expanded = v }

// Community returns the owning community, or nil for a top-level node.
func (n *Node) Community() *Community { return n.community }

// InEdges returns the edges whose true target is n, in insertion order.
func (n *Node) InEdges() []*Edge { return n.in.list() }

// OutEdges returns the edges whose true source is n, in insertion order.
func (n *Node) OutEdges() []*Edge { return n.out.list() }

// =============================================================================
// Community
// =============================================================================

// Community is a composite node owning a folded sub-graph.
type Community struct {
	id     string
	h      Handle
	pos    Position
	reason Reason

	// expanded is the visual state: members drawn inside the community.
	expanded bool

	members  []*Node
	internal edgeSet
	inbound  edgeSet
	outbound edgeSet
}

func (c *Community) ID() string         { return c.id }
func (c *Community) Position() Position { return c.pos }
func (c *Community) handle() Handle {
	if c == nil {
		return 0
	}
	return c.h
}
func (c *Community) sealed()            {}

// Reason returns the diagnostic label.
func (c *Community) Reason() Reason { return c.reason }

// Size returns the member count.
func (c *Community) Size() int { return len(c.members) }

// Expanded reports whether the community is visually expanded.
func (c *Community) Expanded() bool { return c.expanded }

// SetExpanded toggles the visual state. Membership is unaffected.
func (c *Community) SetExpanded(v bool) { c.expanded = v }

// Members returns the absorbed nodes in absorption order.
func (c *Community) Members() []*Node {
	out := make([]*Node, len(c.members))
	copy(out, c.members)
	return out
}

// InternalEdges returns edges with both endpoints inside c.
func (c *Community) InternalEdges() []*Edge { return c.internal.list() }

// InboundEdges returns frontier edges registered as inbound to c.
func (c *Community) InboundEdges() []*Edge { return c.inbound.list() }

// OutboundEdges returns frontier edges registered as outbound from c.
func (c *Community) OutboundEdges() []*Edge { return c.outbound.list() }

// Inbound counts edges entering c from outside, including edges whose
// source lives in another community.
func (c *Community) Inbound() int {
	n := 0
	for _, m := range c.members {
		for e := range m.in {
			if e.source.community != c {
				n++
			}
		}
	}
	return n
}

// Outbound counts edges leaving c.
func (c *Community) Outbound() int {
	n := 0
	for _, m := range c.members {
		for e := range m.out {
			if e.target.community != c {
				n++
			}
		}
	}
	return n
}

// Contains reports whether n is a member of c.
func (c *Community) Contains(n *Node) bool { return n != nil && n.community == c }

// =============================================================================
// Edge
// =============================================================================

// PlacementKind says which collection an edge is registered in.
type PlacementKind int

const (
	// TopLevel edges connect two plain nodes.
	TopLevel PlacementKind = iota
	// Inbound edges enter a community from a plain node.
	Inbound
	// Outbound edges leave a community. An edge between two different
	// communities is registered as outbound of its source community.
	Outbound
	// Internal edges connect two members of the same community.
	Internal
)

// String returns the placement name.
func (k PlacementKind) String() string {
	switch k {
	case TopLevel:
		return "top_level"
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Placement is the single registration of an edge.
type Placement struct {
	Kind  PlacementKind
	Owner *Community
}

// placementFor derives where an edge between s and t belongs.
func placementFor(s, t *Node) Placement {
	cs, ct := s.community, t.community
	switch {
	case cs == nil && ct == nil:
		return Placement{Kind: TopLevel}
	case cs != nil && cs == ct:
		return Placement{Kind: Internal, Owner: cs}
	case cs != nil:
		return Placement{Kind: Outbound, Owner: cs}
	default:
		return Placement{Kind: Inbound, Owner: ct}
	}
}

// Edge connects two nodes. The true endpoints never change; Source and
// Target report what currently represents them.
type Edge struct {
	id  string
	seq uint64

	// Data is the opaque loader payload.
	Data map[string]any

	source *Node
	target *Node

	placement Placement
}

// ID returns the external edge key.
func (e *Edge) ID() string { return e.id }

// TrueSource returns the original source node.
func (e *Edge) TrueSource() *Node { return e.source }

// TrueTarget returns the original target node.
func (e *Edge) TrueTarget() *Node { return e.target }

// Source returns the entity currently standing in for the source.
func (e *Edge) Source() Entity { return representative(e.source) }

// Target returns the entity currently standing in for the target.
func (e *Edge) Target() Entity { return representative(e.target) }

// Placement returns the current registration.
func (e *Edge) Placement() Placement { return e.placement }

func representative(n *Node) Entity {
	if n.community != nil {
		return n.community
	}
	return n
}

// edgeSet is an insertion-ordered set of edges keyed by pointer.
type edgeSet map[*Edge]struct{}

func (s *edgeSet) add(e *Edge) {
	if *s == nil {
		*s = make(edgeSet)
	}
	(*s)[e] = struct{}{}
}

func (s edgeSet) remove(e *Edge) { delete(s, e) }

func (s edgeSet) has(e *Edge) bool {
	_, ok := s[e]
	return ok
}

func (s edgeSet) list() []*Edge {
	out := make([]*Edge, 0, len(s))
	for e := range s {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
