// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import "github.com/AleutianAI/GraphView/services/view/graph"

// Snapshot is a value copy of the visible view, safe to keep after the
// engine moves on.
type Snapshot struct {
	Visible     int             `json:"visible" yaml:"visible"`
	NodeLimit   int             `json:"node_limit" yaml:"node_limit"`
	Generation  uint64          `json:"generation" yaml:"generation"`
	InFlight    bool            `json:"in_flight" yaml:"in_flight"`
	Nodes       []NodeView      `json:"nodes" yaml:"nodes"`
	Communities []CommunityView `json:"communities" yaml:"communities"`
	Edges       []EdgeView      `json:"edges" yaml:"edges"`
}

// NodeView describes a plain top-level node.
type NodeView struct {
	ID       string         `json:"id" yaml:"id"`
	Position graph.Position `json:"position" yaml:"position"`
	Inbound  int            `json:"inbound" yaml:"inbound"`
	Outbound int            `json:"outbound" yaml:"outbound"`
	Expanded bool           `json:"expanded" yaml:"expanded"`
	Fixed    bool           `json:"fixed,omitempty" yaml:"fixed,omitempty"`
}

// CommunityView describes a community node.
type CommunityView struct {
	ID       string         `json:"id" yaml:"id"`
	Size     int            `json:"size" yaml:"size"`
	Expanded bool           `json:"expanded" yaml:"expanded"`
	Reason   graph.Reason   `json:"reason" yaml:"reason"`
	Members  []string       `json:"members" yaml:"members"`
	Inbound  int            `json:"inbound" yaml:"inbound"`
	Outbound int            `json:"outbound" yaml:"outbound"`
	Position graph.Position `json:"position" yaml:"position"`
}

// EdgeView describes an edge between two drawn entities. Source and
// Target are the representative ids: a community id for folded endpoints.
// Internal edges are omitted.
type EdgeView struct {
	ID        string `json:"id" yaml:"id"`
	Source    string `json:"source" yaml:"source"`
	Target    string `json:"target" yaml:"target"`
	Placement string `json:"placement" yaml:"placement"`
}

// Snapshot captures the current view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.unlock()

	snap := Snapshot{
		Visible:    e.store.VisibleCount(),
		NodeLimit:  e.settings.NodeLimit,
		Generation: e.generation,
		InFlight:   e.inFlight,
	}
	for _, ent := range e.store.Entities() {
		switch v := ent.(type) {
		case *graph.Node:
			snap.Nodes = append(snap.Nodes, NodeView{
				ID:       v.ID(),
				Position: v.Position(),
				Inbound:  v.Inbound(),
				Outbound: v.Outbound(),
				Expanded: v.Expanded(),
				Fixed:    v.Fixed,
			})
		case *graph.Community:
			members := v.Members()
			ids := make([]string, len(members))
			for i, m := range members {
				ids[i] = m.ID()
			}
			snap.Communities = append(snap.Communities, CommunityView{
				ID:       v.ID(),
				Size:     v.Size(),
				Expanded: v.Expanded(),
				Reason:   v.Reason(),
				Members:  ids,
				Inbound:  v.Inbound(),
				Outbound: v.Outbound(),
				Position: v.Position(),
			})
		}
	}
	for _, edge := range e.store.Edges() {
		p := edge.Placement()
		if p.Kind == graph.Internal {
			continue
		}
		snap.Edges = append(snap.Edges, EdgeView{
			ID:        edge.ID(),
			Source:    edge.Source().ID(),
			Target:    edge.Target().ID(),
			Placement: p.Kind.String(),
		})
	}
	return snap
}
