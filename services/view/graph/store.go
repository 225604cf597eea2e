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
	"log/slog"
	"math/rand/v2"
	"time"
)

// Default viewport used for random initial positions.
const (
	DefaultWidth  = 980
	DefaultHeight = 640
)

// Observer is told when an edge between two plain nodes appears or
// disappears. Edges folded into a community are not reported.
type Observer interface {
	EdgeAttached(e *Edge)
	EdgeDetached(e *Edge)
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	width    float64
	height   float64
	seed     uint64
	observer Observer
	logger   *slog.Logger
}

// WithViewport sets the area used for random initial positions.
func WithViewport(width, height float64) StoreOption {
	return func(o *storeOptions) {
		if width > 0 {
			o.width = width
		}
		if height > 0 {
			o.height = height
		}
	}
}

// WithSeed makes initial positions reproducible. Zero seeds from the clock.
func WithSeed(seed uint64) StoreOption {
	return func(o *storeOptions) { o.seed = seed }
}

// WithObserver registers the top-level edge observer.
func WithObserver(obs Observer) StoreOption {
	return func(o *storeOptions) { o.observer = obs }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) StoreOption {
	return func(o *storeOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// ref is a resolution table entry. member is set while the id is absorbed.
type ref struct {
	owner  Handle
	member Handle
	joined bool
}

// Resolution is the result of looking up an id.
type Resolution struct {
	// Entity is the top-level entity representing the id.
	Entity Entity
	// Member is the absorbed node when Entity is the owning community.
	Member *Node
}

// Node returns the node the id names, absorbed or not.
func (r Resolution) Node() *Node {
	if r.Member != nil {
		return r.Member
	}
	n, _ := r.Entity.(*Node)
	return n
}

// Store is the canonical in-memory view graph.
type Store struct {
	slots []Entity
	index map[string]ref

	edges   map[string]*Edge
	top     edgeSet
	nextSeq uint64

	width, height float64
	rng           *rand.Rand
	observer      Observer
	logger        *slog.Logger
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	o := storeOptions{
		width:  DefaultWidth,
		height: DefaultHeight,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	seed := o.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	s := &Store{
		width:    o.width,
		height:   o.height,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		observer: o.observer,
		logger:   o.logger,
	}
	s.reset()
	return s
}

func (s *Store) reset() {
	s.slots = make([]Entity, 1) // handle 0 is never issued
	s.index = make(map[string]ref)
	s.edges = make(map[string]*Edge)
	s.top = make(edgeSet)
}

// SetObserver replaces the edge observer.
func (s *Store) SetObserver(obs Observer) { s.observer = obs }

// Center returns the middle of the viewport.
func (s *Store) Center() Position {
	return Position{X: s.width / 2, Y: s.height / 2}
}

// =============================================================================
// Lookup
// =============================================================================

// Resolve looks up an id, redirecting through community membership.
func (s *Store) Resolve(id string) (Resolution, bool) {
	r, ok := s.index[id]
	if !ok {
		return Resolution{}, false
	}
	res := Resolution{Entity: s.slots[r.owner]}
	if r.joined {
		res.Member = s.slots[r.member].(*Node)
	}
	return res, true
}

// Node resolves id to a node, absorbed or not.
func (s *Store) Node(id string) (*Node, bool) {
	r, ok := s.Resolve(id)
	if !ok {
		return nil, false
	}
	n := r.Node()
	return n, n != nil
}

// Edge looks up an edge by id.
func (s *Store) Edge(id string) (*Edge, bool) {
	e, ok := s.edges[id]
	return e, ok
}

// Live reports whether e is still held by the store.
func (s *Store) Live(e Entity) bool {
	if e == nil {
		return false
	}
	h := e.handle()
	return int(h) < len(s.slots) && h != 0 && s.slots[h] == e
}

// Entities returns the top-level entities in handle order.
func (s *Store) Entities() []Entity {
	out := make([]Entity, 0, len(s.index))
	for _, e := range s.slots {
		switch v := e.(type) {
		case *Node:
			if v.community == nil {
				out = append(out, v)
			}
		case *Community:
			out = append(out, v)
		}
	}
	return out
}

// Communities returns the live communities in handle order.
func (s *Store) Communities() []*Community {
	var out []*Community
	for _, e := range s.slots {
		if c, ok := e.(*Community); ok {
			out = append(out, c)
		}
	}
	return out
}

// Edges returns every edge in insertion order.
func (s *Store) Edges() []*Edge {
	set := make(edgeSet, len(s.edges))
	for _, e := range s.edges {
		set.add(e)
	}
	return set.list()
}

// TopLevelEdges returns edges between two plain nodes.
func (s *Store) TopLevelEdges() []*Edge { return s.top.list() }

// NodeCount returns the number of live nodes, absorbed members included.
func (s *Store) NodeCount() int {
	n := 0
	for _, e := range s.slots {
		if _, ok := e.(*Node); ok {
			n++
		}
	}
	return n
}

// EdgeCount returns the number of edges.
func (s *Store) EdgeCount() int { return len(s.edges) }

// VisibleCount is the number of entities the view draws. A collapsed
// community counts once; an expanded one counts as its members.
func (s *Store) VisibleCount() int {
	n := 0
	for _, e := range s.slots {
		switch v := e.(type) {
		case *Node:
			if v.community == nil {
				n++
			}
		case *Community:
			if v.expanded {
				n += len(v.members)
			} else {
				n++
			}
		}
	}
	return n
}

// =============================================================================
// Insertion
// =============================================================================

// InsertNode creates a node, or returns the existing node for p.ID. An id
// absorbed into a community resolves to the member.
func (s *Store) InsertNode(p NodePayload) (*Node, error) {
	if p.ID == "" {
		return nil, ErrEmptyID
	}
	if r, ok := s.Resolve(p.ID); ok {
		if n := r.Node(); n != nil {
			return n, nil
		}
		return nil, fmt.Errorf("%w: %s names a community", ErrDuplicateEntity, p.ID)
	}
	n := &Node{
		id:   p.ID,
		Data: p.Data,
		pos: Position{
			X: s.rng.Float64() * s.width,
			Y: s.rng.Float64() * s.height,
		},
	}
	s.place(n)
	s.index[n.id] = ref{owner: n.h}
	return n, nil
}

// InsertInitialNode inserts the root node pinned at the viewport center.
func (s *Store) InsertInitialNode(p NodePayload) (*Node, error) {
	n, err := s.InsertNode(p)
	if err != nil {
		return nil, err
	}
	n.pos = s.Center()
	n.Fixed = true
	return n, nil
}

// InsertEdge creates an edge between two resolvable nodes. Re-inserting an
// existing id returns the existing edge without touching counters.
func (s *Store) InsertEdge(p EdgePayload) (*Edge, error) {
	if p.ID == "" {
		return nil, ErrEmptyID
	}
	if e, ok := s.edges[p.ID]; ok {
		return e, nil
	}
	src, ok := s.Node(p.Source)
	if !ok {
		return nil, fmt.Errorf("%w: source %q of edge %q", ErrDanglingEndpoint, p.Source, p.ID)
	}
	dst, ok := s.Node(p.Target)
	if !ok {
		return nil, fmt.Errorf("%w: target %q of edge %q", ErrDanglingEndpoint, p.Target, p.ID)
	}

	s.nextSeq++
	e := &Edge{
		id:     p.ID,
		seq:    s.nextSeq,
		Data:   p.Data,
		source: src,
		target: dst,
	}
	s.edges[e.id] = e
	src.out.add(e)
	dst.in.add(e)
	src.outbound++
	dst.inbound++
	s.attach(e, placementFor(src, dst))
	if e.placement.Kind == TopLevel {
		s.notifyAttached(e)
	}
	return e, nil
}

// =============================================================================
// Removal
// =============================================================================

// RemoveEdge removes e and decrements its endpoint counters. A silent
// removal does not notify the observer.
func (s *Store) RemoveEdge(e *Edge, silent bool) error {
	if e == nil || s.edges[e.id] != e {
		return ErrNotFound
	}
	wasTop := e.placement.Kind == TopLevel
	s.detach(e)
	delete(s.edges, e.id)
	e.source.out.remove(e)
	e.target.in.remove(e)
	e.source.outbound--
	e.target.inbound--
	if wasTop && !silent {
		s.notifyDetached(e)
	}
	return nil
}

// RemoveEdgesForNode removes every edge touching n, decrementing the
// counters of its neighbours. It returns the removed edges.
func (s *Store) RemoveEdgesForNode(n *Node) ([]*Edge, error) {
	if !s.Live(n) {
		return nil, ErrNotLive
	}
	removed := incidentEdges([]*Node{n})
	for _, e := range removed {
		if err := s.RemoveEdge(e, false); err != nil {
			return nil, err
		}
	}
	return removed, nil
}

// RemoveNode removes an entity with all its edges. Removing the last member
// of a community releases the community as well.
func (s *Store) RemoveNode(e Entity) error {
	if !s.Live(e) {
		return ErrNotLive
	}
	switch v := e.(type) {
	case *Node:
		if _, err := s.RemoveEdgesForNode(v); err != nil {
			return err
		}
		c := v.community
		s.evict(v)
		if c != nil {
			c.members = removeMember(c.members, v)
			if len(c.members) == 0 {
				s.release(c)
			}
		}
	case *Community:
		s.discard(v)
	}
	return nil
}

// Clear empties the store. The observer is not notified.
func (s *Store) Clear() {
	s.reset()
}

// =============================================================================
// Internal bookkeeping
// =============================================================================

func (s *Store) place(e Entity) {
	h := Handle(len(s.slots))
	switch v := e.(type) {
	case *Node:
		v.h = h
	case *Community:
		v.h = h
	}
	s.slots = append(s.slots, e)
}

// evict drops a node from the arena and the resolution table.
func (s *Store) evict(n *Node) {
	s.slots[n.h] = nil
	delete(s.index, n.id)
}

// release drops an empty community shell.
func (s *Store) release(c *Community) {
	s.slots[c.h] = nil
	delete(s.index, c.id)
}

func (s *Store) container(p Placement) edgeSet {
	switch p.Kind {
	case Inbound:
		return p.Owner.inbound
	case Outbound:
		return p.Owner.outbound
	case Internal:
		return p.Owner.internal
	default:
		return s.top
	}
}

func (s *Store) attach(e *Edge, p Placement) {
	switch p.Kind {
	case Inbound:
		p.Owner.inbound.add(e)
	case Outbound:
		p.Owner.outbound.add(e)
	case Internal:
		p.Owner.internal.add(e)
	default:
		s.top.add(e)
	}
	e.placement = p
}

func (s *Store) detach(e *Edge) {
	s.container(e.placement).remove(e)
}

// transition records an edge moving in or out of the top level.
type transition struct {
	edge     *Edge
	attached bool
}

// relocate moves e to wherever its endpoints now place it.
func (s *Store) relocate(e *Edge) (transition, bool) {
	next := placementFor(e.source, e.target)
	prev := e.placement
	if next == prev {
		return transition{}, false
	}
	s.detach(e)
	s.attach(e, next)
	s.logger.Debug("edge relocated",
		slog.String("edge_id", e.id),
		slog.String("from", prev.Kind.String()),
		slog.String("to", next.Kind.String()),
	)
	switch {
	case prev.Kind == TopLevel:
		return transition{edge: e, attached: false}, true
	case next.Kind == TopLevel:
		return transition{edge: e, attached: true}, true
	}
	return transition{}, false
}

func (s *Store) notify(ts []transition) {
	for _, t := range ts {
		if t.attached {
			s.notifyAttached(t.edge)
		} else {
			s.notifyDetached(t.edge)
		}
	}
}

func (s *Store) notifyAttached(e *Edge) {
	if s.observer != nil {
		s.observer.EdgeAttached(e)
	}
}

func (s *Store) notifyDetached(e *Edge) {
	if s.observer != nil {
		s.observer.EdgeDetached(e)
	}
}

func removeMember(members []*Node, n *Node) []*Node {
	for i, m := range members {
		if m == n {
			return append(members[:i], members[i+1:]...)
		}
	}
	return members
}
