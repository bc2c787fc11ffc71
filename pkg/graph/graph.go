// Copyright 2025 The DAGForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package graph implements GraphStore (spec.md §4.1): a typed directed
// graph of tools/capabilities with weighted, typed edges. It is the sole
// owner of every node and edge in the system (spec.md §3's ownership
// rule); the Hypergraph only holds non-owning references into it.
//
// The store is a single sync.RWMutex-guarded map, the same
// mutex-guarded-map idiom pkg/orchestrator's workflowTable and
// pkg/store/memkv use, rather than a bespoke locking scheme per
// node/edge kind.
package graph

import (
	"fmt"
	"sync"
)

// NodeType discriminates the two vertex kinds that share one graph.
type NodeType string

const (
	NodeTool       NodeType = "tool"
	NodeCapability NodeType = "capability"
)

// EdgeType is the edge classification from spec.md §3.
type EdgeType string

const (
	EdgeDependency EdgeType = "dependency"
	EdgeContains   EdgeType = "contains"
	EdgeProvides   EdgeType = "provides"
	EdgeSequence   EdgeType = "sequence"
	EdgeAlternative EdgeType = "alternative"
)

// EdgeSource is the provenance classification from spec.md §3.
type EdgeSource string

const (
	SourceObserved EdgeSource = "observed"
	SourceInferred EdgeSource = "inferred"
	SourceTemplate EdgeSource = "template"
)

// Direction selects which adjacency Neighbors walks.
type Direction string

const (
	DirIn   Direction = "in"
	DirOut  Direction = "out"
	DirBoth Direction = "both"
)

// baseWeight is the per-edge-type base weight factor (spec.md §3's
// invariant weight = base_weight[edge_type] * source_modifier[edge_source]).
var baseWeight = map[EdgeType]float64{
	EdgeDependency:  0.9,
	EdgeContains:    0.8,
	EdgeProvides:    0.7,
	EdgeSequence:    0.6,
	EdgeAlternative: 0.5,
}

// sourceModifier is the per-source weight multiplier.
var sourceModifier = map[EdgeSource]float64{
	SourceObserved: 1.0,
	SourceInferred: 0.7,
	SourceTemplate: 0.5,
}

// DefaultObservedThreshold is the default count at which an inferred edge is
// promoted to observed (spec.md §3, config option observed_edge_threshold).
const DefaultObservedThreshold = 3

// ComputeWeight applies spec.md §3's closed-form weight formula.
func ComputeWeight(et EdgeType, es EdgeSource) float64 {
	b, ok := baseWeight[et]
	if !ok {
		b = 0.5
	}
	m, ok := sourceModifier[es]
	if !ok {
		m = 1.0
	}
	return b * m
}

// NodeAttrs is the attribute bag attached to a vertex.
type NodeAttrs struct {
	Type NodeType

	// Embedding is the node's fixed-dimension vector (tool or capability).
	Embedding []float32

	// Pagerank and Community are optional precomputed graph features
	// (spec.md §3's Tool type) refreshed by Snapshot.
	Pagerank  float64
	Community int

	// Extra carries type-specific attributes (success_rate, usage_count,
	// members, parent/child links for capabilities; server metadata for
	// tools) so GraphStore stays agnostic of the richer domain types
	// layered on top in pkg/hypergraph and pkg/scorer.
	Extra map[string]any
}

// EdgeAttrs is the attribute bag attached to a directed edge.
type EdgeAttrs struct {
	Type           EdgeType
	Source         EdgeSource
	Count          int
	Weight         float64
	ObservedThreshold int
}

// EdgeKey identifies a directed edge.
type EdgeKey struct {
	Src, Dst string
}

// Event is emitted by GraphStore mutations (spec.md §4.1: graph.edge_created,
// graph.edge_updated). Consumers subscribe via pkg/eventbus.
type Event struct {
	Type string // "graph.edge_created" | "graph.edge_updated" | "graph.node_created"
	Src  string
	Dst  string
	Attrs EdgeAttrs
}

// Store is the GraphStore implementation.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*NodeAttrs
	// adjacency: out[src][dst] = true, in[dst][src] = true, for O(1)
	// neighbor lookups without scanning the edge map.
	out   map[string]map[string]bool
	in    map[string]map[string]bool
	edges map[EdgeKey]*EdgeAttrs

	onEvent func(Event)
}

// New creates an empty GraphStore. onEvent, if non-nil, receives every
// graph.* event synchronously (wire it to an pkg/eventbus.Bus.Emit).
func New(onEvent func(Event)) *Store {
	return &Store{
		nodes:   make(map[string]*NodeAttrs),
		out:     make(map[string]map[string]bool),
		in:      make(map[string]map[string]bool),
		edges:   make(map[EdgeKey]*EdgeAttrs),
		onEvent: onEvent,
	}
}

// AddNode registers id with attrs, overwriting any previous attrs.
func (s *Store) AddNode(id string, attrs NodeAttrs) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addNodeLocked(id, attrs)
}

func (s *Store) addNodeLocked(id string, attrs NodeAttrs) {
	if _, exists := s.nodes[id]; !exists {
		s.out[id] = make(map[string]bool)
		s.in[id] = make(map[string]bool)
	}
	cp := attrs
	s.nodes[id] = &cp
}

// HasNode reports whether id is registered.
func (s *Store) HasNode(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok
}

// HasEdge reports whether a directed edge src->dst exists.
func (s *Store) HasEdge(src, dst string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[EdgeKey{src, dst}]
	return ok
}

// GetNodeAttrs returns a copy of id's attributes.
func (s *Store) GetNodeAttrs(id string) (NodeAttrs, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return NodeAttrs{}, false
	}
	return *n, true
}

// GetEdgeAttrs returns a copy of the src->dst edge's attributes.
func (s *Store) GetEdgeAttrs(src, dst string) (EdgeAttrs, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.edges[EdgeKey{src, dst}]
	if !ok {
		return EdgeAttrs{}, false
	}
	return *e, true
}

// AddEdge creates or merges the src->dst edge (spec.md §4.1). Self-loops
// are rejected. Edge creation auto-creates missing endpoints as tools.
// Re-adding an existing pair increments Count, recomputes Weight, and
// may promote Source from inferred to observed once Count crosses
// attrs.ObservedThreshold (default DefaultObservedThreshold).
func (s *Store) AddEdge(src, dst string, attrs EdgeAttrs) error {
	if src == dst {
		return fmt.Errorf("graph: self-loop rejected for node %q", src)
	}
	if attrs.ObservedThreshold <= 0 {
		attrs.ObservedThreshold = DefaultObservedThreshold
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[src]; !ok {
		s.addNodeLocked(src, NodeAttrs{Type: NodeTool})
	}
	if _, ok := s.nodes[dst]; !ok {
		s.addNodeLocked(dst, NodeAttrs{Type: NodeTool})
	}

	key := EdgeKey{src, dst}
	existing, exists := s.edges[key]
	if !exists {
		if attrs.Count < 1 {
			attrs.Count = 1
		}
		attrs.Weight = ComputeWeight(attrs.Type, attrs.Source)
		cp := attrs
		s.edges[key] = &cp
		s.out[src][dst] = true
		s.in[dst][src] = true
		s.emit(Event{Type: "graph.edge_created", Src: src, Dst: dst, Attrs: cp})
		return nil
	}

	existing.Count++
	if existing.Source == SourceInferred && existing.Count >= existing.ObservedThreshold {
		existing.Source = SourceObserved
	}
	existing.Weight = ComputeWeight(existing.Type, existing.Source)
	s.emit(Event{Type: "graph.edge_updated", Src: src, Dst: dst, Attrs: *existing})
	return nil
}

func (s *Store) emit(ev Event) {
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

// Neighbors returns the ids adjacent to id in the given direction.
func (s *Store) Neighbors(id string, dir Direction) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var result []string
	add := func(m map[string]bool) {
		for n := range m {
			if !seen[n] {
				seen[n] = true
				result = append(result, n)
			}
		}
	}
	switch dir {
	case DirOut:
		add(s.out[id])
	case DirIn:
		add(s.in[id])
	default:
		add(s.out[id])
		add(s.in[id])
	}
	return result
}

// Degree returns the number of distinct neighbors of id in the given
// direction (len of Neighbors).
func (s *Store) Degree(id string, dir Direction) int {
	return len(s.Neighbors(id, dir))
}

// EdgesByType returns all edges of the given type.
func (s *Store) EdgesByType(t EdgeType) []EdgeKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []EdgeKey
	for k, a := range s.edges {
		if a.Type == t {
			result = append(result, k)
		}
	}
	return result
}

// ForEachNode calls fn for every node. fn must not mutate the store.
func (s *Store) ForEachNode(fn func(id string, attrs NodeAttrs)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, attrs := range s.nodes {
		fn(id, *attrs)
	}
}

// ForEachEdge calls fn for every edge. fn must not mutate the store.
func (s *Store) ForEachEdge(fn func(key EdgeKey, attrs EdgeAttrs)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, a := range s.edges {
		fn(k, *a)
	}
}

// Snapshot is a copy-on-read view of the graph (spec.md §5: readers
// obtain a lightweight snapshot rather than locking the live store for
// the duration of a scoring/pathfinding pass). pageranks/communities, if
// non-nil, refresh the corresponding NodeAttrs fields on the live store
// before the snapshot is taken.
type Snapshot struct {
	Nodes map[string]NodeAttrs
	Edges map[EdgeKey]EdgeAttrs
}

// Snapshot produces a consistent copy of the graph, optionally applying
// precomputed pagerank/community updates first.
func (s *Store) Snapshot(pageranks map[string]float64, communities map[string]int) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, pr := range pageranks {
		if n, ok := s.nodes[id]; ok {
			n.Pagerank = pr
		}
	}
	for id, c := range communities {
		if n, ok := s.nodes[id]; ok {
			n.Community = c
		}
	}

	snap := Snapshot{
		Nodes: make(map[string]NodeAttrs, len(s.nodes)),
		Edges: make(map[EdgeKey]EdgeAttrs, len(s.edges)),
	}
	for id, n := range s.nodes {
		snap.Nodes[id] = *n
	}
	for k, e := range s.edges {
		snap.Edges[k] = *e
	}
	return snap
}
