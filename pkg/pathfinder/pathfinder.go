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

// Package pathfinder implements DR-DSP (spec.md §4.4): a backward
// Dijkstra search for the minimum-weight hyperpath between two tools,
// where capability hyperedges act as shortcuts across their transitive
// tool closure.
package pathfinder

import (
	"container/heap"

	"github.com/dagforge/dagforge/pkg/graph"
	"github.com/dagforge/dagforge/pkg/hypergraph"
	"github.com/dagforge/dagforge/pkg/scorer"
)

// CapabilitySuccessRate supplies a capability's success_rate for the
// hyperedge shortcut cost (1 - success_rate(c)).
type CapabilitySuccessRate map[string]float64

// Result is the DR-DSP output (spec.md §4.4).
type Result struct {
	Found          bool
	NodeSequence   []string
	HyperedgesTaken []string
	TotalWeight    float64
}

// step is one outgoing edge of the supernode-expanded graph: to `to` at
// `cost`, optionally tagged with the capability id being traversed
// through (`via` non-empty means this step is a capability-shortcut hop).
type step struct {
	to   string
	cost float64
	via  string
}

// Find runs DR-DSP from sourceTool to targetTool over g (ordinary edges)
// expanded with h's capability hyperedges (shortcut cost driven by
// successRates and damped by scorer.StructuralAlpha, this module's Open
// Question #1 resolution).
func Find(g *graph.Store, h *hypergraph.Hypergraph, successRates CapabilitySuccessRate, sourceTool, targetTool string) Result {
	adj := buildAdjacency(g, h, successRates)

	if sourceTool == targetTool {
		return Result{Found: true, NodeSequence: []string{sourceTool}, TotalWeight: 0}
	}

	reverse := reverseAdjacency(adj)

	dist, nextHop := backwardDijkstra(reverse, targetTool)

	if _, ok := dist[sourceTool]; !ok {
		return Result{Found: false}
	}

	sequence := []string{sourceTool}
	var hyperedges []string
	visited := map[string]bool{sourceTool: true}
	totalWeight := 0.0

	current := sourceTool
	for current != targetTool {
		hop, ok := nextHop[current]
		if !ok {
			return Result{Found: false}
		}
		if visited[hop.to] {
			// Cycle guard: the supernode expansion should never produce a
			// repeated node on a shortest-path walk; treat this as
			// unreachable rather than looping forever.
			return Result{Found: false}
		}
		sequence = append(sequence, hop.to)
		if hop.via != "" {
			hyperedges = append(hyperedges, hop.via)
		}
		totalWeight += hop.cost
		visited[hop.to] = true
		current = hop.to
	}

	return Result{
		Found:          true,
		NodeSequence:   sequence,
		HyperedgesTaken: hyperedges,
		TotalWeight:    totalWeight,
	}
}

// buildAdjacency expands g and h into a single forward adjacency list
// over the supernode graph: ordinary tool->tool edges at cost
// 1-edge.weight, plus, per capability, a zero-cost tool->capability
// entry hop and a (1-success_rate) capability->tool exit hop to every
// other tool in the capability's transitive closure.
func buildAdjacency(g *graph.Store, h *hypergraph.Hypergraph, successRates CapabilitySuccessRate) map[string][]step {
	adj := make(map[string][]step)
	alpha := scorer.StructuralAlpha(h.IncidenceStats().Density)

	g.ForEachEdge(func(key graph.EdgeKey, attrs graph.EdgeAttrs) {
		if attrs.Type == graph.EdgeContains {
			return
		}
		cost := 1 - attrs.Weight
		if cost < 0 {
			cost = 0
		}
		adj[key.Src] = append(adj[key.Src], step{to: key.Dst, cost: cost})
	})

	for _, cap := range h.Capabilities() {
		tools := h.CapabilityTools(cap.ID)
		if len(tools) < 2 {
			continue
		}
		rate := successRates[cap.ID]
		// The base shortcut cost is spec.md §4.4's 1-success_rate(c);
		// it is then damped by the shared StructuralAlpha (this module's
		// Open Question #1 resolution), so a densely-incident hypergraph
		// makes its capability shortcuts cheaper to traverse, consistent
		// with the Scorer treating dense incidence as a stronger
		// structural signal.
		shortcutCost := (1 - rate) * alpha
		if shortcutCost < 0 {
			shortcutCost = 0
		}
		for _, entry := range tools {
			adj[entry] = append(adj[entry], step{to: cap.ID, cost: 0, via: cap.ID})
			for _, exit := range tools {
				if exit == entry {
					continue
				}
				adj[cap.ID] = append(adj[cap.ID], step{to: exit, cost: shortcutCost, via: cap.ID})
			}
		}
	}

	return adj
}

func reverseAdjacency(adj map[string][]step) map[string][]step {
	rev := make(map[string][]step)
	for src, steps := range adj {
		for _, s := range steps {
			rev[s.to] = append(rev[s.to], step{to: src, cost: s.cost, via: s.via})
		}
	}
	return rev
}

type pqItem struct {
	node string
	dist float64
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x any)         { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// backwardDijkstra runs Dijkstra over the reversed graph starting at
// target, producing each node's shortest distance to target and the
// next hop (in the *original* direction) that achieves it.
func backwardDijkstra(reverse map[string][]step, target string) (map[string]float64, map[string]step) {
	dist := map[string]float64{target: 0}
	nextHop := make(map[string]step)
	visited := make(map[string]bool)

	pq := &priorityQueue{{node: target, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pqItem)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true

		for _, edge := range reverse[cur.node] {
			// edge.to is the predecessor (in the original graph, the node
			// that steps into cur.node); relaxing its distance-to-target.
			candidate := cur.dist + edge.cost
			if existing, ok := dist[edge.to]; !ok || candidate < existing {
				dist[edge.to] = candidate
				nextHop[edge.to] = step{to: cur.node, cost: edge.cost, via: edge.via}
				heap.Push(pq, pqItem{node: edge.to, dist: candidate})
			}
		}
	}

	return dist, nextHop
}
