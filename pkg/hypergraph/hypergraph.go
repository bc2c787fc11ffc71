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

// Package hypergraph implements Hypergraph (spec.md §4.2): tools as
// vertices, capabilities as hyperedges, with a dense 0/1 incidence
// matrix built by transitive closure across hierarchical (nested)
// capabilities.
//
// The Hypergraph never owns a tool or capability's canonical record —
// those live in pkg/graph.Store (spec.md §3's ownership rule) — it only
// holds insertion-order indices and the derived incidence matrix.
package hypergraph

import (
	"fmt"

	"github.com/dagforge/dagforge/pkg/embedding"
)

// MemberKind tags a capability's member reference.
type MemberKind string

const (
	MemberTool       MemberKind = "tool"
	MemberCapability MemberKind = "capability"
)

// Member is one entry in a capability's ordered member list.
type Member struct {
	ID   string
	Kind MemberKind
}

// Capability is the hyperedge-bearing record the Hypergraph indexes.
// Canonical storage for success_rate/usage_count lives on the
// corresponding pkg/graph.NodeAttrs.Extra; this is the read-shape used
// for index construction and scoring.
type Capability struct {
	ID          string
	Embedding   embedding.Vector
	Members     []Member
	SuccessRate float64
	UsageCount  int
}

// Tool is the vertex-shape used for index construction and scoring.
type Tool struct {
	ID        string
	Embedding embedding.Vector
}

// CycleError is returned by RebuildIndices when a capability's member
// graph is cyclic (spec.md §9: "forbidden by construction").
type CycleError struct {
	CapabilityID string
	Path         []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("hypergraph: cycle detected while resolving capability %q: %v", e.CapabilityID, e.Path)
}

// Hypergraph owns tool_index, cap_index (insertion order) and the dense
// 0/1 incidence matrix A[tools x caps].
type Hypergraph struct {
	tools        []Tool
	toolIndex    map[string]int
	caps         []Capability
	capIndex     map[string]int
	incidence    [][]uint8 // incidence[toolIdx][capIdx]
}

// New creates an empty Hypergraph.
func New() *Hypergraph {
	return &Hypergraph{
		toolIndex: make(map[string]int),
		capIndex:  make(map[string]int),
	}
}

// AddTool registers a tool vertex. Re-adding an existing id updates its
// embedding in place without changing its index (embeddings are
// immutable after creation per spec.md §3, but the caller — not this
// package — is responsible for enforcing that).
func (h *Hypergraph) AddTool(t Tool) {
	if idx, ok := h.toolIndex[t.ID]; ok {
		h.tools[idx] = t
		return
	}
	h.toolIndex[t.ID] = len(h.tools)
	h.tools = append(h.tools, t)
	h.growIncidenceRows()
}

// AddCapability registers or replaces a capability hyperedge.
func (h *Hypergraph) AddCapability(c Capability) {
	if idx, ok := h.capIndex[c.ID]; ok {
		h.caps[idx] = c
		return
	}
	h.capIndex[c.ID] = len(h.caps)
	h.caps = append(h.caps, c)
	h.growIncidenceCols()
}

func (h *Hypergraph) growIncidenceRows() {
	newRow := make([]uint8, len(h.caps))
	h.incidence = append(h.incidence, newRow)
}

func (h *Hypergraph) growIncidenceCols() {
	for i := range h.incidence {
		h.incidence[i] = append(h.incidence[i], 0)
	}
}

// RebuildIndices recomputes the incidence matrix from scratch: for every
// capability, a transitive DFS over members of kind MemberCapability
// (with a visited-set cycle guard) collects every reachable tool, and
// the corresponding incidence bit is set. Direct tool members are
// always included. This must be called after any structural change to
// capability membership before scoring/pathfinding reads the matrix.
func (h *Hypergraph) RebuildIndices() error {
	for i := range h.incidence {
		for j := range h.incidence[i] {
			h.incidence[i][j] = 0
		}
	}

	capByID := make(map[string]*Capability, len(h.caps))
	for i := range h.caps {
		capByID[h.caps[i].ID] = &h.caps[i]
	}

	for _, c := range h.caps {
		capIdx := h.capIndex[c.ID]
		visited := make(map[string]bool)
		path := []string{c.ID}
		tools, err := h.transitiveTools(c.ID, capByID, visited, path)
		if err != nil {
			return err
		}
		for toolID := range tools {
			if toolIdx, ok := h.toolIndex[toolID]; ok {
				h.incidence[toolIdx][capIdx] = 1
			}
		}
	}
	return nil
}

func (h *Hypergraph) transitiveTools(capID string, capByID map[string]*Capability, visited map[string]bool, path []string) (map[string]bool, error) {
	if visited[capID] {
		return nil, &CycleError{CapabilityID: capID, Path: append([]string{}, path...)}
	}
	visited[capID] = true
	defer delete(visited, capID)

	cap, ok := capByID[capID]
	if !ok {
		return map[string]bool{}, nil
	}

	tools := make(map[string]bool)
	for _, m := range cap.Members {
		switch m.Kind {
		case MemberTool:
			tools[m.ID] = true
		case MemberCapability:
			nested, err := h.transitiveTools(m.ID, capByID, visited, append(path, m.ID))
			if err != nil {
				return nil, err
			}
			for t := range nested {
				tools[t] = true
			}
		}
	}
	return tools, nil
}

// ToolEmbeddings returns every tool's embedding in index order.
func (h *Hypergraph) ToolEmbeddings() []embedding.Vector {
	out := make([]embedding.Vector, len(h.tools))
	for i, t := range h.tools {
		out[i] = t.Embedding
	}
	return out
}

// CapabilityEmbeddings returns every capability's embedding in index order.
func (h *Hypergraph) CapabilityEmbeddings() []embedding.Vector {
	out := make([]embedding.Vector, len(h.caps))
	for i, c := range h.caps {
		out[i] = c.Embedding
	}
	return out
}

// ToolIndex returns tool id's column-independent row index, if present.
func (h *Hypergraph) ToolIndex(id string) (int, bool) {
	idx, ok := h.toolIndex[id]
	return idx, ok
}

// CapabilityIndex returns capability id's column index, if present.
func (h *Hypergraph) CapabilityIndex(id string) (int, bool) {
	idx, ok := h.capIndex[id]
	return idx, ok
}

// Tools returns the indexed tools in index order.
func (h *Hypergraph) Tools() []Tool { return append([]Tool{}, h.tools...) }

// Capabilities returns the indexed capabilities in index order.
func (h *Hypergraph) Capabilities() []Capability { return append([]Capability{}, h.caps...) }

// CapabilityTools returns the ids of every tool incident to capability c
// (its transitive closure, as last computed by RebuildIndices).
func (h *Hypergraph) CapabilityTools(capID string) []string {
	capIdx, ok := h.capIndex[capID]
	if !ok {
		return nil
	}
	var result []string
	for toolIdx, t := range h.tools {
		if h.incidence[toolIdx][capIdx] == 1 {
			result = append(result, t.ID)
		}
	}
	return result
}

// IncidenceStats summarizes the incidence matrix's density.
type IncidenceStats struct {
	Tools        int
	Capabilities int
	SetBits      int
	Density      float64
}

// IncidenceStats computes IncidenceStats for the current matrix.
func (h *Hypergraph) IncidenceStats() IncidenceStats {
	stats := IncidenceStats{Tools: len(h.tools), Capabilities: len(h.caps)}
	for _, row := range h.incidence {
		for _, bit := range row {
			if bit == 1 {
				stats.SetBits++
			}
		}
	}
	total := stats.Tools * stats.Capabilities
	if total > 0 {
		stats.Density = float64(stats.SetBits) / float64(total)
	}
	return stats
}
