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

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddEdgeCreatesMissingEndpoints(t *testing.T) {
	g := New(nil)

	err := g.AddEdge("tool.a", "tool.b", EdgeAttrs{Type: EdgeSequence, Source: SourceObserved})
	require.NoError(t, err)

	assert.True(t, g.HasNode("tool.a"))
	assert.True(t, g.HasNode("tool.b"))
	assert.True(t, g.HasEdge("tool.a", "tool.b"))

	attrs, ok := g.GetEdgeAttrs("tool.a", "tool.b")
	require.True(t, ok)
	assert.Equal(t, 1, attrs.Count)
	assert.Equal(t, ComputeWeight(EdgeSequence, SourceObserved), attrs.Weight)
}

func TestAddEdgeRejectsSelfLoop(t *testing.T) {
	g := New(nil)
	err := g.AddEdge("tool.a", "tool.a", EdgeAttrs{Type: EdgeDependency, Source: SourceObserved})
	assert.Error(t, err)
	assert.False(t, g.HasEdge("tool.a", "tool.a"))
}

func TestAddEdgeMergesDuplicateAndPromotesSource(t *testing.T) {
	g := New(nil)
	attrs := EdgeAttrs{Type: EdgeDependency, Source: SourceInferred, ObservedThreshold: 3}

	require.NoError(t, g.AddEdge("a", "b", attrs))
	require.NoError(t, g.AddEdge("a", "b", attrs))

	got, ok := g.GetEdgeAttrs("a", "b")
	require.True(t, ok)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, SourceInferred, got.Source)

	require.NoError(t, g.AddEdge("a", "b", attrs))
	got, ok = g.GetEdgeAttrs("a", "b")
	require.True(t, ok)
	assert.Equal(t, 3, got.Count)
	assert.Equal(t, SourceObserved, got.Source)
	assert.Equal(t, ComputeWeight(EdgeDependency, SourceObserved), got.Weight)
}

func TestAddEdgeEmitsEvents(t *testing.T) {
	var events []Event
	g := New(func(ev Event) { events = append(events, ev) })

	attrs := EdgeAttrs{Type: EdgeProvides, Source: SourceObserved}
	require.NoError(t, g.AddEdge("a", "b", attrs))
	require.NoError(t, g.AddEdge("a", "b", attrs))

	require.Len(t, events, 2)
	assert.Equal(t, "graph.edge_created", events[0].Type)
	assert.Equal(t, "graph.edge_updated", events[1].Type)
}

func TestNeighborsAndDegree(t *testing.T) {
	g := New(nil)
	require.NoError(t, g.AddEdge("a", "b", EdgeAttrs{Type: EdgeSequence, Source: SourceObserved}))
	require.NoError(t, g.AddEdge("c", "a", EdgeAttrs{Type: EdgeSequence, Source: SourceObserved}))

	out := g.Neighbors("a", DirOut)
	assert.ElementsMatch(t, []string{"b"}, out)

	in := g.Neighbors("a", DirIn)
	assert.ElementsMatch(t, []string{"c"}, in)

	both := g.Neighbors("a", DirBoth)
	assert.ElementsMatch(t, []string{"b", "c"}, both)

	assert.Equal(t, 2, g.Degree("a", DirBoth))
}

func TestEdgesByType(t *testing.T) {
	g := New(nil)
	require.NoError(t, g.AddEdge("a", "b", EdgeAttrs{Type: EdgeContains, Source: SourceTemplate}))
	require.NoError(t, g.AddEdge("b", "c", EdgeAttrs{Type: EdgeSequence, Source: SourceTemplate}))

	contains := g.EdgesByType(EdgeContains)
	require.Len(t, contains, 1)
	assert.Equal(t, EdgeKey{"a", "b"}, contains[0])
}

func TestSnapshotAppliesPagerankAndCommunity(t *testing.T) {
	g := New(nil)
	g.AddNode("a", NodeAttrs{Type: NodeTool})
	g.AddNode("b", NodeAttrs{Type: NodeTool})
	require.NoError(t, g.AddEdge("a", "b", EdgeAttrs{Type: EdgeSequence, Source: SourceObserved}))

	snap := g.Snapshot(map[string]float64{"a": 0.42}, map[string]int{"a": 3})

	assert.Equal(t, 0.42, snap.Nodes["a"].Pagerank)
	assert.Equal(t, 3, snap.Nodes["a"].Community)
	assert.Len(t, snap.Edges, 1)

	// Snapshot is a copy: mutating it must not affect the live store.
	snap.Nodes["a"] = NodeAttrs{Type: NodeCapability}
	live, _ := g.GetNodeAttrs("a")
	assert.Equal(t, NodeTool, live.Type)
}

func TestForEachNodeAndEdge(t *testing.T) {
	g := New(nil)
	require.NoError(t, g.AddEdge("a", "b", EdgeAttrs{Type: EdgeAlternative, Source: SourceObserved}))

	nodeCount := 0
	g.ForEachNode(func(string, NodeAttrs) { nodeCount++ })
	assert.Equal(t, 2, nodeCount)

	edgeCount := 0
	g.ForEachEdge(func(EdgeKey, EdgeAttrs) { edgeCount++ })
	assert.Equal(t, 1, edgeCount)
}
