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

package pathfinder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagforge/dagforge/pkg/graph"
	"github.com/dagforge/dagforge/pkg/hypergraph"
)

func TestFindSameSourceAndTarget(t *testing.T) {
	g := graph.New(nil)
	h := hypergraph.New()
	result := Find(g, h, nil, "tool.a", "tool.a")

	assert.True(t, result.Found)
	assert.Equal(t, []string{"tool.a"}, result.NodeSequence)
	assert.Equal(t, 0.0, result.TotalWeight)
}

func TestFindDirectEdge(t *testing.T) {
	g := graph.New(nil)
	require.NoError(t, g.AddEdge("tool.a", "tool.b", graph.EdgeAttrs{Type: graph.EdgeSequence, Source: graph.SourceObserved}))
	h := hypergraph.New()

	result := Find(g, h, nil, "tool.a", "tool.b")

	require.True(t, result.Found)
	assert.Equal(t, []string{"tool.a", "tool.b"}, result.NodeSequence)
	assert.Empty(t, result.HyperedgesTaken)
}

func TestFindUnreachableReturnsFoundFalse(t *testing.T) {
	g := graph.New(nil)
	g.AddNode("tool.a", graph.NodeAttrs{Type: graph.NodeTool})
	g.AddNode("tool.b", graph.NodeAttrs{Type: graph.NodeTool})
	h := hypergraph.New()

	result := Find(g, h, nil, "tool.a", "tool.b")
	assert.False(t, result.Found)
}

func TestFindPrefersCapabilityShortcutWhenCheaper(t *testing.T) {
	g := graph.New(nil)
	// Direct edge is expensive (low weight -> high cost).
	require.NoError(t, g.AddEdge("tool.a", "tool.b", graph.EdgeAttrs{Type: graph.EdgeAlternative, Source: SourceTemplateLikeWeak()}))

	h := hypergraph.New()
	h.AddTool(hypergraph.Tool{ID: "tool.a"})
	h.AddTool(hypergraph.Tool{ID: "tool.b"})
	h.AddCapability(hypergraph.Capability{
		ID: "cap.fast",
		Members: []hypergraph.Member{
			{ID: "tool.a", Kind: hypergraph.MemberTool},
			{ID: "tool.b", Kind: hypergraph.MemberTool},
		},
	})
	require.NoError(t, h.RebuildIndices())

	successRates := CapabilitySuccessRate{"cap.fast": 0.99}

	result := Find(g, h, successRates, "tool.a", "tool.b")

	require.True(t, result.Found)
	assert.Contains(t, result.HyperedgesTaken, "cap.fast")
	assert.Equal(t, []string{"tool.a", "cap.fast", "tool.b"}, result.NodeSequence)
}

// SourceTemplateLikeWeak returns the weakest edge source so the direct
// edge's weight is at its lowest (and therefore its traversal cost at its
// highest),
// making the test's capability shortcut the cheaper path.
func SourceTemplateLikeWeak() graph.EdgeSource {
	return graph.SourceTemplate
}
