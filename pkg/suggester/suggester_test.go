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

package suggester

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagforge/dagforge/pkg/dagmodel"
	"github.com/dagforge/dagforge/pkg/embedding"
	"github.com/dagforge/dagforge/pkg/graph"
	"github.com/dagforge/dagforge/pkg/hypergraph"
	"github.com/dagforge/dagforge/pkg/scorer"
)

type fakeNamespace struct{}

func (fakeNamespace) ResolveTool(toolID string) (string, map[string]any, bool) {
	return "srv:" + toolID, map[string]any{"type": "object"}, true
}

func (fakeNamespace) ResolveCapability(capID string) (string, map[string]any, bool) {
	return "", nil, false
}

type fakeCapInfo struct {
	successRate float64
	usageCount  int
}

func (f fakeCapInfo) Info(capID string) scorer.CapabilityInfo {
	return scorer.CapabilityInfo{SuccessRate: f.successRate, UsageCount: f.usageCount}
}

func (f fakeCapInfo) SuccessRate(capID string) float64 { return f.successRate }

func buildSuggester(t *testing.T, threshold float64) *Suggester {
	t.Helper()
	h := hypergraph.New()
	h.AddTool(hypergraph.Tool{ID: "tool.a", Embedding: embedding.Vector{1, 0}})
	h.AddCapability(hypergraph.Capability{
		ID:        "cap.1",
		Embedding: embedding.Vector{1, 0},
		Members:   []hypergraph.Member{{ID: "tool.a", Kind: hypergraph.MemberTool}},
	})
	require.NoError(t, h.RebuildIndices())

	g := graph.New(nil)
	s := scorer.New(scorer.DefaultWeights(), func() time.Time { return time.Unix(0, 0) })

	return &Suggester{
		Hypergraph: h,
		Graph:      g,
		Scorer:     s,
		Encoder:    embedding.NewHashEncoder(2),
		Namespace:  fakeNamespace{},
		CapInfo:    fakeCapInfo{successRate: 0.9, usageCount: 10},
		Pageranks:  scorer.ToolPageranks{"tool.a": 0.5},
		Threshold:  threshold,
	}
}

type fixedEncoder struct{ v embedding.Vector }

func (f fixedEncoder) Encode(context.Context, string) (embedding.Vector, error) { return f.v, nil }
func (f fixedEncoder) Dim() int                                                 { return len(f.v) }

func TestSuggestBelowThresholdReturnsNoDAG(t *testing.T) {
	s := buildSuggester(t, 0.99)
	s.Encoder = fixedEncoder{v: embedding.Vector{1, 0}}

	out, err := s.Suggest(context.Background(), "do something")
	require.NoError(t, err)
	assert.Nil(t, out.DAG)
}

func TestSuggestSingleMemberProducesOneTask(t *testing.T) {
	s := buildSuggester(t, 0.0)
	s.Encoder = fixedEncoder{v: embedding.Vector{1, 0}}

	out, err := s.Suggest(context.Background(), "do something")
	require.NoError(t, err)
	require.NotNil(t, out.DAG)
	require.Len(t, out.DAG.Tasks, 1)
	assert.Equal(t, "tool.a", out.DAG.Tasks[0].ID)
	assert.Equal(t, "srv:tool.a", out.DAG.Tasks[0].CallName)
	assert.Equal(t, dagmodel.TaskTypeTool, out.DAG.Tasks[0].Type)
}

func TestSuggestCanSpeculate(t *testing.T) {
	s := buildSuggester(t, 0.0)
	s.Encoder = fixedEncoder{v: embedding.Vector{1, 0}}

	out, err := s.Suggest(context.Background(), "x")
	require.NoError(t, err)
	assert.True(t, out.Confidence > 0)
	// successRate=0.9 >= 0.8; score depends on reliability factor which
	// with usage_count=10 and success_rate=0.9 is well above zero, but
	// whether it crosses 0.7 depends on attention weights — assert the
	// can_speculate invariant holds consistently with score and rate.
	expected := out.Confidence >= 0.7 && 0.9 >= 0.8
	assert.Equal(t, expected, out.CanSpeculate)
}
