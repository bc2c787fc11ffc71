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

// Package scorer implements the SHGAT multi-head attention Scorer
// (spec.md §4.3): a deterministic ranking of capabilities against an
// intent embedding, combining semantic, structural, temporal, and
// reliability features across K attention heads.
package scorer

import (
	"math"
	"sort"
	"time"

	"github.com/dagforge/dagforge/pkg/embedding"
	"github.com/dagforge/dagforge/pkg/hypergraph"
)

// DefaultHeads is the typical attention head count (spec.md §4.3: "K=4 typical").
const DefaultHeads = 4

// FeatureContributions holds the four raw per-capability feature values
// before head projection, exposed for observability/debugging.
type FeatureContributions struct {
	Semantic    float64
	Structural  float64
	Temporal    float64
	Reliability float64
}

// CapabilityMatch is one scored candidate (spec.md §4.3).
type CapabilityMatch struct {
	ID               string
	Score            float64
	PerHeadScores    []float64
	Contributions    FeatureContributions
	UsageCount       int
}

// HeadWeights is one attention head's learned linear projection over the
// four ordered features [semantic, structural, temporal, reliability].
// Trained and updated in memory by pkg/learner; this package does not
// persist it.
type HeadWeights [4]float64

// Weights is the full parameter vector the Learner updates: one
// HeadWeights per head.
type Weights struct {
	Heads []HeadWeights
}

// DefaultWeights returns an untrained, uniform-attention parameter
// vector with DefaultHeads heads, each weighting all four features
// equally.
func DefaultWeights() Weights {
	heads := make([]HeadWeights, DefaultHeads)
	for i := range heads {
		heads[i] = HeadWeights{0.25, 0.25, 0.25, 0.25}
	}
	return Weights{Heads: heads}
}

// CapabilityInfo is the extra per-capability metadata the Scorer needs
// beyond what Hypergraph indexes (success_rate, usage_count, last-use
// timestamp) — sourced from pkg/graph's NodeAttrs.Extra by the caller.
type CapabilityInfo struct {
	SuccessRate    float64
	UsageCount     int
	LastSuccessAt  time.Time
	HasLastSuccess bool
}

// ToolPageranks maps tool id to its precomputed pagerank, used by the
// structural feature's mean-pagerank variant.
type ToolPageranks map[string]float64

// TemporalHalfLife is the exponential decay half-life for the temporal
// feature (spec.md §4.3: "exponential decay on time since last
// successful use"). Chosen as one day: recency matters over the scale of
// a single operator session, not months.
const TemporalHalfLife = 24 * time.Hour

// StructuralAlpha is the shared adaptive-alpha helper pinned by this
// module's Open Question resolution (DESIGN.md): both the Scorer's
// structural feature and the Pathfinder's capability-entry cost use this
// single formula, parameterized by the hypergraph's current incidence
// density, so the two components can never drift out of sync.
func StructuralAlpha(density float64) float64 {
	alpha := 1.0 - density*2
	if alpha < 0.5 {
		alpha = 0.5
	}
	return alpha
}

// Scorer ranks capabilities against an intent embedding.
type Scorer struct {
	weights Weights
	now     func() time.Time
}

// New creates a Scorer with the given weights. now defaults to
// time.Now if nil (tests may override it for determinism).
func New(weights Weights, now func() time.Time) *Scorer {
	if now == nil {
		now = time.Now
	}
	if len(weights.Heads) == 0 {
		weights = DefaultWeights()
	}
	return &Scorer{weights: weights, now: now}
}

// Score ranks every capability in h against q, using per-capability info
// and tool pageranks supplied by the caller. Deterministic given
// (h, info, pageranks, s.weights, q) and the injected clock.
func (s *Scorer) Score(h *hypergraph.Hypergraph, q embedding.Vector, info map[string]CapabilityInfo, pageranks ToolPageranks) []CapabilityMatch {
	stats := h.IncidenceStats()
	alpha := StructuralAlpha(stats.Density)
	now := s.now()

	caps := h.Capabilities()
	matches := make([]CapabilityMatch, 0, len(caps))

	for _, c := range caps {
		ci := info[c.ID]

		semantic := embedding.CosineSimilarity(q, c.Embedding)
		structural := s.structuralFeature(h, c.ID, pageranks, alpha)
		temporal := temporalFeature(ci, now)
		reliability := reliabilityFeature(ci)

		features := [4]float64{semantic, structural, temporal, reliability}
		perHead := make([]float64, len(s.weights.Heads))
		var headSum float64
		for i, hw := range s.weights.Heads {
			var v float64
			for j := 0; j < 4; j++ {
				v += hw[j] * features[j]
			}
			perHead[i] = v
			headSum += v
		}
		attention := headSum / float64(len(s.weights.Heads))
		reliabilityFactor := reliability
		score := clamp01(attention * reliabilityFactor)

		matches = append(matches, CapabilityMatch{
			ID:            c.ID,
			Score:         score,
			PerHeadScores: perHead,
			Contributions: FeatureContributions{
				Semantic:    semantic,
				Structural:  structural,
				Temporal:    temporal,
				Reliability: reliability,
			},
			UsageCount: ci.UsageCount,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].UsageCount != matches[j].UsageCount {
			return matches[i].UsageCount > matches[j].UsageCount
		}
		return matches[i].ID < matches[j].ID
	})

	return matches
}

// structuralFeature is the normalized membership strength via the
// incidence column: alpha-weighted mean pagerank of c's transitive
// tools (spec.md §4.3's first suggested variant).
func (s *Scorer) structuralFeature(h *hypergraph.Hypergraph, capID string, pageranks ToolPageranks, alpha float64) float64 {
	tools := h.CapabilityTools(capID)
	if len(tools) == 0 {
		return 0
	}
	var sum float64
	for _, t := range tools {
		sum += pageranks[t]
	}
	mean := sum / float64(len(tools))
	return clamp01(alpha * mean)
}

func temporalFeature(ci CapabilityInfo, now time.Time) float64 {
	if !ci.HasLastSuccess {
		return 0
	}
	elapsed := now.Sub(ci.LastSuccessAt)
	if elapsed < 0 {
		elapsed = 0
	}
	halfLives := float64(elapsed) / float64(TemporalHalfLife)
	return math.Pow(0.5, halfLives)
}

func reliabilityFeature(ci CapabilityInfo) float64 {
	return ci.SuccessRate * (1 - 1/(1+float64(ci.UsageCount)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
