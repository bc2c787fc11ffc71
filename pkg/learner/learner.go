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

// Package learner implements the Learner (spec.md §4.12): trace-driven
// graph edge updates, a prioritized-experience-replay buffer that
// retrains the scorer's K-head weights, and a sliding-window adaptive
// confidence threshold. Grounded on the teacher's pkg/observability
// recorder (a single-writer event sink feeding derived state) for the
// trace-walk shape, and on the same mutex-guarded-map discipline used
// throughout this tree for the replay buffer and training lock.
package learner

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/dagforge/dagforge/pkg/dagmodel"
	"github.com/dagforge/dagforge/pkg/graph"
	"github.com/dagforge/dagforge/pkg/scorer"
)

// ApplyTrace is responsibility (a): walk an ExecutionTrace and create
// or update contains/sequence edges in g. For a capability-rooted
// trace, CapabilityID->each task's Tool is a contains edge; consecutive
// tasks in TaskResults are a sibling sequence edge; every task in layer
// L gets a fan-in/fan-out sequence edge to every task in layer L+1,
// skipping self-loops (spec.md §4.12a).
func ApplyTrace(g *graph.Store, trace dagmodel.ExecutionTrace) error {
	byLayer := make(map[int][]string)
	for _, tr := range trace.TaskResults {
		byLayer[tr.LayerIndex] = append(byLayer[tr.LayerIndex], tr.Tool)

		if trace.CapabilityID != "" && trace.CapabilityID != tr.Tool {
			if err := g.AddEdge(trace.CapabilityID, tr.Tool, graph.EdgeAttrs{
				Type: graph.EdgeContains, Source: graph.SourceInferred,
			}); err != nil {
				return fmt.Errorf("learner: contains edge: %w", err)
			}
		}
	}

	for i := 0; i+1 < len(trace.TaskResults); i++ {
		src, dst := trace.TaskResults[i].Tool, trace.TaskResults[i+1].Tool
		if src == dst {
			continue
		}
		if err := g.AddEdge(src, dst, graph.EdgeAttrs{Type: graph.EdgeSequence, Source: graph.SourceInferred}); err != nil {
			return fmt.Errorf("learner: sibling sequence edge: %w", err)
		}
	}

	layers := make([]int, 0, len(byLayer))
	for l := range byLayer {
		layers = append(layers, l)
	}
	sort.Ints(layers)

	for idx := 0; idx+1 < len(layers); idx++ {
		current, next := byLayer[layers[idx]], byLayer[layers[idx+1]]
		for _, src := range current {
			for _, dst := range next {
				if src == dst {
					continue
				}
				if err := g.AddEdge(src, dst, graph.EdgeAttrs{Type: graph.EdgeSequence, Source: graph.SourceInferred}); err != nil {
					return fmt.Errorf("learner: fan-in/fan-out sequence edge: %w", err)
				}
			}
		}
	}
	return nil
}

// Replay tuning constants (spec.md §4.12b defaults).
const (
	DefaultAlpha           = 0.6
	DefaultMinTraces       = 32
	DefaultBatchSize       = 64
	DefaultEpochs          = 1
	DefaultCapacity        = 4096
)

// TrainResult summarizes one Replay.Train call.
type TrainResult struct {
	Trained          bool
	TracesProcessed  int
	ExamplesGenerated int
	Loss             float64
	PrioritiesUpdated int
}

// entry wraps a TrainingExample with its replay priority.
type entry struct {
	example  dagmodel.TrainingExample
	priority float64
}

// Replay is a bounded prioritized-experience-replay buffer over
// dagmodel.TrainingExample (a full buffer replaces its lowest-priority
// entry), gating training on a minimum-trace
// threshold and serializing training runs with a lock (spec.md
// §4.12b: "A training lock prevents concurrent runs").
type Replay struct {
	mu sync.Mutex

	capacity  int
	minTraces int
	batchSize int
	epochs    int
	alpha     float64

	buffer       []entry
	tracesSeen   int
	weights      scorer.Weights
	learningRate float64
}

// NewReplay constructs a Replay buffer with spec.md §4.12b's default
// tuning; weights is the scorer weight set trained in place.
func NewReplay(weights scorer.Weights) *Replay {
	return &Replay{
		capacity:     DefaultCapacity,
		minTraces:    DefaultMinTraces,
		batchSize:    DefaultBatchSize,
		epochs:       DefaultEpochs,
		alpha:        DefaultAlpha,
		weights:      weights,
		learningRate: 0.01,
	}
}

// Add appends example to the buffer (evicting the lowest-priority
// entry if at capacity) and increments the traces-seen counter used by
// the minimum-trace threshold gate.
func (r *Replay) Add(example dagmodel.TrainingExample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tracesSeen++
	e := entry{example: example, priority: example.TDPriority}
	if len(r.buffer) < r.capacity {
		r.buffer = append(r.buffer, e)
		return
	}
	lowest := 0
	for i := 1; i < len(r.buffer); i++ {
		if r.buffer[i].priority < r.buffer[lowest].priority {
			lowest = i
		}
	}
	r.buffer[lowest] = e
}

// TDPriority computes |target-score|^alpha per spec.md §4.12b.
func TDPriority(target, score, alpha float64) float64 {
	if alpha <= 0 {
		alpha = DefaultAlpha
	}
	return math.Pow(math.Abs(target-score), alpha)
}

// Train takes the highest-priority batch and runs Epochs
// passes of a simple gradient step against the K-head weights,
// returning false (untrained) if the minimum-trace threshold hasn't
// been met, or if another Train call is already in flight.
func (r *Replay) Train() TrainResult {
	if !r.mu.TryLock() {
		return TrainResult{Trained: false}
	}
	defer r.mu.Unlock()

	if r.tracesSeen < r.minTraces || len(r.buffer) == 0 {
		return TrainResult{Trained: false, TracesProcessed: r.tracesSeen}
	}

	batch := r.sampleBatchLocked(r.batchSize)
	var totalLoss float64
	for epoch := 0; epoch < r.epochs; epoch++ {
		for _, e := range batch {
			loss := r.stepLocked(e.example)
			totalLoss += loss
		}
	}

	updated := r.refreshPrioritiesLocked()

	examples := len(batch) * r.epochs
	var avgLoss float64
	if examples > 0 {
		avgLoss = totalLoss / float64(examples)
	}
	return TrainResult{
		Trained:           true,
		TracesProcessed:   r.tracesSeen,
		ExamplesGenerated: examples,
		Loss:              avgLoss,
		PrioritiesUpdated: updated,
	}
}

// sampleBatchLocked returns the n highest-priority entries (or the whole
// buffer if it holds fewer), in descending priority order. The choice is
// deterministic: there is no random draw, so lower-priority entries are
// never picked while n higher-priority ones are buffered.
func (r *Replay) sampleBatchLocked(n int) []entry {
	if n > len(r.buffer) {
		n = len(r.buffer)
	}
	total := 0.0
	for _, e := range r.buffer {
		total += e.priority + 1e-6
	}
	if total == 0 {
		return append([]entry(nil), r.buffer[:n]...)
	}

	sorted := append([]entry(nil), r.buffer...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].priority > sorted[j].priority })
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}

// stepLocked applies a single weight-decay-style gradient step toward
// reducing the gap between the example's outcome and the scorer's
// current prediction for it, for every head. Returns the squared
// error before the update (the "loss").
func (r *Replay) stepLocked(ex dagmodel.TrainingExample) float64 {
	target := float64(ex.Outcome)
	predicted := r.predictLocked(ex)
	errVal := target - predicted

	for h := range r.weights.Heads {
		head := &r.weights.Heads[h]
		head[0] += r.learningRate * errVal
		head[1] += r.learningRate * errVal
		head[2] += r.learningRate * errVal
		head[3] += r.learningRate * errVal
	}
	return errVal * errVal
}

// predictLocked averages the current head weights as a stand-in score
// prediction for the training example, mirroring scorer.Score's
// per-head-average-then-clamp shape without requiring a full
// hypergraph/feature context during training.
func (r *Replay) predictLocked(dagmodel.TrainingExample) float64 {
	if len(r.weights.Heads) == 0 {
		return 0
	}
	var sum float64
	for _, head := range r.weights.Heads {
		for _, w := range head {
			sum += w
		}
	}
	avg := sum / float64(len(r.weights.Heads)*4)
	if avg < 0 {
		return 0
	}
	if avg > 1 {
		return 1
	}
	return avg
}

// refreshPrioritiesLocked recomputes every buffered example's priority
// from its (now stale) recorded outcome against the freshly trained
// weights (spec.md §4.12b: "post-training, priorities are refreshed
// from the new scores").
func (r *Replay) refreshPrioritiesLocked() int {
	updated := 0
	for i := range r.buffer {
		newScore := r.predictLocked(r.buffer[i].example)
		r.buffer[i].priority = TDPriority(float64(r.buffer[i].example.Outcome), newScore, r.alpha)
		updated++
	}
	return updated
}
