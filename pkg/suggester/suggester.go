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

// Package suggester implements the Suggester (spec.md §4.5): combines
// the Scorer and Pathfinder over the Hypergraph into a suggested DAG
// with resolved call names and input schemas.
package suggester

import (
	"context"
	"fmt"

	"github.com/dagforge/dagforge/pkg/dagmodel"
	"github.com/dagforge/dagforge/pkg/embedding"
	"github.com/dagforge/dagforge/pkg/graph"
	"github.com/dagforge/dagforge/pkg/hypergraph"
	"github.com/dagforge/dagforge/pkg/pathfinder"
	"github.com/dagforge/dagforge/pkg/scorer"
)

// Suggestion is the Suggester's output: either a confidence-only
// no-match result, or a proposed DAG.
type Suggestion struct {
	Confidence   float64
	DAG          *dagmodel.DAG
	CanSpeculate bool
}

// NamespaceResolver resolves a capability or tool id to its call_name
// and input_schema, implementing the three-step fallback chain from
// SPEC_FULL.md §7: CapabilityRegistry namespace, then the capability's
// first tool member's server prefix, then a short id.
type NamespaceResolver interface {
	ResolveTool(toolID string) (callName string, inputSchema map[string]any, ok bool)
	ResolveCapability(capID string) (callName string, inputSchema map[string]any, ok bool)
}

// CapabilityInfoSource supplies the extra capability metadata the
// Scorer and can_speculate computation need.
type CapabilityInfoSource interface {
	Info(capID string) scorer.CapabilityInfo
	SuccessRate(capID string) float64
}

// Suggester wires Scorer + Pathfinder + Hypergraph into one pipeline.
type Suggester struct {
	Hypergraph *hypergraph.Hypergraph
	Graph      *graph.Store
	Scorer     *scorer.Scorer
	Encoder    embedding.Encoder
	Namespace  NamespaceResolver
	CapInfo    CapabilityInfoSource
	Pageranks  scorer.ToolPageranks

	// Threshold is the adaptive confidence threshold (owned by
	// pkg/learner, read here); callers refresh it before each call.
	Threshold float64
}

// Suggest runs the five-step pipeline from spec.md §4.5. intent is
// also threaded through to resolveTask so a resolved input_schema's
// optional default_expr fields (SPEC_FULL.md §7) can reference it.
func (s *Suggester) Suggest(ctx context.Context, intent string) (Suggestion, error) {
	q, err := s.Encoder.Encode(ctx, intent)
	if err != nil {
		return Suggestion{Confidence: 0}, nil
	}

	info := make(map[string]scorer.CapabilityInfo)
	for _, c := range s.Hypergraph.Capabilities() {
		info[c.ID] = s.CapInfo.Info(c.ID)
	}

	matches := s.Scorer.Score(s.Hypergraph, q, info, s.Pageranks)
	if len(matches) == 0 || matches[0].Score < s.Threshold {
		top := 0.0
		if len(matches) > 0 {
			top = matches[0].Score
		}
		return Suggestion{Confidence: top}, nil
	}

	best := matches[0]
	members := s.Hypergraph.CapabilityTools(best.ID)

	var tasks []dagmodel.Task
	switch len(members) {
	case 0:
		task, err := s.resolveTask(best.ID, dagmodel.TaskTypeCapability, nil, intent)
		if err != nil {
			return Suggestion{}, err
		}
		tasks = []dagmodel.Task{task}
	case 1:
		task, err := s.resolveTask(members[0], dagmodel.TaskTypeTool, nil, intent)
		if err != nil {
			return Suggestion{}, err
		}
		tasks = []dagmodel.Task{task}
	default:
		tasks, err = s.expandMultiMember(best.ID, members, intent)
		if err != nil {
			return Suggestion{}, err
		}
	}

	dag := dagmodel.DAG{Tasks: tasks}
	canSpeculate := best.Score >= 0.7 && s.CapInfo.SuccessRate(best.ID) >= 0.8

	return Suggestion{
		Confidence:   best.Score,
		DAG:          &dag,
		CanSpeculate: canSpeculate,
	}, nil
}

// expandMultiMember tries DR-DSP between the first and last member;
// on failure it falls back to a linear chain over all members
// (spec.md §4.5 step 3).
func (s *Suggester) expandMultiMember(capID string, members []string, intent string) ([]dagmodel.Task, error) {
	successRates := pathfinder.CapabilitySuccessRate{capID: s.CapInfo.SuccessRate(capID)}
	result := pathfinder.Find(s.Graph, s.Hypergraph, successRates, members[0], members[len(members)-1])

	var sequence []string
	if result.Found {
		sequence = result.NodeSequence
	} else {
		sequence = members
	}

	var tasks []dagmodel.Task
	var prevID string
	for i, nodeID := range sequence {
		taskType := dagmodel.TaskTypeTool
		if _, ok := s.Hypergraph.CapabilityIndex(nodeID); ok {
			taskType = dagmodel.TaskTypeCapability
		}
		var dependsOn []string
		if i > 0 {
			dependsOn = []string{prevID}
		}
		task, err := s.resolveTask(nodeID, taskType, dependsOn, intent)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
		prevID = task.ID
	}
	return tasks, nil
}

func (s *Suggester) resolveTask(nodeID string, taskType dagmodel.TaskType, dependsOn []string, intent string) (dagmodel.Task, error) {
	var callName string
	var inputSchema map[string]any

	if taskType == dagmodel.TaskTypeTool {
		name, schema, ok := s.Namespace.ResolveTool(nodeID)
		if !ok {
			return dagmodel.Task{}, fmt.Errorf("suggester: no namespace resolution for tool %q", nodeID)
		}
		callName, inputSchema = name, schema
	} else {
		name, schema, ok := s.Namespace.ResolveCapability(nodeID)
		if !ok {
			// Fallback chain's last step: a short id (SPEC_FULL.md §7).
			callName = shortID(nodeID)
		} else {
			callName, inputSchema = name, schema
		}
	}

	return dagmodel.Task{
		ID:          nodeID,
		CallName:    callName,
		Type:        taskType,
		InputSchema: resolveSchemaDefaults(inputSchema, intent),
		DependsOn:   dependsOn,
	}, nil
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
