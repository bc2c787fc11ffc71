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

// Package checkpoint implements CheckpointStore (spec.md §4.6):
// persist/load/prune workflow state snapshots. Grounded directly on the
// teacher's pkg/checkpoint package — Phase, Type, Serialize/Deserialize,
// IsExpired and NeedsUserInput are kept in spirit, re-typed to carry
// dagmodel.WorkflowState instead of an LLM-agent AgentStateSnapshot.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dagforge/dagforge/pkg/dagmodel"
)

// Phase is the point in the layer-scheduler loop a checkpoint was taken
// at. Extended beyond spec.md's bare layer index per SPEC_FULL.md §7,
// since distinguishing "awaiting approval" from "mid-layer" matters for
// resume semantics.
type Phase string

const (
	PhaseInitialized         Phase = "initialized"
	PhasePreLayer            Phase = "pre_layer"
	PhasePostLayer           Phase = "post_layer"
	PhaseAwaitingApproval    Phase = "awaiting_approval"
	PhasePermissionEscalation Phase = "permission_escalation"
	PhaseError               Phase = "error"
)

// Type is the checkpoint's trigger classification.
type Type string

const (
	TypeEvent    Type = "event"
	TypeInterval Type = "interval"
	TypeManual   Type = "manual"
	TypeError    Type = "error"
)

// State is one checkpoint's full payload (spec.md §3's Checkpoint type,
// `state` field, carries a dagmodel.WorkflowState snapshot).
type State struct {
	ID         string
	WorkflowID string
	Timestamp  time.Time
	Layer      int
	Phase      Phase
	Type       Type
	Workflow   dagmodel.WorkflowState
	Error      string
}

// NewState constructs a State for workflowID at the given layer.
func NewState(workflowID string, layer int, workflow dagmodel.WorkflowState) *State {
	return &State{
		WorkflowID: workflowID,
		Timestamp:  time.Now(),
		Layer:      layer,
		Phase:      PhaseInitialized,
		Type:       TypeEvent,
		Workflow:   workflow,
	}
}

// WithPhase sets Phase and returns s for chaining, mirroring the
// teacher's fluent With* setters.
func (s *State) WithPhase(p Phase) *State {
	s.Phase = p
	return s
}

// WithType sets Type and returns s for chaining.
func (s *State) WithType(t Type) *State {
	s.Type = t
	return s
}

// WithError records err's message and marks the checkpoint as an error
// checkpoint.
func (s *State) WithError(err error) *State {
	if err != nil {
		s.Error = err.Error()
	}
	s.Phase = PhaseError
	s.Type = TypeError
	return s
}

// wireState is State's JSON wire shape — a flat, validated envelope
// independent of Go struct tags drifting, matching the teacher's
// explicit Serialize/Deserialize round-trip.
type wireState struct {
	ID         string                 `json:"id"`
	WorkflowID string                 `json:"workflow_id"`
	Timestamp  time.Time              `json:"timestamp"`
	Layer      int                    `json:"layer"`
	Phase      Phase                  `json:"phase"`
	Type       Type                   `json:"type"`
	Workflow   dagmodel.WorkflowState `json:"workflow"`
	Error      string                 `json:"error,omitempty"`
}

// Serialize validates required fields and marshals s to JSON (spec.md
// §4.6: "serialization validates required fields").
func (s *State) Serialize() ([]byte, error) {
	if s.WorkflowID == "" {
		return nil, fmt.Errorf("checkpoint: workflow_id is required")
	}
	if s.Workflow.CurrentLayer < 0 {
		return nil, fmt.Errorf("checkpoint: current_layer must be >= 0")
	}
	if s.Workflow.Results == nil {
		s.Workflow.Results = []dagmodel.TaskResult{}
	}
	if s.Workflow.DAG.Tasks == nil {
		s.Workflow.DAG.Tasks = []dagmodel.Task{}
	}

	return json.Marshal(wireState{
		ID:         s.ID,
		WorkflowID: s.WorkflowID,
		Timestamp:  s.Timestamp,
		Layer:      s.Layer,
		Phase:      s.Phase,
		Type:       s.Type,
		Workflow:   s.Workflow,
		Error:      s.Error,
	})
}

// Deserialize round-trips Serialize's output back into a State.
func Deserialize(data []byte) (*State, error) {
	var w wireState
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("checkpoint: deserialize: %w", err)
	}
	return &State{
		ID:         w.ID,
		WorkflowID: w.WorkflowID,
		Timestamp:  w.Timestamp,
		Layer:      w.Layer,
		Phase:      w.Phase,
		Type:       w.Type,
		Workflow:   w.Workflow,
		Error:      w.Error,
	}, nil
}

// IsExpired reports whether s is older than timeout.
func (s *State) IsExpired(timeout time.Duration) bool {
	return time.Since(s.Timestamp) > timeout
}

// IsRecoverable reports whether s represents a state a resume can
// usefully restart from (not a terminal error with no workflow
// progress).
func (s *State) IsRecoverable() bool {
	if s.Phase == PhaseError && len(s.Workflow.Results) == 0 {
		return false
	}
	return true
}

// NeedsUserInput reports whether resuming from s requires an external
// approval decision before execution can continue.
func (s *State) NeedsUserInput() bool {
	return s.Phase == PhaseAwaitingApproval || s.Phase == PhasePermissionEscalation
}
