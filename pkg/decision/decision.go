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

// Package decision implements DecisionStrategy (spec.md §4.9): the
// AIL (agent-in-loop) and HIL (human-in-loop) gates, both a
// non-blocking "prepare" (the scheduler already emitted
// decision_required before calling us) followed by a blocking "wait"
// for the matching command. Grounded on the teacher's pkg/task HITL
// pattern (InputRequirement / RequestInput / ProvideInput): a task
// pauses in a distinct state and resumes only once a matching response
// arrives, never by polling.
package decision

import (
	"context"
	"fmt"

	"github.com/dagforge/dagforge/pkg/dagmodel"
	"github.com/dagforge/dagforge/pkg/eventstream"
	"github.com/dagforge/dagforge/pkg/scheduler"
)

// Policy configures when Strategy's gates fire.
type Policy struct {
	// PerLayerValidation forces an AIL pause after every layer,
	// regardless of whether it contains errors.
	PerLayerValidation bool
}

// Strategy implements scheduler.DecisionPort against a live
// eventstream.Stream's CommandQueue.
type Strategy struct {
	Stream *eventstream.Stream
	Policy Policy
}

var _ scheduler.DecisionPort = (*Strategy)(nil)

// RequiresAIL fires when the layer's results contain an error or the
// policy demands inspection unconditionally (spec.md §4.9: "fires
// after each completed layer when the policy requires inspection
// (e.g., errors present or per_layer_validation=true)").
func (s *Strategy) RequiresAIL(results []dagmodel.TaskResult) bool {
	if s.Policy.PerLayerValidation {
		return true
	}
	for _, r := range results {
		if r.Status == dagmodel.TaskError {
			return true
		}
	}
	return false
}

// AIL blocks for the command matching checkpointID and translates it
// into a DecisionOutcome. continue/replan/abort are the only responses
// spec.md §4.9 names; anything else is treated as continue.
func (s *Strategy) AIL(ctx context.Context, checkpointID string) (scheduler.DecisionOutcome, error) {
	cmd, err := s.Stream.WaitForApproval(ctx, checkpointID)
	if err != nil {
		return scheduler.DecisionOutcome{}, fmt.Errorf("decision: AIL wait: %w", err)
	}
	switch cmd.Type {
	case eventstream.CommandAbort:
		return scheduler.DecisionOutcome{Action: scheduler.DecisionAbort, Reason: cmd.Reason}, nil
	case eventstream.CommandReplan:
		return scheduler.DecisionOutcome{Action: scheduler.DecisionReplan, NewRequirement: cmd.NewRequirement}, nil
	default:
		return scheduler.DecisionOutcome{Action: scheduler.DecisionContinue}, nil
	}
}

// RequiresHIL fires when at least one task in the upcoming layer
// carries RequiresApproval (spec.md §4.9: "fires before executing a
// layer that contains at least one task whose permission/approval-mode
// metadata requires explicit confirmation").
func (s *Strategy) RequiresHIL(tasks []dagmodel.Task) bool {
	for _, t := range tasks {
		if t.RequiresApproval {
			return true
		}
	}
	return false
}

// HIL blocks for the approval_response matching checkpointID.
// Rejection carries feedback as the abort reason (spec.md §4.9:
// "Rejection transitions the workflow to aborted with reason=feedback").
func (s *Strategy) HIL(ctx context.Context, checkpointID string) (bool, string, error) {
	cmd, err := s.Stream.WaitForApproval(ctx, checkpointID)
	if err != nil {
		return false, "", fmt.Errorf("decision: HIL wait: %w", err)
	}
	return cmd.Approved, cmd.Feedback, nil
}

// NullStrategy never pauses: RequiresAIL/RequiresHIL always report
// false, so AIL/HIL are never invoked by the scheduler. Used in tests
// and any deployment that wants unattended execution (spec.md §4.9:
// "always returns continue, never emits").
type NullStrategy struct{}

var _ scheduler.DecisionPort = NullStrategy{}

func (NullStrategy) RequiresAIL([]dagmodel.TaskResult) bool { return false }

func (NullStrategy) AIL(context.Context, string) (scheduler.DecisionOutcome, error) {
	return scheduler.DecisionOutcome{Action: scheduler.DecisionContinue}, nil
}

func (NullStrategy) RequiresHIL([]dagmodel.Task) bool { return false }

func (NullStrategy) HIL(context.Context, string) (bool, string, error) {
	return true, "", nil
}
