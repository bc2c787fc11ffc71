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

// Package eventstream implements CommandQueue/EventStream (spec.md
// §4.7): a pair of bounded Go channels per workflow bridging the
// scheduler's internal execution loop to an external transport,
// grounded on the teacher's pkg/agui stream adapter — a small struct
// translating an internal event shape to a wire shape without coupling
// the producer to any particular framing.
package eventstream

import (
	"context"
	"time"
)

// EventType enumerates the EventStream's wire events (spec.md §4.7).
type EventType string

const (
	EventDAGStarted        EventType = "dag_started"
	EventTaskStarted       EventType = "task_started"
	EventTaskCompleted     EventType = "task_completed"
	EventTaskFailed        EventType = "task_failed"
	EventLayerCompleted    EventType = "layer_completed"
	EventDecisionRequired  EventType = "decision_required"
	EventWorkflowCompleted EventType = "workflow_completed"
	EventWorkflowAborted   EventType = "workflow_aborted"
	EventCheckpointSaved   EventType = "checkpoint_saved"
)

// Event is one EventStream message. Every event carries timestamp and
// workflow_id; the remaining fields are populated per EventType.
type Event struct {
	Type       EventType
	Timestamp  time.Time
	WorkflowID string

	TaskID        string
	LayerIndex    int
	CheckpointID  string
	Reason        string
	Error         string
	DecisionNode  string
	Payload       any
}

// CommandType enumerates the CommandQueue's inbound commands (spec.md
// §4.7).
type CommandType string

const (
	CommandContinue                     CommandType = "continue"
	CommandAbort                        CommandType = "abort"
	CommandReplan                       CommandType = "replan"
	CommandApprovalResponse             CommandType = "approval_response"
	CommandPermissionEscalationResponse CommandType = "permission_escalation_response"
)

// Command is one CommandQueue message. CheckpointID matches a command
// back to the decision_required event that solicited it (spec.md
// §4.7: "Commands are matched to their yielded decision_required by
// checkpoint_id").
type Command struct {
	Type         CommandType
	CheckpointID string

	// abort
	Reason string

	// replan
	NewRequirement string
	Context        map[string]any

	// approval_response
	Approved bool
	Feedback string
}

// DefaultBufferSize is the channel capacity used when Stream's caller
// doesn't request a specific size. Bounded so a slow consumer applies
// back-pressure to the scheduler rather than the scheduler buffering
// unboundedly in memory (spec.md §4.7: "Both are bounded").
const DefaultBufferSize = 64

// Stream is the bound EventStream/CommandQueue pair for one workflow.
type Stream struct {
	WorkflowID string

	events   chan Event
	commands chan Command
}

// New creates a Stream for workflowID with the given channel capacity.
// A capacity of 0 uses DefaultBufferSize.
func New(workflowID string, capacity int) *Stream {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &Stream{
		WorkflowID: workflowID,
		events:     make(chan Event, capacity),
		commands:   make(chan Command, capacity),
	}
}

// Emit sends ev on the EventStream, blocking if the buffer is full
// (the scheduler's intended back-pressure point) or returning early if
// ctx is canceled. WorkflowID and Timestamp are stamped if the caller
// left them zero.
func (s *Stream) Emit(ctx context.Context, ev Event) error {
	if ev.WorkflowID == "" {
		ev.WorkflowID = s.WorkflowID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns the receive-only EventStream channel for external
// transports to drain.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Send enqueues cmd on the CommandQueue for the scheduler to consume,
// blocking if full or returning early if ctx is canceled.
func (s *Stream) Send(ctx context.Context, cmd Command) error {
	select {
	case s.commands <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Commands returns the receive-only CommandQueue channel for the
// scheduler to consume.
func (s *Stream) Commands() <-chan Command {
	return s.commands
}

// Close closes both channels. Callers must ensure no further Emit/Send
// calls are in flight; Close is intended to run once, when the owning
// WorkflowRepository entry is deleted (spec.md §4.11: "deletion
// cancels the scheduler and drops queues").
func (s *Stream) Close() {
	close(s.events)
	close(s.commands)
}

// WaitForApproval blocks until a command whose CheckpointID matches
// checkpointID arrives on the CommandQueue, or ctx is canceled. Other
// commands received while waiting are discarded — spec.md §4.9's
// prepare/wait protocol expects the caller to have already filtered to
// commands destined for this decision point via a single consumer
// goroutine per workflow.
func (s *Stream) WaitForApproval(ctx context.Context, checkpointID string) (Command, error) {
	for {
		select {
		case cmd, ok := <-s.commands:
			if !ok {
				return Command{}, context.Canceled
			}
			if cmd.CheckpointID == checkpointID {
				return cmd, nil
			}
		case <-ctx.Done():
			return Command{}, ctx.Err()
		}
	}
}
