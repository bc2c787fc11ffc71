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

// Package dagmodel holds the data-model types shared across every
// component (spec.md §3): DAG, Task, TaskResult, WorkflowState,
// ExecutionTrace, and the replay buffer's training example. Keeping
// these in one leaf package avoids an import cycle between
// pkg/scheduler, pkg/checkpoint, pkg/orchestrator and pkg/learner, all
// of which read and write them.
package dagmodel

import "time"

// TaskType discriminates a DAG task's call target.
type TaskType string

const (
	TaskTypeTool       TaskType = "tool"
	TaskTypeCapability TaskType = "capability"
)

// Task is one node of a DAG (spec.md §3).
type Task struct {
	ID          string
	CallName    string
	Type        TaskType
	InputSchema map[string]any
	DependsOn   []string

	// FailurePolicy controls LayerScheduler behavior on this task's
	// error (spec.md §4.8): fail_stop (default, zero value) or
	// fail_safe.
	FailurePolicy FailurePolicy

	// FailSafeGuard, if set, is an expr-lang boolean expression
	// evaluated against the failed task's result (env: "output",
	// "error") when FailurePolicy is fail_stop. A true result
	// overrides the static policy for this occurrence and lets the
	// layer continue instead of stopping the workflow — e.g.
	// `error contains "not found"` for a lookup task whose absence is
	// tolerable but whose other failure modes are not.
	FailSafeGuard string

	// Input is the resolved invocation payload for this task; populated
	// by the Suggester or by a replan.
	Input map[string]any

	// RequiresApproval marks a task whose permission/approval-mode
	// metadata requires explicit human confirmation before its layer
	// executes (spec.md §4.9's HIL gate trigger).
	RequiresApproval bool
}

// FailurePolicy is a per-task attribute (spec.md §4.8).
type FailurePolicy string

const (
	FailStop FailurePolicy = "fail_stop"
	FailSafe FailurePolicy = "fail_safe"
)

// DAG is an acyclic set of Tasks (spec.md §3).
type DAG struct {
	WorkflowID string
	Tasks      []Task
}

// TaskByID returns the task with the given id, if present.
func (d DAG) TaskByID(id string) (Task, bool) {
	for _, t := range d.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// TaskStatus is a TaskResult's outcome (spec.md §3).
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskSuccess    TaskStatus = "success"
	TaskError      TaskStatus = "error"
	TaskFailedSafe TaskStatus = "failed_safe"
)

// TaskResult is one task's outcome for one execution (spec.md §3).
type TaskResult struct {
	TaskID          string
	Status          TaskStatus
	Output          any
	ErrorMessage    string
	ExecutionTimeMS int64
	LayerIndex      int
}

// WorkflowStatus is WorkflowState's top-level status (spec.md §3).
type WorkflowStatus string

const (
	WorkflowCreated          WorkflowStatus = "created"
	WorkflowRunning          WorkflowStatus = "running"
	WorkflowPaused           WorkflowStatus = "paused"
	WorkflowAwaitingApproval WorkflowStatus = "awaiting_approval"
	WorkflowCompleted        WorkflowStatus = "completed"
	WorkflowFailed           WorkflowStatus = "failed"
	WorkflowAborted          WorkflowStatus = "aborted"
)

// LearningContext is the optional intent/scoring context attached to a
// WorkflowState, carried through to the Learner on completion.
type LearningContext struct {
	IntentText      string
	IntentEmbedding []float32
	CapabilityID    string
}

// WorkflowState is the full resumable state of one workflow (spec.md §3).
// Monotonic: CurrentLayer never decreases except on an explicit
// resume-from-earlier-checkpoint.
type WorkflowState struct {
	WorkflowID          string
	Status              WorkflowStatus
	CurrentLayer        int
	TotalLayers         int
	Results             []TaskResult
	LatestCheckpointID  string
	Intent              string
	DAG                 DAG
	Learning            *LearningContext
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Decision records one branch taken during execution (spec.md §3's
// ExecutionTrace.decisions).
type Decision struct {
	Node       string
	Branch     string
	Confidence float64
}

// TraceTaskResult is the slimmed per-task record an ExecutionTrace keeps
// (spec.md §3: "{tool, layer_index, success}").
type TraceTaskResult struct {
	Tool       string
	LayerIndex int
	Success    bool
}

// ExecutionTrace is the record the Learner consumes to derive graph
// edges and, optionally, a replay-buffer training example (spec.md §3).
type ExecutionTrace struct {
	ID              string
	CapabilityID    string
	IntentText      string
	IntentEmbedding []float32
	Success         bool
	ExecutionTimeMS int64
	TaskResults     []TraceTaskResult
	ParentTraceID   string
	Decisions       []Decision
}

// TrainingExample is one replay-buffer entry (spec.md §3).
type TrainingExample struct {
	IntentEmbedding    []float32
	ContextTools       []string // at most 3, per spec.md §3
	CandidateCapability string
	Outcome            int // 0 or 1
	TDPriority         float64
}
