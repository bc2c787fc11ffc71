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

// Package scheduler implements LayerScheduler (spec.md §4.8): computes
// DAG layers once via Kahn's algorithm, runs each layer's tasks
// concurrently with a generator exactly like the teacher's
// pkg/agent/workflowagent parallel runner (errgroup.WithContext, a
// fan-in results channel, iter.Seq2 yield loop), and drives the AIL/HIL
// decision gates and deferred permission escalation between layers.
package scheduler

import (
	"context"
	"fmt"
	"iter"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/dagforge/dagforge/pkg/dagmodel"
	"github.com/dagforge/dagforge/pkg/eventstream"
	"github.com/dagforge/dagforge/pkg/logger"
	"github.com/dagforge/dagforge/pkg/observability"
	"github.com/dagforge/dagforge/pkg/orcherrors"
	"github.com/dagforge/dagforge/pkg/toolexec"
)

// DefaultTaskTimeout is the per-task execution budget applied when
// Scheduler.TaskTimeout is zero (spec.md §4.8).
const DefaultTaskTimeout = 30 * time.Second

// DecisionAction is DecisionPort.AIL's response classification.
type DecisionAction string

const (
	DecisionContinue DecisionAction = "continue"
	DecisionReplan   DecisionAction = "replan"
	DecisionAbort    DecisionAction = "abort"
)

// DecisionOutcome is what a DecisionPort.AIL wait resolves to.
type DecisionOutcome struct {
	Action         DecisionAction
	NewRequirement string
	Reason         string
}

// DecisionPort is the AIL/HIL gate contract (spec.md §4.9), implemented
// by pkg/decision. Defined here, consumer-side, so pkg/scheduler never
// imports pkg/decision.
type DecisionPort interface {
	// RequiresAIL reports whether the just-completed layer's results
	// warrant an agent-in-loop inspection pause.
	RequiresAIL(results []dagmodel.TaskResult) bool
	// AIL emits a decision_required event (already on stream) tagged
	// with checkpointID and blocks for the matching response.
	AIL(ctx context.Context, checkpointID string) (DecisionOutcome, error)
	// RequiresHIL reports whether any task in the upcoming layer needs
	// explicit human approval before it runs.
	RequiresHIL(tasks []dagmodel.Task) bool
	// HIL blocks for the approval response matching checkpointID.
	HIL(ctx context.Context, checkpointID string) (approved bool, feedback string, err error)
}

// PermissionPort is the deferred-escalation contract (spec.md §4.10),
// implemented by pkg/permission.
type PermissionPort interface {
	// Suggestion returns the fixed-table remediation hint for a
	// detected operation (e.g. "net" -> "use primitives:http_get").
	Suggestion(detectedOp string) string
	// Await blocks for the permission_escalation_response matching
	// checkpointID.
	Await(ctx context.Context, checkpointID string) (approved bool, err error)
}

// Replanner invokes the Suggester with an updated requirement on an
// AIL "replan" response (spec.md §4.9). Optional: a nil Replanner
// treats "replan" the same as "continue" with a warning logged.
type Replanner interface {
	Replan(ctx context.Context, requirement string) (*dagmodel.DAG, error)
}

// Scheduler executes one workflow's DAG layer by layer.
type Scheduler struct {
	Executor   toolexec.Executor
	Decision   DecisionPort
	Permission PermissionPort
	Replanner  Replanner
	Stream     *eventstream.Stream

	// TaskTimeout overrides DefaultTaskTimeout when non-zero.
	TaskTimeout time.Duration

	// Checkpoint, if non-nil, is invoked after every settled layer;
	// the scheduler does not depend on pkg/checkpoint directly so
	// tests can run without a store.KV backend wired up.
	Checkpoint func(ctx context.Context, wf *dagmodel.WorkflowState) (checkpointID string, err error)

	// Tracer, if non-nil, wraps each layer and task execution in an
	// OTel span ("dagforge.layer", "dagforge.task.execute"). A nil
	// Tracer runs with zero tracing overhead.
	Tracer trace.Tracer

	// Metrics, if non-nil, records task/layer counters and
	// histograms. A nil Metrics is a no-op (observability.Metrics'
	// methods all nil-guard).
	Metrics *observability.Metrics
}

func (s *Scheduler) tracer() trace.Tracer {
	if s.Tracer != nil {
		return s.Tracer
	}
	return noop.NewTracerProvider().Tracer("dagforge/scheduler")
}

func (s *Scheduler) taskTimeout() time.Duration {
	if s.TaskTimeout > 0 {
		return s.TaskTimeout
	}
	return DefaultTaskTimeout
}

// taskOutcome is one task's settled result, paired with its original
// layer index for splicing re-executed (escalation-approved) results
// back into place.
type taskOutcome struct {
	index  int
	result dagmodel.TaskResult
	escalation *orcherrors.PermissionEscalationNeeded
}

// Run drives wf's DAG to completion (or abort, or awaiting_approval),
// yielding every EventStream event as it's produced and also emitting
// it on s.Stream for external transports. Resumes from
// wf.CurrentLayer, so a WorkflowState loaded from a checkpoint picks up
// mid-DAG rather than re-running completed layers.
func (s *Scheduler) Run(ctx context.Context, wf *dagmodel.WorkflowState) iter.Seq2[eventstream.Event, error] {
	return func(yield func(eventstream.Event, error) bool) {
		layers, err := ComputeLayers(wf.DAG)
		if err != nil {
			yield(eventstream.Event{}, err)
			return
		}
		wf.TotalLayers = len(layers)

		emit := func(ev eventstream.Event) bool {
			if s.Stream != nil {
				_ = s.Stream.Emit(ctx, ev)
			}
			return yield(ev, nil)
		}

		if wf.Status == dagmodel.WorkflowCreated {
			wf.Status = dagmodel.WorkflowRunning
			if !emit(eventstream.Event{Type: eventstream.EventDAGStarted, WorkflowID: wf.WorkflowID}) {
				return
			}
		}

		for layerIdx := wf.CurrentLayer; layerIdx < len(layers); layerIdx++ {
			if s.abortRequested() {
				wf.Status = dagmodel.WorkflowAborted
				emit(eventstream.Event{Type: eventstream.EventWorkflowAborted, WorkflowID: wf.WorkflowID, Reason: "aborted before layer start"})
				return
			}

			tasks := layers[layerIdx]

			if s.Decision != nil && s.Decision.RequiresHIL(tasks) {
				checkpointID := s.checkpointNow(ctx, wf)
				wf.Status = dagmodel.WorkflowAwaitingApproval
				if !emit(eventstream.Event{Type: eventstream.EventDecisionRequired, WorkflowID: wf.WorkflowID, CheckpointID: checkpointID, LayerIndex: layerIdx}) {
					return
				}
				approved, feedback, err := s.Decision.HIL(ctx, checkpointID)
				if err != nil {
					yield(eventstream.Event{}, err)
					return
				}
				if !approved {
					wf.Status = dagmodel.WorkflowAborted
					emit(eventstream.Event{Type: eventstream.EventWorkflowAborted, WorkflowID: wf.WorkflowID, Reason: feedback})
					return
				}
				wf.Status = dagmodel.WorkflowRunning
			}

			outcomes, aborted := s.runLayer(ctx, wf, layerIdx, tasks, emit)
			if aborted {
				return
			}

			outcomes = s.resolveEscalations(ctx, wf, layerIdx, tasks, outcomes, emit)

			stopped := false
			for _, oc := range outcomes {
				wf.Results = append(wf.Results, oc.result)
				if oc.result.Status == dagmodel.TaskError {
					task := tasks[oc.index]
					if task.FailurePolicy != dagmodel.FailSafe {
						excused, guardErr := sharedGuardCache.evalFailSafeGuard(task.FailSafeGuard, oc.result)
						if guardErr != nil {
							logger.Get().Warn("dagforge: fail_safe guard evaluation failed", "task_id", task.ID, "error", guardErr)
						}
						if !excused {
							stopped = true
						}
					}
				}
			}

			if !emit(eventstream.Event{Type: eventstream.EventLayerCompleted, WorkflowID: wf.WorkflowID, LayerIndex: layerIdx}) {
				return
			}

			if stopped {
				wf.Status = dagmodel.WorkflowFailed
				emit(eventstream.Event{Type: eventstream.EventWorkflowAborted, WorkflowID: wf.WorkflowID, Reason: "fail_stop task error"})
				return
			}

			wf.CurrentLayer = layerIdx + 1
			checkpointID := s.checkpointNow(ctx, wf)
			if checkpointID != "" {
				if !emit(eventstream.Event{Type: eventstream.EventCheckpointSaved, WorkflowID: wf.WorkflowID, CheckpointID: checkpointID, LayerIndex: layerIdx}) {
					return
				}
			}

			if s.Decision != nil && s.Decision.RequiresAIL(wf.Results) {
				outcome, err := s.runAIL(ctx, wf, layerIdx, checkpointID, emit)
				if err != nil {
					yield(eventstream.Event{}, err)
					return
				}
				switch outcome.Action {
				case DecisionAbort:
					wf.Status = dagmodel.WorkflowAborted
					emit(eventstream.Event{Type: eventstream.EventWorkflowAborted, WorkflowID: wf.WorkflowID, Reason: outcome.Reason})
					return
				case DecisionReplan:
					if !s.replan(ctx, wf, outcome.NewRequirement) {
						emit(eventstream.Event{Type: eventstream.EventWorkflowAborted, WorkflowID: wf.WorkflowID, Reason: "replan failed"})
						wf.Status = dagmodel.WorkflowFailed
						return
					}
					newLayers, err := ComputeLayers(wf.DAG)
					if err != nil {
						yield(eventstream.Event{}, err)
						return
					}
					layers = newLayers
					wf.TotalLayers = len(layers)
				}
			}
		}

		wf.Status = dagmodel.WorkflowCompleted
		emit(eventstream.Event{Type: eventstream.EventWorkflowCompleted, WorkflowID: wf.WorkflowID})
	}
}

// abortRequested does a non-blocking check of the CommandQueue for a
// pending abort command, implementing spec.md §4.8's cooperative abort
// ("in-flight tasks are allowed to finish but subsequent layers are not
// started").
func (s *Scheduler) abortRequested() bool {
	if s.Stream == nil {
		return false
	}
	select {
	case cmd, ok := <-s.Stream.Commands():
		if ok && cmd.Type == eventstream.CommandAbort {
			return true
		}
		return false
	default:
		return false
	}
}

func (s *Scheduler) checkpointNow(ctx context.Context, wf *dagmodel.WorkflowState) string {
	if s.Checkpoint == nil {
		return ""
	}
	id, err := s.Checkpoint(ctx, wf)
	if err != nil {
		logger.Get().Warn("scheduler checkpoint failed", "workflow_id", wf.WorkflowID, "error", err)
		return ""
	}
	wf.LatestCheckpointID = id
	return id
}

func (s *Scheduler) runAIL(ctx context.Context, wf *dagmodel.WorkflowState, layerIdx int, checkpointID string, emit func(eventstream.Event) bool) (DecisionOutcome, error) {
	if checkpointID == "" {
		checkpointID = s.checkpointNow(ctx, wf)
	}
	emit(eventstream.Event{Type: eventstream.EventDecisionRequired, WorkflowID: wf.WorkflowID, CheckpointID: checkpointID, LayerIndex: layerIdx})
	return s.Decision.AIL(ctx, checkpointID)
}

func (s *Scheduler) replan(ctx context.Context, wf *dagmodel.WorkflowState, requirement string) bool {
	if s.Replanner == nil {
		logger.Get().Warn("scheduler: replan requested with no Replanner configured, continuing", "workflow_id", wf.WorkflowID)
		return true
	}
	newDAG, err := s.Replanner.Replan(ctx, requirement)
	if err != nil {
		logger.Get().Warn("scheduler: replan failed", "workflow_id", wf.WorkflowID, "error", err)
		return false
	}
	// Preserve completed tasks, append the newly suggested ones
	// (spec.md §4.9: "previously completed layers are preserved").
	existing := make(map[string]bool, len(wf.DAG.Tasks))
	for _, t := range wf.DAG.Tasks {
		existing[t.ID] = true
	}
	for _, t := range newDAG.Tasks {
		if !existing[t.ID] {
			wf.DAG.Tasks = append(wf.DAG.Tasks, t)
		}
	}
	return true
}

// runLayer executes tasks concurrently, grounded on the teacher's
// workflowagent.runParallel: an errgroup fans work out, a results
// channel fans completions back in, and a generator yields each
// completion as it settles rather than waiting for the whole layer.
func (s *Scheduler) runLayer(ctx context.Context, wf *dagmodel.WorkflowState, layerIdx int, tasks []dagmodel.Task, emit func(eventstream.Event) bool) ([]taskOutcome, bool) {
	layerCtx, layerSpan := s.tracer().Start(ctx, "dagforge.layer", trace.WithAttributes(
		attribute.String("dagforge.workflow_id", wf.WorkflowID),
		attribute.Int("dagforge.layer_index", layerIdx),
		attribute.Int("dagforge.task_count", len(tasks)),
	))
	layerStart := time.Now()
	defer func() {
		s.Metrics.RecordLayer(time.Since(layerStart))
		layerSpan.End()
	}()

	type settled struct {
		outcome taskOutcome
	}

	resultsChan := make(chan settled, len(tasks))
	group, groupCtx := errgroup.WithContext(layerCtx)

	for i, t := range tasks {
		i, t := i, t
		group.Go(func() error {
			emit(eventstream.Event{Type: eventstream.EventTaskStarted, WorkflowID: wf.WorkflowID, TaskID: t.ID, LayerIndex: layerIdx})

			taskCtx, taskSpan := s.tracer().Start(groupCtx, "dagforge.task.execute", trace.WithAttributes(
				attribute.String("dagforge.task_id", t.ID),
				attribute.String("dagforge.call_name", t.CallName),
			))
			taskCtx, cancel := context.WithTimeout(taskCtx, s.taskTimeout())
			defer cancel()
			defer taskSpan.End()

			start := time.Now()
			out, err := s.Executor.Execute(taskCtx, toolexec.Invocation{
				TaskID:   t.ID,
				CallName: t.CallName,
				Input:    t.Input,
			})
			elapsed := time.Since(start).Milliseconds()

			if pe, ok := orcherrors.AsPermissionEscalation(err); ok {
				taskSpan.SetStatus(codes.Error, pe.Error())
				s.Metrics.RecordEscalation()
				s.Metrics.RecordTask("escalation", time.Since(start))
				resultsChan <- settled{outcome: taskOutcome{
					index:      i,
					escalation: pe,
					result: dagmodel.TaskResult{
						TaskID: t.ID, Status: dagmodel.TaskError,
						ErrorMessage: pe.Error(), ExecutionTimeMS: elapsed, LayerIndex: layerIdx,
					},
				}}
				return nil
			}

			if err != nil {
				taskSpan.SetStatus(codes.Error, err.Error())
				s.Metrics.RecordTask("error", time.Since(start))
				result := dagmodel.TaskResult{
					TaskID: t.ID, Status: dagmodel.TaskError,
					ErrorMessage: err.Error(), ExecutionTimeMS: elapsed, LayerIndex: layerIdx,
				}
				resultsChan <- settled{outcome: taskOutcome{index: i, result: result}}
				return nil
			}

			s.Metrics.RecordTask("success", time.Since(start))
			resultsChan <- settled{outcome: taskOutcome{index: i, result: dagmodel.TaskResult{
				TaskID: t.ID, Status: dagmodel.TaskSuccess,
				Output: out.Result, ExecutionTimeMS: elapsed, LayerIndex: layerIdx,
			}}}
			return nil
		})
	}

	go func() {
		_ = group.Wait()
		close(resultsChan)
	}()

	outcomes := make([]taskOutcome, len(tasks))
	for res := range resultsChan {
		oc := res.outcome
		outcomes[oc.index] = oc
		evType := eventstream.EventTaskCompleted
		if oc.result.Status != dagmodel.TaskSuccess {
			evType = eventstream.EventTaskFailed
		}
		if !emit(eventstream.Event{
			Type: evType, WorkflowID: wf.WorkflowID, TaskID: oc.result.TaskID,
			LayerIndex: layerIdx, Error: oc.result.ErrorMessage,
		}) {
			return outcomes, true
		}
	}
	return outcomes, false
}

// resolveEscalations implements spec.md §4.10's deferred escalation
// two-phase pass: a prepare phase that yields a decision_required per
// escalated task (never blocking inside the join), followed by a
// process phase that awaits each response and re-executes approved
// tasks, splicing the new result back into outcomes at its original
// index.
func (s *Scheduler) resolveEscalations(ctx context.Context, wf *dagmodel.WorkflowState, layerIdx int, tasks []dagmodel.Task, outcomes []taskOutcome, emit func(eventstream.Event) bool) []taskOutcome {
	if s.Permission == nil {
		return outcomes
	}

	type pending struct {
		idx          int
		checkpointID string
	}
	var prepared []pending

	for i, oc := range outcomes {
		if oc.escalation == nil {
			continue
		}
		checkpointID := fmt.Sprintf("%s-escalation-%d-%d", wf.WorkflowID, layerIdx, i)
		suggestion := s.Permission.Suggestion(oc.escalation.DetectedOp)
		emit(eventstream.Event{
			Type: eventstream.EventDecisionRequired, WorkflowID: wf.WorkflowID,
			TaskID: tasks[i].ID, LayerIndex: layerIdx, CheckpointID: checkpointID,
			Payload: suggestion,
		})
		prepared = append(prepared, pending{idx: i, checkpointID: checkpointID})
	}

	for _, p := range prepared {
		approved, err := s.Permission.Await(ctx, p.checkpointID)
		if err != nil || !approved {
			outcomes[p.idx].result.Status = dagmodel.TaskError
			outcomes[p.idx].result.ErrorMessage = "permission escalation rejected"
			continue
		}

		t := tasks[p.idx]
		out, err := s.Executor.Execute(ctx, toolexec.Invocation{
			TaskID:   t.ID,
			CallName: t.CallName,
			Input:    t.Input,
			Sandbox:  toolexec.SandboxConfig{PermissionSet: toolexec.PermissionSet(outcomes[p.idx].escalation.RequestedSet)},
		})
		if err != nil {
			outcomes[p.idx].result.Status = dagmodel.TaskError
			outcomes[p.idx].result.ErrorMessage = err.Error()
			continue
		}
		outcomes[p.idx].result.Status = dagmodel.TaskSuccess
		outcomes[p.idx].result.Output = out.Result
		outcomes[p.idx].result.ErrorMessage = ""
	}

	return outcomes
}
