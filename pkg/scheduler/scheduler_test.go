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

package scheduler

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/dagforge/dagforge/pkg/dagmodel"
	"github.com/dagforge/dagforge/pkg/observability"
	"github.com/dagforge/dagforge/pkg/orcherrors"
	"github.com/dagforge/dagforge/pkg/toolexec"
)

func TestComputeLayersLongestPath(t *testing.T) {
	dag := dagmodel.DAG{
		WorkflowID: "wf-1",
		Tasks: []dagmodel.Task{
			{ID: "a"},
			{ID: "b", DependsOn: []string{"a"}},
			{ID: "c", DependsOn: []string{"a"}},
			{ID: "d", DependsOn: []string{"b", "c"}},
		},
	}
	layers, err := ComputeLayers(dag)
	require.NoError(t, err)
	require.Len(t, layers, 3)
	assert.Len(t, layers[0], 1)
	assert.Len(t, layers[1], 2)
	assert.Len(t, layers[2], 1)
	assert.Equal(t, "d", layers[2][0].ID)
}

func TestComputeLayersDetectsCycle(t *testing.T) {
	dag := dagmodel.DAG{
		WorkflowID: "wf-cycle",
		Tasks: []dagmodel.Task{
			{ID: "a", DependsOn: []string{"b"}},
			{ID: "b", DependsOn: []string{"a"}},
		},
	}
	_, err := ComputeLayers(dag)
	assert.Error(t, err)
}

type fakeExecutor struct {
	calls int
	fail  map[string]error
}

func (f *fakeExecutor) Execute(_ context.Context, inv toolexec.Invocation) (toolexec.Output, error) {
	f.calls++
	if err, ok := f.fail[inv.TaskID]; ok {
		return toolexec.Output{}, err
	}
	return toolexec.Output{Result: "ok:" + inv.TaskID}, nil
}

func simpleDAG() dagmodel.DAG {
	return dagmodel.DAG{
		WorkflowID: "wf-1",
		Tasks: []dagmodel.Task{
			{ID: "t1", CallName: "tool.a"},
			{ID: "t2", CallName: "tool.b", DependsOn: []string{"t1"}},
		},
	}
}

func drain(t *testing.T, s *Scheduler, wf *dagmodel.WorkflowState) error {
	t.Helper()
	var runErr error
	for _, err := range s.Run(context.Background(), wf) {
		if err != nil {
			runErr = err
		}
	}
	return runErr
}

func TestRunCompletesWorkflowOnSuccess(t *testing.T) {
	wf := &dagmodel.WorkflowState{WorkflowID: "wf-1", Status: dagmodel.WorkflowCreated, DAG: simpleDAG()}
	s := &Scheduler{Executor: &fakeExecutor{}}

	err := drain(t, s, wf)
	require.NoError(t, err)
	assert.Equal(t, dagmodel.WorkflowCompleted, wf.Status)
	assert.Len(t, wf.Results, 2)
}

func TestRunFailStopAbortsOnTaskError(t *testing.T) {
	dag := simpleDAG()
	dag.Tasks[0].FailurePolicy = dagmodel.FailStop
	wf := &dagmodel.WorkflowState{WorkflowID: "wf-1", Status: dagmodel.WorkflowCreated, DAG: dag}
	exec := &fakeExecutor{fail: map[string]error{"t1": assertErr("boom")}}
	s := &Scheduler{Executor: exec}

	err := drain(t, s, wf)
	require.NoError(t, err)
	assert.Equal(t, dagmodel.WorkflowFailed, wf.Status)
	assert.Len(t, wf.Results, 1, "second layer must not run after fail_stop")
}

func TestRunFailSafeContinues(t *testing.T) {
	dag := simpleDAG()
	dag.Tasks[0].FailurePolicy = dagmodel.FailSafe
	wf := &dagmodel.WorkflowState{WorkflowID: "wf-1", Status: dagmodel.WorkflowCreated, DAG: dag}
	exec := &fakeExecutor{fail: map[string]error{"t1": assertErr("boom")}}
	s := &Scheduler{Executor: exec}

	err := drain(t, s, wf)
	require.NoError(t, err)
	assert.Equal(t, dagmodel.WorkflowCompleted, wf.Status)
	assert.Len(t, wf.Results, 2)
}

func TestRunFailStopExcusedByGuard(t *testing.T) {
	dag := simpleDAG()
	dag.Tasks[0].FailurePolicy = dagmodel.FailStop
	dag.Tasks[0].FailSafeGuard = `error contains "boom"`
	wf := &dagmodel.WorkflowState{WorkflowID: "wf-1", Status: dagmodel.WorkflowCreated, DAG: dag}
	exec := &fakeExecutor{fail: map[string]error{"t1": assertErr("boom")}}
	s := &Scheduler{Executor: exec}

	err := drain(t, s, wf)
	require.NoError(t, err)
	assert.Equal(t, dagmodel.WorkflowCompleted, wf.Status, "a matching guard excuses the fail_stop error")
	assert.Len(t, wf.Results, 2)
}

func TestRunFailStopGuardMismatchStillStops(t *testing.T) {
	dag := simpleDAG()
	dag.Tasks[0].FailurePolicy = dagmodel.FailStop
	dag.Tasks[0].FailSafeGuard = `error contains "not found"`
	wf := &dagmodel.WorkflowState{WorkflowID: "wf-1", Status: dagmodel.WorkflowCreated, DAG: dag}
	exec := &fakeExecutor{fail: map[string]error{"t1": assertErr("boom")}}
	s := &Scheduler{Executor: exec}

	err := drain(t, s, wf)
	require.NoError(t, err)
	assert.Equal(t, dagmodel.WorkflowFailed, wf.Status)
	assert.Len(t, wf.Results, 1)
}

type fakePermission struct {
	approve bool
}

func (p *fakePermission) Suggestion(op string) string {
	if op == "net" {
		return "use primitives:http_get"
	}
	return "consider an authorized tool."
}

func (p *fakePermission) Await(_ context.Context, _ string) (bool, error) {
	return p.approve, nil
}

func TestRunResolvesApprovedPermissionEscalation(t *testing.T) {
	dag := dagmodel.DAG{WorkflowID: "wf-1", Tasks: []dagmodel.Task{{ID: "t1", CallName: "tool.a"}}}
	wf := &dagmodel.WorkflowState{WorkflowID: "wf-1", Status: dagmodel.WorkflowCreated, DAG: dag}

	calls := 0
	exec := toolexec.ExecutorFunc(func(_ context.Context, inv toolexec.Invocation) (toolexec.Output, error) {
		calls++
		if calls == 1 {
			return toolexec.Output{}, &orcherrors.PermissionEscalationNeeded{CurrentSet: "minimal", RequestedSet: "network-api", DetectedOp: "net"}
		}
		return toolexec.Output{Result: "escalated-ok"}, nil
	})

	s := &Scheduler{Executor: exec, Permission: &fakePermission{approve: true}}
	err := drain(t, s, wf)
	require.NoError(t, err)
	assert.Equal(t, dagmodel.WorkflowCompleted, wf.Status)
	require.Len(t, wf.Results, 1)
	assert.Equal(t, dagmodel.TaskSuccess, wf.Results[0].Status)
	assert.Equal(t, 2, calls, "escalated task must be re-executed once approved")
}

func TestRunRejectsPermissionEscalation(t *testing.T) {
	dag := dagmodel.DAG{WorkflowID: "wf-1", Tasks: []dagmodel.Task{{ID: "t1", CallName: "tool.a"}}}
	wf := &dagmodel.WorkflowState{WorkflowID: "wf-1", Status: dagmodel.WorkflowCreated, DAG: dag}

	exec := toolexec.ExecutorFunc(func(_ context.Context, inv toolexec.Invocation) (toolexec.Output, error) {
		return toolexec.Output{}, &orcherrors.PermissionEscalationNeeded{CurrentSet: "minimal", RequestedSet: "network-api", DetectedOp: "net"}
	})

	s := &Scheduler{Executor: exec, Permission: &fakePermission{approve: false}}
	err := drain(t, s, wf)
	require.NoError(t, err)
	require.Len(t, wf.Results, 1)
	assert.Equal(t, dagmodel.TaskError, wf.Results[0].Status)
}

func TestRunRecordsMetricsAndSpansWithoutChangingOutcome(t *testing.T) {
	wf := &dagmodel.WorkflowState{WorkflowID: "wf-1", Status: dagmodel.WorkflowCreated, DAG: simpleDAG()}
	metrics := observability.NewMetrics("dagforge_scheduler_test")
	s := &Scheduler{
		Executor: &fakeExecutor{},
		Tracer:   noop.NewTracerProvider().Tracer("test"),
		Metrics:  metrics,
	}

	err := drain(t, s, wf)
	require.NoError(t, err)
	assert.Equal(t, dagmodel.WorkflowCompleted, wf.Status)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `dagforge_scheduler_test_scheduler_tasks_total{status="success"} 2`)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
