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

package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagforge/dagforge/pkg/dagmodel"
	"github.com/dagforge/dagforge/pkg/store/memkv"
)

func sampleWorkflow(workflowID string, layer int) dagmodel.WorkflowState {
	return dagmodel.WorkflowState{
		WorkflowID:   workflowID,
		Status:       dagmodel.WorkflowRunning,
		CurrentLayer: layer,
		TotalLayers:  3,
		Results:      []dagmodel.TaskResult{},
		DAG:          dagmodel.DAG{WorkflowID: workflowID, Tasks: []dagmodel.Task{}},
	}
}

func TestSerializeRejectsMissingWorkflowID(t *testing.T) {
	st := NewState("", 0, sampleWorkflow("", 0))
	_, err := st.Serialize()
	assert.Error(t, err)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	st := NewState("wf-1", 2, sampleWorkflow("wf-1", 2)).WithPhase(PhasePostLayer)
	st.ID = "chk-1"

	data, err := st.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, st.ID, got.ID)
	assert.Equal(t, st.WorkflowID, got.WorkflowID)
	assert.Equal(t, st.Layer, got.Layer)
	assert.Equal(t, PhasePostLayer, got.Phase)
}

func TestIsExpired(t *testing.T) {
	st := NewState("wf-1", 0, sampleWorkflow("wf-1", 0))
	st.Timestamp = time.Now().Add(-2 * time.Hour)
	assert.True(t, st.IsExpired(time.Hour))
	assert.False(t, st.IsExpired(3*time.Hour))
}

func TestIsRecoverableFalseForEmptyErrorCheckpoint(t *testing.T) {
	st := NewState("wf-1", 0, sampleWorkflow("wf-1", 0)).WithError(assertErr("boom"))
	assert.False(t, st.IsRecoverable())

	withResults := sampleWorkflow("wf-1", 1)
	withResults.Results = []dagmodel.TaskResult{{TaskID: "t1", Status: dagmodel.TaskSuccess}}
	st2 := NewState("wf-1", 1, withResults).WithError(assertErr("boom"))
	assert.True(t, st2.IsRecoverable())
}

func TestNeedsUserInput(t *testing.T) {
	st := NewState("wf-1", 0, sampleWorkflow("wf-1", 0)).WithPhase(PhaseAwaitingApproval)
	assert.True(t, st.NeedsUserInput())

	st2 := NewState("wf-1", 0, sampleWorkflow("wf-1", 0)).WithPhase(PhasePostLayer)
	assert.False(t, st2.NeedsUserInput())
}

func TestStoreSaveSyncLoadLatestPrune(t *testing.T) {
	ctx := context.Background()
	kv := memkv.New()
	s := NewStore(kv)

	var ids []string
	for i := 0; i < 7; i++ {
		st := NewState("wf-1", i, sampleWorkflow("wf-1", i))
		st.Timestamp = time.Now().Add(time.Duration(i) * time.Second)
		id, err := s.SaveSync(ctx, st)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	loaded, err := s.Load(ctx, "wf-1", ids[0])
	require.NoError(t, err)
	assert.Equal(t, ids[0], loaded.ID)

	latest, err := s.Latest(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, ids[len(ids)-1], latest.ID)

	deleted, err := s.Prune(ctx, "wf-1", 5, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = s.Load(ctx, "wf-1", ids[0])
	assert.NoError(t, err, "protected checkpoint must survive prune")

	remaining, err := s.list(ctx, "wf-1")
	require.NoError(t, err)
	assert.Len(t, remaining, 6)
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	s := NewStore(memkv.New())
	_, err := s.Load(context.Background(), "wf-1", "missing")
	assert.True(t, IsNotFound(err))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
