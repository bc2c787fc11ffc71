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

package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagforge/dagforge/pkg/dagmodel"
)

func TestCreateAssignsUUIDAndInitialState(t *testing.T) {
	repo := New()
	state, stream, err := repo.Create(CreateInput{Intent: "do the thing"})
	require.NoError(t, err)
	assert.NotEmpty(t, state.WorkflowID)
	assert.Equal(t, dagmodel.WorkflowCreated, state.Status)
	assert.NotNil(t, stream)
}

func TestGetReturnsDefensiveCopy(t *testing.T) {
	repo := New()
	state, _, err := repo.Create(CreateInput{Intent: "x"})
	require.NoError(t, err)

	got, err := repo.Get(state.WorkflowID)
	require.NoError(t, err)
	got.Status = dagmodel.WorkflowCompleted

	reGot, err := repo.Get(state.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, dagmodel.WorkflowCreated, reGot.Status, "mutating a Get() result must not affect stored state")
}

func TestUpdateAppliesPatch(t *testing.T) {
	repo := New()
	state, _, err := repo.Create(CreateInput{Intent: "x"})
	require.NoError(t, err)

	updated, err := repo.Update(state.WorkflowID, func(s *dagmodel.WorkflowState) {
		s.Status = dagmodel.WorkflowRunning
		s.CurrentLayer = 1
	})
	require.NoError(t, err)
	assert.Equal(t, dagmodel.WorkflowRunning, updated.Status)
	assert.Equal(t, 1, updated.CurrentLayer)
}

func TestDeleteCancelsSchedulerAndRemovesEntry(t *testing.T) {
	repo := New()
	state, _, err := repo.Create(CreateInput{Intent: "x"})
	require.NoError(t, err)

	canceled := false
	require.NoError(t, repo.Attach(state.WorkflowID, func() { canceled = true }))
	require.NoError(t, repo.Delete(state.WorkflowID))
	assert.True(t, canceled)

	_, err = repo.Get(state.WorkflowID)
	assert.Error(t, err)
}

func TestListActiveExcludesTerminalStates(t *testing.T) {
	repo := New()
	running, _, _ := repo.Create(CreateInput{Intent: "running"})
	_, _ = repo.Update(running.WorkflowID, func(s *dagmodel.WorkflowState) { s.Status = dagmodel.WorkflowRunning })

	done, _, _ := repo.Create(CreateInput{Intent: "done"})
	_, _ = repo.Update(done.WorkflowID, func(s *dagmodel.WorkflowState) { s.Status = dagmodel.WorkflowCompleted })

	active := repo.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, running.WorkflowID, active[0].WorkflowID)
}

func TestListAwaitingApproval(t *testing.T) {
	repo := New()
	waiting, _, _ := repo.Create(CreateInput{Intent: "waiting"})
	_, _ = repo.Update(waiting.WorkflowID, func(s *dagmodel.WorkflowState) { s.Status = dagmodel.WorkflowAwaitingApproval })

	_, _, _ = repo.Create(CreateInput{Intent: "other"})

	list := repo.ListAwaitingApproval()
	require.Len(t, list, 1)
	assert.Equal(t, waiting.WorkflowID, list[0].WorkflowID)
}
