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

package eventstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitStampsWorkflowIDAndTimestamp(t *testing.T) {
	s := New("wf-1", 4)
	err := s.Emit(context.Background(), Event{Type: EventDAGStarted})
	require.NoError(t, err)

	ev := <-s.Events()
	assert.Equal(t, "wf-1", ev.WorkflowID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestEmitRespectsContextCancellationWhenFull(t *testing.T) {
	s := New("wf-1", 1)
	require.NoError(t, s.Emit(context.Background(), Event{Type: EventTaskStarted}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Emit(ctx, Event{Type: EventTaskCompleted})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitForApprovalMatchesCheckpointID(t *testing.T) {
	s := New("wf-1", 4)

	go func() {
		_ = s.Send(context.Background(), Command{Type: CommandContinue, CheckpointID: "other"})
		_ = s.Send(context.Background(), Command{Type: CommandApprovalResponse, CheckpointID: "chk-1", Approved: true})
	}()

	cmd, err := s.WaitForApproval(context.Background(), "chk-1")
	require.NoError(t, err)
	assert.Equal(t, CommandApprovalResponse, cmd.Type)
	assert.True(t, cmd.Approved)
}

func TestWaitForApprovalReturnsOnContextCancel(t *testing.T) {
	s := New("wf-1", 4)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.WaitForApproval(ctx, "chk-missing")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
