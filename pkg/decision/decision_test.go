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

package decision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagforge/dagforge/pkg/dagmodel"
	"github.com/dagforge/dagforge/pkg/eventstream"
	"github.com/dagforge/dagforge/pkg/scheduler"
)

func TestRequiresAILOnErrorOrPolicy(t *testing.T) {
	s := &Strategy{}
	assert.False(t, s.RequiresAIL([]dagmodel.TaskResult{{Status: dagmodel.TaskSuccess}}))
	assert.True(t, s.RequiresAIL([]dagmodel.TaskResult{{Status: dagmodel.TaskError}}))

	always := &Strategy{Policy: Policy{PerLayerValidation: true}}
	assert.True(t, always.RequiresAIL([]dagmodel.TaskResult{{Status: dagmodel.TaskSuccess}}))
}

func TestRequiresHILWhenAnyTaskNeedsApproval(t *testing.T) {
	s := &Strategy{}
	assert.False(t, s.RequiresHIL([]dagmodel.Task{{ID: "a"}}))
	assert.True(t, s.RequiresHIL([]dagmodel.Task{{ID: "a"}, {ID: "b", RequiresApproval: true}}))
}

func TestAILTranslatesCommands(t *testing.T) {
	stream := eventstream.New("wf-1", 4)
	s := &Strategy{Stream: stream}

	go func() {
		_ = stream.Send(context.Background(), eventstream.Command{Type: eventstream.CommandReplan, CheckpointID: "chk-1", NewRequirement: "try again"})
	}()
	out, err := s.AIL(context.Background(), "chk-1")
	require.NoError(t, err)
	assert.Equal(t, scheduler.DecisionReplan, out.Action)
	assert.Equal(t, "try again", out.NewRequirement)
}

func TestHILReturnsApprovalAndFeedback(t *testing.T) {
	stream := eventstream.New("wf-1", 4)
	s := &Strategy{Stream: stream}

	go func() {
		_ = stream.Send(context.Background(), eventstream.Command{Type: eventstream.CommandApprovalResponse, CheckpointID: "chk-2", Approved: false, Feedback: "no"})
	}()
	approved, feedback, err := s.HIL(context.Background(), "chk-2")
	require.NoError(t, err)
	assert.False(t, approved)
	assert.Equal(t, "no", feedback)
}

func TestNullStrategyNeverPauses(t *testing.T) {
	var n NullStrategy
	assert.False(t, n.RequiresAIL([]dagmodel.TaskResult{{Status: dagmodel.TaskError}}))
	assert.False(t, n.RequiresHIL([]dagmodel.Task{{RequiresApproval: true}}))
}
