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

package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagforge/dagforge/pkg/eventstream"
)

func TestSuggestionTable(t *testing.T) {
	g := &Gate{}
	assert.Contains(t, g.Suggestion("net"), "http_get")
	assert.Equal(t, "disallowed", g.Suggestion("run"))
	assert.Equal(t, "disallowed", g.Suggestion("ffi"))
	assert.Equal(t, defaultSuggestion, g.Suggestion("unknown-op"))
}

func TestAwaitMatchesCheckpointID(t *testing.T) {
	stream := eventstream.New("wf-1", 4)
	g := &Gate{Stream: stream}

	go func() {
		_ = stream.Send(context.Background(), eventstream.Command{
			Type: eventstream.CommandPermissionEscalationResponse, CheckpointID: "chk-esc", Approved: true,
		})
	}()

	approved, err := g.Await(context.Background(), "chk-esc")
	require.NoError(t, err)
	assert.True(t, approved)
}
