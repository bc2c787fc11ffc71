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

package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagforge/dagforge/pkg/dagmodel"
	"github.com/dagforge/dagforge/pkg/eventstream"
	"github.com/dagforge/dagforge/pkg/orchestrator"
	"github.com/dagforge/dagforge/pkg/ratelimit"
)

func newTestServer(repo *orchestrator.Repository) *Server {
	return &Server{
		Repo:      repo,
		OnExecute: func(*dagmodel.WorkflowState, *eventstream.Stream) {},
	}
}

func mustEvent() eventstream.Event {
	return eventstream.Event{Type: eventstream.EventTaskStarted, TaskID: "tool.build"}
}

func TestExecuteAndEventStreamRoundTrip(t *testing.T) {
	repo := orchestrator.New()
	srv := newTestServer(repo)
	router := srv.Router()

	body, _ := json.Marshal(executeRequest{Intent: "do the thing"})
	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var state dagmodel.WorkflowState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.NotEmpty(t, state.WorkflowID)

	stream, err := repo.Stream(state.WorkflowID)
	require.NoError(t, err)
	require.NoError(t, stream.Emit(context.Background(), mustEvent()))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	evReq := httptest.NewRequest(http.MethodGet, "/workflows/"+state.WorkflowID+"/events", nil).WithContext(ctx)
	evRec := httptest.NewRecorder()
	router.ServeHTTP(evRec, evReq)

	assert.Contains(t, evRec.Body.String(), "data:")
}

func TestHandleCommandSendsToStream(t *testing.T) {
	repo := orchestrator.New()
	srv := newTestServer(repo)
	router := srv.Router()

	state, _, err := repo.Create(orchestrator.CreateInput{Intent: "x"})
	require.NoError(t, err)

	body, _ := json.Marshal(commandRequest{WorkflowID: state.WorkflowID, Reason: "user stop"})
	req := httptest.NewRequest(http.MethodPost, "/abort", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)

	stream, err := repo.Stream(state.WorkflowID)
	require.NoError(t, err)
	select {
	case cmd := <-stream.Commands():
		assert.Equal(t, "user stop", cmd.Reason)
	default:
		t.Fatal("expected a command to be enqueued")
	}
}

func TestHandleCommandUnknownWorkflowReturnsNotFound(t *testing.T) {
	srv := newTestServer(orchestrator.New())
	router := srv.Router()

	body, _ := json.Marshal(commandRequest{WorkflowID: "missing"})
	req := httptest.NewRequest(http.MethodPost, "/continue", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecuteIsRateLimitedPerSession(t *testing.T) {
	limiter, err := ratelimit.NewRateLimiter(&ratelimit.Config{
		Enabled: true,
		Limits:  []ratelimit.LimitRule{{Type: ratelimit.LimitTypeCount, Window: ratelimit.WindowMinute, Limit: 1}},
	}, ratelimit.NewMemoryStore())
	require.NoError(t, err)

	srv := newTestServer(orchestrator.New())
	srv.Limiter = limiter
	router := srv.Router()

	body, _ := json.Marshal(executeRequest{Intent: "do the thing"})

	req1 := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body))
	req1.Header.Set("X-Session-ID", "session1")
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)
	assert.Equal(t, http.StatusAccepted, rec1.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body))
	req2.Header.Set("X-Session-ID", "session1")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	assert.Equal(t, http.StatusTooManyRequests, rec2.Code)

	req3 := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewReader(body))
	req3.Header.Set("X-Session-ID", "session2")
	rec3 := httptest.NewRecorder()
	router.ServeHTTP(rec3, req3)
	assert.Equal(t, http.StatusAccepted, rec3.Code, "a different session must have its own quota")
}
