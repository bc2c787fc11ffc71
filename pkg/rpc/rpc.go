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

// Package rpc is a thin, optional go-chi HTTP binding for the Control
// RPC surface (spec.md §6): execute/continue/abort/replan/
// approval_response/permission_escalation_response as JSON POST
// handlers, plus an SSE endpoint streaming a workflow's
// eventstream.Event feed. Transport is explicitly out of scope for the
// orchestrator core (spec.md §1 Non-goals); this package exists purely
// to give the corpus's go-chi dependency a concrete caller the way the
// teacher's pkg/server does, and is never imported by pkg/scheduler or
// any other core package.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dagforge/dagforge/pkg/dagmodel"
	"github.com/dagforge/dagforge/pkg/eventstream"
	"github.com/dagforge/dagforge/pkg/orchestrator"
	"github.com/dagforge/dagforge/pkg/ratelimit"
)

// Server wires the Control RPC surface to a WorkflowRepository. Workflow
// execution itself (the scheduler run loop) is started by the caller
// via OnExecute, keeping this package decoupled from pkg/scheduler.
type Server struct {
	Repo *orchestrator.Repository

	// OnExecute is invoked after a workflow is created, so the caller
	// can launch its own scheduler.Run goroutine against the returned
	// state and stream. Required.
	OnExecute func(state *dagmodel.WorkflowState, stream *eventstream.Stream)

	// Limiter, if set, rate-limits POST /execute by caller identity
	// (X-Session-ID/X-User-ID header, falling back to remote address).
	// Every other RPC method targets an already-created workflow and
	// is left unlimited.
	Limiter ratelimit.RateLimiter
}

// Router builds the chi router for the Control RPC surface.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.With(ratelimit.SimpleMiddleware(s.Limiter)).Post("/execute", s.handleExecute)
	r.Post("/continue", s.handleCommand(eventstream.CommandContinue))
	r.Post("/abort", s.handleCommand(eventstream.CommandAbort))
	r.Post("/replan", s.handleCommand(eventstream.CommandReplan))
	r.Post("/approval_response", s.handleCommand(eventstream.CommandApprovalResponse))
	r.Post("/permission_escalation_response", s.handleCommand(eventstream.CommandPermissionEscalationResponse))
	r.Get("/workflows/{workflowID}/events", s.handleEvents)

	return r
}

type executeRequest struct {
	Intent string        `json:"intent,omitempty"`
	DAG    *dagmodel.DAG `json:"workflow,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var dag dagmodel.DAG
	if req.DAG != nil {
		dag = *req.DAG
	}

	state, stream, err := s.Repo.Create(orchestrator.CreateInput{Intent: req.Intent, DAG: dag})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if s.OnExecute != nil {
		s.OnExecute(state, stream)
	}

	writeJSON(w, http.StatusAccepted, state)
}

type commandRequest struct {
	WorkflowID       string         `json:"workflow_id"`
	Reason           string         `json:"reason,omitempty"`
	NewRequirement   string         `json:"new_requirement,omitempty"`
	CheckpointID     string         `json:"checkpoint_id,omitempty"`
	Approved         bool           `json:"approved,omitempty"`
	Feedback         string         `json:"feedback,omitempty"`
	AvailableContext map[string]any `json:"available_context,omitempty"`
}

func (s *Server) handleCommand(cmdType eventstream.CommandType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req commandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		stream, err := s.Repo.Stream(req.WorkflowID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		cmd := eventstream.Command{
			Type:           cmdType,
			CheckpointID:   req.CheckpointID,
			Reason:         req.Reason,
			NewRequirement: req.NewRequirement,
			Context:        req.AvailableContext,
			Approved:       req.Approved,
			Feedback:       req.Feedback,
		}
		if err := stream.Send(ctx, cmd); err != nil {
			writeError(w, http.StatusGatewayTimeout, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleEvents streams a workflow's event feed as Server-Sent Events,
// one JSON-encoded eventstream.Event per "data:" line, flushing after
// every event (the go-chi middleware.Recoverer-wrapped response writer
// implements http.Flusher, matching the teacher's transport metrics
// middleware's flusher pass-through).
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	stream, err := s.Repo.Stream(workflowID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, errNoFlush)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-stream.Events():
			if !ok {
				return
			}
			w.Write([]byte("data: "))
			if err := enc.Encode(ev); err != nil {
				return
			}
			w.Write([]byte("\n"))
			flusher.Flush()
		}
	}
}

var errNoFlush = errors.New("transport: response writer does not support streaming")

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
