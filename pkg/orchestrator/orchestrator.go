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

// Package orchestrator implements WorkflowRepository (spec.md §4.11):
// an in-memory table of active workflows, each owning references to its
// CommandQueue/EventStream pair and a handle to cancel its scheduler
// goroutine. The table itself follows pkg/task.Service's
// create/get/update/delete/list shape for the repository API.
package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dagforge/dagforge/pkg/dagmodel"
	"github.com/dagforge/dagforge/pkg/eventstream"
	"github.com/dagforge/dagforge/pkg/orcherrors"
)

// CreateInput is Repository.Create's argument: the DAG and intent
// context a freshly-suggested workflow starts from.
type CreateInput struct {
	Intent   string
	DAG      dagmodel.DAG
	Learning *dagmodel.LearningContext
}

// Entry is one active workflow's full owned state: its WorkflowState,
// its CommandQueue/EventStream pair, and the cancel function for its
// running scheduler goroutine (nil until Attach is called).
type Entry struct {
	mu     sync.Mutex
	State  *dagmodel.WorkflowState
	Stream *eventstream.Stream
	cancel func()
}

func (e *Entry) snapshot() *dagmodel.WorkflowState {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *e.State
	cp.Results = append([]dagmodel.TaskResult(nil), e.State.Results...)
	return &cp
}

// workflowTable is a mutex-guarded map of workflow id to Entry. It exists
// as its own type (rather than inlined into Repository) only so
// Repository's methods read as repository operations, not map plumbing.
type workflowTable struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

func newWorkflowTable() *workflowTable {
	return &workflowTable{entries: make(map[string]*Entry)}
}

func (t *workflowTable) put(id string, e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[id] = e
}

func (t *workflowTable) get(id string) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

func (t *workflowTable) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

func (t *workflowTable) list() []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}

// Repository is the in-memory WorkflowRepository.
type Repository struct {
	table *workflowTable
}

// New creates an empty Repository.
func New() *Repository {
	return &Repository{table: newWorkflowTable()}
}

// Create registers a new workflow with a fresh UUID v4 id and returns
// its initial state (spec.md §4.11: "create(input) → state"; "Ids are
// UUIDs").
func (r *Repository) Create(input CreateInput) (*dagmodel.WorkflowState, *eventstream.Stream, error) {
	id := uuid.NewString()
	now := time.Now()
	state := &dagmodel.WorkflowState{
		WorkflowID: id,
		Status:     dagmodel.WorkflowCreated,
		Intent:     input.Intent,
		DAG:        input.DAG,
		Learning:   input.Learning,
		Results:    []dagmodel.TaskResult{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	stream := eventstream.New(id, eventstream.DefaultBufferSize)
	entry := &Entry{State: state, Stream: stream}

	r.table.put(id, entry)
	return state, stream, nil
}

// Attach records the cancel function for id's running scheduler
// goroutine so a later Delete can stop it (spec.md §4.11: "deletion
// cancels the scheduler and drops queues").
func (r *Repository) Attach(id string, cancel func()) error {
	entry, ok := r.table.get(id)
	if !ok {
		return orcherrors.NewNotFoundError("workflow", id)
	}
	entry.mu.Lock()
	entry.cancel = cancel
	entry.mu.Unlock()
	return nil
}

// Get returns a defensive copy of id's current state.
func (r *Repository) Get(id string) (*dagmodel.WorkflowState, error) {
	entry, ok := r.table.get(id)
	if !ok {
		return nil, orcherrors.NewNotFoundError("workflow", id)
	}
	return entry.snapshot(), nil
}

// Stream returns id's CommandQueue/EventStream pair for external
// transports to attach to.
func (r *Repository) Stream(id string) (*eventstream.Stream, error) {
	entry, ok := r.table.get(id)
	if !ok {
		return nil, orcherrors.NewNotFoundError("workflow", id)
	}
	return entry.Stream, nil
}

// Update applies patch to id's live state under the entry's lock and
// bumps UpdatedAt, returning a defensive copy of the result.
func (r *Repository) Update(id string, patch func(*dagmodel.WorkflowState)) (*dagmodel.WorkflowState, error) {
	entry, ok := r.table.get(id)
	if !ok {
		return nil, orcherrors.NewNotFoundError("workflow", id)
	}
	entry.mu.Lock()
	patch(entry.State)
	entry.State.UpdatedAt = time.Now()
	entry.mu.Unlock()
	return entry.snapshot(), nil
}

// Delete cancels id's scheduler (if attached), closes its streams, and
// removes it from the repository.
func (r *Repository) Delete(id string) error {
	entry, ok := r.table.get(id)
	if !ok {
		return orcherrors.NewNotFoundError("workflow", id)
	}
	entry.mu.Lock()
	if entry.cancel != nil {
		entry.cancel()
	}
	entry.mu.Unlock()
	entry.Stream.Close()
	r.table.remove(id)
	return nil
}

// ListActive returns every workflow not in a terminal state
// (completed, failed, aborted).
func (r *Repository) ListActive() []*dagmodel.WorkflowState {
	var out []*dagmodel.WorkflowState
	for _, entry := range r.table.list() {
		switch entry.snapshot().Status {
		case dagmodel.WorkflowCompleted, dagmodel.WorkflowFailed, dagmodel.WorkflowAborted:
			continue
		default:
			out = append(out, entry.snapshot())
		}
	}
	return out
}

// ListAwaitingApproval returns every workflow currently paused on an
// AIL or HIL gate.
func (r *Repository) ListAwaitingApproval() []*dagmodel.WorkflowState {
	var out []*dagmodel.WorkflowState
	for _, entry := range r.table.list() {
		if entry.snapshot().Status == dagmodel.WorkflowAwaitingApproval {
			out = append(out, entry.snapshot())
		}
	}
	return out
}
