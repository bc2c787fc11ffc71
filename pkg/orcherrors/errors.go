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

// Package orcherrors defines the error kinds shared across the
// orchestrator (spec §7). Each kind is a small typed struct with
// Error()/Unwrap(), following the teacher's ratelimit.RateLimitError
// idiom: a sentinel for errors.Is, a struct for structured detail, and an
// Is*/Get* pair for callers that need the payload back.
package orcherrors

import (
	"errors"
	"fmt"
)

// Sentinels usable with errors.Is.
var (
	ErrValidation            = errors.New("validation error")
	ErrNotFound              = errors.New("not found")
	ErrPermissionEscalation  = errors.New("permission escalation needed")
	ErrTaskTimeout           = errors.New("task timeout")
	ErrWorkflowTimeout       = errors.New("workflow timeout")
	ErrCheckpoint            = errors.New("checkpoint error")
	ErrScorer                = errors.New("scorer error")
	ErrPathfinder            = errors.New("pathfinder error")
)

// ValidationError is a bad request: missing workflow id, empty intent,
// invalid DAG. Surfaced at the RPC boundary; never affects internal state.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError constructs a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) || errors.Is(err, ErrValidation)
}

// NotFoundError covers unknown workflow/checkpoint/capability lookups.
type NotFoundError struct {
	Kind string // "workflow" | "checkpoint" | "capability" | "tool"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError constructs a NotFoundError.
func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// IsNotFoundError reports whether err is or wraps a NotFoundError.
func IsNotFoundError(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe) || errors.Is(err, ErrNotFound)
}

// PermissionEscalationNeeded is raised inside a task executor when it
// attempted an operation outside its current permission set. Never fatal
// by itself — handled by pkg/permission's deferred escalation pass.
type PermissionEscalationNeeded struct {
	CurrentSet   string
	RequestedSet string
	DetectedOp   string
}

func (e *PermissionEscalationNeeded) Error() string {
	return fmt.Sprintf("permission escalation needed: op %q requires %q (current: %q)",
		e.DetectedOp, e.RequestedSet, e.CurrentSet)
}

func (e *PermissionEscalationNeeded) Unwrap() error { return ErrPermissionEscalation }

// IsPermissionEscalation reports whether err is a PermissionEscalationNeeded.
func IsPermissionEscalation(err error) bool {
	var pe *PermissionEscalationNeeded
	return errors.As(err, &pe)
}

// AsPermissionEscalation extracts the PermissionEscalationNeeded payload, if any.
func AsPermissionEscalation(err error) (*PermissionEscalationNeeded, bool) {
	var pe *PermissionEscalationNeeded
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// TaskTimeout means a task exceeded its per-task execution budget.
type TaskTimeout struct {
	TaskID string
	Budget string
}

func (e *TaskTimeout) Error() string {
	return fmt.Sprintf("task %s exceeded timeout %s", e.TaskID, e.Budget)
}

func (e *TaskTimeout) Unwrap() error { return ErrTaskTimeout }

// WorkflowTimeout means an AIL/HIL wait exceeded its configured timeout.
type WorkflowTimeout struct {
	WorkflowID string
	Reason     string
}

func (e *WorkflowTimeout) Error() string {
	return fmt.Sprintf("workflow %s timed out: %s", e.WorkflowID, e.Reason)
}

func (e *WorkflowTimeout) Unwrap() error { return ErrWorkflowTimeout }

// CheckpointError wraps a checkpoint save/load failure.
type CheckpointError struct {
	Op    string // "save" | "load" | "prune"
	Cause error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s failed: %v", e.Op, e.Cause)
}

func (e *CheckpointError) Unwrap() error { return e.Cause }

func (e *CheckpointError) Is(target error) bool { return target == ErrCheckpoint }

// ScorerError is fatal to a single suggestion call but never to the caller.
type ScorerError struct {
	Cause error
}

func (e *ScorerError) Error() string    { return fmt.Sprintf("scorer error: %v", e.Cause) }
func (e *ScorerError) Unwrap() error    { return e.Cause }
func (e *ScorerError) Is(t error) bool  { return t == ErrScorer }

// PathfinderError is fatal to a single pathfinding call but never to the caller.
type PathfinderError struct {
	Cause error
}

func (e *PathfinderError) Error() string   { return fmt.Sprintf("pathfinder error: %v", e.Cause) }
func (e *PathfinderError) Unwrap() error   { return e.Cause }
func (e *PathfinderError) Is(t error) bool { return t == ErrPathfinder }
