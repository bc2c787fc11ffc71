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

// Package toolexec defines the ICodeExecutor contract (spec.md §1 names
// it "ICodeExecutor"; this module spells it Executor) that the DAG
// scheduler invokes for every task, plus the sandbox permission-set
// vocabulary consumed by pkg/permission's deferred escalation pass.
//
// The concrete sandbox is explicitly out of scope (spec.md §1): this
// package only pins the interface, the permission-set constants the
// fixed suggestion table (spec.md §4.10) refers to, and a couple of
// reference implementations (an in-process function executor and an
// out-of-process plugin executor) that exercise the contract without
// being "the sandbox".
package toolexec

import (
	"context"
	"time"
)

// PermissionSet names a sandbox capability tier. These are the sets the
// PermissionEscalation suggestion table (spec.md §4.10) reasons about.
type PermissionSet string

const (
	PermissionMinimal   PermissionSet = "minimal"
	PermissionNetworkAPI PermissionSet = "network-api"
	PermissionFileRead  PermissionSet = "file-read"
	PermissionFileWrite PermissionSet = "file-write"
	PermissionEnv       PermissionSet = "env"
	PermissionProcess   PermissionSet = "process"
	PermissionFFI       PermissionSet = "ffi"
)

// SandboxConfig is the per-invocation sandbox configuration a task
// carries. Re-execution after an approved escalation mutates
// PermissionSet per spec.md §4.10 step 2.
type SandboxConfig struct {
	PermissionSet   PermissionSet
	MaxCodeSizeBytes int
	Timeout         time.Duration
}

// Invocation is everything an Executor needs to run one task.
type Invocation struct {
	TaskID        string
	CallName      string
	Input         map[string]any
	Sandbox       SandboxConfig
}

// Output is the raw result of a single invocation.
type Output struct {
	Result   any
	Metadata map[string]any
}

// Executor is the external code-execution contract (spec.md's
// ICodeExecutor). Implementations may run in-process, in a container, or
// over an RPC transport (see pkg/toolexec/plugin for a go-plugin backed
// out-of-process implementation) — the scheduler only depends on this
// interface.
type Executor interface {
	// Execute runs inv and returns its output. Implementations that
	// detect an operation outside inv.Sandbox.PermissionSet must return
	// an *orcherrors.PermissionEscalationNeeded rather than a generic
	// error, so pkg/permission can recognize and defer it.
	Execute(ctx context.Context, inv Invocation) (Output, error)
}

// ExecutorFunc adapts a plain function to Executor, mirroring the
// teacher's functiontool adapter shape for simple, in-process tools.
type ExecutorFunc func(ctx context.Context, inv Invocation) (Output, error)

func (f ExecutorFunc) Execute(ctx context.Context, inv Invocation) (Output, error) {
	return f(ctx, inv)
}
