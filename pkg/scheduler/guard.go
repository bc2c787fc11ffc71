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

package scheduler

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/dagforge/dagforge/pkg/dagmodel"
)

// guardCache compiles dagmodel.Task.FailSafeGuard expressions once per
// distinct expression string and reuses the program across layers and
// workflow runs.
type guardCache struct {
	mu       sync.Mutex
	programs map[string]*vm.Program
}

func newGuardCache() *guardCache {
	return &guardCache{programs: make(map[string]*vm.Program)}
}

// sharedGuardCache is reused across every Scheduler.Run call in the
// process; compiled fail_safe guards are pure functions of their
// source text so sharing is safe.
var sharedGuardCache = newGuardCache()

func (c *guardCache) compile(guard string) (*vm.Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if program, ok := c.programs[guard]; ok {
		return program, nil
	}

	program, err := expr.Compile(guard, expr.Env(map[string]any{}), expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, err
	}
	c.programs[guard] = program
	return program, nil
}

// evalFailSafeGuard reports whether a fail_stop task's FailSafeGuard
// expression excuses this particular failure. A task with no guard
// never overrides its static FailurePolicy (excused is always false).
func (c *guardCache) evalFailSafeGuard(guard string, result dagmodel.TaskResult) (excused bool, err error) {
	if guard == "" {
		return false, nil
	}

	program, err := c.compile(guard)
	if err != nil {
		return false, fmt.Errorf("scheduler: compile fail_safe guard %q: %w", guard, err)
	}

	env := map[string]any{"output": result.Output, "error": result.ErrorMessage}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("scheduler: eval fail_safe guard %q: %w", guard, err)
	}

	excused, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("scheduler: fail_safe guard %q must return a bool, got %T", guard, out)
	}
	return excused, nil
}
