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

// Package permission implements PermissionEscalation's response side
// (spec.md §4.10): the fixed suggestion table and the blocking wait
// for a permission_escalation_response. The scheduler owns the
// two-phase prepare/process orchestration itself (it has the settled
// layer results and the executor in hand); this package supplies the
// two things that are genuinely table-driven and reusable.
package permission

import (
	"context"
	"fmt"

	"github.com/dagforge/dagforge/pkg/eventstream"
	"github.com/dagforge/dagforge/pkg/scheduler"
)

// suggestionTable is the fixed remediation table from spec.md §4.10.
var suggestionTable = map[string]string{
	"net":   "use primitives:http_get/http_post",
	"read":  "use primitives:read_file",
	"write": "use primitives:write_file",
	"env":   "restricted",
	"run":   "disallowed",
	"ffi":   "disallowed",
}

const defaultSuggestion = "consider an authorized tool."

// Gate implements scheduler.PermissionPort against a live
// eventstream.Stream.
type Gate struct {
	Stream *eventstream.Stream
}

var _ scheduler.PermissionPort = (*Gate)(nil)

// Suggestion returns the fixed-table remediation hint for detectedOp,
// or defaultSuggestion if detectedOp isn't in the table.
func (g *Gate) Suggestion(detectedOp string) string {
	if s, ok := suggestionTable[detectedOp]; ok {
		return s
	}
	return defaultSuggestion
}

// Await blocks for the permission_escalation_response matching
// checkpointID.
func (g *Gate) Await(ctx context.Context, checkpointID string) (bool, error) {
	cmd, err := g.Stream.WaitForApproval(ctx, checkpointID)
	if err != nil {
		return false, fmt.Errorf("permission: await: %w", err)
	}
	return cmd.Approved, nil
}
