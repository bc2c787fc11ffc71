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

package dagmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDAGTaskByID(t *testing.T) {
	d := DAG{
		WorkflowID: "wf-1",
		Tasks: []Task{
			{ID: "t1", CallName: "server:tool"},
			{ID: "t2", CallName: "server:other", DependsOn: []string{"t1"}},
		},
	}

	got, ok := d.TaskByID("t2")
	assert.True(t, ok)
	assert.Equal(t, []string{"t1"}, got.DependsOn)

	_, ok = d.TaskByID("missing")
	assert.False(t, ok)
}
