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

	"github.com/dagforge/dagforge/pkg/dagmodel"
)

// ComputeLayers assigns every task in dag to a layer via Kahn's
// algorithm: a task is in layer L iff its longest dependency path
// length is L (spec.md §4.8). Layers are computed once per DAG; the
// result is a slice indexed by layer number, each holding the tasks
// assigned to it in no particular intra-layer order.
func ComputeLayers(dag dagmodel.DAG) ([][]dagmodel.Task, error) {
	indegree := make(map[string]int, len(dag.Tasks))
	dependents := make(map[string][]string, len(dag.Tasks))
	byID := make(map[string]dagmodel.Task, len(dag.Tasks))
	layer := make(map[string]int, len(dag.Tasks))

	for _, t := range dag.Tasks {
		byID[t.ID] = t
		indegree[t.ID] = len(t.DependsOn)
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	queue := make([]string, 0, len(dag.Tasks))
	for _, t := range dag.Tasks {
		if indegree[t.ID] == 0 {
			queue = append(queue, t.ID)
			layer[t.ID] = 0
		}
	}

	processed := 0
	var layers [][]dagmodel.Task
	for len(queue) > 0 {
		var next []string
		for _, id := range queue {
			l := layer[id]
			for len(layers) <= l {
				layers = append(layers, nil)
			}
			layers[l] = append(layers[l], byID[id])
			processed++

			for _, dep := range dependents[id] {
				if candidate := l + 1; candidate > layer[dep] {
					layer[dep] = candidate
				}
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		queue = next
	}

	if processed != len(dag.Tasks) {
		return nil, fmt.Errorf("scheduler: dag %q contains a cycle", dag.WorkflowID)
	}
	return layers, nil
}
