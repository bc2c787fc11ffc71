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

// Package dagforge provides a hypergraph-scored DAG orchestrator: a
// planner turns a natural-language intent into a directed acyclic
// graph of tool-call tasks, a layered scheduler executes each
// ready-to-run layer concurrently, and a learned hypergraph of
// observed tool-call co-occurrence informs which edges the planner
// should trust going forward.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/dagforge/dagforge/cmd/dagforge@latest
//
// Run a workflow from an intent, checkpointing to a local SQLite store:
//
//	dagforge run --config dagforge.yaml --intent "deploy the service" --store dagforge.db
//
// Resume a paused or interrupted workflow from its latest checkpoint:
//
//	dagforge resume --config dagforge.yaml --workflow-id <id> --store dagforge.db
//
// # Using as a Go Library
//
// Import the packages relevant to the stage of the pipeline you need:
//
//	import (
//	    "github.com/dagforge/dagforge/pkg/dagmodel"
//	    "github.com/dagforge/dagforge/pkg/scheduler"
//	    "github.com/dagforge/dagforge/pkg/orchestrator"
//	)
//
// # Architecture
//
// An intent flows through the system as:
//
//	Intent → DAG (dagmodel) → Scheduler (layered execution) → Checkpoint
//	                               ↓
//	                     Hypergraph (observed edges) → Learner (thresholds/PER)
//
// The orchestrator package holds the in-memory registry of active
// workflows and their eventstream.Stream feeds; pkg/rpc is an optional,
// decoupled go-chi transport binding over that registry. Decisions that
// require a human or automated loop (AIL/HIL) pause the scheduler at a
// decision_required checkpoint until a decision.Strategy resolves it.
//
// # Status
//
// dagforge is under active development; APIs may change between minor
// versions.
package dagforge
