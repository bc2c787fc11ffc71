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

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/dagforge/dagforge/pkg/logger"
	"github.com/dagforge/dagforge/pkg/store"
)

// ErrNotFound is returned (wrapped) when a checkpoint lookup misses.
var ErrNotFound = errors.New("checkpoint not found")

// keyPrefix namespaces every checkpoint key under a single KV store so
// the same backend can also hold orchestrator/workflow state.
const keyPrefix = "checkpoint/"

func checkpointKey(workflowID, id string) string {
	return keyPrefix + workflowID + "/" + id
}

func workflowPrefix(workflowID string) string {
	return keyPrefix + workflowID + "/"
}

// Store persists and retrieves State snapshots against a store.KV
// backend. Save is asynchronous and non-blocking for the execution
// path (spec.md §4.6); failures are logged, never propagated back into
// the scheduler loop.
type Store struct {
	kv store.KV
}

// NewStore wraps kv as a checkpoint Store.
func NewStore(kv store.KV) *Store {
	return &Store{kv: kv}
}

// Save assigns a fresh id to s (if it doesn't already have one) and
// writes it to the backing store on a background goroutine, returning
// the id immediately so callers never block the layer-scheduler loop
// on checkpoint I/O.
func (s *Store) Save(ctx context.Context, st *State) (string, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	id := st.ID
	key := checkpointKey(st.WorkflowID, id)

	data, err := st.Serialize()
	if err != nil {
		return "", fmt.Errorf("checkpoint: save: %w", err)
	}

	go func() {
		bgCtx := context.Background()
		if err := s.kv.Put(bgCtx, key, data); err != nil {
			logger.Get().Warn("checkpoint save failed",
				"workflow_id", st.WorkflowID, "checkpoint_id", id, "error", err)
		}
	}()

	return id, nil
}

// SaveSync is Save's synchronous counterpart, used by tests and by
// callers (e.g. a final checkpoint before process exit) that must
// observe the write complete before proceeding.
func (s *Store) SaveSync(ctx context.Context, st *State) (string, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	data, err := st.Serialize()
	if err != nil {
		return "", fmt.Errorf("checkpoint: save: %w", err)
	}
	if err := s.kv.Put(ctx, checkpointKey(st.WorkflowID, st.ID), data); err != nil {
		return "", fmt.Errorf("checkpoint: save: %w", err)
	}
	return st.ID, nil
}

// Load fetches and deserializes the checkpoint identified by id within
// workflowID.
func (s *Store) Load(ctx context.Context, workflowID, id string) (*State, error) {
	data, ok, err := s.kv.Get(ctx, checkpointKey(workflowID, id))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: load %q: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("checkpoint: %q: %w", id, ErrNotFound)
	}
	return Deserialize(data)
}

// Latest returns the most recently timestamped checkpoint for
// workflowID, or ErrNotFound if none exist.
func (s *Store) Latest(ctx context.Context, workflowID string) (*State, error) {
	all, err := s.list(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("checkpoint: workflow %q: %w", workflowID, ErrNotFound)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	return all[0], nil
}

// Prune deletes all but the keep most recent checkpoints for
// workflowID, never deleting protectID (typically the workflow's
// current latest_checkpoint_id) even if it would otherwise fall
// outside the retained window. Prune is idempotent: re-running it
// against an already-pruned workflow deletes nothing.
func (s *Store) Prune(ctx context.Context, workflowID string, keep int, protectID string) (int, error) {
	all, err := s.list(ctx, workflowID)
	if err != nil {
		return 0, err
	}
	if len(all) <= keep {
		return 0, nil
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })

	deleted := 0
	for i, st := range all {
		if i < keep || st.ID == protectID {
			continue
		}
		if err := s.kv.Delete(ctx, checkpointKey(workflowID, st.ID)); err != nil {
			return deleted, fmt.Errorf("checkpoint: prune %q: %w", st.ID, err)
		}
		deleted++
	}
	return deleted, nil
}

func (s *Store) list(ctx context.Context, workflowID string) ([]*State, error) {
	keys, err := s.kv.ListPrefix(ctx, workflowPrefix(workflowID))
	if err != nil {
		return nil, fmt.Errorf("checkpoint: list %q: %w", workflowID, err)
	}
	out := make([]*State, 0, len(keys))
	for _, key := range keys {
		data, ok, err := s.kv.Get(ctx, key)
		if err != nil || !ok {
			continue
		}
		st, err := Deserialize(data)
		if err != nil {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

// IsNotFound reports whether err denotes a missing checkpoint.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
