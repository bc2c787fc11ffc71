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

// Package store defines the key/value and vector-store abstractions
// spec.md §1 names as external collaborators ("the concrete database (we
// require a key/value + vector store abstraction)"). Concrete backends
// live in subpackages (sqlitekv, rediskv, bunkv, qdrantvector,
// chromemvector); pkg/checkpoint and pkg/orchestrator depend only on
// these interfaces.
package store

import "context"

// KV is a namespaced byte-value key/value store. Keys are opaque;
// callers (pkg/checkpoint) compose structured keys themselves.
type KV interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	// ListPrefix returns every key with the given prefix, in no
	// particular order.
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// VectorRecord is one entry in a VectorIndex.
type VectorRecord struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// ScoredRecord is a VectorIndex.Query result.
type ScoredRecord struct {
	VectorRecord
	Score float64
}

// VectorIndex is a nearest-neighbor search abstraction over fixed-
// dimension embeddings, backing tool/capability embedding lookups.
type VectorIndex interface {
	Upsert(ctx context.Context, records ...VectorRecord) error
	Query(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)
	Delete(ctx context.Context, ids ...string) error
	Close() error
}
