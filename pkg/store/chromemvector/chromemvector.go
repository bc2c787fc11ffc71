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

// Package chromemvector backs store.VectorIndex with
// philippgille/chromem-go, an embedded, dependency-free vector store —
// the default VectorIndex for single-node deployments and tests that
// don't want to stand up Qdrant.
package chromemvector

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"

	"github.com/dagforge/dagforge/pkg/store"
)

// Index is a store.VectorIndex backed by one chromem-go collection.
type Index struct {
	collection *chromem.Collection
}

// Open creates a new in-process chromem-go database and a collection
// named name in it; each call starts from an empty database. Embeddings are supplied by the caller
// (Upsert), so no embedding function is registered with the
// collection.
func Open(name string) (*Index, error) {
	db := chromem.NewDB()
	collection, err := db.CreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromemvector: create collection: %w", err)
	}
	return &Index{collection: collection}, nil
}

var _ store.VectorIndex = (*Index)(nil)

func (idx *Index) Upsert(ctx context.Context, records ...store.VectorRecord) error {
	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		meta := make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = fmt.Sprintf("%v", v)
		}
		docs[i] = chromem.Document{
			ID:        r.ID,
			Embedding: r.Vector,
			Metadata:  meta,
		}
	}
	if err := idx.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("chromemvector: upsert: %w", err)
	}
	return nil
}

func (idx *Index) Query(ctx context.Context, vector []float32, topK int) ([]store.ScoredRecord, error) {
	results, err := idx.collection.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromemvector: query: %w", err)
	}

	out := make([]store.ScoredRecord, len(results))
	for i, r := range results {
		meta := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			meta[k] = v
		}
		out[i] = store.ScoredRecord{
			VectorRecord: store.VectorRecord{
				ID:       r.ID,
				Vector:   r.Embedding,
				Metadata: meta,
			},
			Score: float64(r.Similarity),
		}
	}
	return out, nil
}

func (idx *Index) Delete(ctx context.Context, ids ...string) error {
	if err := idx.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("chromemvector: delete: %w", err)
	}
	return nil
}

func (idx *Index) Close() error { return nil }
