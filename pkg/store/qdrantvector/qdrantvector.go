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

// Package qdrantvector backs store.VectorIndex with the official
// qdrant/go-client, grounded on the teacher's pkg/databases Qdrant
// provider. Intended for deployments with an existing Qdrant cluster
// and larger tool/capability corpora than chromem-go's embedded index
// comfortably serves.
package qdrantvector

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/dagforge/dagforge/pkg/store"
)

// Index is a store.VectorIndex backed by a single Qdrant collection.
type Index struct {
	client     *qdrant.Client
	collection string
}

// Config is the connection configuration for Open.
type Config struct {
	Host           string
	Port           int
	Collection     string
	VectorSize     uint64
	APIKey         string
	UseTLS         bool
}

// Open connects to Qdrant and ensures the target collection exists.
func Open(ctx context.Context, cfg Config) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrantvector: connect: %w", err)
	}

	exists, err := client.CollectionExists(ctx, cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("qdrantvector: check collection: %w", err)
	}
	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: cfg.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("qdrantvector: create collection: %w", err)
		}
	}

	return &Index{client: client, collection: cfg.Collection}, nil
}

var _ store.VectorIndex = (*Index)(nil)

func (idx *Index) Upsert(ctx context.Context, records ...store.VectorRecord) error {
	points := make([]*qdrant.PointStruct, len(records))
	for i, r := range records {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: qdrant.NewValueMap(r.Metadata),
		}
	}
	_, err := idx.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: idx.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrantvector: upsert: %w", err)
	}
	return nil
}

func (idx *Index) Query(ctx context.Context, vector []float32, topK int) ([]store.ScoredRecord, error) {
	limit := uint64(topK)
	result, err := idx.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: idx.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrantvector: query: %w", err)
	}

	out := make([]store.ScoredRecord, len(result))
	for i, p := range result {
		out[i] = store.ScoredRecord{
			VectorRecord: store.VectorRecord{
				ID:       p.Id.GetUuid(),
				Metadata: qdrant.NewValueMapFromPayload(p.Payload),
			},
			Score: float64(p.Score),
		}
	}
	return out, nil
}

func (idx *Index) Delete(ctx context.Context, ids ...string) error {
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewID(id)
	}
	_, err := idx.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: idx.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrantvector: delete: %w", err)
	}
	return nil
}

func (idx *Index) Close() error {
	return idx.client.Close()
}
