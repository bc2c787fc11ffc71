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

// Package bunkv backs store.KV with uptrace/bun over Postgres
// (pgdialect + pgdriver), for deployments that already run Postgres as
// their system of record and want checkpoints alongside their other
// tables rather than a separate SQLite file or Redis instance.
package bunkv

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/dagforge/dagforge/pkg/store"
)

// row is the checkpoint table's bun model.
type row struct {
	bun.BaseModel `bun:"table:dagforge_kv"`

	Key   string `bun:"key,pk"`
	Value []byte `bun:"value"`
}

// Store is a store.KV backed by a bun.DB over Postgres.
type Store struct {
	db  *bun.DB
	log zerolog.Logger
}

// Open connects to dsn and ensures the backing table exists.
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	if _, err := db.NewCreateTable().Model((*row)(nil)).IfNotExists().Exec(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("bunkv: migrate: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

var _ store.KV = (*Store)(nil)

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	rec := &row{Key: key, Value: value}
	_, err := s.db.NewInsert().Model(rec).
		On("CONFLICT (key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("bunkv: put failed")
		return fmt.Errorf("bunkv: put %q: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	rec := new(row)
	err := s.db.NewSelect().Model(rec).Where("key = ?", key).Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("bunkv: get %q: %w", key, err)
	}
	return rec.Value, true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().Model((*row)(nil)).Where("key = ?", key).Exec(ctx)
	if err != nil {
		return fmt.Errorf("bunkv: delete %q: %w", key, err)
	}
	return nil
}

func (s *Store) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	var rows []row
	err := s.db.NewSelect().Model(&rows).Where("key LIKE ?", prefix+"%").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("bunkv: list prefix %q: %w", prefix, err)
	}
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Key
	}
	return keys, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
