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

package rediskv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "dagforge:")
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Put(ctx, "wf/1", []byte("payload")))
	v, ok, err := s.Get(ctx, "wf/1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("payload"), v)

	require.NoError(t, s.Delete(ctx, "wf/1"))
	_, ok, err = s.Get(ctx, "wf/1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListPrefixStripsNamespace(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Put(ctx, "wf/1/a", []byte("x")))
	require.NoError(t, s.Put(ctx, "wf/1/b", []byte("y")))

	keys, err := s.ListPrefix(ctx, "wf/1/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"wf/1/a", "wf/1/b"}, keys)
}
