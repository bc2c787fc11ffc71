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

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// usageKey identifies one (scope, identifier, limit type, window) counter.
type usageKey struct {
	Scope      Scope
	Identifier string
	LimitType  LimitType
	Window     TimeWindow
}

type usageRecord struct {
	Amount    int64
	WindowEnd time.Time
}

// expired reports whether this record's window has rolled past now.
func (r *usageRecord) expired(now time.Time) bool {
	return r.WindowEnd.Before(now)
}

// MemoryStore is the Store used when dagforge runs as a single process:
// an in-memory map guarded by a RWMutex. A multi-replica deployment needs
// a shared backend (Redis, following pkg/checkpoint's precedent) instead,
// since counters here do not survive a restart and are not visible across
// processes.
type MemoryStore struct {
	data map[usageKey]*usageRecord
	mu   sync.RWMutex
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[usageKey]*usageRecord)}
}

// GetUsage returns 0 and a fresh window for a key with no record, or
// whose record's window has already rolled over.
func (s *MemoryStore) GetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	record, exists := s.data[usageKey{scope, identifier, limitType, window}]
	if !exists || record.expired(now) {
		return 0, now.Add(window.Duration()), nil
	}
	return record.Amount, record.WindowEnd, nil
}

// IncrementUsage adds amount to the key's current window, starting a new
// window if the existing one has rolled over or never existed.
func (s *MemoryStore) IncrementUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey{scope, identifier, limitType, window}
	now := time.Now()

	record, exists := s.data[key]
	if !exists || record.expired(now) {
		record = &usageRecord{Amount: amount, WindowEnd: now.Add(window.Duration())}
		s.data[key] = record
		return record.Amount, record.WindowEnd, nil
	}

	record.Amount += amount
	return record.Amount, record.WindowEnd, nil
}

// SetUsage overwrites the key's amount and window end.
func (s *MemoryStore) SetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[usageKey{scope, identifier, limitType, window}] = &usageRecord{
		Amount:    amount,
		WindowEnd: windowEnd,
	}
	return nil
}

// DeleteUsage removes every limit/window counter for identifier.
func (s *MemoryStore) DeleteUsage(ctx context.Context, scope Scope, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.data {
		if key.Scope == scope && key.Identifier == identifier {
			delete(s.data, key)
		}
	}
	return nil
}

// DeleteExpired removes every record whose window ended before the given
// time. Nothing in this module calls it on a schedule, so records of
// abandoned sessions/users stay in the map until a caller does.
func (s *MemoryStore) DeleteExpired(ctx context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, record := range s.data {
		if record.WindowEnd.Before(before) {
			delete(s.data, key)
		}
	}
	return nil
}

// Close discards all recorded usage.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[usageKey]*usageRecord)
	return nil
}

// Size reports the number of tracked counters, for tests asserting that
// DeleteExpired/DeleteUsage actually shrank the map.
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Dump renders every counter keyed by a human-readable string, for tests
// and debugging.
func (s *MemoryStore) Dump() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]any, len(s.data))
	for key, record := range s.data {
		k := fmt.Sprintf("%s:%s:%s:%s", key.Scope, key.Identifier, key.LimitType, key.Window)
		result[k] = map[string]any{
			"amount":     record.Amount,
			"window_end": record.WindowEnd,
		}
	}
	return result
}
