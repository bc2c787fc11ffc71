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
	"testing"
	"time"
)

func TestRateLimiterBasicTokenLimit(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Limits:  []LimitRule{{Type: LimitTypeToken, Window: WindowMinute, Limit: 100}},
	}

	store := NewMemoryStore()
	limiter, err := NewRateLimiter(cfg, store)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	ctx := context.Background()

	result, err := limiter.CheckAndRecord(ctx, ScopeSession, "session1", 50, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected request to be allowed")
	}

	usage := result.GetUsage(LimitTypeToken, WindowMinute)
	if usage == nil {
		t.Fatal("expected token usage to be present")
	}
	if usage.Current != 50 {
		t.Errorf("expected current usage to be 50, got %d", usage.Current)
	}
	if usage.Remaining != 50 {
		t.Errorf("expected remaining to be 50, got %d", usage.Remaining)
	}

	result, err = limiter.CheckAndRecord(ctx, ScopeSession, "session1", 40, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected request to be allowed")
	}

	usage = result.GetUsage(LimitTypeToken, WindowMinute)
	if usage.Current != 90 {
		t.Errorf("expected current usage to be 90, got %d", usage.Current)
	}

	result, err = limiter.CheckAndRecord(ctx, ScopeSession, "session1", 20, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Errorf("expected request to be denied")
	}
	if result.RetryAfter == nil {
		t.Errorf("expected retry_after to be set")
	}
}

func TestRateLimiterBasicCountLimit(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Limits:  []LimitRule{{Type: LimitTypeCount, Window: WindowMinute, Limit: 5}},
	}

	store := NewMemoryStore()
	limiter, err := NewRateLimiter(cfg, store)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		result, err := limiter.CheckAndRecord(ctx, ScopeSession, "session1", 0, 1)
		if err != nil {
			t.Fatalf("unexpected error on request %d: %v", i, err)
		}
		if !result.Allowed {
			t.Errorf("expected request %d to be allowed", i)
		}
		usage := result.GetUsage(LimitTypeCount, WindowMinute)
		if usage.Current != int64(i) {
			t.Errorf("expected current usage to be %d, got %d", i, usage.Current)
		}
	}

	result, err := limiter.CheckAndRecord(ctx, ScopeSession, "session1", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Errorf("expected 6th request to be denied")
	}
}

func TestRateLimiterMultiLayerLimits(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Limits: []LimitRule{
			{Type: LimitTypeToken, Window: WindowMinute, Limit: 100},
			{Type: LimitTypeToken, Window: WindowDay, Limit: 1000},
			{Type: LimitTypeCount, Window: WindowMinute, Limit: 10},
		},
	}

	store := NewMemoryStore()
	limiter, err := NewRateLimiter(cfg, store)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	ctx := context.Background()
	result, err := limiter.CheckAndRecord(ctx, ScopeSession, "session1", 50, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected request to be allowed")
	}
	if len(result.Usages) != 3 {
		t.Errorf("expected 3 usage records, got %d", len(result.Usages))
	}

	if u := result.GetUsage(LimitTypeToken, WindowMinute); u == nil || u.Current != 50 {
		t.Errorf("expected token/minute usage to be 50")
	}
	if u := result.GetUsage(LimitTypeToken, WindowDay); u == nil || u.Current != 50 {
		t.Errorf("expected token/day usage to be 50")
	}
	if u := result.GetUsage(LimitTypeCount, WindowMinute); u == nil || u.Current != 5 {
		t.Errorf("expected count/minute usage to be 5")
	}
}

func TestRateLimiterSeparateSessions(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Limits:  []LimitRule{{Type: LimitTypeCount, Window: WindowMinute, Limit: 5}},
	}

	store := NewMemoryStore()
	limiter, err := NewRateLimiter(cfg, store)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := limiter.CheckAndRecord(ctx, ScopeSession, "session1", 0, 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	result, err := limiter.CheckAndRecord(ctx, ScopeSession, "session2", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected session2 to be allowed (separate quota)")
	}

	result, err = limiter.CheckAndRecord(ctx, ScopeSession, "session1", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Errorf("expected session1 to be blocked")
	}
}

func TestRateLimiterUserScope(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Limits:  []LimitRule{{Type: LimitTypeCount, Window: WindowMinute, Limit: 10}},
	}

	store := NewMemoryStore()
	limiter, err := NewRateLimiter(cfg, store)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := limiter.CheckAndRecord(ctx, ScopeUser, "user1", 0, 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	result, err := limiter.CheckAndRecord(ctx, ScopeUser, "user1", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Errorf("expected user1 to be blocked after 10 requests")
	}
}

func TestRateLimiterReset(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Limits:  []LimitRule{{Type: LimitTypeCount, Window: WindowMinute, Limit: 5}},
	}

	store := NewMemoryStore()
	limiter, err := NewRateLimiter(cfg, store)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := limiter.CheckAndRecord(ctx, ScopeSession, "session1", 0, 1); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	result, err := limiter.CheckAndRecord(ctx, ScopeSession, "session1", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Errorf("expected to be blocked")
	}

	if err := limiter.Reset(ctx, ScopeSession, "session1"); err != nil {
		t.Fatalf("failed to reset: %v", err)
	}

	result, err = limiter.CheckAndRecord(ctx, ScopeSession, "session1", 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected to be allowed after reset")
	}
}

func TestRateLimiterDisabledConfig(t *testing.T) {
	cfg := &Config{Enabled: false}

	store := NewMemoryStore()
	limiter, err := NewRateLimiter(cfg, store)
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		result, err := limiter.CheckAndRecord(ctx, ScopeSession, "session1", 1000000, 1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !result.Allowed {
			t.Errorf("expected to be allowed when rate limiting is disabled")
		}
	}
}

func TestMemoryStoreWindowExpiration(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	windowEnd := time.Now().Add(100 * time.Millisecond)
	if err := store.SetUsage(ctx, ScopeSession, "session1", LimitTypeCount, WindowMinute, 100, windowEnd); err != nil {
		t.Fatalf("failed to set usage: %v", err)
	}

	amount, _, err := store.GetUsage(ctx, ScopeSession, "session1", LimitTypeCount, WindowMinute)
	if err != nil {
		t.Fatalf("failed to get usage: %v", err)
	}
	if amount != 100 {
		t.Errorf("expected amount to be 100, got %d", amount)
	}

	time.Sleep(150 * time.Millisecond)

	amount, newWindowEnd, err := store.GetUsage(ctx, ScopeSession, "session1", LimitTypeCount, WindowMinute)
	if err != nil {
		t.Fatalf("failed to get usage: %v", err)
	}
	if amount != 0 {
		t.Errorf("expected amount to be 0 after expiration, got %d", amount)
	}
	if !newWindowEnd.After(time.Now()) {
		t.Errorf("expected new window end to be in the future")
	}
}
