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

// Config is one /execute caller's quota policy (pkg/config's
// RateLimitConfig translates into this).
type Config struct {
	Enabled bool
	Limits  []LimitRule
}

// LimitRule caps one LimitType over one TimeWindow.
type LimitRule struct {
	Type   LimitType
	Window TimeWindow
	Limit  int64
}

// windowLimiter is the RateLimiter used by pkg/rpc's /execute middleware.
// It holds no state of its own beyond the configured rules; all counters
// live in the Store so a Store swap (MemoryStore today, Redis or similar
// later) changes nothing about limiter behavior.
type windowLimiter struct {
	config *Config
	store  Store
	mu     sync.RWMutex
}

// NewRateLimiter validates cfg.Limits and wires them to store.
func NewRateLimiter(cfg *Config, store Store) (RateLimiter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ratelimit: config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("ratelimit: store is required")
	}

	for i, limit := range cfg.Limits {
		if limit.Type == "" {
			return nil, fmt.Errorf("ratelimit: limit[%d]: type is required", i)
		}
		if limit.Window == "" {
			return nil, fmt.Errorf("ratelimit: limit[%d]: window is required", i)
		}
		if limit.Limit <= 0 {
			return nil, fmt.Errorf("ratelimit: limit[%d]: limit must be positive", i)
		}
	}

	return &windowLimiter{config: cfg, store: store}, nil
}

// Check reports whether identifier may proceed without recording usage.
func (l *windowLimiter) Check(ctx context.Context, scope Scope, identifier string) (*CheckResult, error) {
	if !l.config.Enabled {
		return &CheckResult{Allowed: true}, nil
	}
	if identifier == "" {
		return nil, fmt.Errorf("ratelimit: identifier cannot be empty")
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.evaluate(ctx, scope, identifier)
}

// Record updates usage for identifier without checking limits first.
func (l *windowLimiter) Record(ctx context.Context, scope Scope, identifier string, tokenCount, requestCount int64) error {
	if !l.config.Enabled {
		return nil
	}
	if identifier == "" {
		return fmt.Errorf("ratelimit: identifier cannot be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recordLocked(ctx, scope, identifier, tokenCount, requestCount)
}

// CheckAndRecord is the atomic check-then-record pkg/rpc's middleware
// calls on every /execute request: a request arriving while usage is
// already over a limit is denied without being recorded; otherwise the
// usage is recorded and the result reflects the refreshed totals, so the
// request that pushes usage over a limit is recorded and denied.
func (l *windowLimiter) CheckAndRecord(ctx context.Context, scope Scope, identifier string, tokenCount, requestCount int64) (*CheckResult, error) {
	if !l.config.Enabled {
		return &CheckResult{Allowed: true}, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	result, err := l.evaluate(ctx, scope, identifier)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return result, nil
	}

	if err := l.recordLocked(ctx, scope, identifier, tokenCount, requestCount); err != nil {
		return nil, fmt.Errorf("ratelimit: record usage: %w", err)
	}

	return l.evaluate(ctx, scope, identifier)
}

// GetUsage reports identifier's standing against every configured limit,
// without affecting it.
func (l *windowLimiter) GetUsage(ctx context.Context, scope Scope, identifier string) ([]Usage, error) {
	if !l.config.Enabled {
		return []Usage{}, nil
	}
	if identifier == "" {
		return nil, fmt.Errorf("ratelimit: identifier cannot be empty")
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	result, err := l.evaluate(ctx, scope, identifier)
	if err != nil {
		return nil, err
	}
	return result.Usages, nil
}

// Reset clears all recorded usage for identifier.
func (l *windowLimiter) Reset(ctx context.Context, scope Scope, identifier string) error {
	if identifier == "" {
		return fmt.Errorf("ratelimit: identifier cannot be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.DeleteUsage(ctx, scope, identifier)
}

// ResetExpired purges usage windows that ended before the given time.
func (l *windowLimiter) ResetExpired(ctx context.Context, before time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.DeleteExpired(ctx, before)
}

// evaluate computes a CheckResult against every configured LimitRule. It
// is the single usage-computation path shared by Check, CheckAndRecord
// and GetUsage; callers hold whichever lock their exported method
// requires before calling it.
func (l *windowLimiter) evaluate(ctx context.Context, scope Scope, identifier string) (*CheckResult, error) {
	result := &CheckResult{
		Allowed: true,
		Usages:  make([]Usage, 0, len(l.config.Limits)),
	}

	now := time.Now()
	var earliestRetry *time.Time

	for _, limit := range l.config.Limits {
		current, windowEnd, err := l.store.GetUsage(ctx, scope, identifier, limit.Type, limit.Window)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: get usage for %s/%s: %w", limit.Type, limit.Window, err)
		}

		if windowEnd.Before(now) {
			current = 0
			windowEnd = now.Add(limit.Window.Duration())
		}

		remaining := limit.Limit - current
		if remaining < 0 {
			remaining = 0
		}

		result.Usages = append(result.Usages, Usage{
			LimitType:  limit.Type,
			Window:     limit.Window,
			Current:    current,
			Limit:      limit.Limit,
			WindowEnd:  windowEnd,
			Remaining:  remaining,
			Percentage: float64(current) / float64(limit.Limit) * 100,
		})

		if current > limit.Limit {
			result.Allowed = false
			if result.Reason == "" {
				result.Reason = fmt.Sprintf("%s limit exceeded for %s window (%d/%d)",
					limit.Type, limit.Window, current, limit.Limit)
			}
			if earliestRetry == nil || windowEnd.Before(*earliestRetry) {
				earliestRetry = &windowEnd
			}
		}
	}

	if !result.Allowed && earliestRetry != nil {
		if retryDuration := time.Until(*earliestRetry); retryDuration > 0 {
			result.RetryAfter = &retryDuration
		}
	}

	return result, nil
}

// recordLocked applies one CheckAndRecord/Record call's usage to the
// store. Caller must hold l.mu for writing.
func (l *windowLimiter) recordLocked(ctx context.Context, scope Scope, identifier string, tokenCount, requestCount int64) error {
	now := time.Now()

	for _, limit := range l.config.Limits {
		var amount int64
		switch limit.Type {
		case LimitTypeToken:
			amount = tokenCount
		case LimitTypeCount:
			amount = requestCount
		default:
			continue
		}
		if amount <= 0 {
			continue
		}

		_, windowEnd, err := l.store.GetUsage(ctx, scope, identifier, limit.Type, limit.Window)
		if err != nil {
			return fmt.Errorf("ratelimit: get usage for %s/%s: %w", limit.Type, limit.Window, err)
		}

		if windowEnd.Before(now) {
			windowEnd = now.Add(limit.Window.Duration())
			if err := l.store.SetUsage(ctx, scope, identifier, limit.Type, limit.Window, amount, windowEnd); err != nil {
				return fmt.Errorf("ratelimit: reset usage for %s/%s: %w", limit.Type, limit.Window, err)
			}
			continue
		}

		if _, _, err := l.store.IncrementUsage(ctx, scope, identifier, limit.Type, limit.Window, amount); err != nil {
			return fmt.Errorf("ratelimit: increment usage for %s/%s: %w", limit.Type, limit.Window, err)
		}
	}

	return nil
}

// IsEnabled reports whether this limiter enforces any rules.
func (l *windowLimiter) IsEnabled() bool { return l.config.Enabled }

// Store exposes the underlying Store, for tests that need to inspect or
// seed recorded usage directly.
func (l *windowLimiter) Store() Store { return l.store }
