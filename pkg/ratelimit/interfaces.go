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
	"time"
)

// RateLimiter guards pkg/rpc's /execute endpoint against a session or user
// exceeding its configured token/request quota.
//
// Implementations must be safe for concurrent use by the middleware's
// per-request goroutines.
type RateLimiter interface {
	// Check reports whether identifier may proceed, without recording usage.
	Check(ctx context.Context, scope Scope, identifier string) (*CheckResult, error)

	// Record applies tokenCount/requestCount usage for identifier.
	Record(ctx context.Context, scope Scope, identifier string, tokenCount int64, requestCount int64) error

	// CheckAndRecord is the atomic check-then-record pkg/rpc's middleware
	// uses on every /execute call. A request arriving while usage is
	// already over a limit is denied without being recorded; the request
	// that pushes usage over a limit is recorded and reported as denied.
	CheckAndRecord(ctx context.Context, scope Scope, identifier string, tokenCount int64, requestCount int64) (*CheckResult, error)

	// GetUsage reports identifier's current standing against every
	// configured limit.
	GetUsage(ctx context.Context, scope Scope, identifier string) ([]Usage, error)

	// Reset clears identifier's recorded usage.
	Reset(ctx context.Context, scope Scope, identifier string) error

	// ResetExpired purges usage windows that ended before the given time.
	ResetExpired(ctx context.Context, before time.Time) error
}

// Store is RateLimiter's counter storage. MemoryStore is the only
// implementation wired in; a distributed deployment would back this with
// Redis instead so counters survive a process restart and are shared
// across dagforge replicas.
type Store interface {
	// GetUsage returns the current amount and window end for one limit. A
	// never-seen identifier/limit pair returns 0 and a fresh window end.
	GetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow) (int64, time.Time, error)

	// IncrementUsage adds amount to the current window and returns the
	// new total and window end.
	IncrementUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64) (int64, time.Time, error)

	// SetUsage overwrites the amount and window end for one limit,
	// used when a window has rolled over.
	SetUsage(ctx context.Context, scope Scope, identifier string, limitType LimitType, window TimeWindow, amount int64, windowEnd time.Time) error

	// DeleteUsage removes every limit's usage for identifier.
	DeleteUsage(ctx context.Context, scope Scope, identifier string) error

	// DeleteExpired removes windows that ended before the given time.
	DeleteExpired(ctx context.Context, before time.Time) error

	// Close releases any resources the store holds.
	Close() error
}

var (
	_ RateLimiter = (*windowLimiter)(nil)
	_ Store       = (*MemoryStore)(nil)
)
