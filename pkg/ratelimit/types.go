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

import "time"

// Scope names which caller identity a quota is tracked against. pkg/rpc's
// /execute middleware derives this from the incoming request:
// DefaultIdentifierFunc maps an X-Session-ID header to ScopeSession and an
// X-User-ID header to ScopeUser.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeUser    Scope = "user"
)

// TimeWindow is the rolling period a LimitRule's Limit applies over.
type TimeWindow string

const (
	WindowMinute TimeWindow = "minute"
	WindowHour   TimeWindow = "hour"
	WindowDay    TimeWindow = "day"
	WindowWeek   TimeWindow = "week"
	WindowMonth  TimeWindow = "month"
)

// windowDurations is the single source of truth for a TimeWindow's
// wall-clock length; Duration reads it. ParseTimeWindow uses the
// separate validTimeWindows table below.
var windowDurations = map[TimeWindow]time.Duration{
	WindowMinute: time.Minute,
	WindowHour:   time.Hour,
	WindowDay:    24 * time.Hour,
	WindowWeek:   7 * 24 * time.Hour,
	WindowMonth:  30 * 24 * time.Hour, // calendar months vary; close enough for quota rollover
}

// Duration returns the wall-clock length of the window, defaulting to an
// hour for an unrecognized window string.
func (w TimeWindow) Duration() time.Duration {
	if d, ok := windowDurations[w]; ok {
		return d
	}
	return time.Hour
}

func (w TimeWindow) String() string { return string(w) }

// LimitType is the unit a LimitRule counts.
type LimitType string

const (
	// LimitTypeToken tracks the token cost pkg/rpc's middleware estimates
	// per /execute call.
	LimitTypeToken LimitType = "token"

	// LimitTypeCount tracks calls, one per /execute request regardless of
	// its estimated cost.
	LimitTypeCount LimitType = "count"
)

func (t LimitType) String() string { return string(t) }

// validTimeWindows and validLimitTypes back ParseTimeWindow/ParseLimitType:
// a recognized string normalizes to its typed constant, anything else
// passes through unchanged. Nothing reports an unrecognized value:
// NewRateLimiter only rejects an empty type or window, an unknown window
// counts as an hour (Duration), and a rule with an unknown type matches
// no usage.
var validTimeWindows = map[string]TimeWindow{
	string(WindowMinute): WindowMinute,
	string(WindowHour):   WindowHour,
	string(WindowDay):    WindowDay,
	string(WindowWeek):   WindowWeek,
	string(WindowMonth):  WindowMonth,
}

var validLimitTypes = map[string]LimitType{
	string(LimitTypeToken): LimitTypeToken,
	string(LimitTypeCount): LimitTypeCount,
}

var validScopes = map[string]Scope{
	string(ScopeSession): ScopeSession,
	string(ScopeUser):    ScopeUser,
}

// ParseTimeWindow converts a pkg/config RateLimitRule.Window string to a
// TimeWindow.
func ParseTimeWindow(s string) TimeWindow {
	if w, ok := validTimeWindows[s]; ok {
		return w
	}
	return TimeWindow(s)
}

// ParseLimitType converts a pkg/config RateLimitRule.Type string to a
// LimitType.
func ParseLimitType(s string) LimitType {
	if t, ok := validLimitTypes[s]; ok {
		return t
	}
	return LimitType(s)
}

// ParseScope converts a caller-supplied scope string to a Scope.
func ParseScope(s string) Scope {
	if sc, ok := validScopes[s]; ok {
		return sc
	}
	return Scope(s)
}

// Usage is one LimitRule's current standing for a given identifier.
type Usage struct {
	LimitType  LimitType  `json:"limit_type"`
	Window     TimeWindow `json:"window"`
	Current    int64      `json:"current"`
	Limit      int64      `json:"limit"`
	WindowEnd  time.Time  `json:"window_end"`
	Remaining  int64      `json:"remaining"`
	Percentage float64    `json:"percentage"`
}

// CheckResult is the outcome of a RateLimiter.Check/CheckAndRecord call.
// This package's Middleware attaches it to the request context and, on a
// denial, passes it to the OnLimited handler; the default handler writes
// a 429 body of its own shape (error code and message, retry-after
// seconds and the usage list).
type CheckResult struct {
	Allowed    bool           `json:"allowed"`
	Reason     string         `json:"reason,omitempty"`
	Usages     []Usage        `json:"usages"`
	RetryAfter *time.Duration `json:"retry_after,omitempty"`
}

// IsExceeded reports whether this result denies the request.
func (r *CheckResult) IsExceeded() bool { return !r.Allowed }

// GetUsage returns the Usage entry matching limitType/window, if present.
func (r *CheckResult) GetUsage(limitType LimitType, window TimeWindow) *Usage {
	for i := range r.Usages {
		if r.Usages[i].LimitType == limitType && r.Usages[i].Window == window {
			return &r.Usages[i]
		}
	}
	return nil
}

// GetHighestUsagePercentage returns the most-consumed limit's percentage.
func (r *CheckResult) GetHighestUsagePercentage() float64 {
	var highest float64
	for _, u := range r.Usages {
		if u.Percentage > highest {
			highest = u.Percentage
		}
	}
	return highest
}
