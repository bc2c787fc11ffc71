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
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// IdentifierFunc extracts the quota identity from an incoming /execute
// request.
type IdentifierFunc func(r *http.Request) (identifier string, scope Scope)

// DefaultIdentifierFunc keys quota off the RPC caller: an X-Session-ID
// header identifies a session, an X-User-ID header (set upstream of
// dagforge, not by this package) identifies a user across sessions, and
// absent both, RemoteAddr is used as a last resort so an unidentified
// caller is still throttled rather than exempted.
func DefaultIdentifierFunc(r *http.Request) (string, Scope) {
	if sessionID := r.Header.Get("X-Session-ID"); sessionID != "" {
		return sessionID, ScopeSession
	}
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		return userID, ScopeUser
	}
	return r.RemoteAddr, ScopeSession
}

// MiddlewareConfig configures the /execute rate-limit middleware.
type MiddlewareConfig struct {
	Limiter RateLimiter

	// IdentifierFunc defaults to DefaultIdentifierFunc.
	IdentifierFunc IdentifierFunc

	// TokenEstimator estimates the LLM-token cost of a request for
	// LimitTypeToken rules; a nil estimator means only LimitTypeCount
	// rules can ever trigger.
	TokenEstimator func(r *http.Request) int64

	// ExcludedPaths bypass rate limiting entirely (e.g. health checks).
	ExcludedPaths []string

	// OnLimited defaults to defaultOnLimited.
	OnLimited func(w http.ResponseWriter, r *http.Request, result *CheckResult)
}

// Middleware wraps next with quota enforcement. A nil cfg.Limiter yields a
// no-op pass-through, so pkg/rpc can wire this unconditionally and leave
// rate limiting optional at the deployment level.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.IdentifierFunc == nil {
		cfg.IdentifierFunc = DefaultIdentifierFunc
	}
	if cfg.OnLimited == nil {
		cfg.OnLimited = defaultOnLimited
	}

	excluded := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, path := range cfg.ExcludedPaths {
		excluded[path] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			identifier, scope := cfg.IdentifierFunc(r)
			if identifier == "" {
				next.ServeHTTP(w, r)
				return
			}

			var tokenCount int64
			if cfg.TokenEstimator != nil {
				tokenCount = cfg.TokenEstimator(r)
			}

			ctx := r.Context()
			result, err := cfg.Limiter.CheckAndRecord(ctx, scope, identifier, tokenCount, 1)
			if err != nil {
				slog.Error("rate limit check failed, failing open", "error", err, "identifier", identifier)
				next.ServeHTTP(w, r)
				return
			}

			r = r.WithContext(context.WithValue(ctx, rateLimitUsageKey{}, result))

			if !result.Allowed {
				cfg.OnLimited(w, r, result)
				return
			}

			addRateLimitHeaders(w, result)
			next.ServeHTTP(w, r)
		})
	}
}

type rateLimitUsageKey struct{}

// UsageFromContext returns the CheckResult the middleware attached to r's
// context, or nil if no limiter ran (excluded path, or none configured).
func UsageFromContext(ctx context.Context) *CheckResult {
	result, _ := ctx.Value(rateLimitUsageKey{}).(*CheckResult)
	return result
}

// defaultOnLimited writes the /execute 429 body: a rate_limit_exceeded
// error plus every configured limit's current standing, so a client can
// back off on the specific window that tripped.
func defaultOnLimited(w http.ResponseWriter, r *http.Request, result *CheckResult) {
	w.Header().Set("Content-Type", "application/json")

	if result.RetryAfter != nil && *result.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(result.RetryAfter.Seconds()), 10))
	}
	addRateLimitHeaders(w, result)
	w.WriteHeader(http.StatusTooManyRequests)

	response := map[string]any{
		"error": map[string]any{
			"code":    "rate_limit_exceeded",
			"message": result.Reason,
		},
	}
	if result.RetryAfter != nil {
		response["retry_after_seconds"] = int64(result.RetryAfter.Seconds())
	}
	if len(result.Usages) > 0 {
		usages := make([]map[string]any, len(result.Usages))
		for i, u := range result.Usages {
			usages[i] = map[string]any{
				"type":       u.LimitType,
				"window":     u.Window,
				"current":    u.Current,
				"limit":      u.Limit,
				"remaining":  u.Remaining,
				"percentage": u.Percentage,
				"resets_at":  u.WindowEnd.Format(time.RFC3339),
			}
		}
		response["usage"] = usages
	}

	_ = json.NewEncoder(w).Encode(response)
}

// addRateLimitHeaders sets the standard X-RateLimit-* headers from
// result's most-consumed Usage.
func addRateLimitHeaders(w http.ResponseWriter, result *CheckResult) {
	if result == nil || len(result.Usages) == 0 {
		return
	}

	var mostRestrictive *Usage
	for i := range result.Usages {
		u := &result.Usages[i]
		if mostRestrictive == nil || u.Percentage > mostRestrictive.Percentage {
			mostRestrictive = u
		}
	}

	w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(mostRestrictive.Limit, 10))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(mostRestrictive.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(mostRestrictive.WindowEnd.Unix(), 10))
}

// SimpleMiddleware is the constructor pkg/rpc uses to guard POST /execute:
// Middleware with default identifier extraction and no token estimation,
// so only LimitTypeCount rules apply unless the caller wires a
// MiddlewareConfig directly.
func SimpleMiddleware(limiter RateLimiter, excludedPaths ...string) func(http.Handler) http.Handler {
	return Middleware(MiddlewareConfig{
		Limiter:       limiter,
		ExcludedPaths: excludedPaths,
	})
}
