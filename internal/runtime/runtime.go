// Package runtime holds the process-scoped in-memory state that spec.md
// §9's Design Note 2 calls out explicitly: the evaluator's sliding-window
// ring buffers and the ingest auth cache/rate-limit buckets. Each service
// binary (and each test) constructs its own Runtime instead of reaching
// for package-level globals, so state never leaks across instances.
package runtime

import (
	"time"

	"pulse/internal/authcache"
	"pulse/internal/evaluator"
	"pulse/internal/ratelimit"
)

// Runtime owns every singleton the spec calls out as process-scoped.
type Runtime struct {
	Windows   *evaluator.WindowRegistry
	AuthCache *authcache.Cache
	Limiter   *ratelimit.Limiter
}

// New constructs a fresh Runtime. authCacheTTL/maxSize come from the
// service's environment config; rateLimitCapacity/fillRate come from the
// loaded Settings (spec.md §4.1 Runtime settings), and cmd/ingest re-applies
// the polled rates via Runtime.Limiter.SetRates on every settings poll interval.
func New(authCacheTTL time.Duration, authCacheMaxSize int, rateLimitCapacity, rateLimitFillRate float64) *Runtime {
	return &Runtime{
		Windows:   evaluator.NewWindowRegistry(),
		AuthCache: authcache.New(authCacheTTL, authCacheMaxSize),
		Limiter:   ratelimit.NewLimiter(rateLimitCapacity, rateLimitFillRate),
	}
}
