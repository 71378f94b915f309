// Package ratelimit provides the per-connector token-bucket limiter of §4.1:
// "the limiter is the only place backoff lives — callers do not sleep."
// Grounded on the token-bucket wrapper pattern used for service-to-service
// rate limiting elsewhere in the retrieved corpus (golang.org/x/time/rate).
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a per-connector-instance limiter.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// Limiter wraps golang.org/x/time/rate.Limiter. Every source API call must
// acquire a token before the call; Acquire blocks (cooperatively yielding)
// until a token is available or ctx is cancelled.
type Limiter struct {
	inner *rate.Limiter
}

// New builds a Limiter from cfg, defaulting Burst to 2x the rate when unset.
func New(cfg Config) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RequestsPerSecond * 2)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	return &Limiter{inner: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
}

// Acquire blocks until a token is available or ctx is done. This is the only
// place a connector implementation should ever wait on rate — callers never
// sleep directly (§4.1).
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.inner.Wait(ctx)
}

// Per-source presets, one per connector implementation in §4.2, chosen to
// mirror the documented/typical throttle of each source's API.
var (
	DropboxDefault    = Config{RequestsPerSecond: 50, Burst: 100}
	GmailDefault      = Config{RequestsPerSecond: 25, Burst: 50}
	LinearDefault     = Config{RequestsPerSecond: 10, Burst: 20}
	ServiceNowDefault = Config{RequestsPerSecond: 20, Burst: 40}
	MSGraphDefault    = Config{RequestsPerSecond: 30, Burst: 60}
	GiteaDefault      = Config{RequestsPerSecond: 20, Burst: 40}
	GitLabDefault     = Config{RequestsPerSecond: 20, Burst: 40}
)

// DefaultAcquireTimeout bounds how long a single Acquire call may block before
// the caller should treat it as a transient failure (§7 "external calls
// default to a 30-second timeout").
const DefaultAcquireTimeout = 30 * time.Second
