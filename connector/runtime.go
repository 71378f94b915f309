package connector

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"eve.evalgo.org/ingest/processor"
	"eve.evalgo.org/ingest/ratelimit"
	"eve.evalgo.org/ingest/syncpoint"
)

// InstanceConfig identifies one connector instance (one source account/app
// connected by one org) and its tunables (§5, §6).
type InstanceConfig struct {
	ConnectorID         string
	ConnectorName       string // "DROPBOX", "GMAIL", "LINEAR", "SERVICENOW", ...
	OrgID               string
	MaxConcurrentBatches int
}

// Runtime is the Connector Runtime of §6: the shared plumbing every
// connectors/* Driver implementation is built on top of. It owns the
// instance's SyncPoints, its rate limiter, its credential cache, and the
// bounded worker pool used for scope fan-out, and hands the Entity Processor
// to drivers so they never talk to the Store directly (§3 invariant 5).
type Runtime struct {
	Config      InstanceConfig
	SyncPoints  syncpoint.Store
	Limiter     *ratelimit.Limiter
	Credentials *CredentialCache
	Processor   *processor.Processor
	Log         *logrus.Entry
}

// NewRuntime wires the shared collaborators for one connector instance.
func NewRuntime(cfg InstanceConfig, sp syncpoint.Store, limiter *ratelimit.Limiter, creds *CredentialCache, proc *processor.Processor, log *logrus.Entry) *Runtime {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{
		"connector_id":   cfg.ConnectorID,
		"connector_name": cfg.ConnectorName,
		"org_id":         cfg.OrgID,
	})
	return &Runtime{Config: cfg, SyncPoints: sp, Limiter: limiter, Credentials: creds, Processor: proc, Log: log}
}

// SyncPointKey builds the §4.5 structured key for one data point / scope of
// this instance.
func (r *Runtime) SyncPointKey(dataPointType, scope string) syncpoint.Key {
	return syncpoint.Key{
		ConnectorID:   r.Config.ConnectorID,
		OrgID:         r.Config.OrgID,
		DataPointType: dataPointType,
		Scope:         scope,
	}
}

// FanOutScopes runs fn over scopes bounded by the instance's
// max_concurrent_batches (default DefaultMaxConcurrentBatches), returning a
// per-scope error map for any scopes that failed — a failing scope never
// blocks the rest (§5, §8).
func (r *Runtime) FanOutScopes(ctx context.Context, scopes []string, fn func(ctx context.Context, scope string) error) map[string]error {
	return FanOut(ctx, r.Log, scopes, r.Config.MaxConcurrentBatches, fn)
}

// Credential resolves a live credential for the given end user, refreshing
// through r.Credentials as needed.
func (r *Runtime) Credential(ctx context.Context, userID string) (Credential, error) {
	return r.Credentials.Get(ctx, r.Config.OrgID, userID, r.Config.ConnectorID)
}

// Acquire blocks for a rate-limit token, bounded by ratelimit.DefaultAcquireTimeout
// so a starved limiter surfaces as a transient failure rather than hanging a
// scope's goroutine forever (§7).
func (r *Runtime) Acquire(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, ratelimit.DefaultAcquireTimeout)
	defer cancel()
	return r.Limiter.Acquire(ctx)
}

// now returns the current engine time in UTC. Nothing in the module calls it;
// RunPatternB's cursor-to-now comes from the fetcher's InitCursorToNow.
func now() time.Time { return time.Now().UTC() }
