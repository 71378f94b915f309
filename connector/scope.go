package connector

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultMaxConcurrentBatches bounds how many scopes of a single connector
// instance run their sync loop at once (§5 "max_concurrent_batches").
const DefaultMaxConcurrentBatches = 5

// FanOut runs fn once per scope with at most maxConcurrent scopes in flight
// simultaneously, collecting every error rather than stopping at the first
// one — a failure on one user/team/project scope must not block the others
// (§5, §8 "partial failure within a run").
//
// Unlike worker.Pool (an unbounded external job queue with always-on
// goroutines), scopes are a known finite list per run, so a plain
// semaphore-and-WaitGroup is all the fan-out needs.
func FanOut(ctx context.Context, log *logrus.Entry, scopes []string, maxConcurrent int, fn func(ctx context.Context, scope string) error) map[string]error {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentBatches
	}

	sem := make(chan struct{}, maxConcurrent)
	var wg sync.WaitGroup
	var mu sync.Mutex
	errs := make(map[string]error)

	for _, scope := range scopes {
		scope := scope
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := fn(ctx, scope); err != nil {
				if log != nil {
					log.WithError(err).WithField("scope", scope).Warn("scope sync failed")
				}
				mu.Lock()
				errs[scope] = err
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return errs
}
