package main

import (
	"context"
	"fmt"

	"eve.evalgo.org/ingest/connector"
	"eve.evalgo.org/ingest/model"
	"eve.evalgo.org/ingest/store"
)

// recordLookup adapts store.Store to signedurl.RecordLookup: one read-only
// transaction per lookup.
type recordLookup struct {
	store store.Store
}

func (l *recordLookup) GetRecord(ctx context.Context, orgID, recordID string) (*model.Record, error) {
	tx, err := l.store.BeginTransaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingestd: begin tx for record lookup: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, ok, err := tx.GetRecordByID(ctx, orgID, recordID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("ingestd: record %s not found in org %s", recordID, orgID)
	}
	return rec, nil
}

// storeChecker implements health.Checker by opening and immediately rolling
// back a transaction, the cheapest proof the store connection is alive.
type storeChecker struct {
	store store.Store
}

func (c *storeChecker) CheckHealth() error {
	tx, err := c.store.BeginTransaction(context.Background())
	if err != nil {
		return fmt.Errorf("store unreachable: %w", err)
	}
	return tx.Rollback(context.Background())
}

// driverDispatcher hands a verified webhook notification to the instance
// registered for its provider, running RunIncrementalSync's caller
// (HandleWebhookNotification) on its own goroutine so the HTTP handler that
// already wrote its 200 never blocks on it.
type driverDispatcher struct {
	drivers map[string]connector.Driver
	log     logger
}

type logger interface {
	Errorf(format string, args ...any)
}

func (d *driverDispatcher) Dispatch(provider string, n connector.WebhookNotification) {
	driver, ok := d.drivers[provider]
	if !ok {
		return
	}
	go func() {
		if err := driver.HandleWebhookNotification(context.Background(), n); err != nil {
			d.log.Errorf("webhook %s: handle notification: %v", provider, err)
		}
	}()
}
