package scheduler

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/ingest/connector"
	"eve.evalgo.org/ingest/model"
)

type countingDriver struct {
	mu    sync.Mutex
	calls int
}

func (d *countingDriver) Init(ctx context.Context) (bool, error) { return true, nil }
func (d *countingDriver) RunSync(ctx context.Context) error      { return nil }
func (d *countingDriver) RunIncrementalSync(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return nil
}
func (d *countingDriver) HandleWebhookNotification(ctx context.Context, n connector.WebhookNotification) error {
	return nil
}
func (d *countingDriver) TestConnectionAndAccess(ctx context.Context) (bool, error) { return true, nil }
func (d *countingDriver) StreamRecord(ctx context.Context, record *model.Record, convertTo *string) (*connector.StreamingResponse, error) {
	return nil, nil
}
func (d *countingDriver) GetSignedURL(ctx context.Context, record *model.Record) (string, bool, error) {
	return "", false, nil
}
func (d *countingDriver) ReindexRecords(ctx context.Context, records []*model.Record) error { return nil }
func (d *countingDriver) Cleanup(ctx context.Context) error                                 { return nil }
func (d *countingDriver) GetFilterOptions(ctx context.Context, filterKey string, page connector.Pagination) (connector.FilterOptionsResponse, error) {
	return connector.FilterOptionsResponse{}, nil
}

func (d *countingDriver) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func TestRunOnce_InvokesRunIncrementalSync(t *testing.T) {
	s := New(nil)
	driver := &countingDriver{}
	rt := &connector.Runtime{Config: connector.InstanceConfig{ConnectorID: "conn1", ConnectorName: "LINEAR"}}

	s.runOnce(s.log, Instance{RT: rt, Driver: driver})

	assert.Equal(t, 1, driver.count())
}

func TestRegister_DefaultsScheduleWhenEmpty(t *testing.T) {
	s := New(nil)
	driver := &countingDriver{}
	rt := &connector.Runtime{Config: connector.InstanceConfig{ConnectorID: "conn1", ConnectorName: "LINEAR"}}
	err := s.Register(Instance{RT: rt, Driver: driver})
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 1)
}
