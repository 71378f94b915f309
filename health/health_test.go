package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eve.evalgo.org/ingest/model"
)

func testLabels() InstanceLabels {
	return InstanceLabels{ConnectorID: "conn1", ConnectorName: "LINEAR", OrgID: "org1"}
}

func TestRecordSyncSuccess_SetsLastSyncGauge(t *testing.T) {
	m := NewMetrics("test_success", prometheus.NewRegistry())
	m.RecordSyncSuccess(testLabels())

	v := testutil.ToFloat64(m.LastSyncTimestamp.WithLabelValues("conn1", "LINEAR", "org1"))
	assert.Greater(t, v, float64(0))
}

func TestRecordSyncFailure_IncrementsCounterAndSetsGauge(t *testing.T) {
	m := NewMetrics("test_failure", prometheus.NewRegistry())
	m.RecordSyncFailure(testLabels(), "transient")

	count := testutil.ToFloat64(m.SyncErrors.WithLabelValues("conn1", "LINEAR", "org1", "transient"))
	assert.Equal(t, float64(1), count)

	last := testutil.ToFloat64(m.LastErrorTimestamp.WithLabelValues("conn1", "LINEAR", "org1"))
	assert.Greater(t, last, float64(0))
}

func TestSetAuthStatus_TogglesGauge(t *testing.T) {
	m := NewMetrics("test_auth", prometheus.NewRegistry())
	m.SetAuthStatus(testLabels(), true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuthStatus.WithLabelValues("conn1", "LINEAR", "org1")))

	m.SetAuthStatus(testLabels(), false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.AuthStatus.WithLabelValues("conn1", "LINEAR", "org1")))
}

func TestSetRecordCount_SetsGaugeByStatus(t *testing.T) {
	m := NewMetrics("test_records", prometheus.NewRegistry())
	m.SetRecordCount(testLabels(), model.IndexingStatusIndexed, 42)

	v := testutil.ToFloat64(m.RecordsByStatus.WithLabelValues("conn1", "LINEAR", "org1", "INDEXED"))
	assert.Equal(t, float64(42), v)
}

type failingChecker struct{}

func (failingChecker) CheckHealth() error { return errors.New("store unreachable") }

func TestHealthz_ReturnsOKWithNoChecker(t *testing.T) {
	h := &Handler{}
	r := chi.NewRouter()
	h.Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp healthzResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHealthz_ReturnsUnavailableWhenCheckerFails(t *testing.T) {
	h := &Handler{Checker: failingChecker{}}
	r := chi.NewRouter()
	h.Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp healthzResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unavailable", resp.Status)
	assert.Contains(t, resp.Error, "store unreachable")
}
