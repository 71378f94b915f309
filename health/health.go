// Package health exposes per-connector-instance health as Prometheus
// metrics plus a chi /healthz handler, grounded on the teacher's own
// tracing/metrics.go promauto idiom and tracing/metrics_handler.go's
// promhttp.Handler wiring (ported from Echo to chi to match webhook's mux).
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eve.evalgo.org/ingest/model"
)

// Metrics holds the Prometheus collectors tracking every connector
// instance's sync health.
type Metrics struct {
	LastSyncTimestamp *prometheus.GaugeVec
	LastErrorTimestamp *prometheus.GaugeVec
	SyncErrors        *prometheus.CounterVec
	AuthStatus        *prometheus.GaugeVec // 1 = authorized, 0 = needs reauth
	RecordsByStatus   *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors under namespace (defaults
// to "ingest" when empty) against reg. Passing a fresh prometheus.NewRegistry()
// keeps table-driven tests from colliding on the global default registry;
// production wiring passes nil to use it.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "ingest"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		LastSyncTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connector_last_sync_timestamp_seconds",
				Help:      "Unix time of the last successful sync run per connector instance",
			},
			[]string{"connector_id", "connector_name", "org_id"},
		),
		LastErrorTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connector_last_error_timestamp_seconds",
				Help:      "Unix time of the last failed sync run per connector instance",
			},
			[]string{"connector_id", "connector_name", "org_id"},
		),
		SyncErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connector_sync_errors_total",
				Help:      "Total sync run failures per connector instance",
			},
			[]string{"connector_id", "connector_name", "org_id", "error_type"},
		),
		AuthStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connector_auth_status",
				Help:      "1 if the connector instance's credential is valid, 0 if it needs reauth",
			},
			[]string{"connector_id", "connector_name", "org_id"},
		),
		RecordsByStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connector_records_by_indexing_status",
				Help:      "Count of records known to this instance by indexing status",
			},
			[]string{"connector_id", "connector_name", "org_id", "indexing_status"},
		),
	}
}

// InstanceLabels is the (connector_id, connector_name, org_id) label set
// every metric here is broken down by.
type InstanceLabels struct {
	ConnectorID   string
	ConnectorName string
	OrgID         string
}

func (l InstanceLabels) values() []string { return []string{l.ConnectorID, l.ConnectorName, l.OrgID} }

// RecordSyncSuccess marks a successful sync run.
func (m *Metrics) RecordSyncSuccess(labels InstanceLabels) {
	m.LastSyncTimestamp.WithLabelValues(labels.values()...).Set(float64(time.Now().Unix()))
}

// RecordSyncFailure marks a failed sync run, bumping the error counter and
// the last-error gauge.
func (m *Metrics) RecordSyncFailure(labels InstanceLabels, errType string) {
	now := float64(time.Now().Unix())
	m.LastErrorTimestamp.WithLabelValues(labels.values()...).Set(now)
	m.SyncErrors.WithLabelValues(append(labels.values(), errType)...).Inc()
}

// SetAuthStatus flips the instance's auth gauge.
func (m *Metrics) SetAuthStatus(labels InstanceLabels, authorized bool) {
	v := 0.0
	if authorized {
		v = 1.0
	}
	m.AuthStatus.WithLabelValues(labels.values()...).Set(v)
}

// SetRecordCount reports the number of records this instance knows about in
// a given indexing status.
func (m *Metrics) SetRecordCount(labels InstanceLabels, status model.IndexingStatus, count int) {
	m.RecordsByStatus.WithLabelValues(append(labels.values(), string(status))...).Set(float64(count))
}

// Handler registers /healthz and /metrics on r.
type Handler struct {
	Metrics *Metrics
	Checker Checker
}

// Checker reports whether the service is ready to serve traffic — e.g. the
// store connection is alive. Returning a non-nil error fails the check.
type Checker interface {
	CheckHealth() error
}

// Routes mounts /healthz (liveness/readiness JSON) and /metrics (Prometheus
// exposition format) on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
}

type healthzResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := healthzResponse{Status: "ok"}
	code := http.StatusOK
	if h.Checker != nil {
		if err := h.Checker.CheckHealth(); err != nil {
			resp.Status = "unavailable"
			resp.Error = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// registryOnce guards callers that want a process-wide default registry
// instead of constructing their own Metrics (tests construct their own to
// avoid duplicate-registration panics across table cases).
var registryOnce sync.Once
var defaultMetrics *Metrics

// Default returns a singleton Metrics registered against the default
// Prometheus registry, creating it on first call.
func Default() *Metrics {
	registryOnce.Do(func() {
		defaultMetrics = NewMetrics("", nil)
	})
	return defaultMetrics
}
