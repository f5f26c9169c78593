package metricsvc

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/calsync/core/calendar"
)

const namespace = "calsync"

// Metrics holds the calendar sync collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	auditEvents   *prometheus.CounterVec
	webhooks      *prometheus.CounterVec
	syncRuns      *prometheus.CounterVec
	syncItems     *prometheus.CounterVec
	syncDuration  prometheus.Histogram
	lastSuccessTS prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.auditEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_events_total",
		Help:      "Reconciliation audit events by action and outcome",
	}, []string{"action", "outcome"})
	m.webhooks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_deliveries_total",
		Help:      "Inbound webhook deliveries by provider and status",
	}, []string{"provider", "status"})
	m.syncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_runs_total",
		Help:      "Poll sync runs by result",
	}, []string{"result"})
	m.syncItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_items_total",
		Help:      "Poll sync items by kind (synced, cancelled, error)",
	}, []string{"kind"})
	m.syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_duration_seconds",
		Help:      "Time spent in one poll sync window",
		Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})
	m.lastSuccessTS = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sync_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last poll sync without errors",
	})

	m.registry.MustRegister(
		m.auditEvents, m.webhooks,
		m.syncRuns, m.syncItems, m.syncDuration, m.lastSuccessTS,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveWebhook counts one delivery; rejected deliveries are labelled by error class.
func (m *Metrics) ObserveWebhook(provider string, d calendar.Delivery, err error) {
	status := d.Status
	if err != nil {
		switch {
		case calendar.IsAuthenticity(err):
			status = "unauthorized"
		case calendar.IsConfiguration(err):
			status = "misconfigured"
		case errors.Cause(err) == calendar.ErrUnknownProvider:
			status = "unknown_provider"
		default:
			status = "failed"
		}
	}
	m.webhooks.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) ObserveSync(res calendar.SyncResult, took time.Duration, err error) {
	switch {
	case errors.Cause(err) == calendar.ErrSyncInProgress:
		m.syncRuns.WithLabelValues("busy").Inc()
		return
	case err != nil:
		m.syncRuns.WithLabelValues("failure").Inc()
	case res.ErrorCount > 0:
		m.syncRuns.WithLabelValues("partial").Inc()
	default:
		m.syncRuns.WithLabelValues("success").Inc()
		m.lastSuccessTS.Set(float64(calendar.NowFunc().Unix()))
	}
	m.syncDuration.Observe(took.Seconds())
	m.syncItems.WithLabelValues("synced").Add(float64(res.SyncedCount))
	m.syncItems.WithLabelValues("cancelled").Add(float64(res.CancelledCount))
	m.syncItems.WithLabelValues("error").Add(float64(res.ErrorCount))
}

type auditing struct {
	next    calendar.Auditor
	metrics *Metrics
}

// Auditor counts every event before passing it on to next (which may be nil).
func (m *Metrics) Auditor(next calendar.Auditor) calendar.Auditor {
	return &auditing{next: next, metrics: m}
}

func (a *auditing) Record(ctx context.Context, ev calendar.AuditEvent) error {
	a.metrics.auditEvents.WithLabelValues(string(ev.Action), string(ev.Outcome)).Inc()
	if a.next == nil {
		return nil
	}
	return a.next.Record(ctx, ev)
}
