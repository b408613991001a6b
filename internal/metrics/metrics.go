package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcomes.
const (
	DeliveryAccepted     = "accepted"
	DeliveryUnauthorized = "unauthorized"
	DeliveryInvalid      = "invalid"
	DeliveryStale        = "stale"
)

// Per-log results.
const (
	LogProcessed = "processed"
	LogSkipped   = "skipped"
	LogDuplicate = "duplicate"
	LogFailed    = "failed"
)

// Metrics holds the ingestion collectors. A nil *Metrics is a no-op.
type Metrics struct {
	deliveries      *prometheus.CounterVec
	logs            *prometheus.CounterVec
	ledgerRaces     prometheus.Counter
	handlerDuration *prometheus.HistogramVec
	pruned          prometheus.Counter
	errors          prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "signal_ingest_deliveries_total",
				Help: "Webhook deliveries by gate outcome",
			}, []string{"outcome"}),
			logs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "signal_ingest_logs_total",
				Help: "Contract logs by processing result and event",
			}, []string{"result", "event"}),
			ledgerRaces: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "signal_ingest_ledger_races_total",
				Help: "Ledger inserts lost to a concurrent delivery of the same event",
			}),
			handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "signal_ingest_handler_duration_seconds",
				Help:    "Event handler latency including the domain write",
				Buckets: prometheus.DefBuckets,
			}, []string{"event"}),
			pruned: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "signal_ingest_ledger_pruned_total",
				Help: "Expired ledger records removed by the janitor",
			}),
			errors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "signal_ingest_errors_total",
				Help: "Total number of errors encountered",
			}),
		}
		prometheus.MustRegister(
			metrics.deliveries,
			metrics.logs,
			metrics.ledgerRaces,
			metrics.handlerDuration,
			metrics.pruned,
			metrics.errors,
		)
	})
	return metrics
}

// Delivery counts a delivery by gate outcome.
func (m *Metrics) Delivery(outcome string) {
	if m != nil {
		m.deliveries.WithLabelValues(outcome).Inc()
	}
}

// Log counts a per-log result. event may be empty for unrouted logs.
func (m *Metrics) Log(result, event string) {
	if m != nil {
		if event == "" {
			event = "unknown"
		}
		m.logs.WithLabelValues(result, event).Inc()
	}
}

// LedgerRace counts a lost MarkProcessed race.
func (m *Metrics) LedgerRace() {
	if m != nil {
		m.ledgerRaces.Inc()
	}
}

// ObserveHandler records handler latency.
func (m *Metrics) ObserveHandler(event string, d time.Duration) {
	if m != nil {
		if event == "" {
			event = "unknown"
		}
		m.handlerDuration.WithLabelValues(event).Observe(d.Seconds())
	}
}

// Pruned adds n pruned ledger rows.
func (m *Metrics) Pruned(n int64) {
	if m != nil && n > 0 {
		m.pruned.Add(float64(n))
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
