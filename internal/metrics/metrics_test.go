package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.Delivery(DeliveryAccepted)
	m.Log(LogProcessed, "SignalPurchased")
	m.LedgerRace()
	m.ObserveHandler("", time.Millisecond)
	m.Pruned(3)
	m.Errors()
}

func TestInitIsIdempotentAndExported(t *testing.T) {
	m := Init()
	if Init() != m {
		t.Fatalf("Init must return the same instance")
	}
	m.Delivery(DeliveryStale)
	m.Log(LogSkipped, "")
	m.Pruned(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`signal_ingest_deliveries_total{outcome="stale"}`,
		`signal_ingest_logs_total{event="unknown",result="skipped"}`,
		`signal_ingest_ledger_pruned_total`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
