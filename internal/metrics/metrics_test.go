package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	m.ObserveRequest("create_invoice", "ok", 10*time.Millisecond)
	m.ObserveRequest("create_invoice", "ok", 20*time.Millisecond)
	m.ObserveRequest("pay_invoice", "already_paid", time.Millisecond)
	m.IndexOrphan(7, errors.New("boom"))
	m.EventsDelivered(3)
	m.EventsDeadLettered(2)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("create_invoice", "ok")); got != 2 {
		t.Errorf("create ok: got %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("pay_invoice", "already_paid")); got != 1 {
		t.Errorf("pay already_paid: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.indexOrphans); got != 1 {
		t.Errorf("orphans: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.eventsDelivered); got != 3 {
		t.Errorf("delivered: got %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.eventsDeadLettered); got != 2 {
		t.Errorf("dead lettered: got %v, want 2", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m.ObserveRequest("get_invoice", "ok", time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	body := w.Body.String()
	for _, name := range []string{"ledger_requests_total", "ledger_request_duration_seconds"} {
		if !strings.Contains(body, name) {
			t.Errorf("exposition missing %s", name)
		}
	}
}
