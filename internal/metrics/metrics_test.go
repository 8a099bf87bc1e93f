package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.QuorumPromotions.Inc()

	families, err := b.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() == "alertflow_quorum_promotions_total" {
			if v := f.GetMetric()[0].GetCounter().GetValue(); v != 0 {
				t.Errorf("second registry saw %v promotions", v)
			}
		}
	}
}

func TestHandler_ExposesCounters(t *testing.T) {
	m := New()
	m.EventsIngested.WithLabelValues("metric").Add(3)
	m.LockContention.WithLabelValues("alert_email_notification").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`alertflow_events_ingested_total{type="metric"} 3`,
		`alertflow_task_lock_contention_total{task="alert_email_notification"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
