package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc(ParticipantJoined)
	m.Add(SignalForwarded, 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"# TYPE dateherenow_relay_events_total counter",
		`dateherenow_relay_events_total{event="participant_joined"} 1`,
		`dateherenow_relay_events_total{event="signal_forwarded"} 2`,
		`dateherenow_relay_events_total{event="quote\"back\\slash"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestPrometheusHandler_NilMetrics(t *testing.T) {
	rr := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(BadMessage)
	if got := m.Get(BadMessage); got != 0 {
		t.Fatalf("Get=%d, want 0", got)
	}
	if snap := m.Snapshot(); len(snap) != 0 {
		t.Fatalf("snapshot=%v, want empty", snap)
	}
}
