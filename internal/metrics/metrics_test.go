package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetricsHandler(t *testing.T) {
	m := New()

	m.RecordAlarmTriggered()
	m.RecordChannelRing("audio")
	m.RecordChannelFailure("audio")
	m.RecordDoseLogged("taken")
	m.SetActiveAlarms(2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"pilltick_alarms_triggered_total 1",
		`pilltick_channel_rings_total{channel="audio"} 1`,
		`pilltick_doses_logged_total{status="taken"} 1`,
		"pilltick_alarms_active 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestDefaultIsSingleton(t *testing.T) {
	if Default() != Default() {
		t.Error("expected Default to return the same instance")
	}
}
