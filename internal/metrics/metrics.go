package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the process
type Metrics struct {
	registry *prometheus.Registry

	alarmsTriggered prometheus.Counter
	alarmsActive    prometheus.Gauge
	channelRings    *prometheus.CounterVec
	channelFailures *prometheus.CounterVec
	dosesLogged     *prometheus.CounterVec
	doseWriteErrors prometheus.Counter

	assistantRequests *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// Default returns the process-wide metrics instance
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New creates a Metrics instance with its own registry
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		alarmsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pilltick_alarms_triggered_total",
			Help: "Alarm instances created by the clock poller.",
		}),
		alarmsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pilltick_alarms_active",
			Help: "Currently open alarm instances.",
		}),
		channelRings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pilltick_channel_rings_total",
			Help: "Alert channel invocations.",
		}, []string{"channel"}),
		channelFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pilltick_channel_failures_total",
			Help: "Alert channel invocations that failed.",
		}, []string{"channel"}),
		dosesLogged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pilltick_doses_logged_total",
			Help: "Dose log entries written, by status.",
		}, []string{"status"}),
		doseWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pilltick_dose_write_errors_total",
			Help: "Durable writes that failed after an alarm was resolved.",
		}),
		assistantRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pilltick_assistant_requests_total",
			Help: "Assistant chat requests, by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pilltick_http_requests_total",
			Help: "HTTP requests, by route and status class.",
		}, []string{"route", "class"}),
	}

	reg.MustRegister(
		m.alarmsTriggered,
		m.alarmsActive,
		m.channelRings,
		m.channelFailures,
		m.dosesLogged,
		m.doseWriteErrors,
		m.assistantRequests,
		m.httpRequests,
	)

	return m
}

// Handler returns the HTTP handler serving this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordAlarmTriggered() { m.alarmsTriggered.Inc() }
func (m *Metrics) SetActiveAlarms(n int) { m.alarmsActive.Set(float64(n)) }
func (m *Metrics) RecordChannelRing(ch string) { m.channelRings.WithLabelValues(ch).Inc() }
func (m *Metrics) RecordChannelFailure(ch string) {
	m.channelFailures.WithLabelValues(ch).Inc()
}
func (m *Metrics) RecordDoseLogged(status string) { m.dosesLogged.WithLabelValues(status).Inc() }
func (m *Metrics) RecordDoseWriteError() { m.doseWriteErrors.Inc() }
func (m *Metrics) RecordAssistantRequest(outcome string) {
	m.assistantRequests.WithLabelValues(outcome).Inc()
}
func (m *Metrics) RecordHTTPRequest(route, class string) {
	m.httpRequests.WithLabelValues(route, class).Inc()
}
