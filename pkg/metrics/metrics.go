package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes scheduling outcomes. A nil *Metrics discards everything.
type Metrics struct {
	registry     *prometheus.Registry
	jobs         *prometheus.CounterVec
	degradedDays prometheus.Gauge
	lastRun      *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartheater_jobs_total",
			Help: "Toggle jobs handled by operation and outcome.",
		}, []string{"op", "result"}),
		degradedDays: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "smartheater_degraded_days",
			Help: "Days whose schedule is only partially submitted.",
		}),
		lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "smartheater_last_run_timestamp_seconds",
			Help: "Unix time of the last run of an operation.",
		}, []string{"op"}),
	}
	m.registry.MustRegister(m.jobs, m.degradedDays, m.lastRun)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Jobs counts n jobs of op that ended in result.
func (m *Metrics) Jobs(op, result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.jobs.WithLabelValues(op, result).Add(float64(n))
}

func (m *Metrics) DegradedDays(n int) {
	if m == nil {
		return
	}
	m.degradedDays.Set(float64(n))
}

func (m *Metrics) Ran(op string) {
	if m == nil {
		return
	}
	m.lastRun.WithLabelValues(op).SetToCurrentTime()
}
