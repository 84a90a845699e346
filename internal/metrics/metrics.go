// Package metrics exposes Prometheus instrumentation for the gateway.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docconv"

// Metrics groups the collectors the request pipeline updates.
type Metrics struct {
	requests           *prometheus.CounterVec
	conversionDuration *prometheus.HistogramVec
	rateLimited        *prometheus.CounterVec
	reg                prometheus.Registerer
}

// New registers the gateway collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Conversion requests by route and outcome.",
		}, []string{"route", "outcome"}),
		conversionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Time spent in the external converter.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"engine", "outcome"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"route"}),
		reg: reg,
	}
}

// RecordRequest counts a finished request. outcome is "ok" or an error label.
func (m *Metrics) RecordRequest(route, outcome string) {
	m.requests.WithLabelValues(route, outcome).Inc()
}

// ObserveConversion records how long one converter run took.
func (m *Metrics) ObserveConversion(engine string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.conversionDuration.WithLabelValues(engine, outcome).Observe(d.Seconds())
}

// RecordRateLimited counts a rejected request.
func (m *Metrics) RecordRateLimited(route string) {
	m.rateLimited.WithLabelValues(route).Inc()
}

// TrackPendingCleanups exports the number of temp files waiting for deletion.
func (m *Metrics) TrackPendingCleanups(pending func() int) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tempfiles_pending_cleanup",
		Help:      "Temp files scheduled for deletion.",
	}, func() float64 { return float64(pending()) })
}

// Handler serves the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
