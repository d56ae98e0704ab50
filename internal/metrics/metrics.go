// Package metrics exposes purchase and HTTP metrics to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"eventtix/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Monitor struct {
	registry *prometheus.Registry

	attempts        *prometheus.CounterVec
	inFlight        *prometheus.GaugeVec
	paymentDuration *prometheus.HistogramVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewMonitor() *Monitor {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Monitor{
		registry: reg,
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "purchase_attempts_total",
				Help: "Purchase attempts by payment method and final state",
			},
			[]string{"method", "state"},
		),
		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "purchase_attempts_in_flight",
				Help: "Purchase attempts currently waiting on payment or the ledger",
			},
			[]string{"method"},
		),
		paymentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "purchase_duration_seconds",
				Help:    "Time from payment start to final state",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 14),
			},
			[]string{"method", "state"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Observe tracks attempts as they move through the purchase state machine.
func (m *Monitor) Observe(ctx context.Context, t models.AttemptTransition) {
	if t.From == t.To {
		return
	}
	method := t.Attempt.Method
	switch {
	case t.From == models.AttemptIdle:
		m.inFlight.WithLabelValues(method).Inc()
	case t.To.Terminal():
		m.inFlight.WithLabelValues(method).Dec()
		m.attempts.WithLabelValues(method, string(t.To)).Inc()
		if !t.Attempt.PaymentStartedAt.IsZero() {
			m.paymentDuration.WithLabelValues(method, string(t.To)).Observe(t.At.Sub(t.Attempt.PaymentStartedAt).Seconds())
		}
	}
}

// Middleware records request counts and latency by chi route pattern.
func (m *Monitor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
