package metrics

import (
	"net/http"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	attempts        *prom.CounterVec
	joins           *prom.CounterVec
	dropped         prom.Counter
	attemptDuration *prom.HistogramVec
	outcomes        *prom.CounterVec
	pendingHandlers prom.Gauge
	credentialValid prom.Gauge
}

// NewPrometheusRecorder constructs and registers the checkin metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.attempts = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "checkin",
			Name:      "attempts_total",
			Help:      "Checkin attempts that dispatched a transport call, by entry point",
		}, []string{"origin"})
		pr.joins = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "checkin",
			Name:      "joins_total",
			Help:      "Callers that joined an in-flight checkin attempt, by entry point",
		}, []string{"origin"})
		pr.dropped = prom.NewCounter(prom.CounterOpts{
			Namespace: "checkin",
			Name:      "deferred_dropped_total",
			Help:      "Deferred checkin requests dropped while an attempt was in flight",
		})
		pr.attemptDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "checkin",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of checkin attempts from dispatch to fan-out",
			Buckets:   prom.DefBuckets,
		}, []string{"outcome"})
		pr.outcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "checkin",
			Name:      "outcomes_total",
			Help:      "Checkin attempt outcomes",
		}, []string{"outcome"})
		pr.pendingHandlers = prom.NewGauge(prom.GaugeOpts{
			Namespace: "checkin",
			Name:      "pending_handlers",
			Help:      "Handlers waiting on the current checkin attempt",
		})
		pr.credentialValid = prom.NewGauge(prom.GaugeOpts{
			Namespace: "checkin",
			Name:      "credential_valid",
			Help:      "1 if the held device credential is valid",
		})
		reg.MustRegister(pr.attempts, pr.joins, pr.dropped, pr.attemptDuration, pr.outcomes, pr.pendingHandlers, pr.credentialValid)
	})
	return pr
}

func (p *PrometheusRecorder) IncAttempt(origin string) {
	if p == nil || p.attempts == nil {
		return
	}
	p.attempts.WithLabelValues(origin).Inc()
}

func (p *PrometheusRecorder) IncJoin(origin string) {
	if p == nil || p.joins == nil {
		return
	}
	p.joins.WithLabelValues(origin).Inc()
}

func (p *PrometheusRecorder) IncDropped() {
	if p == nil || p.dropped == nil {
		return
	}
	p.dropped.Inc()
}

func (p *PrometheusRecorder) ObserveAttempt(outcome OutcomeLabel, d time.Duration) {
	if p == nil || p.attemptDuration == nil {
		return
	}
	p.attemptDuration.WithLabelValues(string(outcome)).Observe(d.Seconds())
	p.outcomes.WithLabelValues(string(outcome)).Inc()
}

func (p *PrometheusRecorder) SetPendingHandlers(n int) {
	if p == nil || p.pendingHandlers == nil {
		return
	}
	p.pendingHandlers.Set(float64(n))
}

func (p *PrometheusRecorder) SetCredentialValid(valid bool) {
	if p == nil || p.credentialValid == nil {
		return
	}
	if valid {
		p.credentialValid.Set(1)
		return
	}
	p.credentialValid.Set(0)
}

// HTTPHandler returns an http.Handler that serves Prometheus metrics for the provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
