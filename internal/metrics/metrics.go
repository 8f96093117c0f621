// Package metrics exposes Prometheus metrics for tracked generations and
// upstream requests.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"costtrace/internal/cost"
	"costtrace/internal/llmclient"
)

const namespace = "costtrace"

// Generation outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Recorder holds the metric vectors and their registry. A nil Recorder
// records nothing.
type Recorder struct {
	registry *prometheus.Registry

	generations     *prometheus.CounterVec
	costTotal       *prometheus.CounterVec
	costMissing     *prometheus.CounterVec
	costPerCall     *prometheus.HistogramVec
	upstreamTotal   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
}

// New registers all metrics on a fresh registry. If withRuntime is set the Go
// and process collectors are registered too.
func New(withRuntime bool) *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Tracked generations by provider, model and outcome",
		}, []string{"provider", "model", "outcome"}),
		costTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_total",
			Help:      "Reported cost by provider, model and the location it was found at",
		}, []string{"provider", "model", "location"}),
		costMissing: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_missing_total",
			Help:      "Successful generations whose result carried no cost",
		}, []string{"provider", "model"}),
		costPerCall: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cost_per_generation",
			Help:      "Reported cost per generation",
			Buckets:   []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"provider", "model"}),
		upstreamTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream provider requests by status code",
		}, []string{"provider", "endpoint", "status"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream provider request latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider", "endpoint"}),
	}

	reg.MustRegister(
		r.generations,
		r.costTotal,
		r.costMissing,
		r.costPerCall,
		r.upstreamTotal,
		r.upstreamLatency,
	)
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveGeneration records one tracked generation. rec is nil when the
// result carried no cost.
func (r *Recorder) ObserveGeneration(provider, model string, rec *cost.Record, loc cost.Location, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.generations.WithLabelValues(provider, model, OutcomeError).Inc()
		return
	}
	r.generations.WithLabelValues(provider, model, OutcomeSuccess).Inc()
	if rec == nil {
		r.costMissing.WithLabelValues(provider, model).Inc()
		return
	}
	total := rec.TotalOrZero()
	r.costTotal.WithLabelValues(provider, model, string(loc)).Add(total)
	r.costPerCall.WithLabelValues(provider, model).Observe(total)
}

// Hooks returns llmclient hooks that record upstream request counts and
// latency.
func (r *Recorder) Hooks() llmclient.Hooks {
	if r == nil {
		return llmclient.Hooks{}
	}
	return llmclient.Hooks{
		OnRequestEnd: func(_ context.Context, info llmclient.ResponseInfo) {
			status := "error"
			if info.StatusCode > 0 {
				status = strconv.Itoa(info.StatusCode)
			}
			r.upstreamTotal.WithLabelValues(info.Provider, info.Endpoint, status).Inc()
			r.upstreamLatency.WithLabelValues(info.Provider, info.Endpoint).Observe(info.Duration.Seconds())
		},
	}
}
