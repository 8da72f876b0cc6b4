// Package metrics exposes Prometheus instrumentation for signing,
// verification and the HTTP layer.
//
// A nil *Recorder is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mdsign"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeValid   = "valid"
	OutcomeInvalid = "invalid"
)

// Recorder owns a registry and the collectors registered on it.
type Recorder struct {
	registry *prometheus.Registry

	signTotal        *prometheus.CounterVec
	signDuration     prometheus.Histogram
	verifyTotal      *prometheus.CounterVec
	verifyDuration   prometheus.Histogram
	requestCounter   *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	trustAnchorCount prometheus.Gauge
}

// New creates a Recorder with its own registry. Go runtime and process
// collectors are registered alongside the service metrics.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		signTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sign",
			Name:      "operations_total",
			Help:      "Total number of sign operations by outcome",
		}, []string{"outcome"}),
		signDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sign",
			Name:      "duration_seconds",
			Help:      "Sign operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),
		verifyTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "signatures_total",
			Help:      "Total number of verified signature entries by outcome",
		}, []string{"outcome"}),
		verifyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "verify",
			Name:      "duration_seconds",
			Help:      "Document verification duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),
		requestCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"method", "path"}),
		trustAnchorCount: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "trust",
			Name:      "anchors",
			Help:      "Number of loaded trust anchors",
		}),
	}
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveSign records one sign operation.
func (r *Recorder) ObserveSign(d time.Duration, err error) {
	if r == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	r.signTotal.WithLabelValues(outcome).Inc()
	r.signDuration.Observe(d.Seconds())
}

// ObserveVerify records one document verification and the outcome of each
// of its signature entries.
func (r *Recorder) ObserveVerify(d time.Duration, valid, invalid int) {
	if r == nil {
		return
	}
	r.verifyTotal.WithLabelValues(OutcomeValid).Add(float64(valid))
	r.verifyTotal.WithLabelValues(OutcomeInvalid).Add(float64(invalid))
	r.verifyDuration.Observe(d.Seconds())
}

// ObserveRequest records one HTTP request.
func (r *Recorder) ObserveRequest(method, path string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.requestCounter.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	r.requestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// SetTrustAnchors publishes the trust anchor count.
func (r *Recorder) SetTrustAnchors(n int) {
	if r == nil {
		return
	}
	r.trustAnchorCount.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
