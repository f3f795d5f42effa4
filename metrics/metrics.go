// Package metrics exposes Prometheus instrumentation for the HTTP
// surface and the ingestion path.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the registry plus the HTTP and ingest instruments.
type Collector struct {
	registry        *prometheus.Registry
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	observationsInserted prometheus.Counter
	statesUpserted       prometheus.Counter
	violationsReported   prometheus.Counter
}

// New constructs a collector with default histograms and counters.
func New() (*Collector, error) {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "followengine",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for inbound HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "followengine",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of inbound HTTP requests.",
	}, []string{"method", "path", "status"})

	observationsInserted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "followengine",
		Subsystem: "ingest",
		Name:      "observations_inserted_total",
		Help:      "Follow observations written by snapshot ingestion.",
	})

	statesUpserted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "followengine",
		Subsystem: "ingest",
		Name:      "states_upserted_total",
		Help:      "Last-known-state rows created or advanced by ingestion.",
	})

	violationsReported := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "followengine",
		Subsystem: "ingest",
		Name:      "violations_total",
		Help:      "Data integrity violations reported during ingestion.",
	})

	for _, c := range []prometheus.Collector{
		requestDuration, requestTotal,
		observationsInserted, statesUpserted, violationsReported,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Collector{
		registry:             registry,
		requestDuration:      requestDuration,
		requestTotal:         requestTotal,
		observationsInserted: observationsInserted,
		statesUpserted:       statesUpserted,
		violationsReported:   violationsReported,
	}, nil
}

// Handler returns an HTTP handler exposing the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordIngest counts one ingestion run's output.
func (c *Collector) RecordIngest(inserted, upserted, violations int) {
	c.observationsInserted.Add(float64(inserted))
	c.statesUpserted.Add(float64(upserted))
	c.violationsReported.Add(float64(violations))
}

// Instrument wraps an HTTP handler to record request metrics. Works as
// chi middleware.
func (c *Collector) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		status := strconv.Itoa(rec.status)
		c.requestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
		c.requestTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
