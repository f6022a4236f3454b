// Package metrics exposes Prometheus counters and histograms for the
// redaction pipeline.
//
// Collectors live on a private registry rather than the global default so
// several instances (one per test, say) never collide. Every Record/Observe
// method is safe on a nil *Metrics, which callers use to mean "no metrics".
//
// Label values are detector sources, PII types, modes and outcomes only;
// detected values never reach a label.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pii_redactor"

// Drop reasons for candidates a detector discarded.
const (
	DropChecksum       = "checksum"
	DropOffsetMismatch = "offset_mismatch"
	DropMalformedReply = "malformed_reply"
)

// Metrics holds all collectors for one running redactor.
type Metrics struct {
	registry *prometheus.Registry

	redactions        *prometheus.CounterVec
	spansDetected     *prometheus.CounterVec
	spansMasked       *prometheus.CounterVec
	candidatesDropped *prometheus.CounterVec
	restores          *prometheus.CounterVec
	remoteCalls       *prometheus.CounterVec
	documentsSwept    prometheus.Counter
	documentsHeld     prometheus.Gauge
	stageSeconds      *prometheus.HistogramVec
}

// New builds and registers every collector, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		redactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redactions_total",
			Help:      "Redaction requests by detection mode and outcome.",
		}, []string{"mode", "outcome"}),
		spansDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spans_detected_total",
			Help:      "Candidate spans emitted by each detector before merging.",
		}, []string{"source"}),
		spansMasked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spans_masked_total",
			Help:      "Spans that survived merging and were replaced by a token.",
		}, []string{"type"}),
		candidatesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_dropped_total",
			Help:      "Candidates a detector discarded, by reason.",
		}, []string{"source", "reason"}),
		restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restores_total",
			Help:      "Restore attempts by outcome.",
		}, []string{"outcome"}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_calls_total",
			Help:      "Round trips to the remote model by outcome.",
		}, []string{"outcome"}),
		documentsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_swept_total",
			Help:      "Expired documents evicted by the background sweep.",
		}),
		documentsHeld: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "documents_held",
			Help:      "Documents currently held by the store, including expired ones not yet evicted.",
		}),
		stageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Latency of each pipeline stage.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5, 30},
		}, []string{"stage"}),
	}
	m.registry.MustRegister(
		m.redactions, m.spansDetected, m.spansMasked, m.candidatesDropped,
		m.restores, m.remoteCalls, m.documentsSwept, m.documentsHeld, m.stageSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry, for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRedaction counts one redaction request.
func (m *Metrics) RecordRedaction(mode, outcome string) {
	if m == nil {
		return
	}
	m.redactions.WithLabelValues(mode, outcome).Inc()
}

// RecordDetected counts candidate spans from one detector run.
func (m *Metrics) RecordDetected(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.spansDetected.WithLabelValues(source).Add(float64(n))
}

// RecordMasked counts one masked span of the given type.
func (m *Metrics) RecordMasked(piiType string) {
	if m == nil {
		return
	}
	m.spansMasked.WithLabelValues(piiType).Inc()
}

// RecordDropped counts one discarded candidate.
func (m *Metrics) RecordDropped(source, reason string) {
	if m == nil {
		return
	}
	m.candidatesDropped.WithLabelValues(source, reason).Inc()
}

// RecordRestore counts one restore attempt.
func (m *Metrics) RecordRestore(outcome string) {
	if m == nil {
		return
	}
	m.restores.WithLabelValues(outcome).Inc()
}

// RecordRemoteCall counts one remote model round trip.
func (m *Metrics) RecordRemoteCall(outcome string) {
	if m == nil {
		return
	}
	m.remoteCalls.WithLabelValues(outcome).Inc()
}

// RecordSweep counts documents evicted by one sweep.
func (m *Metrics) RecordSweep(removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.documentsSwept.Add(float64(removed))
}

// SetDocumentsHeld reports the current store size.
func (m *Metrics) SetDocumentsHeld(n int) {
	if m == nil {
		return
	}
	m.documentsHeld.Set(float64(n))
}

// ObserveStage records how long one pipeline stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageSeconds.WithLabelValues(stage).Observe(d.Seconds())
}
