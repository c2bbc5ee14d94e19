// Package metrics exposes Prometheus instruments for the recognition service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mudra"

// Metrics holds the service instruments on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	recognitions    *prometheus.CounterVec
	confidence      prometheus.Histogram
	frames          *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	streams         prometheus.Gauge
	modelReady      prometheus.Gauge
}

// New creates and registers all instruments.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		recognitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognitions_total",
			Help:      "Recognition results by label kind and match outcome.",
		}, []string{"kind", "match"}),
		confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_confidence",
			Help:      "Confidence of the winning class.",
			Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Submitted frames by outcome (hand, no_hand, dropped).",
		}, []string{"outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"stage"}),
		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Open streaming recognition connections.",
		}),
		modelReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_ready",
			Help:      "1 when the classifier and detector are loaded.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.recognitions,
		m.confidence,
		m.frames,
		m.stageDuration,
		m.streams,
		m.modelReady,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the instruments are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveRecognition records a recognition outcome. kind is the label kind
// name: class, unknown or uncertain.
func (m *Metrics) ObserveRecognition(kind string, match bool, confidence float64) {
	if m == nil {
		return
	}
	m.recognitions.WithLabelValues(kind, strconv.FormatBool(match)).Inc()
	if kind != "unknown" {
		m.confidence.Observe(confidence)
	}
}

// ObserveFrames adds per-request frame outcomes.
func (m *Metrics) ObserveFrames(withHand, withoutHand, dropped int) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues("hand").Add(float64(withHand))
	m.frames.WithLabelValues("no_hand").Add(float64(withoutHand))
	m.frames.WithLabelValues("dropped").Add(float64(dropped))
}

// ObserveStage records the duration of a pipeline stage such as detect or
// predict.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// StreamOpened and StreamClosed track open streaming connections.
func (m *Metrics) StreamOpened() {
	if m != nil {
		m.streams.Inc()
	}
}

func (m *Metrics) StreamClosed() {
	if m != nil {
		m.streams.Dec()
	}
}

// SetModelReady exports the service readiness.
func (m *Metrics) SetModelReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.modelReady.Set(1)
	} else {
		m.modelReady.Set(0)
	}
}
