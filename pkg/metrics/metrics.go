// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package metrics records bridge activity as Prometheus series. Every method
// on a nil *Recorder is a no-op so components can run without metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Forward outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeTransport = "transport"
	OutcomeStatus    = "status"
	OutcomeDecode    = "decode"
)

// Reply kinds written (or not) to the output stream.
const (
	ReplyUpstream = "upstream"
	ReplyError    = "error"
	ReplyDropped  = "dropped"
)

// Recorder owns a private registry so several bridges can coexist in one
// process (and in tests) without duplicate registration panics.
type Recorder struct {
	registry *prometheus.Registry

	lines           *prometheus.CounterVec
	forwards        *prometheus.CounterVec
	forwardDuration *prometheus.HistogramVec
	replies         *prometheus.CounterVec
	inFlight        prometheus.Gauge
	session         prometheus.Gauge
}

// New builds a Recorder with the Go runtime and process collectors attached.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		lines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcp_bridge_lines_total",
				Help: "Non-blank input lines by message kind",
			},
			[]string{"kind"},
		),
		forwards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcp_bridge_forward_total",
				Help: "Upstream round trips by outcome",
			},
			[]string{"outcome"},
		),
		forwardDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcp_bridge_forward_duration_seconds",
				Help:    "Upstream round trip duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		replies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcp_bridge_replies_total",
				Help: "Replies written to the output stream, or dropped, by kind",
			},
			[]string{"kind"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_bridge_in_flight",
			Help: "Lines currently awaiting an upstream reply",
		}),
		session: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_bridge_session_established",
			Help: "1 once the upstream issued a session id",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.lines,
		r.forwards,
		r.forwardDuration,
		r.replies,
		r.inFlight,
		r.session,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// ObserveLine counts one non-blank input line.
func (r *Recorder) ObserveLine(kind string) {
	if r == nil {
		return
	}
	r.lines.WithLabelValues(kind).Inc()
}

// ObserveForward records one upstream round trip.
func (r *Recorder) ObserveForward(outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.forwards.WithLabelValues(outcome).Inc()
	r.forwardDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// ObserveReply counts a reply decision.
func (r *Recorder) ObserveReply(kind string) {
	if r == nil {
		return
	}
	r.replies.WithLabelValues(kind).Inc()
}

// TrackInFlight increments the in-flight gauge and returns its decrement.
func (r *Recorder) TrackInFlight() func() {
	if r == nil {
		return func() {}
	}
	r.inFlight.Inc()
	return r.inFlight.Dec
}

// SessionEstablished flags that a session id is held.
func (r *Recorder) SessionEstablished() {
	if r == nil {
		return
	}
	r.session.Set(1)
}
