// Package metrics holds the prometheus instruments of the recovery pipeline.
//
// Instruments are registered on a private registry rather than the global
// one so that every pipeline (and every test) gets its own counts.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "abxfeed"

// Metrics is the set of pipeline instruments.
type Metrics struct {
	registry *prometheus.Registry

	Streamed        prometheus.Counter
	StreamFailures  prometheus.Counter
	TrailingRecords prometheus.Counter
	Malformed       prometheus.Counter
	Gaps            prometheus.Counter
	Recovery        *prometheus.CounterVec
	Missing         prometheus.Gauge
	RunDuration     prometheus.Histogram
}

// New creates and registers all instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Streamed: newCounter(reg, "packets_streamed_total", "stream",
			"Packets decoded from stream-all sessions."),
		StreamFailures: newCounter(reg, "failures_total", "stream",
			"Stream-all sessions that ended in a transport failure."),
		TrailingRecords: newCounter(reg, "trailing_records_total", "stream",
			"Incomplete records discarded at the end of a stream."),
		Malformed: newCounter(reg, "malformed_records_total", "stream",
			"Full-size records that failed to decode."),
		Gaps: newCounter(reg, "gaps_total", "recovery",
			"Sequence numbers found missing between observed packets."),
		Recovery: newCounterVec(reg, "outcomes_total", "recovery",
			"Resend outcomes by status.", []string{"status"}),
		Missing: newGauge(reg, "missing_sequences", "recovery",
			"Sequences still absent after the last run."),
		RunDuration: newHistogram(reg, "run_duration_seconds", "pipeline",
			"Wall time of a full pipeline run.", prometheus.ExponentialBuckets(0.01, 2, 12)),
	}
	return m
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteFile writes every instrument to path in the text exposition format,
// suitable for a node_exporter textfile collector.
func (m *Metrics) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

func newCounter(reg prometheus.Registerer, name, subsystem, help string) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help})
	reg.MustRegister(c)
	return c
}

func newCounterVec(reg prometheus.Registerer, name, subsystem, help string, labels []string) *prometheus.CounterVec {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
	reg.MustRegister(c)
	return c
}

func newGauge(reg prometheus.Registerer, name, subsystem, help string) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help})
	reg.MustRegister(g)
	return g
}

func newHistogram(reg prometheus.Registerer, name, subsystem, help string, buckets []float64) prometheus.Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: Namespace, Subsystem: subsystem, Name: name, Help: help, Buckets: buckets})
	reg.MustRegister(h)
	return h
}
