package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// sessionMetrics are the counters of one record run. They live in their own
// registry so a push carries only this session.
type sessionMetrics struct {
	registry  *prometheus.Registry
	publishes *prometheus.CounterVec
	chunks    prometheus.Counter
	duration  prometheus.Gauge
}

func newSessionMetrics() *sessionMetrics {
	m := &sessionMetrics{
		registry: prometheus.NewRegistry(),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_witness_publishes_total",
			Help: "Total witness checkpoint publishes by result.",
		}, []string{"result"}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "echo_record_chunks_total",
			Help: "Chunks hashed and signed in the session.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "echo_record_duration_seconds",
			Help: "Audio length covered by the session proof.",
		}),
	}
	m.registry.MustRegister(m.publishes, m.chunks, m.duration)
	return m
}

// RecordWitnessPublish matches witness.MetricsRecordFunc.
func (m *sessionMetrics) RecordWitnessPublish(success bool) {
	if success {
		m.publishes.WithLabelValues("success").Inc()
	} else {
		m.publishes.WithLabelValues("failure").Inc()
	}
}

func (m *sessionMetrics) push(url, signer string) error {
	return push.New(url, "echoctl_record").
		Gatherer(m.registry).
		Grouping("signer", signer).
		Push()
}
