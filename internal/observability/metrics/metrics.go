// Package metrics exposes Prometheus instrumentation for the chat engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ConversationMetrics counts chat turns and their outcomes.
type ConversationMetrics struct {
	turnsTotal         *prometheus.CounterVec
	turnLatency        *prometheus.HistogramVec
	finalizationsTotal prometheus.Counter
	handoffsTotal      *prometheus.CounterVec
}

// New registers and returns the conversation metric set. Pass
// prometheus.DefaultRegisterer outside of tests.
func New(reg prometheus.Registerer) *ConversationMetrics {
	m := &ConversationMetrics{
		turnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "concierge",
				Subsystem: "conversation",
				Name:      "turns_total",
				Help:      "Chat turns processed, by routed intent and outcome",
			},
			[]string{"intent", "outcome"}, // outcome: ok, error
		),
		turnLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "concierge",
				Subsystem: "conversation",
				Name:      "turn_latency_seconds",
				Help:      "End-to-end latency of one chat turn",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 34},
			},
			[]string{"intent"},
		),
		finalizationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "concierge",
				Subsystem: "conversation",
				Name:      "scheduling_finalizations_total",
				Help:      "Appointments successfully finalized",
			},
		),
		handoffsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "concierge",
				Subsystem: "conversation",
				Name:      "handoffs_total",
				Help:      "Conversations handed off to a human operator",
			},
			[]string{"priority"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.turnsTotal, m.turnLatency, m.finalizationsTotal, m.handoffsTotal)
	}
	return m
}

func (m *ConversationMetrics) ObserveTurn(intent string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.turnsTotal.WithLabelValues(intent, outcome).Inc()
	m.turnLatency.WithLabelValues(intent).Observe(elapsed.Seconds())
}

func (m *ConversationMetrics) ObserveFinalization() {
	m.finalizationsTotal.Inc()
}

func (m *ConversationMetrics) ObserveHandoff(priority string) {
	m.handoffsTotal.WithLabelValues(priority).Inc()
}
