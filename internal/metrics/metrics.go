// Package metrics exposes Prometheus collectors for the triage engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels cycles and classifications that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels cycles and classifications that failed.
	OutcomeError = "error"
)

var (
	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "engine_cycles_total",
			Help:      "Total evaluation cycles run, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "triage",
			Name:      "engine_cycle_seconds",
			Help:      "Evaluation cycle latency in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	notificationsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "triage",
			Name:      "notifications_open",
			Help:      "Currently open notifications.",
		},
	)

	classificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "classifications_total",
			Help:      "Security event classifications, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	incidentsCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "incidents_created_total",
			Help:      "Incidents opened by the classifier, partitioned by severity.",
		},
		[]string{"severity"},
	)

	actionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "triage",
			Name:      "actions_total",
			Help:      "Remediation actions decided, partitioned by decision status.",
		},
		[]string{"status"},
	)
)

// Register attaches all triage collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		cyclesTotal,
		cycleDurationSeconds,
		notificationsOpen,
		classificationsTotal,
		incidentsCreatedTotal,
		actionsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveCycle records one evaluation cycle.
func ObserveCycle(duration time.Duration, outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	cyclesTotal.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// SetOpenNotifications updates the open-notification gauge.
func SetOpenNotifications(n int) {
	notificationsOpen.Set(float64(n))
}

// ObserveClassification records one classification attempt.
func ObserveClassification(outcome string) {
	label := outcome
	if label != OutcomeError {
		label = OutcomeSuccess
	}
	classificationsTotal.WithLabelValues(label).Inc()
}

// ObserveIncidentCreated records an incident opening.
func ObserveIncidentCreated(severity string) {
	incidentsCreatedTotal.WithLabelValues(severity).Inc()
}

// ObserveActionDecision records a gatekeeper decision.
func ObserveActionDecision(status string) {
	actionsTotal.WithLabelValues(status).Inc()
}
