// Package metrics holds the Prometheus collectors for test execution.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsNamespace = "llm_verdict"

var (
	providerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "provider_requests_total",
		Help:      "Count of provider completion attempts by outcome",
	}, []string{
		"provider",
		"outcome",
	})

	providerRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "provider_retries_total",
		Help:      "Count of provider retries by error kind",
	}, []string{
		"provider",
		"kind",
	})

	gradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "grades_total",
		Help:      "Count of graded responses by verdict",
	}, []string{
		"verdict",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_total",
		Help:      "Count of finished runs by terminal status",
	}, []string{
		"status",
	})

	runsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "runs_active",
		Help:      "Number of runs currently executing",
	})
)

// RecordProviderRequest counts one completion attempt.
func RecordProviderRequest(provider, outcome string) {
	providerRequestsTotal.WithLabelValues(provider, outcome).Inc()
}

// RecordProviderRetry counts one retry caused by an error of the given kind.
func RecordProviderRetry(provider, kind string) {
	providerRetriesTotal.WithLabelValues(provider, kind).Inc()
}

// RecordGrade counts one verdict. Grading failures are recorded as "error".
func RecordGrade(verdict string) {
	gradesTotal.WithLabelValues(verdict).Inc()
}

// RecordRunFinished counts a run reaching a terminal status.
func RecordRunFinished(status string) {
	runsTotal.WithLabelValues(status).Inc()
}

// RunStarted and RunStopped track the active-runs gauge.
func RunStarted() { runsActive.Inc() }

func RunStopped() { runsActive.Dec() }
