package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	feedPageLoads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracefund",
			Subsystem: "feed",
			Name:      "page_loads_total",
			Help:      "Donation page loads by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)

	feedStaleResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tracefund",
			Subsystem: "feed",
			Name:      "stale_responses_total",
			Help:      "Donation page results discarded because a newer request or dispose superseded them.",
		},
	)

	activeSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tracefund",
			Subsystem: "feed",
			Name:      "active_subscriptions",
			Help:      "Current number of live trace subscriptions.",
		},
	)

	conversionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tracefund",
			Subsystem: "balance",
			Name:      "conversion_failures_total",
			Help:      "Batch conversions that failed and left the previous native value in place.",
		},
	)

	withdrawalPhases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracefund",
			Subsystem: "withdrawal",
			Name:      "phase_transitions_total",
			Help:      "Withdrawal phase transitions.",
		},
		[]string{"phase"},
	)

	withdrawalOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tracefund",
			Subsystem: "withdrawal",
			Name:      "outcomes_total",
			Help:      "Finished withdrawal attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		feedPageLoads,
		feedStaleResponses,
		activeSubscriptions,
		conversionFailures,
		withdrawalPhases,
		withdrawalOutcomes,
	)
}

// Handler exposes the registry over HTTP
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordPageLoad(fromScratch bool, err error) {
	mode := "append"
	if fromScratch {
		mode = "reload"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	feedPageLoads.WithLabelValues(mode, outcome).Inc()
}

func RecordStaleResponse() {
	feedStaleResponses.Inc()
}

func SubscriptionOpened() {
	activeSubscriptions.Inc()
}

func SubscriptionClosed() {
	activeSubscriptions.Dec()
}

func RecordConversionFailure() {
	conversionFailures.Inc()
}

func RecordWithdrawalPhase(phase string) {
	withdrawalPhases.WithLabelValues(phase).Inc()
}

// RecordWithdrawalOutcome counts a finished attempt; outcome is a phase or failure kind
func RecordWithdrawalOutcome(outcome string) {
	withdrawalOutcomes.WithLabelValues(outcome).Inc()
}
