package automerge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "mergomat"

const (
	skipReasonAuthor       = "author_not_a_bot"
	skipReasonFilter       = "filter_query_mismatch"
	skipReasonUpdateType   = "update_type_not_allowed"
	skipReasonChecksFailed = "status_checks_failed"
	skipReasonTimeout      = "status_check_wait_timeout"
)

var (
	processedEventsCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "received_events_total",
		Help:      "Number of received webhook events",
	})

	mergesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "merges_total",
		Help:      "Number of pull requests for that merging was enabled successfully",
	}, []string{"repository"})

	skippedPRsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "skipped_pull_requests_total",
		Help:      "Number of pull requests that were not merged, by skip reason",
	}, []string{"repository", "reason"})

	failuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "processing_failures_total",
		Help:      "Number of pull requests for that processing failed with an unexpected error",
	}, []string{"repository"})

	inflightPRsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricNamespace,
		Name:      "inflight_pull_requests",
		Help:      "Number of pull requests that are currently processed",
	})
)

func processedEventsInc() {
	processedEventsCounter.Inc()
}

func mergesInc(repo *Repository) {
	mergesCounter.WithLabelValues(repo.String()).Inc()
}

func skippedPRsInc(repo *Repository, reason string) {
	skippedPRsCounter.WithLabelValues(repo.String(), reason).Inc()
}

func failuresInc(repo *Repository) {
	failuresCounter.WithLabelValues(repo.String()).Inc()
}

func inflightPRsInc() {
	inflightPRsGauge.Inc()
}

func inflightPRsDec() {
	inflightPRsGauge.Dec()
}
