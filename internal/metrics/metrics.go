package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	APICallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_api_calls_total",
		Help: "Slack API calls by operation and result",
	}, []string{"operation", "result"})

	APIRetriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slack_api_retries_total",
		Help: "Slack API retries by operation and error kind",
	}, []string{"operation", "kind"})

	APIRetryWaitSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "slack_api_retry_wait_seconds",
		Help:    "Wait before a Slack API retry",
		Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"operation"})

	MessagesScannedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_messages_scanned_total",
		Help: "Source channel messages scanned for resolution reactions",
	})

	MessagesSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "leaderboard_messages_skipped_total",
		Help: "Messages skipped because of malformed data",
	})

	PublishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leaderboard_publish_total",
		Help: "Weekly leaderboard publish attempts by outcome",
	}, []string{"outcome"})

	LastResolutions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "leaderboard_last_week_resolutions",
		Help: "Total resolutions in the most recently built leaderboard",
	})
)

var registerOnce sync.Once

// MustRegister registers the collectors with the given registerer. Repeated
// calls are no-ops so commands and tests can call it freely.
func MustRegister(registerer prometheus.Registerer) {
	registerOnce.Do(func() {
		registerer.MustRegister(
			APICallsTotal,
			APIRetriesTotal,
			APIRetryWaitSeconds,
			MessagesScannedTotal,
			MessagesSkippedTotal,
			PublishTotal,
			LastResolutions,
		)
	})
}
