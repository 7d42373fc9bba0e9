package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vccoord_messages_processed_total",
			Help: "Number of processed coordinator messages, by request kind.",
		},
		[]string{"kind"},
	)

	messageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vccoord_message_errors_total",
			Help: "Number of messages whose handling failed, by request kind.",
		},
		[]string{"kind"},
	)

	staleMessages = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vccoord_stale_commit_messages_total",
			Help: "Number of commit messages discarded because their transaction is no longer tracked.",
		},
	)

	commitAborts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vccoord_commit_aborts_total",
			Help: "Number of aborted pending commits, including supersedes and error aborts.",
		},
	)

	batchSizes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vccoord_poll_batch_size",
			Help:    "Number of messages per polled batch.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)
)
