package annotation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reconcilePasses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marginalia_reconcile_passes_total",
		Help: "Reconciliation passes run after document changes",
	})

	// reconcileDuration grows with document size: every pass walks the tree.
	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marginalia_reconcile_duration_seconds",
		Help:    "Reconciliation pass duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
	})

	commentsPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marginalia_comments_pruned_total",
		Help: "Comments removed because their annotated text was deleted",
	})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marginalia_comment_persist_failures_total",
		Help: "Comment list writes rejected by the keyed store",
	})
)
