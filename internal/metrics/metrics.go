package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thoughtboard_submissions_total",
		Help: "Thought submissions by delivery outcome.",
	}, []string{"outcome"})

	Deletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thoughtboard_deletions_total",
		Help: "Thought deletions by outcome.",
	}, []string{"outcome"})

	SweepPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thoughtboard_sweep_purged_total",
		Help: "Thoughts purged by the retention sweeper.",
	})

	SweepFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "thoughtboard_sweep_failed_total",
		Help: "Sweep candidates that could not be processed.",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "thoughtboard_sweep_duration_seconds",
		Help:    "Duration of retention sweeps.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
	})

	Recovery = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "thoughtboard_recovery_messages_total",
		Help: "Messages seen by the recovery reconciler by result.",
	}, []string{"result"})

	StoredThoughts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "thoughtboard_thoughts",
		Help: "Number of thoughts in the store, sampled after each sweep.",
	})
)
