package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voxplane_queue_depth",
		Help: "Current number of jobs per queue.",
	}, []string{"queue"})

	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voxplane_jobs_completed_total",
		Help: "Jobs that reached a terminal state, by final status.",
	}, []string{"status"})

	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voxplane_cache_hits_total",
		Help: "Enqueues served from a solution snapshot instead of a fresh agentic run.",
	})

	executionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voxplane_job_execution_seconds",
		Help:    "Wall-clock seconds from running to terminal per job.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

// observeDepths refreshes the per-queue depth gauges after a mutation.
func (s *Scheduler) observeDepths() {
	queueDepth.WithLabelValues("todo").Set(float64(s.todo.size()))
	queueDepth.WithLabelValues("running").Set(float64(s.running.size()))
	queueDepth.WithLabelValues("done").Set(float64(s.done.size()))
	queueDepth.WithLabelValues("dead").Set(float64(s.dead.size()))
}
