// Package metrics provides Prometheus metrics for the feed pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var (
	runsTotal = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "untisfeed",
		Name:      "runs_total",
		Help:      "Completed pipeline runs.",
	})

	runErrors = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "untisfeed",
		Name:      "run_errors_total",
		Help:      "Failed pipeline runs by stage.",
	}, []string{"stage"})

	lessonsFetched = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "untisfeed",
		Name:      "lessons_fetched",
		Help:      "Lesson records in the last successful fetch.",
	})

	eventsPublished = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "untisfeed",
		Name:      "events_published",
		Help:      "Events in the last published feed.",
	})

	fetchDuration = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "untisfeed",
		Name:      "fetch_duration_seconds",
		Help:      "Duration of individual timetable window requests.",
		Buckets:   prometheus.DefBuckets,
	})

	lastRunUnix = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "untisfeed",
		Name:      "last_run_unix",
		Help:      "Unix time of the last successful run.",
	})
)

// Registry returns the registry backing the /metrics endpoint.
func Registry() *prometheus.Registry {
	return registry
}

func RecordRun() {
	runsTotal.Inc()
	lastRunUnix.SetToCurrentTime()
}

func RecordRunError(stage string) {
	runErrors.WithLabelValues(stage).Inc()
}

func SetLessonsFetched(n int) {
	lessonsFetched.Set(float64(n))
}

func SetEventsPublished(n int) {
	eventsPublished.Set(float64(n))
}

func ObserveFetchDuration(d time.Duration) {
	fetchDuration.Observe(d.Seconds())
}
