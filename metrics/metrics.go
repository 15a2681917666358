package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	// TransitionsTotal counts applied report status transitions by target status.
	TransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportbot",
		Subsystem: "lifecycle",
		Name:      "report_transitions_total",
		Help:      "Total number of applied report status transitions, labeled by target status.",
	}, []string{"to"})

	// ReplyReconciliationsTotal counts reconciled inbound replies by outcome.
	ReplyReconciliationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportbot",
		Subsystem: "lifecycle",
		Name:      "reply_reconciliations_total",
		Help:      "Total number of inbound replies reconciled against reports, labeled by outcome.",
	}, []string{"outcome"})

	// FollowUpsTotal counts follow-up attempts by result.
	FollowUpsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportbot",
		Subsystem: "lifecycle",
		Name:      "followups_total",
		Help:      "Total number of follow-up attempts, labeled by result.",
	}, []string{"result"})

	// LLMRequestsTotal counts language model calls by operation and result.
	LLMRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reportbot",
		Subsystem: "llm",
		Name:      "llm_requests_total",
		Help:      "Total number of language model requests, labeled by operation and result.",
	}, []string{"op", "result"})

	// SweepDurationSeconds is the wall time of one scheduler sweep.
	SweepDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reportbot",
		Subsystem: "scheduler",
		Name:      "sweep_duration_seconds",
		Help:      "Time to run one scheduler sweep.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"sweep"})

	// EventPublishErrorTotal counts lifecycle events that failed to publish.
	EventPublishErrorTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "reportbot",
		Subsystem: "rabbitmq",
		Name:      "event_publish_error_total",
		Help:      "Total number of report lifecycle events that could not be published.",
	})
)

// Register registers bot metrics with the default Prometheus registry.
// Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			TransitionsTotal,
			ReplyReconciliationsTotal,
			FollowUpsTotal,
			LLMRequestsTotal,
			SweepDurationSeconds,
			EventPublishErrorTotal,
		)
	})
}

// ObserveSweep records the duration of a sweep started at start
func ObserveSweep(sweep string, start time.Time) {
	SweepDurationSeconds.WithLabelValues(sweep).Observe(time.Since(start).Seconds())
}

// Result maps an error to the "ok"/"error" label value
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
