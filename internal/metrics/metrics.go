// Package metrics holds the Prometheus collectors shared by the
// materializer, gate, bus, and alerter. Grounded on the teacher's
// internal/metrics.ProcessErrors counter, generalized to this module's
// three control loops.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "workflowcore"

var (
	// TickDuration observes wall-clock time spent per materializer tick.
	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "materializer",
		Name:      "tick_duration_seconds",
		Help:      "Duration of a schedule materializer tick.",
		Buckets:   prometheus.DefBuckets,
	})

	// RunsCreated counts WorkflowRun rows created by the materializer,
	// labeled by schedule id.
	RunsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "materializer",
		Name:      "runs_created_total",
		Help:      "WorkflowRun rows created by the materializer.",
	}, []string{"schedule_id"})

	// OccurrencesSkipped counts occurrences for which no new run was created:
	// either C2 returned None (no partition key) or a run for the occurrence
	// already existed (idempotency-key conflict). Labeled by schedule id.
	OccurrencesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "materializer",
		Name:      "occurrences_skipped_total",
		Help:      "Occurrences for which no new run was created, because the partition classifier returned None or a run for the occurrence already existed.",
	}, []string{"schedule_id"})

	// EnqueueFailures counts EnqueueRun callback failures, labeled by
	// schedule id.
	EnqueueFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "materializer",
		Name:      "enqueue_failures_total",
		Help:      "EnqueueRun callback failures observed by the materializer.",
	}, []string{"schedule_id"})

	// GateDecisions counts gate admission outcomes, labeled by
	// allowed/pause-reason.
	GateDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gate",
		Name:      "decisions_total",
		Help:      "Event gate admission decisions.",
	}, []string{"allowed", "reason"})

	// TriggerPauses counts trigger circuit-breaker pauses installed.
	TriggerPauses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gate",
		Name:      "trigger_pauses_total",
		Help:      "Trigger circuit breaker pauses installed.",
	})

	// BusPublished counts bus publishes, labeled by event type.
	BusPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "published_total",
		Help:      "Events published on the bus, by type.",
	}, []string{"type"})

	// BusDropped counts drop-oldest evictions, labeled by subscription id.
	BusDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "bus",
		Name:      "dropped_total",
		Help:      "Events dropped from a subscription's queue because it was full.",
	}, []string{"subscription_id"})

	// AlertsSent counts webhook POSTs sent by the alerter, labeled by
	// workflow definition id and outcome.
	AlertsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerter",
		Name:      "webhooks_total",
		Help:      "Alert webhook POSTs attempted by the run alerter.",
	}, []string{"workflow_definition_id", "outcome"})
)

func init() {
	prometheus.MustRegister(
		TickDuration,
		RunsCreated,
		OccurrencesSkipped,
		EnqueueFailures,
		GateDecisions,
		TriggerPauses,
		BusPublished,
		BusDropped,
		AlertsSent,
	)
}
