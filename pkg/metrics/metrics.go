package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	ExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_executions_total",
		Help: "The total number of dispatch attempts by outcome",
	}, []string{"outcome"})

	DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "engine_dispatch_seconds",
		Help:    "Time taken to dispatch a schedule end to end",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	DenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_denials_total",
		Help: "Total number of safety denials by denial kind",
	}, []string{"kind", "retryable"})

	GasPriceGwei = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_gas_price_gwei",
		Help: "Last observed network gas price in gwei",
	})

	DueSchedules = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_due_schedules",
		Help: "The number of due schedules found on the last poll tick",
	})

	RetryQueueSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_retry_queue_size",
		Help: "Current size of the retry queue",
	})

	RetriesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_retries_executed_total",
		Help: "Number of cooled-down schedules re-dispatched from the retry queue",
	}, []string{"reason"})

	TriggerFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_trigger_fires_total",
		Help: "Number of event trigger matches by trigger kind",
	}, []string{"kind"})

	EventsObserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_events_observed_total",
		Help: "Number of chain events received by the watchtower",
	})

	Resubscriptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_resubscriptions_total",
		Help: "Number of times the watchtower recovered its event subscription",
	})

	ExecutionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_execution_errors_total",
		Help: "Total number of chain write errors by type",
	}, []string{"error_type"})

	ActiveTriggers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_active_triggers",
		Help: "Number of active event triggers in the registry",
	})

	SkippedTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_skipped_ticks_total",
		Help: "Number of poll ticks skipped because the previous tick was still running",
	})

	CoalescedDispatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_coalesced_dispatches_total",
		Help: "Number of dispatch requests dropped because one was already in flight for the schedule",
	})
)
