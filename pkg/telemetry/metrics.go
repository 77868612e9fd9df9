package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MetricTurnsSubmitted counts user turns accepted by the dispatcher,
	// labeled by the transport that carried them.
	MetricTurnsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aurelia",
		Name:      "turns_submitted_total",
		Help:      "User turns submitted, by transport.",
	}, []string{"transport"})

	// MetricEventsRouted counts inbound events applied to the store.
	MetricEventsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aurelia",
		Name:      "events_routed_total",
		Help:      "Inbound events routed to the store, by event type.",
	}, []string{"event_type"})

	// MetricEventsDropped counts malformed or unroutable frames.
	MetricEventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aurelia",
		Name:      "events_dropped_total",
		Help:      "Inbound events dropped without a store mutation.",
	}, []string{"reason"})

	// MetricChannelConnects counts channel dial attempts and outcomes.
	MetricChannelConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aurelia",
		Name:      "channel_connects_total",
		Help:      "Persistent channel dials, by outcome.",
	}, []string{"outcome"})

	// MetricReconcileAnomalies counts first-writer-wins identity conflicts.
	MetricReconcileAnomalies = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aurelia",
		Name:      "reconcile_anomalies_total",
		Help:      "Identity conflicts resolved by first-writer-wins.",
	})

	// MetricSessionsActive tracks open sessions in the store.
	MetricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aurelia",
		Name:      "sessions_active_total",
		Help:      "Number of open chat sessions.",
	})
)
