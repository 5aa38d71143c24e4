// Package metrics exposes the process's Prometheus collectors. All
// collectors are registered via promauto at init; the resolver serves
// them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BuildsTotal counts refresh cycles by outcome ("ok", "ingest_skipped",
	// "aborted").
	BuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanecast_builds_total",
			Help: "Plan build cycles by outcome",
		},
		[]string{"outcome"},
	)

	// BuildDuration observes full-cycle wall time.
	BuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lanecast_build_duration_seconds",
			Help:    "Duration of plan build cycles",
			Buckets: prometheus.DefBuckets,
		},
	)

	// EventsAdmitted / EventsRejected count filter decisions per build.
	EventsAdmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lanecast_events_admitted_total",
			Help: "Events admitted by the filter",
		},
	)
	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanecast_events_rejected_total",
			Help: "Events rejected by the filter, by first matching rule",
		},
		[]string{"rule"},
	)

	// EventsDropped counts assignment overflow drops (no lane fit).
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lanecast_events_dropped_total",
			Help: "Events dropped because no lane could fit them",
		},
	)

	// PlanSlots reports the slot mix of the most recent committed plan.
	PlanSlots = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lanecast_plan_slots",
			Help: "Slots in the latest committed plan, by kind",
		},
		[]string{"kind"},
	)

	// ResolverRequests counts tune/whatson lookups by route and status.
	ResolverRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lanecast_resolver_requests_total",
			Help: "Resolver HTTP requests by route and status class",
		},
		[]string{"route", "status"},
	)

	// IngestEvents counts upserted events per ingest run.
	IngestEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lanecast_ingest_events_total",
			Help: "Events upserted from the watch-graph API",
		},
	)
)
