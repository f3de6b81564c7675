// Package metrics holds the Prometheus collectors shared by the collector
// and the server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Client-side collector metrics.
var (
	EventsTracked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_collector_events_tracked_total",
		Help: "Total number of events accepted by the tracker, labelled by activity type.",
	}, []string{"activity_type"})

	EventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activity_collector_events_rejected_total",
		Help: "Total number of track calls rejected for an unknown activity type.",
	})

	EventsTruncated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activity_collector_events_truncated_total",
		Help: "Total number of events whose activityData exceeded the size cap.",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activity_collector_events_dropped_total",
		Help: "Total number of queued events dropped on queue overflow.",
	})

	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_collector_flushes_total",
		Help: "Total number of flush attempts, labelled by outcome.",
	}, []string{"outcome"})

	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "activity_collector_queue_length",
		Help: "Current number of events waiting for delivery.",
	})
)

// Server-side metrics.
var (
	EventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activity_ingest_events_stored_total",
		Help: "Total number of events persisted by ingestion.",
	})

	EventsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_ingest_events_skipped_total",
		Help: "Total number of events skipped during batch ingestion, labelled by reason.",
	}, []string{"reason"})

	PayloadMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_ingest_payload_mismatches_total",
		Help: "Stored events whose activityData did not fit the typed payload of their type.",
	}, []string{"activity_type"})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "activity_ingest_batch_size",
		Help:    "Number of events per ingested batch.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	})

	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "activity_query_duration_ms",
		Help:    "Latency of read queries in milliseconds, labelled by query.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"query"})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_analytics_cache_lookups_total",
		Help: "Popular-content cache lookups, labelled by result (hit or miss).",
	}, []string{"result"})

	EventsPurged = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activity_retention_events_purged_total",
		Help: "Total number of events removed by retention purges.",
	})

	RetentionRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "activity_retention_runs_total",
		Help: "Scheduled retention runs, labelled by outcome.",
	}, []string{"outcome"})

	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "activity_stream_clients",
		Help: "Current number of connected live-feed clients.",
	})

	StreamDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activity_stream_events_dropped_total",
		Help: "Total number of live-feed events dropped for slow subscribers.",
	})

	RequestsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "activity_ingest_requests_throttled_total",
		Help: "Total number of ingestion requests rejected by the per-IP rate limit.",
	})
)
