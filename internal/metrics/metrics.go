// Package metrics exposes Prometheus instrumentation for the promotion
// pipeline and the HTTP API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DraftsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prepbrain_drafts_created_total",
		Help: "Drafts created from indexed knowledge sources",
	})

	DraftsEnriched = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prepbrain_drafts_enriched_total",
		Help: "Drafts enriched into structured payloads",
	})

	DraftsPromoted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "prepbrain_drafts_promoted_total",
		Help: "Drafts promoted to permanent recipes",
	})

	DraftsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prepbrain_drafts_rejected_total",
		Help: "Drafts rejected, by pipeline stage",
	}, []string{"stage"})

	IngestJobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prepbrain_ingest_jobs_finished_total",
		Help: "Ingest jobs reaching a terminal state, by status",
	}, []string{"status"})

	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "prepbrain_cycle_duration_seconds",
		Help:    "Wall time of the full maintenance cycle",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	QueuePendingDrafts = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prepbrain_queue_pending_drafts",
		Help: "Drafts waiting in pending or enriched state",
	})

	QueuePendingIngests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "prepbrain_queue_pending_ingests",
		Help: "Ingest jobs in a non-terminal state",
	})

	OrdersRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prepbrain_orders_routed_total",
		Help: "Order lines routed to a vendor, by routing reason",
	}, []string{"reason"})
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		DraftsCreated,
		DraftsEnriched,
		DraftsPromoted,
		DraftsRejected,
		IngestJobsFinished,
		CycleDuration,
		QueuePendingDrafts,
		QueuePendingIngests,
		OrdersRouted,
	)
}

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
