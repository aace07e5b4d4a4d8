package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aftershock"

var (
	FeedPolls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feed_polls_total",
		Help:      "Feed polls by result (ok, empty, error)",
	}, []string{"result"})

	EventsUpserted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_upserted_total",
		Help:      "Event upserts by outcome",
	}, []string{"outcome"})

	FeaturesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "features_skipped_total",
		Help:      "Feed features that could not be normalized",
	})

	EnrichmentCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "enrichment_calls_total",
		Help:      "Enrichment calls by path (feed, ondemand) and result",
	}, []string{"path", "result"})

	Notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notifications_total",
		Help:      "Notifications by result (sent, dropped, error)",
	}, []string{"result"})

	OnDemandRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ondemand_requests_total",
		Help:      "On-demand requests by terminal state",
	}, []string{"state"})

	WorkerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_queue_depth",
		Help:      "Tasks waiting for a worker",
	})

	WorkerBusy = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_busy",
		Help:      "Workers currently running a task",
	})
)

func init() {
	prometheus.MustRegister(
		FeedPolls, EventsUpserted, FeaturesSkipped, EnrichmentCalls,
		Notifications, OnDemandRequests, WorkerQueueDepth, WorkerBusy,
	)
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
