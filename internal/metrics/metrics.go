package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CrawlItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_crawl_items_total",
			Help: "Items discovered by a crawler pass, by collector and data_type.",
		},
		[]string{"collector", "data_type"},
	)

	CrawlErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_crawl_errors_total",
			Help: "Crawl failures by collector and error kind.",
		},
		[]string{"collector", "kind"},
	)

	CrawlDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_crawl_duration_seconds",
			Help:    "Wall-clock time to crawl one collector.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"collector"},
	)

	StoreWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_store_write_duration_seconds",
			Help:    "Index Store write latency by operation.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"op"},
	)

	StoreInsertedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_store_inserted_total",
			Help: "Rows actually inserted into items (post dedup).",
		},
		[]string{"collector"},
	)

	UpdateCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_update_cycle_duration_seconds",
			Help:    "Duration of one Updater cycle.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{},
	)

	NotifyPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_notify_publish_total",
			Help: "Notifier publish attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_api_requests_total",
			Help: "HTTP API requests by route and status class.",
		},
		[]string{"route", "status_class"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "broker_api_request_duration_seconds",
			Help:    "HTTP API request latency by route.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"route"},
	)

	LastBackupTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "broker_last_backup_timestamp_seconds",
			Help: "Unix timestamp of the last successful backup.",
		},
		[]string{},
	)
)

var registerOnce sync.Once

// Register registers all vectors with the default prometheus registry.
// Safe to call more than once; only the first call has any effect.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CrawlItemsTotal,
			CrawlErrorsTotal,
			CrawlDuration,
			StoreWriteDuration,
			StoreInsertedTotal,
			UpdateCycleDuration,
			NotifyPublishTotal,
			APIRequestsTotal,
			APIRequestDuration,
			LastBackupTimestamp,
		)
	})
}
