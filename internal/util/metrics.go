package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_runs_total",
		Help: "Total number of price synchronization runs by result",
	}, []string{"result"})

	SyncRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_sync_run_duration_seconds",
		Help:    "Duration of price synchronization runs",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	FeedRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_feed_rows_total",
		Help: "Total number of feed rows consumed by outcome",
	}, []string{"outcome"})

	EntriesUpsertedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_entries_upserted_total",
		Help: "Total number of catalog entries written by ingestion",
	}, []string{"action"})

	EntriesSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_sync_entries_swept_total",
		Help: "Total number of catalog entries soft-deleted as missing from the feed",
	})

	BatchSaveLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_sync_batch_save_latency_seconds",
		Help:    "Latency of catalog batch saves",
		Buckets: prometheus.DefBuckets,
	})

	ImageSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_image_runs_total",
		Help: "Total number of image bundle synchronizations by result",
	}, []string{"result"})

	ImageFilesMovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalog_sync_image_files_moved_total",
		Help: "Total number of image files moved into the public root",
	})

	ImageSyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "catalog_sync_image_duration_seconds",
		Help:    "Duration of image bundle synchronizations",
		Buckets: prometheus.DefBuckets,
	})

	StatusLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_status_lookups_total",
		Help: "Total number of operation status lookups by result",
	}, []string{"result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
