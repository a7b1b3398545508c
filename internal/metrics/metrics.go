package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartgallery_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartgallery_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartgallery_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartgallery_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartgallery_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartgallery_db_transaction_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"outcome"}, // "commit", "rollback"
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartgallery_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	DBSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smartgallery_db_size_bytes",
			Help: "Size of SQLite database files in bytes",
		},
		[]string{"file"}, // "main", "wal", "shm"
	)
)

// Sync metrics
var (
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartgallery_sync_runs_total",
			Help: "Total number of sync runs",
		},
		[]string{"mode"}, // "full", "folder"
	)

	SyncLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartgallery_sync_last_run_timestamp",
			Help: "Timestamp of the last completed sync run",
		},
	)

	SyncLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartgallery_sync_last_run_duration_seconds",
			Help: "Duration of the last sync run in seconds",
		},
	)

	SyncFilesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smartgallery_sync_files_processed_total",
			Help: "Total number of files processed by sync runs",
		},
	)

	SyncFilesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smartgallery_sync_files_deleted_total",
			Help: "Total number of index rows removed for missing files",
		},
	)

	SyncErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smartgallery_sync_errors_total",
			Help: "Total number of file processing errors during sync",
		},
	)

	SyncIsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartgallery_sync_running",
			Help: "Whether a sync is currently running (1 = running, 0 = idle)",
		},
	)
)

// Workflow extraction metrics
var (
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartgallery_workflow_extractions_total",
			Help: "Total number of workflow metadata extraction attempts",
		},
		[]string{"outcome"}, // "extracted", "no_workflow", "parse_error", "no_samplers"
	)

	SamplersExtracted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smartgallery_workflow_samplers_extracted_total",
			Help: "Total number of sampler metadata records extracted",
		},
	)
)

// Thumbnail metrics
var (
	ThumbnailGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartgallery_thumbnail_generations_total",
			Help: "Total number of thumbnail generations",
		},
		[]string{"type", "status"},
	)

	ThumbnailGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartgallery_thumbnail_generation_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)

	ThumbnailCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smartgallery_thumbnail_cache_hits_total",
			Help: "Total number of thumbnail cache hits",
		},
	)

	ThumbnailCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smartgallery_thumbnail_cache_misses_total",
			Help: "Total number of thumbnail cache misses",
		},
	)
)

// Query cache metrics
var (
	QueryCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartgallery_query_cache_hits_total",
			Help: "Total number of query cache hits",
		},
		[]string{"cache"},
	)

	QueryCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartgallery_query_cache_misses_total",
			Help: "Total number of query cache misses",
		},
		[]string{"cache"},
	)
)

// Gallery content metrics
var (
	IndexedFilesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smartgallery_indexed_files_total",
			Help: "Number of indexed files by media type",
		},
		[]string{"type"},
	)

	IndexedFavoritesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartgallery_favorites_total",
			Help: "Number of files marked as favorite",
		},
	)

	FilesWithWorkflowTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smartgallery_files_with_workflow_total",
			Help: "Number of indexed files carrying an embedded workflow",
		},
	)
)

// Application info
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smartgallery_app_info",
			Help: "Application build information",
		},
		[]string{"version", "commit"},
	)
)
