// Package metrics declares the Prometheus collectors exported by the
// gallery indexer, grouped by concern: HTTP handling, database access,
// sync runs, workflow extraction, thumbnails and query caches.
//
// All metrics use promauto and are registered at package load. The
// Collector type additionally exports index content counts on a fixed
// interval via a StatsProvider.
package metrics
