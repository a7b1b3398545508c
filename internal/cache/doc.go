// Package cache provides a small bounded TTL cache used for query results
// that are expensive to recompute, such as filter option aggregates.
package cache
