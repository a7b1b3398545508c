// Package middleware provides HTTP middleware for the gallery server:
// W3C access logging, Prometheus request metrics, and gzip compression.
package middleware
