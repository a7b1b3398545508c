// Package handlers implements the JSON API: gallery page queries, filter
// options, sampler detail, workflow download, file and thumbnail serving,
// sync triggering with streamed progress, and file mutations.
package handlers
