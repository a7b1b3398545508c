// Package sync reconciles the media directory with the gallery index.
//
// A reconciliation pass scans the disk, diffs the result against the
// indexed paths, fans new and modified files out to a bounded worker
// pool for analysis and metadata extraction, and commits the results in
// batched transactions. Per-file failures are logged and skipped; one
// bad file never aborts a pass. The package also hosts the mutation
// surface (favorite, rename, move, delete), which always performs the
// filesystem operation before touching the index.
package sync
