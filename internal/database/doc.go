// Package database is the SQLite-backed gallery index: one row per media
// file plus one row per extracted sampler.
//
// Files are keyed by the md5 hash of their path, so moves and renames
// change the id; sampler rows follow through a cascading foreign key.
// Page queries filter on sampler metadata with an EXISTS subquery, which
// keeps a file with several matching samplers down to a single result row.
//
// The schema is versioned through PRAGMA user_version. Known versions are
// migrated in a transaction with a backup table; unknown versions are
// rebuilt and repopulated by the next full sync.
package database
