package metrics

// InitializeMetrics pre-populates expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, file := range []string{"main", "wal", "shm"} {
		DBSizeBytes.WithLabelValues(file)
	}

	for _, op := range []string{"initialize_schema", "migrate", "upsert_file",
		"replace_samplers", "delete_files", "query_page", "count_matching",
		"filter_options", "samplers_for_file", "mark_favorite", "rename_path",
		"move_path", "delete_path", "stats"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, outcome := range []string{"commit", "rollback"} {
		DBTransactionDuration.WithLabelValues(outcome)
	}

	for _, mode := range []string{"full", "folder"} {
		SyncRunsTotal.WithLabelValues(mode)
	}

	for _, outcome := range []string{"extracted", "no_workflow", "parse_error", "no_samplers"} {
		ExtractionsTotal.WithLabelValues(outcome)
	}

	for _, t := range []string{"image", "animated_image", "video", "audio"} {
		ThumbnailGenerationsTotal.WithLabelValues(t, "success")
		ThumbnailGenerationsTotal.WithLabelValues(t, "error")
		ThumbnailGenerationDuration.WithLabelValues(t)
		IndexedFilesTotal.WithLabelValues(t)
	}

	for _, cache := range []string{"filter_options", "folder_tree"} {
		QueryCacheHits.WithLabelValues(cache)
		QueryCacheMisses.WithLabelValues(cache)
	}
}
