package sync

// Progress is one event in a folder sync's progress stream. Status is
// empty for plain per-file updates; "no_changes" and "reloading" mark
// the terminal states a client acts on.
type Progress struct {
	Message string `json:"message"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Status  string `json:"status,omitempty"`
	Error   bool   `json:"error,omitempty"`
}

// Summary reports the outcome of a reconciliation pass.
type Summary struct {
	Processed        int          `json:"processed"`
	Failed           int          `json:"failed"`
	WithWorkflow     int          `json:"with_workflow"`
	WorkflowsRead    int          `json:"workflows_read"`
	WorkflowsMissed  int          `json:"workflows_missed"`
	WithMetadata     int          `json:"with_metadata"`
	WithoutMetadata  int          `json:"without_metadata"`
	TotalSamplers    int          `json:"total_samplers"`
	Deleted          int64        `json:"deleted"`
	DurationSeconds  float64      `json:"duration_seconds"`
	ParseErrors      []ParseError `json:"parse_errors,omitempty"`
	NoMetadataFiles  []string     `json:"no_metadata_files,omitempty"`
}

// ParseError records a workflow that was present but unreadable.
type ParseError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}
