package database

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
)

// formatMTime renders a modification time the way thumbnail keys expect:
// shortest decimal form, no trailing zeros.
func formatMTime(m float64) string {
	return strconv.FormatFloat(m, 'f', -1, 64)
}

// FileID derives the stable row id for a media file from its path.
// Renaming or moving a file therefore changes its id; callers updating a
// path must update the id in the same statement.
func FileID(path string) string {
	sum := md5.Sum([]byte(path))
	return hex.EncodeToString(sum[:])
}

// ThumbKey derives the thumbnail cache key for a file. It includes the
// modification time so an overwritten file gets a fresh thumbnail.
func ThumbKey(path string, mtime float64) string {
	sum := md5.Sum([]byte(path + formatMTime(mtime)))
	return hex.EncodeToString(sum[:])
}

// FileRecord is one row of the files table.
type FileRecord struct {
	ID            string   `json:"id"`
	Path          string   `json:"path"`
	MTime         float64  `json:"mtime"`
	Name          string   `json:"name"`
	Type          string   `json:"type"`
	Duration      *float64 `json:"duration,omitempty"`
	Dimensions    string   `json:"dimensions,omitempty"`
	HasWorkflow   bool     `json:"has_workflow"`
	IsFavorite    bool     `json:"is_favorite"`
	PromptPreview string   `json:"prompt_preview,omitempty"`
	SamplerNames  string   `json:"sampler_names,omitempty"`

	// SamplerCount is computed by page queries, not stored.
	SamplerCount int `json:"sampler_count"`
}

// SamplerRecord is one row of the workflow_metadata table: the generation
// parameters of a single sampler in a file's workflow. Nil numeric fields
// are stored as NULL.
type SamplerRecord struct {
	FileID         string   `json:"file_id"`
	SamplerIndex   int      `json:"sampler_index"`
	ModelName      string   `json:"model_name,omitempty"`
	SamplerName    string   `json:"sampler_name,omitempty"`
	Scheduler      string   `json:"scheduler,omitempty"`
	CFG            *float64 `json:"cfg,omitempty"`
	Steps          *int     `json:"steps,omitempty"`
	PositivePrompt string   `json:"positive_prompt,omitempty"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	Width          *int     `json:"width,omitempty"`
	Height         *int     `json:"height,omitempty"`
}

// OptionCount is one aggregated filter option value with its file count.
type OptionCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Range is a min/max pair over a numeric metadata column. Nil bounds mean
// the column holds no values.
type Range struct {
	Min *float64 `json:"min"`
	Max *float64 `json:"max"`
}

// FilterOptions aggregates the distinct metadata values available for
// building filter UIs.
type FilterOptions struct {
	Models      []OptionCount `json:"models"`
	Samplers    []OptionCount `json:"samplers"`
	Schedulers  []OptionCount `json:"schedulers"`
	CFGRange    Range         `json:"cfg_range"`
	StepsRange  Range         `json:"steps_range"`
	WidthRange  Range         `json:"width_range"`
	HeightRange Range         `json:"height_range"`
}

// StatsSnapshot summarizes index contents for health reporting.
type StatsSnapshot struct {
	TotalFiles        int            `json:"total_files"`
	FilesByType       map[string]int `json:"files_by_type"`
	TotalFavorites    int            `json:"total_favorites"`
	FilesWithWorkflow int            `json:"files_with_workflow"`
	SamplerRows       int            `json:"sampler_rows"`
}
