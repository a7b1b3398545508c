package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/opj161/smart-comfyui-gallery/internal/cache"
	"github.com/opj161/smart-comfyui-gallery/internal/logging"
	"github.com/opj161/smart-comfyui-gallery/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
)

// HealthResponse contains the health check response.
type HealthResponse struct {
	Status   string `json:"status"`
	Ready    bool   `json:"ready"`
	Version  string `json:"version"`
	Uptime   string `json:"uptime"`
	Syncing  bool   `json:"syncing"`
	LastSync string `json:"lastSync,omitempty"`

	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`

	TotalFiles int `json:"totalFiles,omitempty"`
}

// HealthCheck reports service health. 503 until the initial sync finishes.
func (h *Handlers) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	ready := h.ready.Load()
	stats := h.db.GetStats()

	total := 0
	for _, n := range stats.FilesByType {
		total += n
	}

	response := HealthResponse{
		Ready:        ready,
		Version:      startup.Version,
		Uptime:       time.Since(h.startedAt).Round(time.Second).String(),
		Syncing:      h.engine.IsRunning(),
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
		TotalFiles:   total,
	}
	if ready {
		response.Status = statusHealthy
	} else {
		response.Status = statusStarting
	}
	if last := h.engine.LastSyncTime(); !last.IsZero() {
		response.LastSync = last.Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, response)
}

// LivenessCheck always returns 200 while the process serves requests.
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		writeJSONStatus(w, "alive")
	}
}

// ReadinessCheck returns 200 only after the initial sync completed.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if h.ready.Load() {
		writeJSONStatus(w, "ready")
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	writeJSONStatus(w, "not_ready")
}

// StatsResponse summarizes index contents and cache behavior.
type StatsResponse struct {
	Index       interface{}            `json:"index"`
	QueryCaches map[string]cache.Stats `json:"query_caches"`
}

// GetStats returns index counters plus query cache statistics.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.db.Stats(r.Context())
	if err != nil {
		logging.Error("Stats query failed: %v", err)
		writeJSONError(w, "query failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, StatsResponse{
		Index: snapshot,
		QueryCaches: map[string]cache.Stats{
			"filter_options": h.filterCache.Stats(),
			"folder_tree":    h.folderCache.Stats(),
		},
	})
}
