package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/opj161/smart-comfyui-gallery/internal/logging"
	syncengine "github.com/opj161/smart-comfyui-gallery/internal/sync"
)

// TriggerSync starts a full sync pass in the background. A second trigger
// while one is running gets 409.
func (h *Handlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	if h.engine.IsRunning() {
		writeJSONError(w, "sync already in progress", http.StatusConflict)
		return
	}

	go func() {
		summary, err := h.engine.FullSync(context.Background())
		if err != nil {
			if !errors.Is(err, syncengine.ErrSyncRunning) {
				logging.Error("Triggered sync failed: %v", err)
			}
			return
		}
		logging.Info("Triggered sync done: %d processed, %d removed in %.1fs",
			summary.Processed, summary.Deleted, summary.DurationSeconds)
	}()

	w.WriteHeader(http.StatusAccepted)
	writeJSONStatus(w, "sync_started")
}

// SyncFolder re-scans one folder and streams progress as server-sent
// events. The folder query value is relative to the media root.
func (h *Handlers) SyncFolder(w http.ResponseWriter, r *http.Request) {
	folder := r.URL.Query().Get("folder")
	abs := h.mediaDir
	if folder != "" {
		abs = filepath.Join(h.mediaDir, folder)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for event := range h.engine.FolderSync(r.Context(), abs) {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if _, err := w.Write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
			// Client went away; the engine drains via ctx cancellation.
			return
		}
		flusher.Flush()
	}
}
