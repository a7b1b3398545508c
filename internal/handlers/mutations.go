package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"

	"github.com/opj161/smart-comfyui-gallery/internal/database"
	"github.com/opj161/smart-comfyui-gallery/internal/logging"
	syncengine "github.com/opj161/smart-comfyui-gallery/internal/sync"
)

type favoriteRequest struct {
	IDs      []string `json:"ids"`
	Favorite bool     `json:"favorite"`
}

// SetFavorites flags or unflags a batch of files.
func (h *Handlers) SetFavorites(w http.ResponseWriter, r *http.Request) {
	var req favoriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeJSONError(w, "ids required", http.StatusBadRequest)
		return
	}

	updated, err := h.engine.MarkFavorites(r.Context(), req.IDs, req.Favorite)
	if err != nil {
		logging.Error("Favorite update failed: %v", err)
		writeJSONError(w, "update failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{"updated": updated})
}

type renameRequest struct {
	ID      string `json:"id"`
	NewName string `json:"new_name"`
}

// RenameFile renames a single file on disk and in the index.
func (h *Handlers) RenameFile(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeJSONError(w, "id and new_name required", http.StatusBadRequest)
		return
	}

	file, err := h.engine.RenameFile(r.Context(), req.ID, req.NewName)
	if err != nil {
		switch {
		case errors.Is(err, syncengine.ErrInvalidName), errors.Is(err, syncengine.ErrOutsideRoot):
			writeJSONError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, syncengine.ErrTargetExists):
			writeJSONError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, database.ErrNotFound):
			writeJSONError(w, "file not found", http.StatusNotFound)
		default:
			logging.Error("Rename failed: %v", err)
			writeJSONError(w, "rename failed", http.StatusInternalServerError)
		}
		return
	}

	h.InvalidateQueryCaches()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, file)
}

type moveRequest struct {
	IDs        []string `json:"ids"`
	DestFolder string   `json:"dest_folder"`
}

// MoveFiles moves a batch of files into another folder under the media
// root. The destination is relative to the media root.
func (h *Handlers) MoveFiles(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeJSONError(w, "ids and dest_folder required", http.StatusBadRequest)
		return
	}

	dest := filepath.Join(h.mediaDir, req.DestFolder)
	result, err := h.engine.MoveFiles(r.Context(), req.IDs, dest)
	if err != nil {
		if errors.Is(err, syncengine.ErrOutsideRoot) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		logging.Error("Move failed: %v", err)
		writeJSONError(w, "move failed", http.StatusInternalServerError)
		return
	}

	h.InvalidateQueryCaches()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result)
}

type deleteRequest struct {
	IDs []string `json:"ids"`
}

// DeleteFiles removes a batch of files from disk and the index.
func (h *Handlers) DeleteFiles(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
		writeJSONError(w, "ids required", http.StatusBadRequest)
		return
	}

	result, err := h.engine.DeleteFiles(r.Context(), req.IDs)
	if err != nil {
		logging.Error("Delete failed: %v", err)
		writeJSONError(w, "delete failed", http.StatusInternalServerError)
		return
	}

	h.InvalidateQueryCaches()
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, result)
}
