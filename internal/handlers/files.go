package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/opj161/smart-comfyui-gallery/internal/database"
	"github.com/opj161/smart-comfyui-gallery/internal/logging"
	"github.com/opj161/smart-comfyui-gallery/internal/mediatypes"
)

// PageResponse is one gallery page plus pagination bookkeeping.
type PageResponse struct {
	Files      []database.FileRecord `json:"files"`
	TotalFiles int                   `json:"total_files"`
	Page       int                   `json:"page"`
	PerPage    int                   `json:"per_page"`
	TotalPages int                   `json:"total_pages"`
}

// QueryFiles serves one page of the gallery with filters and sorting.
func (h *Handlers) QueryFiles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	folder, err := h.resolveFolder(q.Get("folder"))
	if err != nil {
		writeJSONError(w, "folder outside media directory", http.StatusBadRequest)
		return
	}

	filters := database.Filters{
		Folder:        folder,
		Search:        q.Get("search"),
		FavoritesOnly: q.Get("favorites") == "true",
		Model:         q.Get("model"),
		Sampler:       q.Get("sampler"),
		Scheduler:     q.Get("scheduler"),
		CFGMin:        floatParam(r, "cfg_min"),
		CFGMax:        floatParam(r, "cfg_max"),
		StepsMin:      intParam(r, "steps_min"),
		StepsMax:      intParam(r, "steps_max"),
		WidthMin:      intParam(r, "width_min"),
		WidthMax:      intParam(r, "width_max"),
		HeightMin:     intParam(r, "height_min"),
		HeightMax:     intParam(r, "height_max"),
	}
	if raw := q.Get("prefixes"); raw != "" {
		filters.Prefixes = strings.Split(raw, ",")
	}
	if raw := q.Get("extensions"); raw != "" {
		filters.Extensions = strings.Split(raw, ",")
	}

	field := mediatypes.SortField(q.Get("sort"))
	if field == "" {
		field = mediatypes.SortByDate
	}
	order := mediatypes.SortOrder(q.Get("order"))
	if order == "" {
		order = mediatypes.SortDesc
	}

	page := 1
	if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 0 {
		page = p
	}
	perPage := database.DefaultPageSize
	if pp, err := strconv.Atoi(q.Get("per_page")); err == nil && pp > 0 && pp <= 500 {
		perPage = pp
	}

	total, err := h.db.CountMatching(r.Context(), filters)
	if err != nil {
		logging.Error("Count query failed: %v", err)
		writeJSONError(w, "query failed", http.StatusInternalServerError)
		return
	}

	files, err := h.db.QueryPage(r.Context(), filters, field, order, page, perPage)
	if err != nil {
		logging.Error("Page query failed: %v", err)
		writeJSONError(w, "query failed", http.StatusInternalServerError)
		return
	}
	if files == nil {
		files = []database.FileRecord{}
	}

	totalPages := (total + perPage - 1) / perPage
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, PageResponse{
		Files:      files,
		TotalFiles: total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
	})
}

// resolveFolder turns a folder query value (absolute, or relative to the
// media root) into an absolute prefix, rejecting escapes.
func (h *Handlers) resolveFolder(folder string) (string, error) {
	if folder == "" {
		return "", nil
	}
	if !filepath.IsAbs(folder) {
		folder = filepath.Join(h.mediaDir, folder)
	}
	folder = filepath.Clean(folder)
	rel, err := filepath.Rel(h.mediaDir, folder)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("folder outside media directory")
	}
	return folder + string(filepath.Separator), nil
}

// GetSamplers returns per-sampler generation parameters for one file.
func (h *Handlers) GetSamplers(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.db.GetFileByID(r.Context(), id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSONError(w, "file not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, "query failed", http.StatusInternalServerError)
		return
	}

	samplers, err := h.db.SamplersForFile(r.Context(), id)
	if err != nil {
		logging.Error("Sampler query failed for %s: %v", id, err)
		writeJSONError(w, "query failed", http.StatusInternalServerError)
		return
	}
	if samplers == nil {
		samplers = []database.SamplerRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{"samplers": samplers})
}

// GetWorkflow re-reads the embedded workflow from the media file and
// returns the raw JSON, suitable for dragging back into the graph editor.
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	file, err := h.db.GetFileByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSONError(w, "file not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, "query failed", http.StatusInternalServerError)
		return
	}

	raw := h.workflows.Extract(r.Context(), file.Path)
	if raw == nil {
		writeJSONError(w, "no workflow embedded in file", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+file.Name+`.json"`)
	w.Write(raw)
}

// ServeFile streams the original media file. ServeContent handles range
// requests, which video playback depends on.
func (h *Handlers) ServeFile(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	file, err := h.db.GetFileByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSONError(w, "file not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, "query failed", http.StatusInternalServerError)
		return
	}

	f, err := os.Open(file.Path)
	if err != nil {
		writeJSONError(w, "file missing on disk", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeJSONError(w, "file missing on disk", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", mediatypes.GetMimeType(file.Path))
	http.ServeContent(w, r, file.Name, info.ModTime(), f)
}

// GetThumbnail serves the cached thumbnail for a file, rendering it on
// first request.
func (h *Handlers) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	file, err := h.db.GetFileByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSONError(w, "file not found", http.StatusNotFound)
			return
		}
		writeJSONError(w, "query failed", http.StatusInternalServerError)
		return
	}

	data, err := h.thumbs.GetThumbnail(file.Path, file.MTime, mediatypes.FileType(file.Type))
	if err != nil {
		logging.Debug("Thumbnail unavailable for %s: %v", file.Path, err)
		writeJSONError(w, "thumbnail unavailable", http.StatusNotFound)
		return
	}

	// Keys include the mtime, so cached thumbnails never go stale.
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("Last-Modified", time.Unix(int64(file.MTime), 0).UTC().Format(http.TimeFormat))
	w.Write(data)
}
