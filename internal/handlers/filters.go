package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/opj161/smart-comfyui-gallery/internal/logging"
	"github.com/opj161/smart-comfyui-gallery/internal/metrics"
)

// GetFilterOptions returns the distinct metadata values available for
// filter UIs. The aggregate scans every sampler row, so results are cached.
func (h *Handlers) GetFilterOptions(w http.ResponseWriter, r *http.Request) {
	if options, ok := h.filterCache.Get("all"); ok {
		metrics.QueryCacheHits.WithLabelValues("filter_options").Inc()
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, options)
		return
	}
	metrics.QueryCacheMisses.WithLabelValues("filter_options").Inc()

	options, err := h.db.QueryFilterOptions(r.Context())
	if err != nil {
		logging.Error("Filter options query failed: %v", err)
		writeJSONError(w, "query failed", http.StatusInternalServerError)
		return
	}
	h.filterCache.Set("all", options)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, options)
}

// FolderNode is one directory in the media tree.
type FolderNode struct {
	Name     string       `json:"name"`
	Path     string       `json:"path"`
	Children []FolderNode `json:"children,omitempty"`
}

// GetFolders returns the directory tree under the media root, cached with
// the same policy as filter options.
func (h *Handlers) GetFolders(w http.ResponseWriter, r *http.Request) {
	if tree, ok := h.folderCache.Get("tree"); ok {
		metrics.QueryCacheHits.WithLabelValues("folder_tree").Inc()
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]interface{}{"folders": tree})
		return
	}
	metrics.QueryCacheMisses.WithLabelValues("folder_tree").Inc()

	tree, err := folderTree(h.mediaDir, h.mediaDir)
	if err != nil {
		logging.Error("Folder tree scan failed: %v", err)
		writeJSONError(w, "folder scan failed", http.StatusInternalServerError)
		return
	}
	h.folderCache.Set("tree", tree)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{"folders": tree})
}

// folderTree builds the subdirectory tree rooted at dir. Hidden
// directories are skipped, matching the sync scanner.
func folderTree(root, dir string) ([]FolderNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var nodes []FolderNode
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		full := filepath.Join(dir, entry.Name())
		children, err := folderTree(root, full)
		if err != nil {
			logging.Warn("Skipping unreadable folder %s: %v", full, err)
			continue
		}
		rel, _ := filepath.Rel(root, full)
		nodes = append(nodes, FolderNode{
			Name:     entry.Name(),
			Path:     rel,
			Children: children,
		})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}
