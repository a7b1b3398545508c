package handlers

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/opj161/smart-comfyui-gallery/internal/database"
	"github.com/opj161/smart-comfyui-gallery/internal/media"
	"github.com/opj161/smart-comfyui-gallery/internal/mediatypes"
	syncengine "github.com/opj161/smart-comfyui-gallery/internal/sync"
	"github.com/opj161/smart-comfyui-gallery/internal/workflow"
)

const testAPIWorkflow = `{
	"3": {"class_type": "KSampler", "inputs": {
		"model": ["4", 0], "positive": ["6", 0], "negative": ["7", 0],
		"seed": 1, "steps": 25, "cfg": 6.0, "sampler_name": "dpmpp_2m", "scheduler": "karras", "denoise": 1.0
	}},
	"4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "flux_dev.safetensors"}},
	"6": {"class_type": "CLIPTextEncode", "inputs": {"text": "a lighthouse at dusk"}},
	"7": {"class_type": "CLIPTextEncode", "inputs": {"text": "low quality"}}
}`

type testServer struct {
	handlers *Handlers
	engine   *syncengine.Engine
	router   *mux.Router
	db       *database.Database
	root     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "gallery.sqlite"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	root := t.TempDir()
	classifier := mediatypes.NewClassifier(mediatypes.DefaultExtensions())
	prober := &media.Prober{}
	workflows := media.NewWorkflowSource(classifier, prober, "")
	analyzer := media.NewAnalyzer(classifier, prober, workflows)
	extractor := &workflow.Extractor{Dimensions: func(path string) (int, int, bool) {
		return media.ImageDimensions(path)
	}}
	thumbs := media.NewThumbnailGenerator(t.TempDir(), 0, true)

	h := New(db, nil, workflows, thumbs, classifier, root)
	engine := syncengine.NewEngine(db, analyzer, extractor, thumbs, syncengine.Config{
		RootDir:    root,
		Workers:    2,
		OnComplete: h.InvalidateQueryCaches,
	})
	h.SetEngine(engine)

	router := mux.NewRouter()
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
	router.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/files", h.QueryFiles).Methods("GET")
	api.HandleFunc("/filters", h.GetFilterOptions).Methods("GET")
	api.HandleFunc("/folders", h.GetFolders).Methods("GET")
	api.HandleFunc("/samplers/{id}", h.GetSamplers).Methods("GET")
	api.HandleFunc("/workflow/{id}", h.GetWorkflow).Methods("GET")
	api.HandleFunc("/file/{id}", h.ServeFile).Methods("GET")
	api.HandleFunc("/thumbnail/{id}", h.GetThumbnail).Methods("GET")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")
	api.HandleFunc("/favorites", h.SetFavorites).Methods("POST")
	api.HandleFunc("/rename", h.RenameFile).Methods("POST")
	api.HandleFunc("/move", h.MoveFiles).Methods("POST")
	api.HandleFunc("/delete", h.DeleteFiles).Methods("POST")

	return &testServer{handlers: h, engine: engine, router: router, db: db, root: root}
}

// seed writes a PNG (optionally carrying a workflow tEXt chunk) and syncs.
func (s *testServer) seed(t *testing.T, name, workflowJSON string) *database.FileRecord {
	t.Helper()
	path := filepath.Join(s.root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}

	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	encoded := buf.Bytes()
	if workflowJSON != "" {
		chunkData := append(append([]byte("prompt"), 0), []byte(workflowJSON)...)
		var chunk bytes.Buffer
		binary.Write(&chunk, binary.BigEndian, uint32(len(chunkData)))
		chunk.WriteString("tEXt")
		chunk.Write(chunkData)
		crc := crc32.NewIEEE()
		crc.Write([]byte("tEXt"))
		crc.Write(chunkData)
		binary.Write(&chunk, binary.BigEndian, crc.Sum32())

		iendStart := len(encoded) - 12
		out := append([]byte{}, encoded[:iendStart]...)
		out = append(out, chunk.Bytes()...)
		out = append(out, encoded[iendStart:]...)
		encoded = out
	}
	if err := os.WriteFile(path, encoded, 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := s.engine.FullSync(context.Background()); err != nil {
		t.Fatalf("seed sync: %v", err)
	}
	file, err := s.db.GetFileByPath(context.Background(), path)
	if err != nil {
		t.Fatalf("seeded file not indexed: %v", err)
	}
	return file
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func TestQueryFilesPage(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "lighthouse.png", testAPIWorkflow)
	s.seed(t, "plain.png", "")

	w := s.do(t, http.MethodGet, "/api/files?sort=name&order=asc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var page PageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.TotalFiles != 2 || len(page.Files) != 2 {
		t.Fatalf("TotalFiles = %d, files = %d, want 2 each", page.TotalFiles, len(page.Files))
	}
	if page.Files[0].Name != "lighthouse.png" {
		t.Errorf("ascending name sort: first file is %q", page.Files[0].Name)
	}
}

func TestQueryFilesMetadataFilter(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "lighthouse.png", testAPIWorkflow)
	s.seed(t, "plain.png", "")

	w := s.do(t, http.MethodGet, "/api/files?model=flux_dev", "")
	var page PageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.TotalFiles != 1 || page.Files[0].Name != "lighthouse.png" {
		t.Errorf("model filter: got %d files", page.TotalFiles)
	}

	w = s.do(t, http.MethodGet, "/api/files?steps_min=30", "")
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if page.TotalFiles != 0 {
		t.Errorf("steps_min=30 should match nothing, got %d", page.TotalFiles)
	}
}

func TestQueryFilesFolderEscape(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodGet, "/api/files?folder=../outside", ""); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGetSamplers(t *testing.T) {
	s := newTestServer(t)
	file := s.seed(t, "lighthouse.png", testAPIWorkflow)

	w := s.do(t, http.MethodGet, "/api/samplers/"+file.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Samplers []database.SamplerRecord `json:"samplers"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Samplers) != 1 || resp.Samplers[0].SamplerName != "dpmpp_2m" {
		t.Errorf("samplers = %+v", resp.Samplers)
	}

	if w := s.do(t, http.MethodGet, "/api/samplers/unknown", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", w.Code)
	}
}

func TestGetWorkflow(t *testing.T) {
	s := newTestServer(t)
	withWF := s.seed(t, "lighthouse.png", testAPIWorkflow)
	without := s.seed(t, "plain.png", "")

	w := s.do(t, http.MethodGet, "/api/workflow/"+withWF.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !json.Valid(w.Body.Bytes()) {
		t.Error("workflow response is not valid JSON")
	}

	if w := s.do(t, http.MethodGet, "/api/workflow/"+without.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("file without workflow: status = %d, want 404", w.Code)
	}
}

func TestServeFileAndThumbnail(t *testing.T) {
	s := newTestServer(t)
	file := s.seed(t, "plain.png", "")

	w := s.do(t, http.MethodGet, "/api/file/"+file.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("file: status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}

	w = s.do(t, http.MethodGet, "/api/thumbnail/"+file.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("thumbnail: status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("thumbnail Content-Type = %q", ct)
	}

	if w := s.do(t, http.MethodGet, "/api/file/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d, want 404", w.Code)
	}
}

func TestFilterOptionsCached(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "lighthouse.png", testAPIWorkflow)

	// The seed sync's completion callback cleared the cache, so the first
	// request is a miss and the second a hit.
	s.do(t, http.MethodGet, "/api/filters", "")
	s.do(t, http.MethodGet, "/api/filters", "")

	stats := s.handlers.filterCache.Stats()
	if stats.Misses != 1 || stats.Hits != 1 {
		t.Errorf("cache stats = %+v, want one miss then one hit", stats)
	}

	w := s.do(t, http.MethodGet, "/api/filters", "")
	var options database.FilterOptions
	if err := json.Unmarshal(w.Body.Bytes(), &options); err != nil {
		t.Fatal(err)
	}
	if len(options.Models) != 1 || options.Models[0].Value != "flux_dev" {
		t.Errorf("models = %+v", options.Models)
	}
}

func TestGetFolders(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, filepath.Join("renders", "nested", "a.png"), "")

	w := s.do(t, http.MethodGet, "/api/folders", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Folders []FolderNode `json:"folders"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Folders) != 1 || resp.Folders[0].Name != "renders" {
		t.Fatalf("folders = %+v", resp.Folders)
	}
	if len(resp.Folders[0].Children) != 1 || resp.Folders[0].Children[0].Name != "nested" {
		t.Errorf("children = %+v", resp.Folders[0].Children)
	}
}

func TestSetFavoritesEndpoint(t *testing.T) {
	s := newTestServer(t)
	file := s.seed(t, "plain.png", "")

	body, _ := json.Marshal(map[string]interface{}{"ids": []string{file.ID}, "favorite": true})
	w := s.do(t, http.MethodPost, "/api/favorites", string(body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	got, err := s.db.GetFileByID(context.Background(), file.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsFavorite {
		t.Error("favorite flag not set")
	}

	if w := s.do(t, http.MethodPost, "/api/favorites", `{"ids":[]}`); w.Code != http.StatusBadRequest {
		t.Errorf("empty ids: status = %d, want 400", w.Code)
	}
}

func TestRenameEndpointStatusMapping(t *testing.T) {
	s := newTestServer(t)
	file := s.seed(t, "plain.png", "")
	s.seed(t, "taken.png", "")

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid name", `{"id":"` + file.ID + `","new_name":"a/b.png"}`, http.StatusBadRequest},
		{"conflict", `{"id":"` + file.ID + `","new_name":"taken.png"}`, http.StatusConflict},
		{"missing file", `{"id":"nope","new_name":"x.png"}`, http.StatusNotFound},
		{"ok", `{"id":"` + file.ID + `","new_name":"renamed.png"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, http.MethodPost, "/api/rename", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestDeleteEndpoint(t *testing.T) {
	s := newTestServer(t)
	file := s.seed(t, "plain.png", "")

	body, _ := json.Marshal(map[string]interface{}{"ids": []string{file.ID}})
	w := s.do(t, http.MethodPost, "/api/delete", string(body))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if _, err := os.Stat(file.Path); !os.IsNotExist(err) {
		t.Error("file should be deleted from disk")
	}
}

func TestReadinessGating(t *testing.T) {
	s := newTestServer(t)

	if w := s.do(t, http.MethodGet, "/readyz", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("before ready: status = %d, want 503", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/health", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("health before ready: status = %d, want 503", w.Code)
	}

	s.handlers.SetReady()

	if w := s.do(t, http.MethodGet, "/readyz", ""); w.Code != http.StatusOK {
		t.Errorf("after ready: status = %d", w.Code)
	}

	w := s.do(t, http.MethodGet, "/health", "")
	var health HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != statusHealthy || !health.Ready {
		t.Errorf("health = %+v", health)
	}
}

func TestGetStatsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.seed(t, "lighthouse.png", testAPIWorkflow)

	w := s.do(t, http.MethodGet, "/api/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Index struct {
			TotalFiles        int `json:"total_files"`
			FilesWithWorkflow int `json:"files_with_workflow"`
		} `json:"index"`
		QueryCaches map[string]interface{} `json:"query_caches"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Index.TotalFiles != 1 || resp.Index.FilesWithWorkflow != 1 {
		t.Errorf("index stats = %+v", resp.Index)
	}
	if _, ok := resp.QueryCaches["filter_options"]; !ok {
		t.Error("missing filter_options cache stats")
	}
}
