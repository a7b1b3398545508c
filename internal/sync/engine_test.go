package sync

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/opj161/smart-comfyui-gallery/internal/database"
	"github.com/opj161/smart-comfyui-gallery/internal/media"
	"github.com/opj161/smart-comfyui-gallery/internal/mediatypes"
	"github.com/opj161/smart-comfyui-gallery/internal/workflow"
)

const testWorkflow = `{
	"3": {"class_type": "KSampler", "inputs": {
		"model": ["4", 0], "positive": ["6", 0], "negative": ["7", 0],
		"seed": 5, "steps": 20, "cfg": 7.5, "sampler_name": "euler", "scheduler": "normal", "denoise": 1.0
	}},
	"4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "sdxl_base.safetensors"}},
	"6": {"class_type": "CLIPTextEncode", "inputs": {"text": "a red fox in the snow"}},
	"7": {"class_type": "CLIPTextEncode", "inputs": {"text": "blurry"}}
}`

type testHarness struct {
	engine *Engine
	db     *database.Database
	root   string
}

func newTestEngine(t *testing.T) *testHarness {
	t.Helper()

	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "gallery.sqlite"))
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	root := t.TempDir()
	classifier := mediatypes.NewClassifier(mediatypes.DefaultExtensions())
	prober := &media.Prober{}
	analyzer := media.NewAnalyzer(classifier, prober, media.NewWorkflowSource(classifier, prober, ""))
	extractor := &workflow.Extractor{Dimensions: func(path string) (int, int, bool) {
		return media.ImageDimensions(path)
	}}
	thumbs := media.NewThumbnailGenerator(t.TempDir(), 0, true)

	engine := NewEngine(db, analyzer, extractor, thumbs, Config{
		RootDir: root,
		Workers: 2,
	})
	return &testHarness{engine: engine, db: db, root: root}
}

// writeRender writes a PNG with an embedded workflow tEXt chunk.
func writeRender(t *testing.T, path, workflowJSON string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
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
}

func TestFullSyncIndexesNewFiles(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	writeRender(t, filepath.Join(h.root, "fox.png"), testWorkflow)
	writeRender(t, filepath.Join(h.root, "plain.png"), "")
	// index artifacts must be skipped
	if err := os.WriteFile(filepath.Join(h.root, "sidecar.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	summary, err := h.engine.FullSync(ctx)
	if err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	if summary.Processed != 2 {
		t.Errorf("Processed = %d, want 2", summary.Processed)
	}
	if summary.WithWorkflow != 1 || summary.WithMetadata != 1 {
		t.Errorf("WithWorkflow = %d, WithMetadata = %d, want 1, 1", summary.WithWorkflow, summary.WithMetadata)
	}

	foxPath := filepath.Join(h.root, "fox.png")
	file, err := h.db.GetFileByPath(ctx, foxPath)
	if err != nil {
		t.Fatalf("GetFileByPath: %v", err)
	}
	if !file.HasWorkflow {
		t.Error("expected HasWorkflow on fox.png")
	}
	if file.Dimensions != "640x480" {
		t.Errorf("Dimensions = %q, want 640x480", file.Dimensions)
	}
	if file.PromptPreview != "a red fox in the snow" {
		t.Errorf("PromptPreview = %q", file.PromptPreview)
	}
	if file.SamplerNames != "euler" {
		t.Errorf("SamplerNames = %q, want euler", file.SamplerNames)
	}

	samplers, err := h.db.SamplersForFile(ctx, file.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(samplers) != 1 {
		t.Fatalf("expected 1 sampler row, got %d", len(samplers))
	}
	if samplers[0].ModelName != "sdxl_base" {
		t.Errorf("ModelName = %q, want sdxl_base", samplers[0].ModelName)
	}
	if samplers[0].Steps == nil || *samplers[0].Steps != 20 {
		t.Errorf("Steps = %v, want 20", samplers[0].Steps)
	}
}

func TestFullSyncIdempotent(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	writeRender(t, filepath.Join(h.root, "fox.png"), testWorkflow)

	if _, err := h.engine.FullSync(ctx); err != nil {
		t.Fatal(err)
	}
	second, err := h.engine.FullSync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.Processed != 0 || second.Deleted != 0 {
		t.Errorf("second pass: Processed = %d, Deleted = %d, want 0, 0", second.Processed, second.Deleted)
	}
}

func TestFullSyncRemovesMissingFiles(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	keep := filepath.Join(h.root, "keep.png")
	gone := filepath.Join(h.root, "gone.png")
	writeRender(t, keep, "")
	writeRender(t, gone, "")

	if _, err := h.engine.FullSync(ctx); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(gone); err != nil {
		t.Fatal(err)
	}

	summary, err := h.engine.FullSync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", summary.Deleted)
	}
	if _, err := h.db.GetFileByPath(ctx, gone); err != database.ErrNotFound {
		t.Errorf("expected ErrNotFound for removed file, got %v", err)
	}
	if _, err := h.db.GetFileByPath(ctx, keep); err != nil {
		t.Errorf("kept file should remain indexed: %v", err)
	}
}

func TestFullSyncDetectsModifiedFiles(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	path := filepath.Join(h.root, "fox.png")
	writeRender(t, path, "")
	old := time.Now().Add(-1 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	if _, err := h.engine.FullSync(ctx); err != nil {
		t.Fatal(err)
	}

	// rewrite with a workflow and a newer mtime
	writeRender(t, path, testWorkflow)

	summary, err := h.engine.FullSync(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Processed != 1 {
		t.Fatalf("Processed = %d, want 1", summary.Processed)
	}

	file, err := h.db.GetFileByPath(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if !file.HasWorkflow {
		t.Error("expected updated row to carry the workflow flag")
	}
}

func TestDiffFiles(t *testing.T) {
	t.Parallel()

	disk := map[string]float64{
		"/m/new.png":      100.2,
		"/m/same.png":     200.9, // same whole second as indexed
		"/m/modified.png": 301.0,
	}
	index := map[string]float64{
		"/m/same.png":     200.1,
		"/m/modified.png": 300.0,
		"/m/stale.png":    50.0,
	}

	d := diffFiles(disk, index)
	if len(d.toProcess) != 2 {
		t.Fatalf("toProcess = %v, want new.png and modified.png", d.toProcess)
	}
	if _, ok := d.toProcess["/m/new.png"]; !ok {
		t.Error("missing new.png in toProcess")
	}
	if _, ok := d.toProcess["/m/modified.png"]; !ok {
		t.Error("missing modified.png in toProcess")
	}
	if len(d.toDelete) != 1 || d.toDelete[0] != "/m/stale.png" {
		t.Errorf("toDelete = %v, want [/m/stale.png]", d.toDelete)
	}
}

func TestFolderSyncProgress(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	sub := filepath.Join(h.root, "renders")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeRender(t, filepath.Join(sub, "fox.png"), testWorkflow)

	var events []Progress
	for p := range h.engine.FolderSync(ctx, sub) {
		events = append(events, p)
	}
	if len(events) < 3 {
		t.Fatalf("expected at least 3 progress events, got %d: %+v", len(events), events)
	}
	last := events[len(events)-1]
	if last.Status != "reloading" {
		t.Errorf("final status = %q, want reloading", last.Status)
	}

	if _, err := h.db.GetFileByPath(ctx, filepath.Join(sub, "fox.png")); err != nil {
		t.Errorf("folder sync did not index the file: %v", err)
	}

	// a second pass with no changes reports up-to-date
	events = events[:0]
	for p := range h.engine.FolderSync(ctx, sub) {
		events = append(events, p)
	}
	last = events[len(events)-1]
	if last.Status != "no_changes" {
		t.Errorf("final status = %q, want no_changes", last.Status)
	}
}

func TestFolderSyncScopedToDirectChildren(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	sub := filepath.Join(h.root, "renders")
	nested := filepath.Join(sub, "nested")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}
	writeRender(t, filepath.Join(sub, "direct.png"), "")
	writeRender(t, filepath.Join(nested, "deep.png"), "")

	for range h.engine.FolderSync(ctx, sub) {
	}

	if _, err := h.db.GetFileByPath(ctx, filepath.Join(sub, "direct.png")); err != nil {
		t.Errorf("direct child not indexed: %v", err)
	}
	if _, err := h.db.GetFileByPath(ctx, filepath.Join(nested, "deep.png")); err != database.ErrNotFound {
		t.Errorf("nested file should not be indexed by folder sync, got %v", err)
	}
}

func TestFolderSyncOutsideRoot(t *testing.T) {
	h := newTestEngine(t)

	var events []Progress
	for p := range h.engine.FolderSync(context.Background(), t.TempDir()) {
		events = append(events, p)
	}
	if len(events) == 0 || !events[len(events)-1].Error {
		t.Error("expected an error event for a folder outside the media root")
	}
}

func TestConcurrentPassesRejected(t *testing.T) {
	h := newTestEngine(t)

	if !h.engine.tryStart() {
		t.Fatal("tryStart should succeed on idle engine")
	}
	defer h.engine.finish()

	if _, err := h.engine.FullSync(context.Background()); err != ErrSyncRunning {
		t.Errorf("expected ErrSyncRunning, got %v", err)
	}
}

func TestPromptPreviewRuneSafeTruncation(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("雪", promptPreviewLimit+10)
	got := promptPreview([]database.SamplerRecord{{PositivePrompt: long}})
	if !utf8.ValidString(got) {
		t.Fatalf("preview is not valid UTF-8: %q", got)
	}
	want := strings.Repeat("雪", promptPreviewLimit) + "..."
	if got != want {
		t.Errorf("preview length = %d runes, want %d plus ellipsis",
			utf8.RuneCountInString(got), promptPreviewLimit)
	}

	short := "a red fox"
	if got := promptPreview([]database.SamplerRecord{{PositivePrompt: short}}); got != short {
		t.Errorf("preview = %q, want untouched %q", got, short)
	}
}

func TestDefaultWorkers(t *testing.T) {
	t.Setenv("SYNC_WORKERS", "")
	got := defaultWorkers()
	if got < 1 || got > maxWorkers {
		t.Errorf("defaultWorkers() = %d, want within [1, %d]", got, maxWorkers)
	}

	t.Setenv("SYNC_WORKERS", "3")
	if got := defaultWorkers(); got != 3 {
		t.Errorf("defaultWorkers() with override = %d, want 3", got)
	}

	t.Setenv("SYNC_WORKERS", "100")
	if got := defaultWorkers(); got != maxWorkers {
		t.Errorf("defaultWorkers() with oversize override = %d, want cap %d", got, maxWorkers)
	}

	t.Setenv("SYNC_WORKERS", "junk")
	if got := defaultWorkers(); got < 1 || got > maxWorkers {
		t.Errorf("defaultWorkers() with bad override = %d, want computed default", got)
	}
}
