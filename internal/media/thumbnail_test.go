package media

import (
	"bytes"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/opj161/smart-comfyui-gallery/internal/database"
	"github.com/opj161/smart-comfyui-gallery/internal/mediatypes"
)

func TestThumbnailGenerateAndCache(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cacheDir := t.TempDir()
	path := filepath.Join(dir, "render.png")
	writeTestPNG(t, path, 800, 600)

	gen := NewThumbnailGenerator(cacheDir, 0, true)
	data, err := gen.GetThumbnail(path, 1000, mediatypes.FileTypeImage)
	if err != nil {
		t.Fatalf("GetThumbnail: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("thumbnail is not a valid JPEG: %v", err)
	}
	if w := img.Bounds().Dx(); w > DefaultThumbnailWidth {
		t.Errorf("thumbnail width = %d, want <= %d", w, DefaultThumbnailWidth)
	}

	cachePath := filepath.Join(cacheDir, database.ThumbKey(path, 1000)+".jpg")
	if _, err := os.Stat(cachePath); err != nil {
		t.Fatalf("expected cached thumbnail at %s: %v", cachePath, err)
	}

	// second call must come from cache
	again, err := gen.GetThumbnail(path, 1000, mediatypes.FileTypeImage)
	if err != nil {
		t.Fatalf("cached GetThumbnail: %v", err)
	}
	if !bytes.Equal(data, again) {
		t.Error("cached thumbnail differs from generated one")
	}
}

func TestThumbnailKeyTracksMTime(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cacheDir := t.TempDir()
	path := filepath.Join(dir, "render.png")
	writeTestPNG(t, path, 20, 20)

	gen := NewThumbnailGenerator(cacheDir, 0, true)
	if _, err := gen.GetThumbnail(path, 1000, mediatypes.FileTypeImage); err != nil {
		t.Fatal(err)
	}
	if _, err := gen.GetThumbnail(path, 2000, mediatypes.FileTypeImage); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 cache entries for distinct mtimes, got %d", len(entries))
	}
}

func TestThumbnailRemove(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cacheDir := t.TempDir()
	path := filepath.Join(dir, "render.png")
	writeTestPNG(t, path, 20, 20)

	gen := NewThumbnailGenerator(cacheDir, 0, true)
	if _, err := gen.GetThumbnail(path, 1000, mediatypes.FileTypeImage); err != nil {
		t.Fatal(err)
	}

	gen.Remove(path, 1000)

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty cache after Remove, got %d entries", len(entries))
	}
}

func TestThumbnailDisabled(t *testing.T) {
	t.Parallel()

	gen := NewThumbnailGenerator(t.TempDir(), 0, false)
	if _, err := gen.GetThumbnail("whatever.png", 1, mediatypes.FileTypeImage); err == nil {
		t.Error("expected error from disabled generator")
	}
}

func TestThumbnailUnsupportedType(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "track.mp3")
	if err := os.WriteFile(path, []byte("audio"), 0644); err != nil {
		t.Fatal(err)
	}

	gen := NewThumbnailGenerator(t.TempDir(), 0, true)
	if _, err := gen.GetThumbnail(path, 1, mediatypes.FileTypeAudio); err == nil {
		t.Error("expected error for audio file")
	}
}
