package startup

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	config, err := LoadConfig("", "", "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.Port != "8008" {
		t.Errorf("Port = %q, want 8008", config.Port)
	}
	if config.ThumbnailWidth != 300 {
		t.Errorf("ThumbnailWidth = %d, want 300", config.ThumbnailWidth)
	}
	if !filepath.IsAbs(config.OutputDir) {
		t.Errorf("OutputDir not absolute: %q", config.OutputDir)
	}
	if filepath.Base(config.DatabasePath) != "smartgallery.sqlite" {
		t.Errorf("DatabasePath = %q", config.DatabasePath)
	}
	if !config.ThumbnailsEnabled {
		t.Error("thumbnails should be enabled in a writable cache dir")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	cfgPath := filepath.Join(dir, "config.json")
	body := `{"port": "9001", "thumbnail_width": 512, "output_dir": "media"}`
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(cfgPath, "", "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.Port != "9001" {
		t.Errorf("Port = %q, want 9001", config.Port)
	}
	if config.ThumbnailWidth != 512 {
		t.Errorf("ThumbnailWidth = %d, want 512", config.ThumbnailWidth)
	}
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	cfgPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(cfgPath, []byte(`{"port": "9001"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(cfgPath, filepath.Join(dir, "renders"), "7777")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if config.Port != "7777" {
		t.Errorf("flag should beat config file, Port = %q", config.Port)
	}
	if filepath.Base(config.OutputDir) != "renders" {
		t.Errorf("OutputDir = %q", config.OutputDir)
	}
}

func TestLoadConfigBadFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	cfgPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(cfgPath, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(cfgPath, "", ""); err == nil {
		t.Error("expected an error for malformed config")
	}
}

// chdir moves the test into dir so relative defaults resolve under the
// temp tree.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(old) })
}
