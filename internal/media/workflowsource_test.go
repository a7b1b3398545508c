package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/opj161/smart-comfyui-gallery/internal/mediatypes"
)

const testAPIWorkflow = `{"3": {"class_type": "KSampler", "inputs": {"seed": 5, "steps": 20}}}`

func newTestSource(t *testing.T, sidecarDir string) *WorkflowSource {
	t.Helper()
	classifier := mediatypes.NewClassifier(mediatypes.DefaultExtensions())
	return NewWorkflowSource(classifier, &Prober{}, sidecarDir)
}

// writePNGWithText encodes a small PNG and splices a tEXt chunk with
// the given keyword before the IEND chunk.
func writePNGWithText(t *testing.T, path, keyword, text string) {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png: %v", err)
	}
	encoded := buf.Bytes()

	chunkData := append(append([]byte(keyword), 0), []byte(text)...)
	var chunk bytes.Buffer
	binary.Write(&chunk, binary.BigEndian, uint32(len(chunkData)))
	chunk.WriteString("tEXt")
	chunk.Write(chunkData)
	crc := crc32.NewIEEE()
	crc.Write([]byte("tEXt"))
	crc.Write(chunkData)
	binary.Write(&chunk, binary.BigEndian, crc.Sum32())

	// IEND is always the trailing 12 bytes.
	iendStart := len(encoded) - 12
	out := append([]byte{}, encoded[:iendStart]...)
	out = append(out, chunk.Bytes()...)
	out = append(out, encoded[iendStart:]...)

	if err := os.WriteFile(path, out, 0644); err != nil {
		t.Fatalf("writing png: %v", err)
	}
}

func TestExtractFromPNGTextChunk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "render.png")
	writePNGWithText(t, path, "prompt", testAPIWorkflow)

	ws := newTestSource(t, "")
	data := ws.Extract(context.Background(), path)
	if data == nil {
		t.Fatal("expected workflow from PNG text chunk")
	}
	if !bytes.Contains(data, []byte("KSampler")) {
		t.Errorf("unexpected payload: %s", data)
	}
}

func TestExtractCapitalizedWorkflowKey(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "render.png")
	writePNGWithText(t, path, "Workflow", `{"nodes": [], "links": []}`)

	ws := newTestSource(t, "")
	if ws.Extract(context.Background(), path) == nil {
		t.Fatal("expected workflow under capitalized key")
	}
}

func TestExtractRawScanFallback(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "render.jpg")
	content := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, []byte("garbage "+testAPIWorkflow+" trailer")...)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}

	ws := newTestSource(t, "")
	data := ws.Extract(context.Background(), path)
	if data == nil {
		t.Fatal("expected workflow from raw byte scan")
	}
}

func TestExtractSidecar(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sidecarDir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, []byte("not a real video"), 0644); err != nil {
		t.Fatal(err)
	}
	sidecar := filepath.Join(sidecarDir, "clip.mp4_00123.json")
	if err := os.WriteFile(sidecar, []byte(testAPIWorkflow), 0644); err != nil {
		t.Fatal(err)
	}

	ws := newTestSource(t, sidecarDir)
	data := ws.Extract(context.Background(), path)
	if data == nil {
		t.Fatal("expected workflow from sidecar JSON")
	}
}

func TestExtractNothingFound(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "plain.png")
	if err := os.WriteFile(path, []byte("no json here"), 0644); err != nil {
		t.Fatal(err)
	}

	ws := newTestSource(t, "")
	if data := ws.Extract(context.Background(), path); data != nil {
		t.Errorf("expected nil, got %s", data)
	}
}

func TestScanForJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"plain object", `{"a": 1}`, `{"a": 1}`},
		{"embedded", `prefix {"a": {"b": 2}} suffix`, `{"a": {"b": 2}}`},
		{"braces in strings", `{"a": "}{"}`, `{"a": "}{"}`},
		{"unbalanced", `{"a": 1`, ""},
		{"no object", `plain text`, ""},
		{"invalid json", `{not json}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scanForJSON([]byte(tt.content))
			if string(got) != tt.want {
				t.Errorf("scanForJSON(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestValidateWorkflowUnwrapsNestedGraph(t *testing.T) {
	t.Parallel()

	wrapped := `{"workflow": {"nodes": [{"id": 1}], "links": []}, "other": 1}`
	got := validateWorkflow([]byte(wrapped))
	if got == nil {
		t.Fatal("expected unwrapped workflow")
	}
	if bytes.Contains(got, []byte("other")) {
		t.Errorf("expected nested graph only, got %s", got)
	}

	if validateWorkflow([]byte(`{}`)) != nil {
		t.Error("empty object should not validate")
	}
	if validateWorkflow([]byte(`[1, 2]`)) != nil {
		t.Error("array should not validate")
	}
	if got := validateWorkflow([]byte(testAPIWorkflow)); got == nil {
		t.Error("API format object should validate as-is")
	}
}
