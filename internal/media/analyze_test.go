package media

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/opj161/smart-comfyui-gallery/internal/mediatypes"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	classifier := mediatypes.NewClassifier(mediatypes.DefaultExtensions())
	prober := &Prober{}
	return NewAnalyzer(classifier, prober, NewWorkflowSource(classifier, prober, ""))
}

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestAnalyzeImage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "render.png")
	writeTestPNG(t, path, 8, 6)

	details := newTestAnalyzer(t).Analyze(context.Background(), path)
	if details.Type != mediatypes.FileTypeImage {
		t.Errorf("Type = %s, want image", details.Type)
	}
	if details.Dimensions != "8x6" {
		t.Errorf("Dimensions = %q, want 8x6", details.Dimensions)
	}
	if details.Duration != nil {
		t.Errorf("Duration = %v, want nil", *details.Duration)
	}
	if details.Workflow != nil {
		t.Error("expected no workflow in bare PNG")
	}
}

func TestAnalyzeImageWithWorkflow(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "render.png")
	writePNGWithText(t, path, "workflow", `{"nodes": [], "links": []}`)

	details := newTestAnalyzer(t).Analyze(context.Background(), path)
	if details.Workflow == nil {
		t.Fatal("expected embedded workflow")
	}
}

func TestAnalyzeGIFDuration(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "anim.gif")

	// three frames at 50 hundredths each
	g := &gif.GIF{}
	pal := color.Palette{color.White, color.Black}
	for i := 0; i < 3; i++ {
		g.Image = append(g.Image, image.NewPaletted(image.Rect(0, 0, 2, 2), pal))
		g.Delay = append(g.Delay, 50)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := gif.EncodeAll(f, g); err != nil {
		t.Fatal(err)
	}
	f.Close()

	details := newTestAnalyzer(t).Analyze(context.Background(), path)
	if details.Type != mediatypes.FileTypeAnimatedImage {
		t.Fatalf("Type = %s, want animated_image", details.Type)
	}
	if details.Duration == nil || *details.Duration != 1.5 {
		t.Errorf("Duration = %v, want 1.5", details.Duration)
	}
}

func TestAnalyzeStaticWebPDemoted(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "still.webp")
	if err := os.WriteFile(path, webpHeader(false), 0644); err != nil {
		t.Fatal(err)
	}

	details := newTestAnalyzer(t).Analyze(context.Background(), path)
	if details.Type != mediatypes.FileTypeImage {
		t.Errorf("Type = %s, want image for non-animated webp", details.Type)
	}
}

func TestAnalyzeAnimatedWebP(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "anim.webp")
	if err := os.WriteFile(path, webpHeader(true), 0644); err != nil {
		t.Fatal(err)
	}

	details := newTestAnalyzer(t).Analyze(context.Background(), path)
	if details.Type != mediatypes.FileTypeAnimatedImage {
		t.Errorf("Type = %s, want animated_image", details.Type)
	}
}

// webpHeader builds a minimal RIFF/WEBP/VP8X header, optionally with
// the animation flag set.
func webpHeader(animated bool) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(22))
	buf.WriteString("WEBP")
	buf.WriteString("VP8X")
	binary.Write(&buf, binary.LittleEndian, uint32(10))
	flags := byte(0)
	if animated {
		flags |= 0x02
	}
	buf.WriteByte(flags)
	buf.Write(make([]byte, 9))
	return buf.Bytes()
}

func TestImageDimensionsUnsupportedExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	if err := os.WriteFile(path, []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := ImageDimensions(path); ok {
		t.Error("expected dimension probe to refuse non-image extensions")
	}
}
