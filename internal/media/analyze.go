package media

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"image/gif"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opj161/smart-comfyui-gallery/internal/logging"
	"github.com/opj161/smart-comfyui-gallery/internal/mediatypes"
)

// webpAnimatedFPS approximates the frame rate of animated WebP files,
// whose per-frame timing is not worth parsing for a duration badge.
const webpAnimatedFPS = 16.0

// FileDetails is everything the index stores about a file beyond its
// name and mtime.
type FileDetails struct {
	Type       mediatypes.FileType
	Duration   *float64
	Dimensions string
	Workflow   []byte
}

// Analyzer inspects media files for the sync engine.
type Analyzer struct {
	classifier *mediatypes.Classifier
	prober     *Prober
	workflows  *WorkflowSource
}

func NewAnalyzer(classifier *mediatypes.Classifier, prober *Prober, workflows *WorkflowSource) *Analyzer {
	return &Analyzer{
		classifier: classifier,
		prober:     prober,
		workflows:  workflows,
	}
}

// Classifier exposes the analyzer's media classifier.
func (a *Analyzer) Classifier() *mediatypes.Classifier {
	return a.classifier
}

// Analyze determines the file's media class, dimensions, duration, and
// raw workflow payload. It never fails; whatever could not be probed is
// left zero.
func (a *Analyzer) Analyze(ctx context.Context, filePath string) FileDetails {
	details := FileDetails{Type: a.classifier.TypeOf(filePath)}
	ext := strings.ToLower(filepath.Ext(filePath))

	// WebP covers both static and animated images; demote to a plain
	// image unless the animation flag is set.
	if details.Type == mediatypes.FileTypeAnimatedImage && ext == ".webp" && !isAnimatedWebP(filePath) {
		details.Type = mediatypes.FileTypeImage
	}

	switch details.Type {
	case mediatypes.FileTypeImage, mediatypes.FileTypeAnimatedImage:
		if w, h, ok := ImageDimensions(filePath); ok {
			details.Dimensions = fmt.Sprintf("%dx%d", w, h)
		}
	case mediatypes.FileTypeVideo:
		if info, err := a.prober.Probe(ctx, filePath); err == nil {
			if info.Width > 0 {
				details.Dimensions = fmt.Sprintf("%dx%d", info.Width, info.Height)
			}
			if info.Duration > 0 {
				d := info.Duration
				details.Duration = &d
			}
		} else {
			logging.Debug("Probing video %s: %v", filePath, err)
		}
	}

	if details.Type == mediatypes.FileTypeAnimatedImage {
		if d, ok := animatedDuration(filePath, ext); ok {
			details.Duration = &d
		}
	}

	details.Workflow = a.workflows.Extract(ctx, filePath)
	return details
}

// ImageDimensions reads just the image header to get pixel dimensions.
// Usable as a workflow dimension fallback without decoding the image.
func ImageDimensions(filePath string) (width, height int, ok bool) {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
	default:
		return 0, 0, false
	}
	f, err := os.Open(filePath)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		logging.Debug("Reading image dimensions for %s: %v", filePath, err)
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

func animatedDuration(filePath, ext string) (float64, bool) {
	switch ext {
	case ".gif":
		return gifDuration(filePath)
	case ".webp":
		if frames := countWebPFrames(filePath); frames > 1 {
			return float64(frames) / webpAnimatedFPS, true
		}
	}
	return 0, false
}

// gifDuration sums the per-frame delays, which GIF stores in
// hundredths of a second.
func gifDuration(filePath string) (float64, bool) {
	f, err := os.Open(filePath)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	g, err := gif.DecodeAll(f)
	if err != nil || len(g.Delay) == 0 {
		return 0, false
	}
	total := 0
	for _, d := range g.Delay {
		if d <= 0 {
			d = 10
		}
		total += d
	}
	return float64(total) / 100, true
}

// isAnimatedWebP checks the VP8X chunk's animation flag.
func isAnimatedWebP(filePath string) bool {
	f, err := os.Open(filePath)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, 21)
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WEBP" {
		return false
	}
	return string(header[12:16]) == "VP8X" && header[20]&0x02 != 0
}

// countWebPFrames walks the RIFF chunk list counting ANMF entries.
func countWebPFrames(filePath string) int {
	f, err := os.Open(filePath)
	if err != nil {
		return 0
	}
	defer f.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		return 0
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WEBP" {
		return 0
	}

	frames := 0
	chunk := make([]byte, 8)
	for {
		if _, err := io.ReadFull(f, chunk); err != nil {
			break
		}
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))
		if string(chunk[0:4]) == "ANMF" {
			frames++
		}
		// chunks are padded to even sizes
		if size%2 == 1 {
			size++
		}
		if _, err := f.Seek(size, io.SeekCurrent); err != nil {
			break
		}
	}
	return frames
}
