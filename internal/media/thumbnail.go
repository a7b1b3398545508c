package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/opj161/smart-comfyui-gallery/internal/database"
	"github.com/opj161/smart-comfyui-gallery/internal/logging"
	"github.com/opj161/smart-comfyui-gallery/internal/mediatypes"
	"github.com/opj161/smart-comfyui-gallery/internal/metrics"

	_ "image/gif"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// DefaultThumbnailWidth is the bounding width used when no explicit
// width is configured. Height is bounded at twice the width to keep
// tall portrait renders readable.
const DefaultThumbnailWidth = 300

// ThumbnailGenerator renders and caches JPEG thumbnails. Cache entries
// are keyed by content identity (path plus mtime) so a re-rendered file
// gets a fresh thumbnail without manual invalidation.
type ThumbnailGenerator struct {
	cacheDir string
	width    int
	enabled  bool
	mu       sync.Mutex
}

func NewThumbnailGenerator(cacheDir string, width int, enabled bool) *ThumbnailGenerator {
	if width <= 0 {
		width = DefaultThumbnailWidth
	}
	if enabled {
		logging.Debug("ThumbnailGenerator: enabled, cache dir: %s", cacheDir)
		if err := os.MkdirAll(cacheDir, 0755); err != nil {
			logging.Warn("ThumbnailGenerator: failed to create cache dir: %v", err)
		}
	} else {
		logging.Debug("ThumbnailGenerator: disabled")
	}
	return &ThumbnailGenerator{
		cacheDir: cacheDir,
		width:    width,
		enabled:  enabled,
	}
}

func (t *ThumbnailGenerator) IsEnabled() bool {
	return t.enabled
}

// CacheDir returns the directory thumbnails are written to.
func (t *ThumbnailGenerator) CacheDir() string {
	return t.cacheDir
}

func (t *ThumbnailGenerator) cachePath(filePath string, mtime float64) string {
	return filepath.Join(t.cacheDir, database.ThumbKey(filePath, mtime)+".jpg")
}

// GetThumbnail returns the cached thumbnail for the file, generating it
// on first access. fileType selects the decode strategy.
func (t *ThumbnailGenerator) GetThumbnail(filePath string, mtime float64, fileType mediatypes.FileType) ([]byte, error) {
	if !t.enabled {
		return nil, fmt.Errorf("thumbnails disabled")
	}

	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("file not accessible: %w", err)
	}

	cachePath := t.cachePath(filePath, mtime)
	if data, err := os.ReadFile(cachePath); err == nil {
		logging.Debug("Thumbnail cache hit: %s", filePath)
		metrics.ThumbnailCacheHits.Inc()
		return data, nil
	}
	metrics.ThumbnailCacheMisses.Inc()

	t.mu.Lock()
	defer t.mu.Unlock()

	if data, err := os.ReadFile(cachePath); err == nil {
		return data, nil
	}

	logging.Debug("Thumbnail generating: %s (type: %s)", filePath, fileType)
	start := time.Now()
	typeLabel := string(fileType)

	var img image.Image
	var err error

	switch fileType {
	case mediatypes.FileTypeImage, mediatypes.FileTypeAnimatedImage:
		img, err = t.generateImageThumbnail(filePath)
	case mediatypes.FileTypeVideo:
		img, err = t.generateVideoThumbnail(filePath)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", fileType)
	}

	if err != nil {
		metrics.ThumbnailGenerationsTotal.WithLabelValues(typeLabel, "error").Inc()
		return nil, fmt.Errorf("thumbnail generation failed: %w", err)
	}
	if img == nil {
		metrics.ThumbnailGenerationsTotal.WithLabelValues(typeLabel, "error").Inc()
		return nil, fmt.Errorf("thumbnail generation returned nil image")
	}

	thumb := imaging.Fit(img, t.width, t.width*2, imaging.Lanczos)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		metrics.ThumbnailGenerationsTotal.WithLabelValues(typeLabel, "error").Inc()
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	if err := os.WriteFile(cachePath, buf.Bytes(), 0644); err != nil {
		logging.Warn("Failed to cache thumbnail %s: %v", cachePath, err)
	} else {
		logging.Debug("Thumbnail cached: %s", cachePath)
	}

	metrics.ThumbnailGenerationsTotal.WithLabelValues(typeLabel, "success").Inc()
	metrics.ThumbnailGenerationDuration.WithLabelValues(typeLabel).Observe(time.Since(start).Seconds())
	return buf.Bytes(), nil
}

// Warm generates the thumbnail if it is not already cached, discarding
// the bytes. Used by the sync engine to pre-render new files.
func (t *ThumbnailGenerator) Warm(filePath string, mtime float64, fileType mediatypes.FileType) {
	if !t.enabled {
		return
	}
	if _, err := os.Stat(t.cachePath(filePath, mtime)); err == nil {
		return
	}
	if _, err := t.GetThumbnail(filePath, mtime, fileType); err != nil {
		logging.Debug("Thumbnail warm failed for %s: %v", filePath, err)
	}
}

// Remove deletes all cached thumbnails for the given file identity.
// The glob catches stale entries written under other extensions.
func (t *ThumbnailGenerator) Remove(filePath string, mtime float64) {
	pattern := filepath.Join(t.cacheDir, database.ThumbKey(filePath, mtime)+".*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			logging.Warn("Failed to remove thumbnail %s: %v", m, err)
		}
	}
}

func (t *ThumbnailGenerator) generateImageThumbnail(filePath string) (image.Image, error) {
	logging.Debug("Opening image: %s", filePath)

	img, err := imaging.Open(filePath, imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}

	logging.Debug("imaging.Open failed for %s: %v, trying fallback methods", filePath, err)

	img, err = decodeImageFile(filePath)
	if err == nil {
		return img, nil
	}

	logging.Debug("Standard decode failed for %s: %v, trying ffmpeg fallback", filePath, err)

	img, err = t.generateImageWithFFmpeg(filePath)
	if err != nil {
		return nil, fmt.Errorf("all image decode methods failed for %s: %w", filePath, err)
	}

	return img, nil
}

func decodeImageFile(filePath string) (image.Image, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, err
	}

	logging.Debug("Decoded image format: %s for %s", format, filePath)
	return img, nil
}

func (t *ThumbnailGenerator) generateImageWithFFmpeg(filePath string) (image.Image, error) {
	logging.Debug("Using ffmpeg to decode image: %s", filePath)

	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	logging.Debug("Using ffmpeg: %s", ffmpegPath)

	cmd := exec.Command(ffmpegPath,
		"-i", filePath,
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-pix_fmt", "rgb24",
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg failed: %v, stderr: %s", err, stderr.String())
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output for %s", filePath)
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ffmpeg output: %w", err)
	}

	return img, nil
}

func (t *ThumbnailGenerator) generateVideoThumbnail(filePath string) (image.Image, error) {
	logging.Debug("Extracting video frame: %s", filePath)

	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}

	cmd := exec.Command(ffmpegPath,
		"-i", filePath,
		"-ss", "00:00:01",
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if err != nil {
		logging.Debug("FFmpeg first attempt failed for %s: %v, stderr: %s", filePath, err, stderr.String())

		// Some clips are shorter than one second; retry from frame zero.
		cmd = exec.Command(ffmpegPath,
			"-i", filePath,
			"-vframes", "1",
			"-f", "image2pipe",
			"-vcodec", "png",
			"-",
		)
		stdout.Reset()
		stderr.Reset()
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("ffmpeg failed: %v, stderr: %s", err, stderr.String())
		}
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("ffmpeg produced no output for %s", filePath)
	}

	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ffmpeg output: %w", err)
	}

	return img, nil
}
