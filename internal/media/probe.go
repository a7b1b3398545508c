package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/opj161/smart-comfyui-gallery/internal/logging"
)

// ProbeInfo holds the subset of ffprobe output the gallery cares about.
type ProbeInfo struct {
	Duration float64
	Width    int
	Height   int
	Tags     map[string]string
}

// Prober runs ffprobe against media files. A nil Prober, or one built
// when ffprobe is not installed, returns errors from Probe and the
// callers degrade gracefully.
type Prober struct {
	ffprobePath string
}

// NewProber locates ffprobe. An explicit path wins; otherwise PATH is
// searched. When neither works the returned Prober is disabled.
func NewProber(explicitPath string) *Prober {
	if explicitPath != "" {
		return &Prober{ffprobePath: explicitPath}
	}
	path, err := exec.LookPath("ffprobe")
	if err != nil {
		logging.Warn("ffprobe not found in PATH, video metadata analysis disabled")
		return &Prober{}
	}
	logging.Debug("Using ffprobe: %s", path)
	return &Prober{ffprobePath: path}
}

// Available reports whether ffprobe can be invoked.
func (p *Prober) Available() bool {
	return p != nil && p.ffprobePath != ""
}

type probeFormat struct {
	Duration string            `json:"duration"`
	Tags     map[string]string `json:"tags"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type probeOutput struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

// Probe runs ffprobe on the given file and returns duration, the first
// video stream's dimensions, and the container-level tags.
func (p *Prober) Probe(ctx context.Context, filePath string) (*ProbeInfo, error) {
	if !p.Available() {
		return nil, fmt.Errorf("ffprobe not available")
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe error: %w - %s", err, stderr.String())
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	info := &ProbeInfo{Tags: out.Format.Tags}
	if out.Format.Duration != "" {
		info.Duration, _ = strconv.ParseFloat(out.Format.Duration, 64)
	}
	for _, s := range out.Streams {
		if s.CodecType == "video" && s.Width > 0 {
			info.Width = s.Width
			info.Height = s.Height
			break
		}
	}
	return info, nil
}
