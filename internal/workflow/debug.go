package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opj161/smart-comfyui-gallery/internal/logging"
)

// DebugSink writes per-file extraction stage artifacts under a debug
// directory, one subfolder per media file. A nil sink is a no-op, so
// callers never need to guard their Save calls.
type DebugSink struct {
	Dir string
}

// NewDebugSink returns a sink rooted at dir, or nil when dir is empty.
func NewDebugSink(dir string) *DebugSink {
	if dir == "" {
		return nil
	}
	return &DebugSink{Dir: dir}
}

// Save records one processing stage for filePath. data is serialized as
// indented JSON; raw JSON payloads are re-indented rather than double
// encoded. Failures are logged and swallowed, debugging must never break
// extraction.
func (s *DebugSink) Save(filePath, stage string, data any, formatInfo string) {
	if s == nil || s.Dir == "" {
		return
	}

	base := filepath.Base(filePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	stageDir := filepath.Join(s.Dir, base)
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		logging.Debug("workflow: debug dir %s: %v", stageDir, err)
		return
	}

	name := stage + ".json"
	if formatInfo != "" {
		name = fmt.Sprintf("%s_%s.json", stage, sanitize(formatInfo))
	}

	var out []byte
	switch v := data.(type) {
	case json.RawMessage:
		var buf bytes.Buffer
		if err := json.Indent(&buf, v, "", "  "); err != nil {
			out = v
		} else {
			out = buf.Bytes()
		}
	default:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			b = []byte(fmt.Sprintf("{\"error\": %q, \"value\": %q}", err.Error(), summarize(v)))
		}
		out = b
	}

	if err := os.WriteFile(filepath.Join(stageDir, name), out, 0o644); err != nil {
		logging.Debug("workflow: writing debug stage %s: %v", name, err)
	}
}

// sanitize keeps stage filenames filesystem-safe.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
