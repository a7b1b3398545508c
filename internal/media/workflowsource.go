package media

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/opj161/smart-comfyui-gallery/internal/logging"
	"github.com/opj161/smart-comfyui-gallery/internal/mediatypes"
)

// maxScanSize caps how much of a file is read when scanning its bytes
// for embedded JSON.
const maxScanSize = 64 << 20

// WorkflowSource locates the raw workflow JSON attached to a media file.
// Sources are tried in order: embedded image metadata (PNG text chunks),
// a raw byte scan of the file, ffprobe container tags for videos, and
// finally a sidecar JSON file next to the workflow log directory.
type WorkflowSource struct {
	classifier *mediatypes.Classifier
	prober     *Prober
	sidecarDir string
}

// NewWorkflowSource builds a WorkflowSource. sidecarDir may be empty to
// disable the sidecar lookup.
func NewWorkflowSource(classifier *mediatypes.Classifier, prober *Prober, sidecarDir string) *WorkflowSource {
	return &WorkflowSource{
		classifier: classifier,
		prober:     prober,
		sidecarDir: sidecarDir,
	}
}

// Extract returns the raw workflow JSON for filePath, or nil when none
// is found. It never fails; missing workflows are the common case.
func (w *WorkflowSource) Extract(ctx context.Context, filePath string) []byte {
	fileType := w.classifier.TypeOf(filePath)

	if fileType == mediatypes.FileTypeVideo {
		if data := w.fromVideoTags(ctx, filePath); data != nil {
			return data
		}
	} else {
		if data := fromPNGText(filePath); data != nil {
			return data
		}
	}

	if data := fromRawScan(filePath); data != nil {
		return data
	}

	if data := w.fromSidecar(filePath); data != nil {
		return data
	}

	return nil
}

// fromPNGText reads PNG text chunks and returns the first workflow
// payload found under the keys workflow, Workflow, prompt, or Prompt.
func fromPNGText(filePath string) []byte {
	chunks, err := pngTextChunks(filePath)
	if err != nil || len(chunks) == 0 {
		return nil
	}
	for _, key := range []string{"workflow", "Workflow", "prompt", "Prompt"} {
		if text, ok := chunks[key]; ok {
			if data := validateWorkflow([]byte(text)); data != nil {
				return data
			}
		}
	}
	return nil
}

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}

// pngTextChunks parses the tEXt, zTXt, and iTXt chunks of a PNG file
// into a keyword-to-text map. Non-PNG files return an empty map.
func pngTextChunks(filePath string) (map[string]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sig := make([]byte, 8)
	if _, err := io.ReadFull(f, sig); err != nil || !bytes.Equal(sig, pngSignature) {
		return nil, nil
	}

	out := make(map[string]string)
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(f, header); err != nil {
			break
		}
		length := binary.BigEndian.Uint32(header[:4])
		ctype := string(header[4:8])

		switch ctype {
		case "tEXt", "zTXt", "iTXt":
			data := make([]byte, length)
			if _, err := io.ReadFull(f, data); err != nil {
				return out, nil
			}
			if key, text, ok := decodeTextChunk(ctype, data); ok {
				out[key] = text
			}
			// skip CRC
			if _, err := f.Seek(4, io.SeekCurrent); err != nil {
				return out, nil
			}
		case "IEND":
			return out, nil
		default:
			if _, err := f.Seek(int64(length)+4, io.SeekCurrent); err != nil {
				return out, nil
			}
		}
	}
	return out, nil
}

func decodeTextChunk(ctype string, data []byte) (key, text string, ok bool) {
	sep := bytes.IndexByte(data, 0)
	if sep < 0 {
		return "", "", false
	}
	key = string(data[:sep])
	rest := data[sep+1:]

	switch ctype {
	case "tEXt":
		return key, string(rest), true
	case "zTXt":
		// one method byte, then zlib stream
		if len(rest) < 2 || rest[0] != 0 {
			return "", "", false
		}
		text, ok := inflate(rest[1:])
		return key, text, ok
	case "iTXt":
		// compression flag, compression method, language tag NUL,
		// translated keyword NUL, then the text
		if len(rest) < 2 {
			return "", "", false
		}
		compressed := rest[0] == 1
		rest = rest[2:]
		for i := 0; i < 2; i++ {
			n := bytes.IndexByte(rest, 0)
			if n < 0 {
				return "", "", false
			}
			rest = rest[n+1:]
		}
		if compressed {
			text, ok := inflate(rest)
			return key, text, ok
		}
		return key, string(rest), true
	}
	return "", "", false
}

func inflate(data []byte) (string, bool) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", false
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, maxScanSize))
	if err != nil {
		return "", false
	}
	return string(out), true
}

// fromRawScan reads the whole file and looks for a balanced JSON object
// anywhere in its bytes. Catches formats that stash workflow JSON in
// EXIF blobs or unconventional containers.
func fromRawScan(filePath string) []byte {
	info, err := os.Stat(filePath)
	if err != nil || info.Size() > maxScanSize {
		return nil
	}
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil
	}
	candidate := scanForJSON(content)
	if candidate == nil {
		return nil
	}
	return validateWorkflow(candidate)
}

// scanForJSON finds the first balanced {...} span in content that
// parses as JSON. Returns nil when no such span exists.
func scanForJSON(content []byte) []byte {
	start := bytes.IndexByte(content, '{')
	if start < 0 {
		return nil
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := content[start : i+1]
				if json.Valid(candidate) {
					return candidate
				}
				return nil
			}
		}
	}
	return nil
}

// fromVideoTags pulls workflow JSON out of the container-level metadata
// tags that ComfyUI video nodes write.
func (w *WorkflowSource) fromVideoTags(ctx context.Context, filePath string) []byte {
	if !w.prober.Available() {
		return nil
	}
	info, err := w.prober.Probe(ctx, filePath)
	if err != nil {
		logging.Debug("Probing %s for workflow tags: %v", filePath, err)
		return nil
	}
	for _, value := range info.Tags {
		trimmed := strings.TrimSpace(value)
		if strings.HasPrefix(trimmed, "{") {
			if data := validateWorkflow([]byte(trimmed)); data != nil {
				return data
			}
		}
	}
	return nil
}

// fromSidecar looks for <basename>*.json files in the sidecar directory
// and returns the most recently modified one.
func (w *WorkflowSource) fromSidecar(filePath string) []byte {
	if w.sidecarDir == "" {
		return nil
	}
	pattern := filepath.Join(w.sidecarDir, filepath.Base(filePath)+"*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return nil
	}

	var latest string
	var latestMTime int64
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().UnixNano() > latestMTime {
			latest = m
			latestMTime = info.ModTime().UnixNano()
		}
	}
	if latest == "" {
		return nil
	}
	data, err := os.ReadFile(latest)
	if err != nil {
		return nil
	}
	return validateWorkflow(data)
}

// validateWorkflow checks that data is a non-empty JSON object and
// unwraps a nested workflow/Workflow key when it holds a node graph.
// Returns nil when the payload is not usable.
func validateWorkflow(data []byte) []byte {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil || len(root) == 0 {
		return nil
	}
	for _, key := range []string{"workflow", "Workflow"} {
		nested, ok := root[key]
		if !ok {
			continue
		}
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(nested, &inner); err != nil {
			continue
		}
		if nodes, ok := inner["nodes"]; ok && bytes.HasPrefix(bytes.TrimSpace(nodes), []byte("[")) {
			return nested
		}
	}
	return data
}
