package workflow

import (
	"encoding/json"

	"github.com/opj161/smart-comfyui-gallery/internal/logging"
)

// DimensionFunc reads pixel dimensions for a media file, used as the
// fallback when the graph carries no latent size. ok is false when the
// file cannot be decoded.
type DimensionFunc func(path string) (width, height int, ok bool)

// Extractor turns raw workflow JSON into per-sampler metadata records.
// The zero value works; Dimensions and Debug are optional.
type Extractor struct {
	// Dimensions fills in width/height from the file itself when the
	// graph does not provide them.
	Dimensions DimensionFunc
	// Debug, when non-nil, records each processing stage to disk.
	Debug *DebugSink
}

// detection names, recorded in debug artifacts.
const (
	formatUnknown        = "unknown"
	formatNestedPrompt   = "nested_prompt_api"
	formatUIEmbeddedAPI  = "ui_with_embedded_api"
	formatUINative       = "ui_native"
	formatDirectAPI      = "direct_api"
)

// envelope is the minimal top-level shape used for format detection.
type envelope struct {
	Prompt      json.RawMessage `json:"prompt"`
	PromptUpper json.RawMessage `json:"Prompt"`
	Nodes       json.RawMessage `json:"nodes"`
	Extra       struct {
		Prompt json.RawMessage `json:"prompt"`
	} `json:"extra"`
}

// isObject reports whether a raw message is a JSON object.
func isObject(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b == '{'
		}
	}
	return false
}

// isArray reports whether a raw message is a JSON array.
func isArray(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b == '['
		}
	}
	return false
}

// Detect identifies the serialization of a raw workflow payload and
// returns a parsed Document for it.
//
// Detection order:
//  1. A top-level "prompt"/"Prompt" object is the API graph.
//  2. A "nodes" array marks the UI format; when extra.prompt embeds the
//     API graph that richer form is preferred over positional widgets.
//  3. Otherwise the root itself is probed as an API graph: a sample of
//     its object values must all carry class_type.
//
// Returns ErrUnrecognizedFormat when nothing matches.
func Detect(raw []byte) (*Document, string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, formatUnknown, err
	}

	if isObject(env.Prompt) {
		d, err := parseAPIDocument(env.Prompt)
		return d, formatNestedPrompt, err
	}
	if isObject(env.PromptUpper) {
		d, err := parseAPIDocument(env.PromptUpper)
		return d, formatNestedPrompt, err
	}
	if isArray(env.Nodes) {
		if isObject(env.Extra.Prompt) {
			d, err := parseAPIDocument(env.Extra.Prompt)
			return d, formatUIEmbeddedAPI, err
		}
		d, err := parseUIDocument(raw)
		return d, formatUINative, err
	}

	// Root-as-API probe: decode loosely and sample up to three object
	// values for a class_type marker.
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil || len(root) == 0 {
		return nil, formatUnknown, ErrUnrecognizedFormat
	}
	sampled := 0
	for _, v := range root {
		if !isObject(v) {
			continue
		}
		var probe struct {
			ClassType *string `json:"class_type"`
		}
		if err := json.Unmarshal(v, &probe); err != nil || probe.ClassType == nil {
			return nil, formatUnknown, ErrUnrecognizedFormat
		}
		sampled++
		if sampled == 3 {
			break
		}
	}
	if sampled == 0 {
		return nil, formatUnknown, ErrUnrecognizedFormat
	}
	d, err := parseAPIDocument(raw)
	return d, formatDirectAPI, err
}

// Extract parses raw workflow JSON and returns one metadata record per
// sampler node. filePath is used for debug artifact naming and for the
// pixel-dimension fallback. Malformed or unrecognized payloads yield an
// empty result, never an error: a corrupt workflow must not fail a sync.
func (e *Extractor) Extract(raw []byte, filePath string) []SamplerMetadata {
	samplers, _, _ := e.ExtractDetailed(raw, filePath)
	return samplers
}

// ExtractDetailed is Extract plus the detected format name and the parse
// error, if any, for callers that report extraction statistics. The
// returned error is informational; it does not mean the caller failed.
func (e *Extractor) ExtractDetailed(raw []byte, filePath string) ([]SamplerMetadata, string, error) {
	if len(raw) == 0 {
		return nil, formatUnknown, nil
	}

	e.Debug.Save(filePath, "01_raw", json.RawMessage(raw), "string")

	doc, detected, err := Detect(raw)
	e.Debug.Save(filePath, "02_format_detection", map[string]any{
		"detected_format": detected,
		"payload_bytes":   len(raw),
		"parsed":          err == nil,
	}, detected)
	if err != nil {
		logging.Debug("workflow: could not parse workflow for %s: %v", filePath, err)
		return nil, detected, err
	}

	e.Debug.Save(filePath, "03_parser_input", map[string]any{
		"format":     string(doc.Format()),
		"node_count": doc.NodeCount(),
	}, detected)

	samplers := doc.ExtractSamplers()

	// Graphs without an explicit latent size fall back to the rendered
	// file's own pixel dimensions.
	if e.Dimensions != nil {
		for i := range samplers {
			if samplers[i].Width != nil && samplers[i].Height != nil {
				continue
			}
			if w, h, ok := e.Dimensions(filePath); ok {
				samplers[i].Width = &w
				samplers[i].Height = &h
			}
		}
	}

	e.Debug.Save(filePath, "04_parser_output", map[string]any{
		"format_used":    string(doc.Format()),
		"samplers_found": len(samplers),
		"metadata":       samplers,
	}, detected)

	return samplers, detected, nil
}
