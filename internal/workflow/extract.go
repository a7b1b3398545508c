package workflow

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/opj161/smart-comfyui-gallery/internal/logging"
)

// SamplerMetadata is the generation metadata recovered for one sampler
// node. Numeric fields are pointers so that an unrecoverable value stays
// NULL in the index rather than becoming a fake zero.
type SamplerMetadata struct {
	ModelName      string   `json:"model_name,omitempty"`
	SamplerName    string   `json:"sampler_name,omitempty"`
	Scheduler      string   `json:"scheduler,omitempty"`
	PositivePrompt string   `json:"positive_prompt,omitempty"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	CFG            *float64 `json:"cfg,omitempty"`
	Steps          *int     `json:"steps,omitempty"`
	Width          *int     `json:"width,omitempty"`
	Height         *int     `json:"height,omitempty"`
}

// promptSeparator joins multiple prompt texts feeding one sampler.
const promptSeparator = "\n---\n"

// Samplers returns every sampling node in the graph, ordered by numeric
// node id as a heuristic for workflow order.
func (d *Document) Samplers() []*Node {
	var out []*Node
	for _, n := range d.nodes {
		if samplerTypes[n.Type] {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := strconv.Atoi(out[i].ID)
		b, _ := strconv.Atoi(out[j].ID)
		if a != b {
			return a < b
		}
		// Non-numeric ids all parse to zero; fall back to the raw
		// string so their order stays deterministic.
		return out[i].ID < out[j].ID
	})
	return out
}

// ExtractSamplers recovers metadata for every sampler in the document.
// Each field is extracted independently so one broken trace never costs
// the rest. A sampler whose extraction fails outright is dropped.
func (d *Document) ExtractSamplers() []SamplerMetadata {
	samplers := d.Samplers()
	if len(samplers) == 0 {
		return nil
	}
	out := make([]SamplerMetadata, 0, len(samplers))
	for _, node := range samplers {
		out = append(out, d.extractSampler(node))
	}
	return out
}

func (d *Document) extractSampler(node *Node) SamplerMetadata {
	var m SamplerMetadata

	m.SamplerName, m.Scheduler = d.samplerDetails(node)
	m.ModelName = d.modelName(node)
	m.PositivePrompt, m.NegativePrompt = d.prompts(node)
	m.Width, m.Height = d.dimensions(node)
	m.CFG = toFloat(d.valueOf(node, "cfg"))
	m.Steps = toInt(d.valueOf(node, "steps"))

	// Custom sampler pipelines keep steps on the scheduler node.
	if m.Steps == nil {
		schedNode := d.traceSource(node.ID, "sigmas", schedulerNodeTypes)
		m.Steps = toInt(d.valueOf(schedNode, "steps"))
	}

	return m
}

// samplerDetails resolves sampler_name and scheduler, following the
// sampler/sigmas inputs to selector and scheduler nodes when the values
// are not set directly on the sampler.
func (d *Document) samplerDetails(node *Node) (samplerName, scheduler string) {
	samplerName = toString(d.valueOf(node, "sampler_name"))
	scheduler = toString(d.valueOf(node, "scheduler"))

	if samplerName == "" {
		src := d.traceSource(node.ID, "sampler", samplerSelectNodeTypes)
		samplerName = toString(d.valueOf(src, "sampler_name"))
	}
	if scheduler == "" {
		src := d.traceSource(node.ID, "sigmas", schedulerNodeTypes)
		scheduler = toString(d.valueOf(src, "scheduler"))
	}
	return samplerName, scheduler
}

// modelName traces the model input through LoRA chains to a loader node
// and returns the model file's base name without its extension.
func (d *Document) modelName(node *Node) string {
	loader := d.traceSource(node.ID, "model", modelLoaderTypes)
	if loader == nil {
		return ""
	}
	for _, param := range []string{"ckpt_name", "unet_name", "model_name", "clip_name1"} {
		if name := toString(d.valueOf(loader, param)); name != "" {
			base := filepath.Base(name)
			return strings.TrimSuffix(base, filepath.Ext(base))
		}
	}
	return ""
}

// prompts traces the positive and negative conditioning inputs to their
// text encoders.
func (d *Document) prompts(node *Node) (positive, negative string) {
	var pos, neg []string

	if src := d.traceSource(node.ID, "positive", promptNodeTypes); src != nil {
		if text := toString(d.valueOf(src, "text")); strings.TrimSpace(text) != "" {
			pos = append(pos, text)
		}
	}
	if src := d.traceSource(node.ID, "negative", promptNodeTypes); src != nil {
		if text := toString(d.valueOf(src, "text")); strings.TrimSpace(text) != "" {
			neg = append(neg, text)
		}
	}
	return strings.Join(pos, promptSeparator), strings.Join(neg, promptSeparator)
}

// dimensions follows the latent_image input to a latent generator node.
// The trace has no stop set: whatever the path ends on is inspected, and
// only known size-carrying node types yield values.
func (d *Document) dimensions(node *Node) (width, height *int) {
	latent := d.traceSource(node.ID, "latent_image", nil)
	if latent == nil || !latentSizeNodeTypes[latent.Type] {
		return nil, nil
	}
	return toInt(d.valueOf(latent, "width")), toInt(d.valueOf(latent, "height"))
}

// toString coerces an extracted value to a string, or "" when absent or
// not string-shaped.
func toString(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// toFloat coerces an extracted value to a float, tolerating numeric
// strings. Unconvertible values become nil so the index stores NULL.
func toFloat(v any) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return &f
		}
	case int:
		f := float64(t)
		return &f
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return &f
		}
		logging.Debug("workflow: non-numeric value %q where float expected", t)
	}
	return nil
}

// toInt coerces an extracted value to an int, truncating floats the way
// sampler widgets store them.
func toInt(v any) *int {
	switch t := v.(type) {
	case float64:
		i := int(t)
		return &i
	case json.Number:
		if f, err := t.Float64(); err == nil {
			i := int(f)
			return &i
		}
	case int:
		return &t
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			i := int(f)
			return &i
		}
		logging.Debug("workflow: non-numeric value %q where int expected", t)
	}
	return nil
}

// summarize is used by debug artifacts to describe a value briefly.
func summarize(v any) string {
	switch t := v.(type) {
	case string:
		if len(t) > 200 {
			return fmt.Sprintf("string(%d chars) %s...", len(t), t[:200])
		}
		return fmt.Sprintf("string(%d chars)", len(t))
	case []any:
		return fmt.Sprintf("list(%d)", len(t))
	case map[string]any:
		return fmt.Sprintf("object(%d keys)", len(t))
	default:
		return fmt.Sprintf("%T", v)
	}
}
