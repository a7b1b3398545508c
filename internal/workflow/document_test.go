package workflow

import (
	"errors"
	"testing"
)

func TestDetect(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		raw        string
		wantFormat string
		wantErr    bool
	}{
		{
			name:       "nested prompt key",
			raw:        `{"prompt": {"1": {"class_type": "KSampler", "inputs": {}}}}`,
			wantFormat: "nested_prompt_api",
		},
		{
			name:       "nested capitalized Prompt key",
			raw:        `{"Prompt": {"1": {"class_type": "KSampler", "inputs": {}}}}`,
			wantFormat: "nested_prompt_api",
		},
		{
			name:       "ui native",
			raw:        `{"nodes": [{"id": 1, "type": "KSampler"}], "links": []}`,
			wantFormat: "ui_native",
		},
		{
			name:       "ui with embedded api",
			raw:        `{"nodes": [], "extra": {"prompt": {"1": {"class_type": "KSampler", "inputs": {}}}}}`,
			wantFormat: "ui_with_embedded_api",
		},
		{
			name:       "direct api",
			raw:        `{"4": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "a.safetensors"}}}`,
			wantFormat: "direct_api",
		},
		{
			name:    "object without class_type markers",
			raw:     `{"settings": {"theme": "dark"}}`,
			wantErr: true,
		},
		{
			name:    "empty object",
			raw:     `{}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			raw:     `{"nodes": [`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			doc, format, err := Detect([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Detect() error = nil, want error (format %q)", format)
				}
				return
			}
			if err != nil {
				t.Fatalf("Detect() error = %v", err)
			}
			if format != tt.wantFormat {
				t.Errorf("Detect() format = %q, want %q", format, tt.wantFormat)
			}
			if doc == nil {
				t.Fatal("Detect() doc = nil")
			}
		})
	}
}

func TestDetectUnrecognizedSentinel(t *testing.T) {
	t.Parallel()

	_, _, err := Detect([]byte(`{"settings": {"theme": "dark"}}`))
	if !errors.Is(err, ErrUnrecognizedFormat) {
		t.Errorf("Detect() error = %v, want ErrUnrecognizedFormat", err)
	}
}

func TestUIDocumentLinkResolution(t *testing.T) {
	t.Parallel()

	raw := `{
		"nodes": [
			{"id": 3, "type": "KSampler",
			 "inputs": [{"name": "model", "link": 1}, {"name": "positive", "link": null}],
			 "widgets_values": [42, "randomize", 20, 8.0, "euler", "normal", 1.0]},
			{"id": 1, "type": "CheckpointLoaderSimple", "widgets_values": ["dream.safetensors"]}
		],
		"links": [[1, 1, 0, 3, 0, "MODEL"]]
	}`

	doc, _, err := Detect([]byte(raw))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	sampler := doc.Node("3")
	if sampler == nil {
		t.Fatal("node 3 missing")
	}
	src := doc.inputSource(sampler, "model")
	if src == nil || src.Type != "CheckpointLoaderSimple" {
		t.Fatalf("inputSource(model) = %+v, want CheckpointLoaderSimple", src)
	}
	if src := doc.inputSource(sampler, "positive"); src != nil {
		t.Errorf("inputSource for null link = %+v, want nil", src)
	}
}

func TestUIWidgetValues(t *testing.T) {
	t.Parallel()

	raw := `{
		"nodes": [
			{"id": 3, "type": "KSampler",
			 "widgets_values": [42, "randomize", 20, 8.0, "euler", "normal", 1.0]},
			{"id": 9, "type": "CustomSampler", "widgets_values": ["uni_pc", 12]}
		],
		"links": [],
		"widget_idx_map": {"9": {"sampler_name": 0, "steps": 1}}
	}`

	doc, _, err := Detect([]byte(raw))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	// Positional fallback for a well-known type.
	if v := doc.widgetValue(doc.Node("3"), "sampler_name"); v != "euler" {
		t.Errorf("positional sampler_name = %v, want euler", v)
	}
	if v := doc.widgetValue(doc.Node("3"), "cfg"); v != 8.0 {
		t.Errorf("positional cfg = %v, want 8.0", v)
	}

	// widget_idx_map wins for unknown types.
	if v := doc.widgetValue(doc.Node("9"), "sampler_name"); v != "uni_pc" {
		t.Errorf("mapped sampler_name = %v, want uni_pc", v)
	}
	if v := doc.widgetValue(doc.Node("9"), "steps"); v != 12.0 {
		t.Errorf("mapped steps = %v, want 12", v)
	}

	// Unknown params stay absent.
	if v := doc.widgetValue(doc.Node("9"), "denoise"); v != nil {
		t.Errorf("unmapped param = %v, want nil", v)
	}
}

func TestUIWidgetObjectTolerated(t *testing.T) {
	t.Parallel()

	// Some custom nodes serialize widgets_values as an object; the node
	// must still load with no positional widgets.
	raw := `{
		"nodes": [{"id": 2, "type": "SomeCustomNode", "widgets_values": {"mode": "fast"}}],
		"links": []
	}`

	doc, _, err := Detect([]byte(raw))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if v := doc.widgetValue(doc.Node("2"), "mode"); v != nil {
		t.Errorf("widgetValue on object widgets = %v, want nil", v)
	}
}

func TestAPIInputUnion(t *testing.T) {
	t.Parallel()

	raw := `{
		"1": {"class_type": "KSampler",
		      "inputs": {"cfg": 7.5, "model": ["2", 0], "sampler_name": "euler"}},
		"2": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "x.ckpt"}}
	}`

	doc, _, err := Detect([]byte(raw))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	sampler := doc.Node("1")
	if v := doc.widgetValue(sampler, "cfg"); v != 7.5 {
		t.Errorf("literal cfg = %v, want 7.5", v)
	}
	// A connection never reads as a literal.
	if v := doc.widgetValue(sampler, "model"); v != nil {
		t.Errorf("connection read as literal = %v, want nil", v)
	}
	if src := doc.inputSource(sampler, "model"); src == nil || src.Type != "CheckpointLoaderSimple" {
		t.Errorf("inputSource(model) = %+v, want loader", src)
	}
}

func TestAPINumericNodeIDsInConnections(t *testing.T) {
	t.Parallel()

	// Connection node ids appear both as strings and numbers in the wild.
	raw := `{
		"1": {"class_type": "KSampler", "inputs": {"model": [2, 0]}},
		"2": {"class_type": "UNETLoader", "inputs": {"unet_name": "flux.gguf"}}
	}`

	doc, _, err := Detect([]byte(raw))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	src := doc.inputSource(doc.Node("1"), "model")
	if src == nil || src.Type != "UNETLoader" {
		t.Errorf("numeric connection id not resolved, got %+v", src)
	}
}

func TestPrimitiveNodeValue(t *testing.T) {
	t.Parallel()

	raw := `{
		"1": {"class_type": "KSampler", "inputs": {"steps": ["5", 0], "cfg": 4.0}},
		"5": {"class_type": "PrimitiveInt", "inputs": {"value": 35}}
	}`

	doc, _, err := Detect([]byte(raw))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if v := doc.valueOf(doc.Node("1"), "steps"); v != 35.0 {
		t.Errorf("valueOf(steps) through Primitive = %v, want 35", v)
	}
	// Non-primitive sources stay unresolved.
	raw2 := `{
		"1": {"class_type": "KSampler", "inputs": {"steps": ["5", 0]}},
		"5": {"class_type": "SomethingElse", "inputs": {"value": 35}}
	}`
	doc2, _, err := Detect([]byte(raw2))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if v := doc2.valueOf(doc2.Node("1"), "steps"); v != nil {
		t.Errorf("valueOf through non-primitive = %v, want nil", v)
	}
}

func TestTraceSource(t *testing.T) {
	t.Parallel()

	raw := `{
		"1": {"class_type": "KSampler", "inputs": {"model": ["4", 0]}},
		"4": {"class_type": "LoraLoader", "inputs": {"model": ["2", 0]}},
		"2": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "sd15.ckpt"}}
	}`

	doc, _, err := Detect([]byte(raw))
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}

	// Stops at the loader through the LoRA chain.
	n := doc.traceSource("1", "model", modelLoaderTypes)
	if n == nil || n.Type != "CheckpointLoaderSimple" {
		t.Errorf("traceSource(model) = %+v, want checkpoint loader", n)
	}

	// Without stop types the trace ends where the input chain ends.
	n = doc.traceSource("1", "model", nil)
	if n == nil || n.ID != "2" {
		t.Errorf("traceSource without stop set = %+v, want node 2", n)
	}

	// Unknown start node.
	if n := doc.traceSource("99", "model", nil); n != nil {
		t.Errorf("traceSource from missing node = %+v, want nil", n)
	}
}

func TestTraceSourceCycleTerminates(t *testing.T) {
	t.Parallel()

	raw := `{
		"1": {"class_type": "NodeA", "inputs": {"model": ["2", 0]}},
		"2": {"class_type": "NodeB", "inputs": {"model": ["1", 0]}}
	}`

	doc, err := parseAPIDocument([]byte(raw))
	if err != nil {
		t.Fatalf("parseAPIDocument() error = %v", err)
	}
	if n := doc.traceSource("1", "model", modelLoaderTypes); n != nil {
		t.Errorf("traceSource on cycle = %+v, want nil after hop budget", n)
	}
}
