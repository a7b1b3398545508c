package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Format identifies which serialization a Document was built from.
type Format string

const (
	// FormatUI is the editor serialization: nodes array + links table.
	FormatUI Format = "ui"
	// FormatAPI is the prompt serialization: node id -> class_type + inputs.
	FormatAPI Format = "api"
)

// ErrUnrecognizedFormat is returned when a JSON payload matches neither
// workflow serialization.
var ErrUnrecognizedFormat = errors.New("workflow: unrecognized graph format")

// connection identifies the output slot of another node feeding an input.
type connection struct {
	nodeID string
	slot   int
}

// inputValue is a tagged union: exactly one of literal or conn is set.
// In the API format every node input is one or the other.
type inputValue struct {
	literal any
	conn    *connection
}

// uiInput is a named input slot on a UI-format node. Link is nil when the
// slot is unconnected.
type uiInput struct {
	Name string `json:"name"`
	Link *int64 `json:"link"`
}

// Node is a single graph node, normalized across both formats.
type Node struct {
	// ID is the node identifier as a string, regardless of how the
	// serialization spelled it.
	ID string
	// Type is the node class, e.g. "KSampler".
	Type string

	inputs    []uiInput            // UI format only
	widgets   []any                // UI format only
	apiInputs map[string]inputValue // API format only
}

// Document is a parsed workflow graph ready for tracing.
type Document struct {
	format  Format
	nodes   map[string]*Node
	links   map[int64]connection      // UI: link id -> source endpoint
	widgets map[string]map[string]int // UI: node id -> param -> widget index
}

// Format returns the serialization this document was parsed from.
func (d *Document) Format() Format { return d.format }

// NodeCount returns the number of nodes in the graph.
func (d *Document) NodeCount() int { return len(d.nodes) }

// Node returns the node with the given id, or nil.
func (d *Document) Node(id string) *Node { return d.nodes[id] }

// idString normalizes a JSON node identifier. Numeric ids lose any
// fractional representation ("4" and 4 and 4.0 are the same node).
func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	}
	return ""
}

type uiRawNode struct {
	ID            any             `json:"id"`
	Type          string          `json:"type"`
	Inputs        []uiInput       `json:"inputs"`
	WidgetsValues json.RawMessage `json:"widgets_values"`
}

type uiRawDocument struct {
	Nodes        []uiRawNode               `json:"nodes"`
	Links        []json.RawMessage         `json:"links"`
	WidgetIdxMap map[string]map[string]int `json:"widget_idx_map"`
}

// parseUIDocument builds a Document from the UI serialization.
func parseUIDocument(raw []byte) (*Document, error) {
	var ui uiRawDocument
	if err := json.Unmarshal(raw, &ui); err != nil {
		return nil, fmt.Errorf("decoding ui workflow: %w", err)
	}

	d := &Document{
		format:  FormatUI,
		nodes:   make(map[string]*Node, len(ui.Nodes)),
		links:   make(map[int64]connection),
		widgets: ui.WidgetIdxMap,
	}

	for _, rn := range ui.Nodes {
		id := idString(rn.ID)
		if id == "" {
			continue
		}
		n := &Node{ID: id, Type: rn.Type, inputs: rn.Inputs}
		// widgets_values is usually an array but some custom nodes emit
		// an object; those simply have no positional widgets.
		if len(rn.WidgetsValues) > 0 {
			var vals []any
			if err := json.Unmarshal(rn.WidgetsValues, &vals); err == nil {
				n.widgets = vals
			}
		}
		d.nodes[id] = n
	}

	// Each link entry is [link_id, source_node, source_slot, target_node,
	// target_slot, type]. Only the first three matter for backward tracing.
	for _, rawLink := range ui.Links {
		var entry []any
		if err := json.Unmarshal(rawLink, &entry); err != nil || len(entry) < 3 {
			continue
		}
		linkID, ok := asInt64(entry[0])
		if !ok {
			continue
		}
		slot, _ := asInt64(entry[2])
		d.links[linkID] = connection{nodeID: idString(entry[1]), slot: int(slot)}
	}

	return d, nil
}

type apiRawNode struct {
	ClassType string                     `json:"class_type"`
	Inputs    map[string]json.RawMessage `json:"inputs"`
}

// parseAPIDocument builds a Document from the API (prompt) serialization.
func parseAPIDocument(raw []byte) (*Document, error) {
	var api map[string]apiRawNode
	if err := json.Unmarshal(raw, &api); err != nil {
		return nil, fmt.Errorf("decoding api workflow: %w", err)
	}

	d := &Document{
		format: FormatAPI,
		nodes:  make(map[string]*Node, len(api)),
	}

	for id, rn := range api {
		n := &Node{
			ID:        id,
			Type:      rn.ClassType,
			apiInputs: make(map[string]inputValue, len(rn.Inputs)),
		}
		for name, rawVal := range rn.Inputs {
			n.apiInputs[name] = decodeAPIInput(rawVal)
		}
		d.nodes[id] = n
	}

	return d, nil
}

// decodeAPIInput resolves the API input union: a [nodeID, slot] array is a
// connection, anything else is a literal.
func decodeAPIInput(raw json.RawMessage) inputValue {
	var arr []any
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) >= 1 {
		c := &connection{nodeID: idString(arr[0])}
		if len(arr) >= 2 {
			if slot, ok := asInt64(arr[1]); ok {
				c.slot = int(slot)
			}
		}
		return inputValue{conn: c}
	}
	var lit any
	if err := json.Unmarshal(raw, &lit); err != nil {
		return inputValue{}
	}
	return inputValue{literal: lit}
}

// inputSource resolves the node feeding the named input, or nil when the
// input is unconnected or carries a literal.
func (d *Document) inputSource(n *Node, inputName string) *Node {
	if n == nil {
		return nil
	}
	switch d.format {
	case FormatUI:
		for _, in := range n.inputs {
			if in.Name != inputName || in.Link == nil {
				continue
			}
			if src, ok := d.links[*in.Link]; ok {
				return d.nodes[src.nodeID]
			}
			return nil
		}
		return nil
	default:
		iv, ok := n.apiInputs[inputName]
		if !ok || iv.conn == nil {
			return nil
		}
		return d.nodes[iv.conn.nodeID]
	}
}

// widgetValue returns the literal widget value for param on n, or nil.
// UI documents consult widget_idx_map first, then the positional tables
// for well-known node types. API documents return literal inputs only.
func (d *Document) widgetValue(n *Node, param string) any {
	if n == nil {
		return nil
	}
	if d.format == FormatAPI {
		iv, ok := n.apiInputs[param]
		if !ok || iv.conn != nil {
			return nil
		}
		return iv.literal
	}

	if m, ok := d.widgets[n.ID]; ok {
		if idx, ok := m[param]; ok && idx >= 0 && idx < len(n.widgets) {
			return n.widgets[idx]
		}
	}
	if m, ok := positionalWidgets[n.Type]; ok {
		if idx, ok := m[param]; ok && idx < len(n.widgets) {
			return n.widgets[idx]
		}
	}
	return nil
}

// valueOf is the universal parameter getter: the direct widget value when
// present, otherwise (API format) the value of a Primitive node wired into
// the input. Primitive nodes are how users make a parameter reusable.
func (d *Document) valueOf(n *Node, param string) any {
	if n == nil {
		return nil
	}
	if v := d.widgetValue(n, param); v != nil {
		return v
	}
	if d.format != FormatAPI {
		return nil
	}
	iv, ok := n.apiInputs[param]
	if !ok || iv.conn == nil {
		return nil
	}
	src := d.nodes[iv.conn.nodeID]
	if src == nil || !strings.HasPrefix(src.Type, "Primitive") {
		return nil
	}
	if val, ok := src.apiInputs["value"]; ok && val.conn == nil {
		return val.literal
	}
	return nil
}

// asInt64 coerces a decoded JSON value to an integer.
func asInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case json.Number:
		i, err := t.Int64()
		return i, err == nil
	case int:
		return int64(t), true
	}
	return 0, false
}
