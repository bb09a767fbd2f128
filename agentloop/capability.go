package agentloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/martinemde/coderoute/unifiedllm"
)

// Capability is a named, schema-described unit of executable functionality
// the model may request.
type Capability interface {
	Name() string
	Description() string
	// Schema returns a JSON-schema object describing the accepted arguments.
	Schema() map[string]any
	// Execute runs the capability. The result is either a string or a value
	// that serializes to JSON.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Descriptor is the advertised identity of a capability.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Describe returns the descriptor of c.
func Describe(c Capability) Descriptor {
	return Descriptor{Name: c.Name(), Description: c.Description(), Parameters: c.Schema()}
}

// ToolDefinition converts d into the manifest entry sent to the endpoint.
func (d Descriptor) ToolDefinition() unifiedllm.ToolDefinition {
	params := d.Parameters
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return unifiedllm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: params}
}

// ManifestEntry renders d in {type:"function", function:{...}} form.
func ManifestEntry(d Descriptor) map[string]any {
	def := d.ToolDefinition()
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        def.Name,
			"description": def.Description,
			"parameters":  def.Parameters,
		},
	}
}

// ExecFunc is the executor signature used by Func.
type ExecFunc func(ctx context.Context, args map[string]any) (any, error)

// Func adapts a descriptor and an executor into a Capability.
func Func(d Descriptor, exec ExecFunc) Capability {
	return &funcCapability{desc: d, exec: exec}
}

type funcCapability struct {
	desc Descriptor
	exec ExecFunc
}

func (f *funcCapability) Name() string           { return f.desc.Name }
func (f *funcCapability) Description() string    { return f.desc.Description }
func (f *funcCapability) Schema() map[string]any { return f.desc.Parameters }

func (f *funcCapability) Execute(ctx context.Context, args map[string]any) (any, error) {
	return f.exec(ctx, args)
}

// ParseArguments unmarshals a raw JSON argument blob into a map. An empty
// blob is an empty argument map.
func ParseArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// StringArg extracts a string argument.
func StringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringArgOr returns the string argument or def when absent or empty.
func StringArgOr(args map[string]any, key, def string) string {
	if s, ok := StringArg(args, key); ok && s != "" {
		return s
	}
	return def
}

// IntArg extracts an integer argument.
func IntArg(args map[string]any, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	default:
		return 0, false
	}
}

// IntArgOr returns the integer argument or def when absent.
func IntArgOr(args map[string]any, key string, def int) int {
	if n, ok := IntArg(args, key); ok {
		return n
	}
	return def
}

// BoolArg extracts a boolean argument.
func BoolArg(args map[string]any, key string) (bool, bool) {
	v, ok := args[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// BoolArgOr returns the boolean argument or def when absent.
func BoolArgOr(args map[string]any, key string, def bool) bool {
	if b, ok := BoolArg(args, key); ok {
		return b
	}
	return def
}

// StringSliceArg extracts an array-of-strings argument. Non-string elements
// are skipped.
func StringSliceArg(args map[string]any, key string) ([]string, bool) {
	v, ok := args[key]
	if !ok {
		return nil, false
	}
	switch arr := v.(type) {
	case []string:
		return arr, true
	case []any:
		out := make([]string, 0, len(arr))
		for _, item := range arr {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// ObjectSliceArg extracts an array-of-objects argument.
func ObjectSliceArg(args map[string]any, key string) ([]map[string]any, bool) {
	arr, ok := args[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]map[string]any, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, true
}
