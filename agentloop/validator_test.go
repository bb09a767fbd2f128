package agentloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateArguments(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string"},
			"limit":   map[string]any{"type": "integer"},
			"force":   map[string]any{"type": "boolean"},
			"edits":   map[string]any{"type": "array"},
			"content": map[string]any{"type": []any{"string", "null"}},
		},
		"required": []string{"path"},
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr string
	}{
		{name: "minimal", args: map[string]any{"path": "a.go"}},
		{name: "all fields", args: map[string]any{"path": "a.go", "limit": 3.0, "force": true, "edits": []any{}, "content": nil}},
		{name: "unknown fields pass", args: map[string]any{"path": "a.go", "extra": 1}},
		{name: "missing required", args: map[string]any{}, wantErr: "missing required field: path"},
		{name: "fractional integer", args: map[string]any{"path": "a.go", "limit": 1.5}, wantErr: "field limit"},
		{name: "wrong bool", args: map[string]any{"path": "a.go", "force": "yes"}, wantErr: "field force: expected boolean but got string"},
		{name: "no alternative matches", args: map[string]any{"path": "a.go", "content": 4.0}, wantErr: "field content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArguments(tt.args, schema)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateArgumentsWithoutSchema(t *testing.T) {
	assert.NoError(t, ValidateArguments(map[string]any{"x": 1}, nil))
}
