package agentloop

import (
	"encoding/json"
	"fmt"
	"math"
)

// ValidateArguments checks args against a JSON-schema object: required
// fields must be present and declared properties must have the declared
// primitive type. Unknown properties and unsupported keywords are ignored.
func ValidateArguments(args map[string]any, schema map[string]any) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	for _, field := range requiredFields(schema) {
		if _, ok := args[field]; !ok {
			return fmt.Errorf("missing required field: %s", field)
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for key, value := range args {
		def, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		if err := checkType(value, def["type"]); err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
	}
	return nil
}

func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// checkType accepts a single type name or a list of alternatives.
func checkType(value any, declared any) error {
	switch t := declared.(type) {
	case string:
		return validateType(value, t)
	case []any:
		var names []string
		for _, alt := range t {
			name, ok := alt.(string)
			if !ok {
				continue
			}
			if validateType(value, name) == nil {
				return nil
			}
			names = append(names, name)
		}
		if len(names) == 0 {
			return nil
		}
		return fmt.Errorf("expected one of %v but got %T", names, value)
	}
	return nil
}

func validateType(value any, expected string) error {
	switch expected {
	case "string":
		if _, ok := value.(string); ok {
			return nil
		}
	case "number":
		if isNumber(value) {
			return nil
		}
	case "integer":
		if isInteger(value) {
			return nil
		}
	case "boolean":
		if _, ok := value.(bool); ok {
			return nil
		}
	case "object":
		if _, ok := value.(map[string]any); ok {
			return nil
		}
	case "array":
		switch value.(type) {
		case []any, []string:
			return nil
		}
	case "null":
		if value == nil {
			return nil
		}
	default:
		// Unknown type names are not enforced.
		return nil
	}
	return fmt.Errorf("expected %s but got %T", expected, value)
}

func isNumber(value any) bool {
	switch v := value.(type) {
	case float32, float64, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	return false
}

func isInteger(value any) bool {
	switch v := value.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	case float32:
		return math.Trunc(float64(v)) == float64(v)
	case float64:
		return math.Trunc(v) == v
	case json.Number:
		_, err := v.Int64()
		return err == nil
	}
	return false
}
