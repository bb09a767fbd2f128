package unifiedllm

import (
	"encoding/base64"
	"encoding/json"
	"math"
)

// ParseUsage normalizes the usage object reported by an endpoint. Endpoints
// label their counters either prompt/completion or input/output; when neither
// pair is complete the combined total_tokens field is used.
func ParseUsage(raw map[string]any) Usage {
	u := Usage{Raw: raw}
	if raw == nil {
		return u
	}

	prompt, okP := intField(raw, "prompt_tokens")
	completion, okC := intField(raw, "completion_tokens")
	input, okI := intField(raw, "input_tokens")
	output, okO := intField(raw, "output_tokens")
	total, okT := intField(raw, "total_tokens")

	switch {
	case okP && okC:
		u.InputTokens, u.OutputTokens = prompt, completion
		u.TotalTokens = prompt + completion
	case okI && okO:
		u.InputTokens, u.OutputTokens = input, output
		u.TotalTokens = input + output
	case okT:
		u.TotalTokens = total
	}
	return u
}

func intField(raw map[string]any, key string) (int, bool) {
	v, ok := raw[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(math.Round(n)), true
	case int:
		return n, true
	case int32:
		return int(n), true
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

func encodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
