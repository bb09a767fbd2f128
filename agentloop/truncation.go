package agentloop

import (
	"fmt"
	"strings"
)

// TruncationMode specifies which part of an oversized output is kept.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// TruncationLimit bounds the text one capability may put into the transcript.
// Zero MaxLines means no line limit.
type TruncationLimit struct {
	MaxChars int
	MaxLines int
	Mode     TruncationMode
}

// TruncationPolicy maps capability names to limits. Capabilities without an
// entry get Fallback.
type TruncationPolicy struct {
	Limits   map[string]TruncationLimit
	Fallback TruncationLimit
}

// DefaultTruncationPolicy returns limits for the built-in capabilities.
func DefaultTruncationPolicy() TruncationPolicy {
	return TruncationPolicy{
		Limits: map[string]TruncationLimit{
			"filecontentreadertool": {MaxChars: 50000, Mode: TruncateHeadTail},
			"notebookreadtool":      {MaxChars: 50000, Mode: TruncateHeadTail},
			"bashtool":              {MaxChars: 30000, MaxLines: 256, Mode: TruncateHeadTail},
			"greptool":              {MaxChars: 20000, MaxLines: 200, Mode: TruncateTail},
			"globtool":              {MaxChars: 20000, MaxLines: 500, Mode: TruncateTail},
			"lstool":                {MaxChars: 20000, MaxLines: 500, Mode: TruncateTail},
			"webscrapertool":        {MaxChars: 20000, Mode: TruncateHeadTail},
			"fileedittool":          {MaxChars: 10000, Mode: TruncateTail},
			"multiedittool":         {MaxChars: 10000, Mode: TruncateTail},
			"diffeditortool":        {MaxChars: 10000, Mode: TruncateTail},
			"filecreatortool":       {MaxChars: 1000, Mode: TruncateTail},
		},
		Fallback: TruncationLimit{MaxChars: 30000, Mode: TruncateHeadTail},
	}
}

// Limit returns the limit that applies to name.
func (p TruncationPolicy) Limit(name string) TruncationLimit {
	if l, ok := p.Limits[name]; ok {
		return l
	}
	return p.Fallback
}

// Apply truncates output by characters first and then by lines.
func (p TruncationPolicy) Apply(name, output string) string {
	limit := p.Limit(name)
	if limit.MaxChars > 0 {
		output = TruncateOutput(output, limit.MaxChars, limit.Mode)
	}
	if limit.MaxLines > 0 {
		output = TruncateLines(output, limit.MaxLines)
	}
	return output
}

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars

	if mode == TruncateTail {
		return fmt.Sprintf("[WARNING: Tool output was truncated. First %d characters were removed.]\n\n", removed) +
			output[len(output)-maxChars:]
	}

	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n\n[WARNING: Tool output was truncated. %d characters were removed from the middle. "+
			"If you need to see specific parts, re-run the tool with more targeted parameters.]\n\n", removed) +
		output[len(output)-half:]
}

// TruncateLines keeps the first and last halves of maxLines lines.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}
