package tools

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/martinemde/coderoute/agentloop"
)

// Glob finds files by glob pattern.
func Glob(env Environment) agentloop.Capability {
	return agentloop.Func(agentloop.Descriptor{
		Name:        "globtool",
		Description: "Finds files based on pattern matching using glob patterns",
		Parameters: object([]string{"pattern"}, map[string]any{
			"pattern":      prop("string", "The glob pattern to match files against"),
			"recursive":    prop("boolean", "Whether to search recursively (default: false)"),
			"include_dirs": prop("boolean", "Whether to include directories in results (default: false)"),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		pattern := agentloop.StringArgOr(args, "pattern", "")
		if pattern == "" {
			return nil, errors.New("no pattern provided")
		}
		matches, err := env.Glob(pattern, "",
			agentloop.BoolArgOr(args, "recursive", false),
			agentloop.BoolArgOr(args, "include_dirs", false))
		if err != nil {
			return nil, fmt.Errorf("finding files: %w", err)
		}
		if len(matches) == 0 {
			return "No files found matching the pattern", nil
		}
		return strings.Join(matches, "\n"), nil
	})
}

// Output modes of greptool.
const (
	GrepContent          = "content"
	GrepFilesWithMatches = "files_with_matches"
	GrepCount            = "count"
)

type grepQuery struct {
	re            *regexp.Regexp
	mode          string
	lineNumbers   bool
	before, after int
}

// Grep searches file contents with a regular expression.
func Grep(env Environment) agentloop.Capability {
	return agentloop.Func(agentloop.Descriptor{
		Name: "greptool",
		Description: `Searches for regex patterns in file contents with advanced filtering options.

Supports directory searching, glob patterns, and multiple output modes.
Never use bash grep; this tool respects ignore files and bounded output.`,
		Parameters: object([]string{"pattern"}, map[string]any{
			"pattern":        prop("string", "The regex pattern to search for"),
			"path":           prop("string", "File or directory to search in (defaults to the working directory)"),
			"files":          arrayProp("Specific list of files to search (alternative to path/glob)", map[string]any{"type": "string"}),
			"glob_pattern":   prop("string", `Glob pattern to filter files (e.g., "*.go", "**/*.js")`),
			"output_mode":    enumProp("Output format: content shows lines, files_with_matches shows paths, count shows match counts", GrepContent, GrepFilesWithMatches, GrepCount),
			"case_sensitive": prop("boolean", "Whether the search should be case sensitive (default: true)"),
			"line_numbers":   prop("boolean", "Whether to include line numbers in content mode (default: true)"),
			"context_before": prop("integer", "Lines of context before each match (content mode only)"),
			"context_after":  prop("integer", "Lines of context after each match (content mode only)"),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		pattern := agentloop.StringArgOr(args, "pattern", "")
		if pattern == "" {
			return nil, errors.New("no pattern provided")
		}
		if !agentloop.BoolArgOr(args, "case_sensitive", true) {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex pattern: %w", err)
		}
		q := grepQuery{
			re:          re,
			mode:        agentloop.StringArgOr(args, "output_mode", GrepContent),
			lineNumbers: agentloop.BoolArgOr(args, "line_numbers", true),
			before:      max(0, agentloop.IntArgOr(args, "context_before", 0)),
			after:       max(0, agentloop.IntArgOr(args, "context_after", 0)),
		}

		var files []string
		if named, _ := agentloop.StringSliceArg(args, "files"); len(named) > 0 {
			for _, f := range named {
				files = append(files, env.Resolve(f))
			}
		} else {
			files, err = env.ListFiles(ctx, agentloop.StringArgOr(args, "path", ""), agentloop.StringArgOr(args, "glob_pattern", ""))
			if err != nil {
				return nil, fmt.Errorf("searching files: %w", err)
			}
		}
		if len(files) == 0 {
			return "No files found to search", nil
		}
		return runGrep(ctx, files, q)
	})
}

func runGrep(ctx context.Context, files []string, q grepQuery) (string, error) {
	var out []string
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		lines, err := readLines(path)
		if err != nil {
			continue
		}
		switch q.mode {
		case GrepFilesWithMatches:
			for _, line := range lines {
				if q.re.MatchString(line) {
					out = append(out, path)
					break
				}
			}
		case GrepCount:
			n := 0
			for _, line := range lines {
				n += len(q.re.FindAllStringIndex(line, -1))
			}
			if n > 0 {
				out = append(out, fmt.Sprintf("%s: %d", path, n))
			}
		default:
			out = append(out, grepContent(path, lines, q)...)
		}
	}
	if len(out) == 0 {
		return "No matches found", nil
	}
	return strings.Join(out, "\n"), nil
}

// grepContent prints matching lines as "path:N: text" and context lines as
// "path:N:- text".
func grepContent(path string, lines []string, q grepQuery) []string {
	var out []string
	for i, line := range lines {
		if !q.re.MatchString(line) {
			continue
		}
		start := max(0, i-q.before)
		end := min(len(lines), i+q.after+1)
		for j := start; j < end; j++ {
			text := strings.TrimRight(lines[j], " \t\r")
			switch {
			case !q.lineNumbers:
				out = append(out, fmt.Sprintf("%s: %s", path, text))
			case j == i:
				out = append(out, fmt.Sprintf("%s:%d: %s", path, j+1, text))
			default:
				out = append(out, fmt.Sprintf("%s:%d:- %s", path, j+1, text))
			}
		}
	}
	return out
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
