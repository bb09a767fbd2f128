package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/martinemde/coderoute/agentloop"
)

const defaultReadLimit = 2000

// List shows the entries of one directory.
func List(env Environment) agentloop.Capability {
	return agentloop.Func(agentloop.Descriptor{
		Name:        "lstool",
		Description: "Lists files and directories with optional glob pattern filtering",
		Parameters: object([]string{"path"}, map[string]any{
			"path":   prop("string", "Absolute path to directory to list"),
			"ignore": arrayProp("List of glob patterns to ignore", map[string]any{"type": "string"}),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		path := agentloop.StringArgOr(args, "path", "")
		switch {
		case path == "":
			return nil, errors.New("no path provided")
		case !filepath.IsAbs(path):
			return nil, fmt.Errorf("path must be absolute, got: %s", path)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("path does not exist: %s", path)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("path is not a directory: %s", path)
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("listing directory: %w", err)
		}
		ignore, _ := agentloop.StringSliceArg(args, "ignore")

		var lines []string
		for _, entry := range entries {
			if ignored(entry.Name(), ignore) {
				continue
			}
			if entry.IsDir() {
				lines = append(lines, fmt.Sprintf("[dir]  %s/", entry.Name()))
				continue
			}
			size := "?"
			if fi, err := entry.Info(); err == nil {
				size = humanSize(fi.Size())
			}
			lines = append(lines, fmt.Sprintf("[file] %s (%s)", entry.Name(), size))
		}
		if len(lines) == 0 {
			return "Directory is empty: " + path, nil
		}
		return fmt.Sprintf("Contents of %s:\n\n%s", path, strings.Join(lines, "\n")), nil
	})
}

func ignored(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

func humanSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%dKB", n/1024)
	default:
		return fmt.Sprintf("%dMB", n/(1024*1024))
	}
}

// CreateFolders makes directories including their parents.
func CreateFolders(env Environment) agentloop.Capability {
	return agentloop.Func(agentloop.Descriptor{
		Name: "createfolderstool",
		Description: `Creates new folders at specified paths, including nested directories if needed.
Supports both absolute and relative paths. Returns a status line for each folder.`,
		Parameters: object([]string{"folder_paths"}, map[string]any{
			"folder_paths": arrayProp("List of folder paths to create", map[string]any{"type": "string"}),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		paths, _ := agentloop.StringSliceArg(args, "folder_paths")
		if len(paths) == 0 {
			return "No folder paths provided", nil
		}
		results := make([]string, 0, len(paths))
		for _, p := range paths {
			resolved := env.Resolve(p)
			if strings.ContainsAny(resolved, `<>:"|?*`) {
				results = append(results, "Invalid characters in path: "+p)
				continue
			}
			switch err := os.MkdirAll(resolved, 0o755); {
			case err == nil:
				results = append(results, "Successfully created folder: "+p)
			case errors.Is(err, os.ErrPermission):
				results = append(results, "Permission denied: Unable to create folder "+p)
			default:
				results = append(results, fmt.Sprintf("Error creating folder %s: %v", p, err))
			}
		}
		return strings.Join(results, "\n"), nil
	})
}

// FileReader returns file content with line numbers.
func FileReader(env Environment) agentloop.Capability {
	return agentloop.Func(agentloop.Descriptor{
		Name:        "filecontentreadertool",
		Description: "Reads files and returns line-numbered content. Use offset and limit for large files.",
		Parameters: object(nil, map[string]any{
			"file_path":  prop("string", "Path of the file to read"),
			"file_paths": arrayProp("Several files to read at once", map[string]any{"type": "string"}),
			"offset":     prop("integer", "1-based line number to start reading from"),
			"limit":      prop("integer", fmt.Sprintf("Maximum number of lines to read (default: %d)", defaultReadLimit)),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		paths, _ := agentloop.StringSliceArg(args, "file_paths")
		if p := agentloop.StringArgOr(args, "file_path", ""); p != "" {
			paths = append([]string{p}, paths...)
		}
		if len(paths) == 0 {
			return nil, errors.New("file_path is required")
		}
		offset := agentloop.IntArgOr(args, "offset", 1)
		limit := agentloop.IntArgOr(args, "limit", defaultReadLimit)

		if len(paths) == 1 {
			content, err := env.ReadFile(paths[0])
			if err != nil {
				return nil, err
			}
			return numberLines(content, offset, limit), nil
		}
		var sb strings.Builder
		for i, p := range paths {
			if i > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "=== %s ===\n", p)
			content, err := env.ReadFile(p)
			if err != nil {
				fmt.Fprintf(&sb, "Error: %v\n", err)
				continue
			}
			sb.WriteString(numberLines(content, offset, limit))
		}
		return sb.String(), nil
	})
}

// numberLines formats lines as "N | text", starting at the 1-based offset.
func numberLines(content string, offset, limit int) string {
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	start := max(offset, 1) - 1
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	width := len(fmt.Sprint(end))

	var sb strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&sb, "%*d | %s\n", width, i+1, lines[i])
	}
	return sb.String()
}

// FileCreator writes whole files.
func FileCreator(env Environment) agentloop.Capability {
	return agentloop.Func(agentloop.Descriptor{
		Name:        "filecreatortool",
		Description: "Creates a file, or overwrites it, with the given content. Parent directories are created as needed.",
		Parameters: object([]string{"file_path", "content"}, map[string]any{
			"file_path": prop("string", "Path of the file to write"),
			"content":   prop("string", "The full file content"),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		path := agentloop.StringArgOr(args, "file_path", "")
		if path == "" {
			return nil, errors.New("file_path is required")
		}
		content, _ := agentloop.StringArg(args, "content")
		if err := env.WriteFile(path, content); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
	})
}

// Edit is one find-and-replace step.
type Edit struct {
	OldString  string
	NewString  string
	ReplaceAll bool
}

// applyEdits applies edits in order to content. Any failing edit aborts the
// whole sequence. An empty OldString in the first edit replaces the entire
// content.
func applyEdits(content string, edits []Edit) (string, error) {
	for i, e := range edits {
		n := i + 1
		if e.OldString == e.NewString {
			return "", fmt.Errorf("edit %d: old_string and new_string are identical", n)
		}
		if e.OldString == "" {
			if i == 0 {
				content = e.NewString
				continue
			}
			return "", fmt.Errorf("edit %d: old_string cannot be empty (except for new file creation)", n)
		}
		count := strings.Count(content, e.OldString)
		switch {
		case count == 0:
			return "", fmt.Errorf("edit %d: old_string not found in file: %q", n, e.OldString)
		case count > 1 && !e.ReplaceAll:
			return "", fmt.Errorf("edit %d: old_string appears %d times, use replace_all=true or provide more context", n, count)
		case e.ReplaceAll:
			content = strings.ReplaceAll(content, e.OldString, e.NewString)
		default:
			content = strings.Replace(content, e.OldString, e.NewString, 1)
		}
	}
	return content, nil
}

// FileEdit replaces one unique occurrence in a file.
func FileEdit(env Environment) agentloop.Capability {
	return agentloop.Func(agentloop.Descriptor{
		Name: "fileedittool",
		Description: "Replace an exact string occurrence in a file. The old_string must be unique in the file " +
			"unless replace_all is true.",
		Parameters: object([]string{"file_path", "old_string", "new_string"}, map[string]any{
			"file_path":   prop("string", "Path to the file to edit"),
			"old_string":  prop("string", "Exact text to find in the file"),
			"new_string":  prop("string", "Replacement text"),
			"replace_all": prop("boolean", "Replace all occurrences (default: false)"),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		path := agentloop.StringArgOr(args, "file_path", "")
		if path == "" {
			return nil, errors.New("file_path is required")
		}
		oldString, _ := agentloop.StringArg(args, "old_string")
		if oldString == "" {
			return nil, errors.New("old_string is required")
		}
		edit := Edit{
			OldString:  oldString,
			NewString:  agentloop.StringArgOr(args, "new_string", ""),
			ReplaceAll: agentloop.BoolArgOr(args, "replace_all", false),
		}

		content, err := env.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		count := strings.Count(content, oldString)
		updated, err := applyEdits(content, []Edit{edit})
		if err != nil {
			return nil, errors.New(strings.TrimPrefix(err.Error(), "edit 1: "))
		}
		if err := env.WriteFile(path, updated); err != nil {
			return nil, err
		}
		if !edit.ReplaceAll {
			count = 1
		}
		return fmt.Sprintf("Successfully replaced %d occurrence(s) in %s", count, path), nil
	})
}

// MultiEdit applies several edits to one file, all or nothing.
func MultiEdit(env Environment) agentloop.Capability {
	return agentloop.Func(agentloop.Descriptor{
		Name: "multiedittool",
		Description: `Performs multiple find-and-replace operations on a single file in sequence.

All edits are applied atomically: either all succeed or none are applied.
Edits are applied in order, with each edit operating on the result of the previous.`,
		Parameters: object([]string{"file_path", "edits"}, map[string]any{
			"file_path": prop("string", "Path to the file to modify"),
			"edits": arrayProp("Array of edit operations to perform sequentially", object([]string{"old_string", "new_string"}, map[string]any{
				"old_string":  prop("string", "Text to replace (must be unique in file)"),
				"new_string":  prop("string", "Text to replace it with"),
				"replace_all": prop("boolean", "Replace all occurrences (default: false)"),
			})),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		path := agentloop.StringArgOr(args, "file_path", "")
		if path == "" {
			return nil, errors.New("no file_path provided")
		}
		raw, _ := agentloop.ObjectSliceArg(args, "edits")
		if len(raw) == 0 {
			return nil, errors.New("no edits provided")
		}
		edits := make([]Edit, len(raw))
		for i, e := range raw {
			edits[i] = Edit{
				OldString:  agentloop.StringArgOr(e, "old_string", ""),
				NewString:  agentloop.StringArgOr(e, "new_string", ""),
				ReplaceAll: agentloop.BoolArgOr(e, "replace_all", false),
			}
		}

		content, err := env.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) || edits[0].OldString != "" {
				return nil, fmt.Errorf("file does not exist: %s", path)
			}
		}
		updated, err := applyEdits(content, edits)
		if err != nil {
			return nil, err
		}
		if err := env.WriteFile(path, updated); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Successfully applied %d edits to %s", len(edits), path), nil
	})
}

// sortedKeys is used where map iteration must be deterministic.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
