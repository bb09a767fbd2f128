package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/martinemde/coderoute/agentloop"
)

var cellTypes = []string{"code", "markdown", "raw"}

// notebook keeps the decoded document generic so fields this package does
// not know about survive an edit.
type notebook map[string]any

func loadNotebook(env Environment, path string) (notebook, []any, error) {
	content, err := env.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%s is not a file", path)
	}
	var nb notebook
	if err := json.Unmarshal([]byte(content), &nb); err != nil {
		return nil, nil, errors.New("invalid JSON in notebook file")
	}
	cells, ok := nb["cells"].([]any)
	if !ok {
		return nil, nil, errors.New("invalid notebook format")
	}
	return nb, cells, nil
}

// joinSource flattens the string-or-lines form used by nbformat.
func joinSource(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []any:
		var sb strings.Builder
		for _, part := range s {
			if str, ok := part.(string); ok {
				sb.WriteString(str)
			}
		}
		return sb.String()
	}
	return ""
}

// splitSource produces nbformat source lines, each but the last keeping its
// newline.
func splitSource(s string) []any {
	parts := strings.SplitAfter(s, "\n")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// NotebookRead renders Jupyter notebook cells as text.
func NotebookRead(env Environment) agentloop.Capability {
	return agentloop.Func(agentloop.Descriptor{
		Name:        "notebookreadtool",
		Description: "Reads and displays Jupyter notebook contents",
		Parameters: object([]string{"file_path"}, map[string]any{
			"file_path":       prop("string", "Path to the Jupyter notebook file"),
			"cell_types":      arrayProp("Types of cells to include (default: all)", enumProp("Cell type", cellTypes...)),
			"include_outputs": prop("boolean", "Whether to include cell outputs (default: false)"),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		path := agentloop.StringArgOr(args, "file_path", "")
		if path == "" {
			return nil, errors.New("no file path provided")
		}
		include, ok := agentloop.StringSliceArg(args, "cell_types")
		if !ok || len(include) == 0 {
			include = cellTypes
		}
		withOutputs := agentloop.BoolArgOr(args, "include_outputs", false)

		_, cells, err := loadNotebook(env, path)
		if err != nil {
			return nil, err
		}
		var parts []string
		for _, raw := range cells {
			cell, _ := raw.(map[string]any)
			kind, _ := cell["cell_type"].(string)
			if !slices.Contains(include, kind) {
				continue
			}
			parts = append(parts, fmt.Sprintf("[%s CELL]", strings.ToUpper(kind)), joinSource(cell["source"]))
			if withOutputs && kind == "code" {
				if outs := cellOutputs(cell); len(outs) > 0 {
					parts = append(parts, "\n[OUTPUTS]")
					parts = append(parts, outs...)
				}
			}
			parts = append(parts, "\n"+strings.Repeat("-", 80)+"\n")
		}
		if len(parts) == 0 {
			return "No matching cells found", nil
		}
		return strings.Join(parts, "\n"), nil
	})
}

func cellOutputs(cell map[string]any) []string {
	outputs, _ := cell["outputs"].([]any)
	var out []string
	for _, raw := range outputs {
		o, _ := raw.(map[string]any)
		if text, ok := o["text"]; ok {
			out = append(out, joinSource(text))
			continue
		}
		if data, ok := o["data"].(map[string]any); ok {
			if plain, ok := data["text/plain"]; ok {
				out = append(out, joinSource(plain))
			}
		}
	}
	return out
}

// Notebook edit operations.
const (
	NotebookUpdate = "update"
	NotebookInsert = "insert"
	NotebookDelete = "delete"
)

var pastTense = map[string]string{
	NotebookUpdate: "updated",
	NotebookInsert: "inserted",
	NotebookDelete: "deleted",
}

// NotebookEdit updates, inserts or deletes one notebook cell.
func NotebookEdit(env Environment) agentloop.Capability {
	return agentloop.Func(agentloop.Descriptor{
		Name:        "notebookedittool",
		Description: "Modifies Jupyter notebook cells",
		Parameters: object([]string{"file_path", "cell_index", "operation"}, map[string]any{
			"file_path":  prop("string", "Path to the Jupyter notebook file"),
			"cell_index": prop("integer", "Index of the cell to modify (0-based)"),
			"cell_type":  enumProp("New cell type", cellTypes...),
			"source":     prop("string", "New cell source content"),
			"operation":  enumProp("Operation to perform on the cell", NotebookUpdate, NotebookInsert, NotebookDelete),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		path := agentloop.StringArgOr(args, "file_path", "")
		if path == "" {
			return nil, errors.New("no file path provided")
		}
		index := agentloop.IntArgOr(args, "cell_index", 0)
		op := agentloop.StringArgOr(args, "operation", NotebookUpdate)
		kind := agentloop.StringArgOr(args, "cell_type", "")
		source, hasSource := agentloop.StringArg(args, "source")
		if kind != "" && !slices.Contains(cellTypes, kind) {
			return nil, fmt.Errorf("invalid cell_type %q", kind)
		}

		nb, cells, err := loadNotebook(env, path)
		if err != nil {
			return nil, err
		}
		limit := len(cells)
		if op == NotebookInsert {
			limit++
		}
		if index < 0 || index >= limit {
			return nil, fmt.Errorf("cell index %d out of range", index)
		}

		switch op {
		case NotebookDelete:
			cells = slices.Delete(cells, index, index+1)
		case NotebookInsert:
			if kind == "" || !hasSource {
				return nil, errors.New("cell_type and source are required for insert operation")
			}
			cell := map[string]any{"cell_type": kind, "metadata": map[string]any{}, "source": splitSource(source)}
			if kind == "code" {
				cell["outputs"] = []any{}
				cell["execution_count"] = nil
			}
			cells = slices.Insert(cells, index, any(cell))
		case NotebookUpdate:
			cell, _ := cells[index].(map[string]any)
			if cell == nil {
				return nil, fmt.Errorf("cell %d is malformed", index)
			}
			if kind != "" {
				cell["cell_type"] = kind
			}
			if hasSource {
				cell["source"] = splitSource(source)
			}
		default:
			return nil, fmt.Errorf("unknown operation %q", op)
		}
		nb["cells"] = cells

		data, err := json.MarshalIndent(nb, "", " ")
		if err != nil {
			return nil, err
		}
		if err := env.WriteFile(path, string(data)+"\n"); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Successfully %s cell at index %d", pastTense[op], index), nil
	})
}
