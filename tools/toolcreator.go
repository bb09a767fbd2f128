package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"go/format"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/martinemde/coderoute/agentloop"
)

var moduleName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Module is a capability module in the form the plugin loader interprets.
type Module struct {
	Name        string
	Description string
	// Schema is the JSON schema of the arguments.
	Schema  string
	Imports []string
	// Body is the body of func run(args map[string]any) (string, error).
	Body string
}

// Source renders m as gofmt-formatted Go source.
func (m Module) Source() ([]byte, error) {
	if !moduleName.MatchString(m.Name) {
		return nil, fmt.Errorf("invalid tool name %q: use lowercase letters, digits and underscores", m.Name)
	}
	if !json.Valid([]byte(m.Schema)) {
		return nil, errors.New("input_schema is not valid JSON")
	}

	imports := []string{"encoding/json"}
	for _, imp := range m.Imports {
		if imp = strings.Trim(strings.TrimSpace(imp), `"`); imp != "" && !slices.Contains(imports, imp) {
			imports = append(imports, imp)
		}
	}
	slices.Sort(imports)

	var sb strings.Builder
	fmt.Fprintf(&sb, "package %s\n\nimport (\n", m.Name)
	for _, imp := range imports {
		fmt.Fprintf(&sb, "\t%q\n", imp)
	}
	sb.WriteString(")\n\n")
	fmt.Fprintf(&sb, "func Name() string { return %q }\n\n", m.Name)
	fmt.Fprintf(&sb, "func Description() string { return %s }\n\n", strconv.Quote(m.Description))
	fmt.Fprintf(&sb, "func Schema() string { return %s }\n\n", strconv.Quote(m.Schema))
	sb.WriteString(`func Execute(raw string) (string, error) {
	args := map[string]any{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return "", err
		}
	}
	return run(args)
}

func run(args map[string]any) (string, error) {
`)
	sb.WriteString(m.Body)
	sb.WriteString("\n}\n")

	src, err := format.Source([]byte(sb.String()))
	if err != nil {
		return nil, fmt.Errorf("generated module does not parse: %w", err)
	}
	return src, nil
}

// ToolCreator writes new capability modules into pluginDir.
func ToolCreator(env Environment, pluginDir string) agentloop.Capability {
	return agentloop.Func(agentloop.Descriptor{
		Name: "toolcreator",
		Description: `Creates a new tool as a Go module in the plugin directory.

The module is interpreted at runtime. You supply the body of:

    func run(args map[string]any) (string, error)

together with the imports it needs. Standard library packages are always
available; other packages can be installed with gopackagetool. After
creating a tool, run the refresh command to load it.`,
		Parameters: object([]string{"name", "description", "input_schema", "body"}, map[string]any{
			"name":         prop("string", "Tool name: lowercase letters, digits and underscores, ending in 'tool' by convention"),
			"description":  prop("string", "What the tool does, shown to the model"),
			"input_schema": map[string]any{"type": "object", "description": "JSON schema of the tool arguments"},
			"imports":      arrayProp("Import paths used by the body", prop("string", "Import path")),
			"body":         prop("string", "Go statements forming the body of run"),
			"overwrite":    prop("boolean", "Replace an existing module of the same name (default: false)"),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		m := Module{
			Name:        agentloop.StringArgOr(args, "name", ""),
			Description: agentloop.StringArgOr(args, "description", ""),
			Body:        agentloop.StringArgOr(args, "body", ""),
		}
		m.Imports, _ = agentloop.StringSliceArg(args, "imports")
		if strings.TrimSpace(m.Body) == "" {
			return nil, errors.New("body is required")
		}
		switch schema := args["input_schema"].(type) {
		case string:
			m.Schema = schema
		case map[string]any:
			data, err := json.Marshal(schema)
			if err != nil {
				return nil, err
			}
			m.Schema = string(data)
		default:
			m.Schema = `{"type":"object","properties":{}}`
		}

		src, err := m.Source()
		if err != nil {
			return nil, err
		}
		path := filepath.Join(env.Resolve(pluginDir), m.Name+".go")
		if _, err := os.Stat(path); err == nil && !agentloop.BoolArgOr(args, "overwrite", false) {
			return nil, fmt.Errorf("tool module %s already exists; set overwrite to replace it", path)
		}
		if err := env.WriteFile(path, string(src)); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Created tool module %s (%d bytes). Run the refresh command to load %s.", path, len(src), m.Name), nil
	})
}
