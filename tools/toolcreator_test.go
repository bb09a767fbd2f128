package tools

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModuleSource(t *testing.T) {
	src, err := Module{
		Name:        "shouttool",
		Description: "Upper-cases \"text\"",
		Schema:      `{"type":"object","properties":{"text":{"type":"string"}}}`,
		Imports:     []string{"strings", `"strings"`, "fmt"},
		Body:        `text, _ := args["text"].(string)
return fmt.Sprint(strings.ToUpper(text)), nil`,
	}.Source()
	require.NoError(t, err)

	s := string(src)
	assert.True(t, strings.HasPrefix(s, "package shouttool\n\nimport (\n\t\"encoding/json\"\n\t\"fmt\"\n\t\"strings\"\n)\n"), s)
	assert.Contains(t, s, `func Name() string { return "shouttool" }`)
	assert.Contains(t, s, `func Description() string { return "Upper-cases \"text\"" }`)
	assert.Contains(t, s, "func Execute(raw string) (string, error) {")
	assert.Contains(t, s, "\treturn fmt.Sprint(strings.ToUpper(text)), nil\n")
}

func TestModuleSourceRejects(t *testing.T) {
	tests := []struct {
		name string
		m    Module
		want string
	}{
		{"bad name", Module{Name: "Shout-Tool", Schema: "{}", Body: "return \"\", nil"}, "invalid tool name"},
		{"bad schema", Module{Name: "x", Schema: "{", Body: "return \"\", nil"}, "not valid JSON"},
		{"bad body", Module{Name: "x", Schema: "{}", Body: "return ((("}, "does not parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.m.Source()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestToolCreatorWritesModule(t *testing.T) {
	env, dir := newEnv(t)
	creator := ToolCreator(env, "plugins")
	args := map[string]any{
		"name":         "echotool",
		"description":  "Echoes its input",
		"input_schema": map[string]any{"type": "object"},
		"body":         `return fmt.Sprint(args["text"]), nil`,
		"imports":      []any{"fmt"},
	}

	out := run(t, creator, args)
	path := filepath.Join(dir, "plugins", "echotool.go")
	assert.Contains(t, out, "Created tool module "+path)
	assert.Contains(t, out, "Run the refresh command to load echotool.")
	assert.Contains(t, readFile(t, path), `func Schema() string { return "{\"type\":\"object\"}" }`)

	assert.Contains(t, runErr(t, creator, args).Error(), "already exists")
	args["overwrite"] = true
	run(t, creator, args)
}

func TestRepoRoot(t *testing.T) {
	tests := []struct {
		pkg, root, url string
	}{
		{"github.com/google/uuid", "github.com/google/uuid", "https://github.com/google/uuid"},
		{"github.com/go-rod/rod/lib/proto", "github.com/go-rod/rod", "https://github.com/go-rod/rod"},
		{"golang.org/x/net/html", "golang.org/x/net", "https://go.googlesource.com/net"},
		{"gopkg.in/yaml.v3", "gopkg.in/yaml.v3", "https://gopkg.in/yaml.v3"},
		{"gopkg.in/check.v1/sub", "gopkg.in/check.v1", "https://gopkg.in/check.v1"},
		{"example.com/lib", "example.com/lib", "https://example.com/lib"},
	}
	for _, tt := range tests {
		root, url, err := RepoRoot(tt.pkg)
		require.NoError(t, err, tt.pkg)
		assert.Equal(t, tt.root, root, tt.pkg)
		assert.Equal(t, tt.url, url, tt.pkg)
	}

	for _, bad := range []string{"fmt", "github.com/google", "github.com/a/../b", "x y/z", "golang.org/y/z"} {
		_, _, err := RepoRoot(bad)
		assert.Error(t, err, bad)
	}
}

func TestInstallerSkipsExistingCheckout(t *testing.T) {
	env, dir := newEnv(t)
	writeFile(t, dir, "gopath/src/github.com/acme/lib/lib.go", "package lib\n")
	install := NewInstaller(env, "gopath", time.Second, nil)

	out, err := install(context.Background(), "github.com/acme/lib/sub", "")
	require.NoError(t, err)
	assert.Contains(t, out, "github.com/acme/lib is already installed")
}

func TestInstallerReportsCloneFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}
	env := NewLocalEnvironment(t.TempDir(), WithExtraEnv("PATH=/nonexistent"))
	install := NewInstaller(env, "gopath", 5*time.Second, nil)

	_, err := install(context.Background(), "github.com/acme/lib", "v1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git clone of https://github.com/acme/lib failed")
	assert.NoDirExists(t, filepath.Join(env.WorkingDirectory(), "gopath", "src", "github.com", "acme", "lib"))

	out := run(t, GoPackage(func(_ context.Context, pkg, ref string) (string, error) {
		return pkg + "@" + ref, nil
	}), map[string]any{"package": "github.com/acme/lib", "ref": "main"})
	assert.Equal(t, "github.com/acme/lib@main", out)
}
