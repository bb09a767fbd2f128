package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/martinemde/coderoute/agentloop"
)

func TestMain(m *testing.M) {
	// opencensus (via genai) starts a worker goroutine in its package init.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func newEnv(t *testing.T) (*LocalEnvironment, string) {
	t.Helper()
	dir := t.TempDir()
	return NewLocalEnvironment(dir), dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

// run executes c and requires a string result.
func run(t *testing.T, c agentloop.Capability, args map[string]any) string {
	t.Helper()
	out, err := c.Execute(context.Background(), args)
	require.NoError(t, err)
	text, ok := out.(string)
	require.True(t, ok, "result is %T", out)
	return text
}

func runErr(t *testing.T, c agentloop.Capability, args map[string]any) error {
	t.Helper()
	_, err := c.Execute(context.Background(), args)
	require.Error(t, err)
	return err
}
