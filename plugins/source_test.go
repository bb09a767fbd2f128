package plugins

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/coderoute/agentloop"
)

const echoModule = `package echotool

import (
	"encoding/json"
	"strings"
)

func Name() string        { return "echotool" }
func Description() string { return "Echoes text in upper case" }
func Schema() string {
	return ` + "`" + `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}` + "`" + `
}

func Execute(raw string) (string, error) {
	args := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return "", err
	}
	text, _ := args["text"].(string)
	return strings.ToUpper(text), nil
}
`

const greetModule = `package greettool

import "example.com/greet"

func Name() string        { return "greettool" }
func Description() string { return "Greets" }
func Schema() string      { return "{\"type\":\"object\"}" }

func Execute(raw string) (string, error) { return greet.Hello(), nil }
`

func writeModule(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
}

func installGreet(gopath string) InstallFunc {
	return func(_ context.Context, pkg string) error {
		if pkg != "example.com/greet" {
			return errors.New("unexpected package " + pkg)
		}
		dir := filepath.Join(gopath, "src", "example.com", "greet")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dir, "greet.go"),
			[]byte("package greet\n\nfunc Hello() string { return \"hello from greet\" }\n"), 0o644)
	}
}

func TestLoadInterpretsModules(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "echotool.go", echoModule)
	writeModule(t, dir, "echotool_test.go", "package echotool\n")
	writeModule(t, dir, "README.md", "not a module")

	report := NewSource(dir).Load(context.Background())
	require.Empty(t, report.Failures)
	require.Len(t, report.Capabilities, 1)

	c := report.Capabilities[0]
	assert.Equal(t, "echotool", c.Name())
	assert.Equal(t, "Echoes text in upper case", c.Description())
	assert.Equal(t, []any{"text"}, c.Schema()["required"])

	out, err := c.Execute(context.Background(), map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "HI", out)
}

func TestLoadClassifiesFailures(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "a_syntax.go", "package broken\n\nfunc Name() string { return \n")
	writeModule(t, dir, "b_noexec.go", `package noexec
func Name() string        { return "noexec" }
func Description() string { return "" }
func Schema() string      { return "{}" }
`)
	writeModule(t, dir, "c_badschema.go", `package badschema
func Name() string        { return "badschema" }
func Description() string { return "" }
func Schema() string      { return "not json" }
func Execute(string) (string, error) { return "", nil }
`)
	writeModule(t, dir, "d_missing.go", greetModule)
	writeModule(t, dir, "e_good.go", echoModule)

	report := NewSource(dir).Load(context.Background())
	require.Len(t, report.Capabilities, 1)
	assert.Equal(t, "echotool", report.Capabilities[0].Name())
	require.Len(t, report.Failures, 4)

	var load *agentloop.LoadError
	require.ErrorAs(t, report.Failures[0], &load)
	assert.Equal(t, "a_syntax", load.Module)

	require.ErrorAs(t, report.Failures[1], &load)
	assert.Equal(t, "b_noexec", load.Module)
	assert.Contains(t, load.Error(), "missing required exports: Execute")

	var initErr *agentloop.InitError
	require.ErrorAs(t, report.Failures[2], &initErr)
	assert.Equal(t, "c_badschema", initErr.Capability)

	var missing *agentloop.DependencyMissingError
	require.ErrorAs(t, report.Failures[3], &missing)
	assert.Equal(t, "d_missing", missing.Module)
	assert.Equal(t, "example.com/greet", missing.Package)
}

func TestLoadMissingDirectory(t *testing.T) {
	report := NewSource(filepath.Join(t.TempDir(), "nope")).Load(context.Background())
	assert.Empty(t, report.Capabilities)
	assert.Empty(t, report.Failures)
}

type countingPolicy struct {
	mu    sync.Mutex
	calls []string
	fn    func(pkg string) bool
}

func (p *countingPolicy) Resolve(_ context.Context, module, pkg string) bool {
	p.mu.Lock()
	p.calls = append(p.calls, module+":"+pkg)
	p.mu.Unlock()
	return p.fn(pkg)
}

func TestInstallThenRetryOnce(t *testing.T) {
	dir := t.TempDir()
	gopath := filepath.Join(dir, ".gopath")
	writeModule(t, dir, "greettool.go", greetModule)
	install := installGreet(gopath)
	policy := &countingPolicy{fn: func(pkg string) bool { return install(context.Background(), pkg) == nil }}

	report := NewSource(dir, WithGOPATH(gopath), WithPolicy(policy)).Load(context.Background())
	require.Empty(t, report.Failures)
	require.Len(t, report.Capabilities, 1)
	assert.Equal(t, []string{"greettool:example.com/greet"}, policy.calls)

	out, err := report.Capabilities[0].Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello from greet", out)
}

func TestRetryHappensOnlyOnce(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "greettool.go", greetModule)
	// Claims success without installing anything.
	policy := &countingPolicy{fn: func(string) bool { return true }}

	report := NewSource(dir, WithPolicy(policy)).Load(context.Background())
	require.Len(t, report.Failures, 1)
	var missing *agentloop.DependencyMissingError
	assert.ErrorAs(t, report.Failures[0], &missing)
	assert.Len(t, policy.calls, 1)
}

func TestPromptPolicy(t *testing.T) {
	gopath := t.TempDir()
	var out bytes.Buffer
	p := NewPromptPolicy(strings.NewReader("y\n"), &out, installGreet(gopath), nil)

	assert.True(t, p.Resolve(context.Background(), "greettool", "example.com/greet"))
	assert.Contains(t, out.String(), "Would you like to install example.com/greet? (y/n)")
	assert.Contains(t, out.String(), "Installed example.com/greet.")
	assert.DirExists(t, filepath.Join(gopath, "src", "example.com", "greet"))

	// The answer is remembered; stdin is not read again.
	assert.True(t, p.Resolve(context.Background(), "other", "example.com/greet"))
}

func TestPromptPolicyDeclineAndFailure(t *testing.T) {
	var out bytes.Buffer
	declined := NewPromptPolicy(strings.NewReader("n\n"), &out, func(context.Context, string) error {
		t.Fatal("install must not run after a decline")
		return nil
	}, nil)
	assert.False(t, declined.Resolve(context.Background(), "m", "example.com/x"))
	assert.Contains(t, out.String(), "Skipping m.")

	out.Reset()
	failing := NewPromptPolicy(strings.NewReader("yes\n"), &out, func(context.Context, string) error {
		return errors.New("network down")
	}, nil)
	assert.False(t, failing.Resolve(context.Background(), "m", "example.com/x"))
	assert.Contains(t, out.String(), "Failed to install example.com/x: network down")

	eof := NewPromptPolicy(strings.NewReader(""), &out, nil, nil)
	assert.False(t, eof.Resolve(context.Background(), "m", "example.com/y"))
}

func TestParseMissingDependency(t *testing.T) {
	msg := `1:21: import "github.com/acme/lib" error: unable to find source related to: "github.com/acme/lib". Either the GOPATH environment variable, or the Interpreter.Options.GoPath needs to be set`
	assert.Equal(t, "github.com/acme/lib", ParseMissingDependency(msg))
	assert.Equal(t, "", ParseMissingDependency("undefined: foo"))
}

func TestCapabilityHonorsCancellation(t *testing.T) {
	release := make(chan struct{})
	c := &capability{name: "slow", execute: func(string) (string, error) {
		<-release
		return "late", nil
	}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Execute(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	close(release)

	panicky := &capability{name: "p", execute: func(string) (string, error) { panic("boom") }}
	_, err = panicky.Execute(context.Background(), nil)
	assert.EqualError(t, err, "panic: boom")
}

const sleepyModule = `package sleepytool

import "time"

func Name() string        { return "sleepytool" }
func Description() string { return "Sleeps" }
func Schema() string      { return "{\"type\":\"object\"}" }

func Execute(raw string) (string, error) {
	time.Sleep(2 * time.Second)
	return "awake", nil
}
`

func TestExecuteTimesOut(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "sleepytool.go", sleepyModule)

	report := NewSource(dir, WithTimeout(50*time.Millisecond)).Load(context.Background())
	require.Empty(t, report.Failures)
	require.Len(t, report.Capabilities, 1)

	start := time.Now()
	_, err := report.Capabilities[0].Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sleepytool timed out after")
	assert.Less(t, time.Since(start), time.Second)
}

func TestTimeoutIsCapped(t *testing.T) {
	assert.Equal(t, MaxTimeout, NewSource(t.TempDir(), WithTimeout(time.Hour)).timeout)
	assert.Equal(t, DefaultTimeout, NewSource(t.TempDir()).timeout)
}
