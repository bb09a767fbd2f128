package tools

import (
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBash(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}
	env, _ := newEnv(t)
	bash := Bash(env, 5*time.Second, 10*time.Second)

	tests := []struct {
		name    string
		command string
		want    string
	}{
		{"stdout", "echo hello", "hello"},
		{"silent", "true", "Command completed successfully"},
		{"failure", "echo bad >&2; exit 2", "Command failed (exit code 2): bad"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, run(t, bash, map[string]any{"command": tt.command}))
		})
	}
}

func TestBashTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}
	env, _ := newEnv(t)
	bash := Bash(env, 5*time.Second, time.Second)

	// The requested 30 seconds is capped at the one second maximum.
	start := time.Now()
	out := run(t, bash, map[string]any{"command": "sleep 30", "timeout": 30})
	assert.Equal(t, "Command timed out after 1 seconds", out)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestBashRefusesDangerousCommands(t *testing.T) {
	env, _ := newEnv(t)
	bash := Bash(env, time.Second, time.Second)

	for _, cmd := range []string{"rm -rf / --no-preserve-root", "sudo rm /etc/passwd", "server > /dev/null 2>&1 &"} {
		err := runErr(t, bash, map[string]any{"command": cmd})
		assert.Contains(t, err.Error(), "dangerous pattern")
	}
	err := runErr(t, bash, map[string]any{"command": "   "})
	assert.EqualError(t, err, "no command provided")
}

func TestBashBackground(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}
	env, _ := newEnv(t)
	bash := Bash(env, time.Second, time.Second)

	out := run(t, bash, map[string]any{"command": "true", "is_background": true, "description": "noop"})
	assert.True(t, strings.HasPrefix(out, "Background process started (PID: "), out)
	assert.True(t, strings.HasSuffix(out, "). noop"), out)
}
