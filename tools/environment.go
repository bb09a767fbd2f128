package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// ExecResult holds the result of a command execution.
type ExecResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMs int64  `json:"duration_ms"`
}

// Environment abstracts where the built-in capabilities touch the machine.
// Relative paths are resolved against WorkingDirectory.
type Environment interface {
	WorkingDirectory() string
	Resolve(path string) string

	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
	Remove(path string) error

	Exec(ctx context.Context, command string, timeout time.Duration, dir string) (*ExecResult, error)
	Start(command, dir string) (int, error)

	// ListFiles returns the regular files under root whose path relative to
	// root matches glob (all files when glob is empty), sorted.
	ListFiles(ctx context.Context, root, glob string) ([]string, error)
	Glob(pattern, base string, recursive, includeDirs bool) ([]string, error)

	Platform() string
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that are not passed to commands.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always passed through.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "GOMODCACHE": true,
	"XDG_CONFIG_HOME": true, "XDG_DATA_HOME": true, "XDG_CACHE_HOME": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

func filterEnvironment(environ []string) []string {
	var filtered []string
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, kv)
		}
	}
	return filtered
}

// LocalEnvironment runs capabilities on the local machine.
type LocalEnvironment struct {
	workingDir string
	shell      string
	extraEnv   []string
}

// LocalOption configures a LocalEnvironment.
type LocalOption func(*LocalEnvironment)

// WithShell sets the shell used by Exec. The default is /bin/bash.
func WithShell(path string) LocalOption {
	return func(e *LocalEnvironment) { e.shell = path }
}

// WithExtraEnv appends KEY=VALUE pairs to the environment of every command.
func WithExtraEnv(kv ...string) LocalOption {
	return func(e *LocalEnvironment) { e.extraEnv = append(e.extraEnv, kv...) }
}

// NewLocalEnvironment creates a local environment rooted at workingDir, or
// the process working directory when empty.
func NewLocalEnvironment(workingDir string, opts ...LocalOption) *LocalEnvironment {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	e := &LocalEnvironment{workingDir: workingDir, shell: "/bin/bash"}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *LocalEnvironment) WorkingDirectory() string { return e.workingDir }

func (e *LocalEnvironment) Platform() string { return runtime.GOOS + "/" + runtime.GOARCH }

func (e *LocalEnvironment) Resolve(path string) string {
	if path == "" {
		return e.workingDir
	}
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(e.workingDir, path)
}

func (e *LocalEnvironment) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(e.Resolve(path))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile writes content through a temporary file in the same directory
// and renames it into place.
func (e *LocalEnvironment) WriteFile(path, content string) error {
	resolved := e.Resolve(path)
	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(resolved); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(resolved)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), resolved)
}

func (e *LocalEnvironment) Remove(path string) error {
	return os.Remove(e.Resolve(path))
}

func (e *LocalEnvironment) command(ctx context.Context, command, dir string) *exec.Cmd {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd.exe", "/c", command)
	} else {
		cmd = exec.CommandContext(ctx, e.shell, "-c", command)
	}
	cmd.Dir = e.Resolve(dir)
	cmd.Env = append(filterEnvironment(os.Environ()), e.extraEnv...)
	return cmd
}

// Exec runs command through the shell in its own process group. On timeout
// the whole group is killed and TimedOut is set.
func (e *LocalEnvironment) Exec(ctx context.Context, command string, timeout time.Duration, dir string) (*ExecResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := e.command(ctx, command, dir)
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		killProcessGroup(cmd)
		return nil
	}
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.TimedOut = true
			result.ExitCode = -1
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("exec: %w", err)
		}
	}
	return result, nil
}

// Start launches command detached from the session with its output
// discarded, and returns its pid.
func (e *LocalEnvironment) Start(command, dir string) (int, error) {
	cmd := e.command(context.Background(), command, dir)
	setProcessGroup(cmd)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start: %w", err)
	}
	pid := cmd.Process.Pid
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

// ListFiles enumerates with ripgrep when it is installed, which honors
// ignore files, and falls back to a directory walk that skips hidden
// entries.
func (e *LocalEnvironment) ListFiles(ctx context.Context, root, glob string) ([]string, error) {
	root = e.Resolve(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	if rg, err := exec.LookPath("rg"); err == nil {
		args := []string{"--files"}
		if glob != "" {
			args = append(args, "--glob", glob)
		}
		cmd := exec.CommandContext(ctx, rg, append(args, root)...)
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		// rg exits 1 when nothing matched.
		if err := cmd.Run(); err == nil || stdout.Len() > 0 || isExitCode(err, 1) {
			files := splitLines(stdout.String())
			sort.Strings(files)
			return files, nil
		}
	}
	return walkFiles(ctx, root, glob)
}

func isExitCode(err error, code int) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == code
}

func walkFiles(ctx context.Context, root, glob string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		if glob == "" || matchFileGlob(glob, filepath.ToSlash(rel)) {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

// matchFileGlob follows ripgrep: a pattern without a slash matches the base
// name at any depth.
func matchFileGlob(glob, rel string) bool {
	if !strings.Contains(glob, "/") {
		ok, _ := filepath.Match(glob, pathBase(rel))
		return ok
	}
	return matchGlob(glob, rel)
}

func pathBase(rel string) string {
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		return rel[i+1:]
	}
	return rel
}

// Glob matches pattern against base. With recursive set the pattern is
// tried in every directory below base. Results are relative to the working
// directory where possible.
func (e *LocalEnvironment) Glob(pattern, base string, recursive, includeDirs bool) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	base = e.Resolve(base)
	if recursive && !strings.HasPrefix(pattern, "**/") {
		pattern = "**/" + pattern
	}

	var matches []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil || path == base {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}
		if d.IsDir() && !includeDirs {
			return nil
		}
		rel, _ := filepath.Rel(base, path)
		if matchGlob(pattern, filepath.ToSlash(rel)) {
			matches = append(matches, e.relative(path))
		}
		return nil
	})
	sort.Strings(matches)
	return matches, err
}

func (e *LocalEnvironment) relative(path string) string {
	if rel, err := filepath.Rel(e.workingDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

// matchGlob matches a slash-separated path against a pattern where "**"
// stands for any number of directories.
func matchGlob(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pat, name []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			if len(pat) == 1 {
				return true
			}
			for i := 0; i <= len(name); i++ {
				if matchSegments(pat[1:], name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		if ok, _ := filepath.Match(pat[0], name[0]); !ok {
			return false
		}
		pat, name = pat[1:], name[1:]
	}
	return len(name) == 0
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			out = append(out, line)
		}
	}
	return out
}
