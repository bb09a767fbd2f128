package tools

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func patchOf(lines ...string) string {
	return strings.Join(append(append([]string{"*** Begin Patch"}, lines...), "*** End Patch"), "\n")
}

func TestDiffEditorAppliesAllOperations(t *testing.T) {
	env, dir := newEnv(t)
	writeFile(t, dir, "main.go", "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n")
	writeFile(t, dir, "old.go", "package old\n")
	writeFile(t, dir, "move.go", "package a\n")

	out := run(t, DiffEditor(env), map[string]any{"patch": patchOf(
		"*** Add File: pkg/new.go",
		"+package pkg",
		"+",
		"+const X = 1",
		"*** Update File: main.go",
		"@@ func main() {",
		"-\tprintln(\"hi\")",
		"+\tprintln(\"hello\")",
		" }",
		"*** Delete File: old.go",
		"*** Update File: move.go",
		"*** Move to: moved.go",
		"-package a",
		"+package b",
	)})

	assert.Equal(t, "Created: pkg/new.go\nUpdated: main.go\nDeleted: old.go\nUpdated and moved: move.go -> moved.go", out)
	assert.Equal(t, "package pkg\n\nconst X = 1\n", readFile(t, filepath.Join(dir, "pkg", "new.go")))
	assert.Equal(t, "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n", readFile(t, filepath.Join(dir, "main.go")))
	assert.NoFileExists(t, filepath.Join(dir, "old.go"))
	assert.NoFileExists(t, filepath.Join(dir, "move.go"))
	assert.Equal(t, "package b\n", readFile(t, filepath.Join(dir, "moved.go")))
}

func TestDiffEditorWritesNothingOnMismatch(t *testing.T) {
	env, dir := newEnv(t)
	a := writeFile(t, dir, "a.txt", "one\ntwo\n")
	writeFile(t, dir, "b.txt", "three\n")

	err := runErr(t, DiffEditor(env), map[string]any{"patch": patchOf(
		"*** Update File: a.txt",
		"-one",
		"+ONE",
		"*** Update File: b.txt",
		"-four",
		"+FOUR",
	)})
	assert.Contains(t, err.Error(), "b.txt: hunk 1: context not found")
	assert.Equal(t, "one\ntwo\n", readFile(t, a))
}

func TestParsePatchErrors(t *testing.T) {
	tests := []struct {
		name, patch, want string
	}{
		{"no header", "*** Update File: a\n-x\n*** End Patch", "missing '*** Begin Patch' header"},
		{"no footer", "*** Begin Patch\n*** Update File: a\n-x", "missing '*** End Patch' footer"},
		{"empty", "*** Begin Patch\n*** End Patch", "no file operations"},
		{"stray move", "*** Begin Patch\n*** Move to: b\n*** End Patch", "'Move to' outside an update"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parsePatch(tt.patch)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyHunkIgnoresTrailingWhitespace(t *testing.T) {
	got, err := applyHunk([]string{"a  ", "b", "c"}, []hunkLine{{' ', "a"}, {'-', "b"}, {'+', "B"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a  ", "B", "c"}, got)
}
