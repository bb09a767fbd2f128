package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/martinemde/coderoute/agentloop"
)

// DiffEditor applies patches in the v4a format:
//
//	*** Begin Patch
//	*** Update File: path
//	@@ optional context
//	 context
//	-removed
//	+added
//	*** End Patch
//
// Add File, Delete File and Move to are supported. Every hunk must match
// before any file is written.
func DiffEditor(env Environment) agentloop.Capability {
	return agentloop.Func(agentloop.Descriptor{
		Name: "diffeditortool",
		Description: "Apply code changes using the v4a patch format. Supports creating, deleting, " +
			"and modifying files in a single operation.",
		Parameters: object([]string{"patch"}, map[string]any{
			"patch": prop("string", "The patch content in v4a format"),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		patch := agentloop.StringArgOr(args, "patch", "")
		if patch == "" {
			return nil, errors.New("patch is required")
		}
		ops, err := parsePatch(patch)
		if err != nil {
			return nil, err
		}
		return applyPatch(env, ops)
	})
}

type patchKind int

const (
	patchAdd patchKind = iota
	patchDelete
	patchUpdate
)

type patchOp struct {
	kind   patchKind
	path   string
	moveTo string
	added  []string
	hunks  [][]hunkLine
}

// hunkLine is one line of a hunk: ' ' context, '-' delete, '+' add.
type hunkLine struct {
	op   byte
	text string
}

func parsePatch(patch string) ([]patchOp, error) {
	lines := strings.Split(strings.ReplaceAll(patch, "\r\n", "\n"), "\n")
	if len(lines) < 2 || strings.TrimSpace(lines[0]) != "*** Begin Patch" {
		return nil, errors.New("invalid patch: missing '*** Begin Patch' header")
	}

	var ops []patchOp
	var cur *patchOp
	var hunk []hunkLine
	flushHunk := func() {
		if cur != nil && len(hunk) > 0 {
			cur.hunks = append(cur.hunks, hunk)
		}
		hunk = nil
	}
	flush := func() {
		flushHunk()
		if cur != nil {
			ops = append(ops, *cur)
		}
		cur = nil
	}

	ended := false
	for _, line := range lines[1:] {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "*** End Patch":
			flush()
			ended = true
		case strings.HasPrefix(trimmed, "*** Add File: "):
			flush()
			cur = &patchOp{kind: patchAdd, path: strings.TrimPrefix(trimmed, "*** Add File: ")}
		case strings.HasPrefix(trimmed, "*** Delete File: "):
			flush()
			cur = &patchOp{kind: patchDelete, path: strings.TrimPrefix(trimmed, "*** Delete File: ")}
		case strings.HasPrefix(trimmed, "*** Update File: "):
			flush()
			cur = &patchOp{kind: patchUpdate, path: strings.TrimPrefix(trimmed, "*** Update File: ")}
		case strings.HasPrefix(trimmed, "*** Move to: "):
			if cur == nil || cur.kind != patchUpdate {
				return nil, errors.New("invalid patch: 'Move to' outside an update")
			}
			cur.moveTo = strings.TrimPrefix(trimmed, "*** Move to: ")
		case trimmed == "*** End of File":
		case strings.HasPrefix(trimmed, "@@"):
			flushHunk()
		case cur == nil:
		case cur.kind == patchAdd:
			if strings.HasPrefix(line, "+") {
				cur.added = append(cur.added, line[1:])
			}
		case cur.kind == patchUpdate && line != "":
			switch line[0] {
			case ' ', '-', '+':
				hunk = append(hunk, hunkLine{op: line[0], text: line[1:]})
			}
		}
		if ended {
			break
		}
	}
	if !ended {
		return nil, errors.New("invalid patch: missing '*** End Patch' footer")
	}
	if len(ops) == 0 {
		return nil, errors.New("invalid patch: no file operations")
	}
	return ops, nil
}

func applyPatch(env Environment, ops []patchOp) (string, error) {
	type write struct {
		path    string
		content string
	}
	var writes []write
	var removes []string
	var results []string

	for _, op := range ops {
		switch op.kind {
		case patchAdd:
			writes = append(writes, write{op.path, strings.Join(op.added, "\n") + "\n"})
			results = append(results, "Created: "+op.path)
		case patchDelete:
			if _, err := env.ReadFile(op.path); err != nil {
				return "", fmt.Errorf("cannot delete %s: %w", op.path, err)
			}
			removes = append(removes, op.path)
			results = append(results, "Deleted: "+op.path)
		case patchUpdate:
			content, err := env.ReadFile(op.path)
			if err != nil {
				return "", fmt.Errorf("cannot read %s for update: %w", op.path, err)
			}
			trailing := strings.HasSuffix(content, "\n")
			fileLines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
			for i, h := range op.hunks {
				fileLines, err = applyHunk(fileLines, h)
				if err != nil {
					return "", fmt.Errorf("%s: hunk %d: %w", op.path, i+1, err)
				}
			}
			updated := strings.Join(fileLines, "\n")
			if trailing {
				updated += "\n"
			}
			if op.moveTo != "" {
				writes = append(writes, write{op.moveTo, updated})
				removes = append(removes, op.path)
				results = append(results, fmt.Sprintf("Updated and moved: %s -> %s", op.path, op.moveTo))
			} else {
				writes = append(writes, write{op.path, updated})
				results = append(results, "Updated: "+op.path)
			}
		}
	}

	for _, w := range writes {
		if err := env.WriteFile(w.path, w.content); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", w.path, err)
		}
	}
	for _, path := range removes {
		if err := env.Remove(path); err != nil {
			return "", fmt.Errorf("failed to delete %s: %w", path, err)
		}
	}
	return strings.Join(results, "\n"), nil
}

// applyHunk locates the hunk by its context and deleted lines, comparing
// without trailing whitespace, and splices in the added lines.
func applyHunk(fileLines []string, hunk []hunkLine) ([]string, error) {
	var old []string
	for _, l := range hunk {
		if l.op != '+' {
			old = append(old, l.text)
		}
	}

	pos := 0
	if len(old) > 0 {
		pos = findLines(fileLines, old)
		if pos < 0 {
			return nil, fmt.Errorf("context not found: %q", old[0])
		}
	}

	out := make([]string, 0, len(fileLines)+len(hunk))
	out = append(out, fileLines[:pos]...)
	i := pos
	for _, l := range hunk {
		switch l.op {
		case ' ':
			out = append(out, fileLines[i])
			i++
		case '-':
			i++
		case '+':
			out = append(out, l.text)
		}
	}
	return append(out, fileLines[i:]...), nil
}

func findLines(haystack, needle []string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j, want := range needle {
			if strings.TrimRight(haystack[i+j], " \t") != strings.TrimRight(want, " \t") {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
