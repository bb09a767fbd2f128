package agentloop

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// DefaultInstructions is the core behavior prompt of the assistant.
const DefaultInstructions = `<coderoute>
  <identity>
    You are coderoute, a senior software engineering assistant working in the
    user's project through a set of tools. Turn the user's intent into
    maintainable, working changes.
  </identity>
  <communication>
    Be concise. Report blockers, missing credentials and ambiguous requests
    before acting on guesses. Never reveal secrets found in files or output.
  </communication>
  <workflow>
    <step>Inspect the relevant files before editing them.</step>
    <step>Make the smallest change that satisfies the request.</step>
    <step>Verify the result with the available tools when possible.</step>
    <step>Summarize what changed and anything left undone.</step>
  </workflow>
</coderoute>`

// ToolUsageInstructions describes how the model should use capabilities.
const ToolUsageInstructions = `<tool_usage>
  <guideline>Call a tool only when it adds information or performs work you cannot do by reasoning.</guideline>
  <guideline>Ask for clarification when required parameters are missing.</guideline>
  <guideline>Independent tool calls may be issued together; dependent ones must be sequential.</guideline>
  <guideline>Quote tool errors verbatim and decide whether to retry, adjust or ask.</guideline>
  <guideline>Paths given to file tools should be absolute.</guideline>
  <guideline>Create a new tool with toolcreator only when no combination of existing tools can do the job, then ask the user to refresh.</guideline>
</tool_usage>`

// LeadInstructions is the body of the synthetic leading entry used when a
// transcript does not start with user input.
const LeadInstructions = DefaultInstructions + "\n\n" + ToolUsageInstructions

const maxProjectDocBytes = 32 * 1024

// PromptContext describes the workspace the session runs in.
type PromptContext struct {
	WorkingDirectory string
	Model            string
	Tools            []string
	UserInstructions string
}

// BuildSystemPrompt assembles the instructions seeded into a new
// conversation: behavior, tool usage, environment, project docs and any
// user instructions.
func BuildSystemPrompt(ctx context.Context, pc PromptContext) string {
	parts := []string{DefaultInstructions, ToolUsageInstructions, BuildEnvironmentContext(ctx, pc)}
	if docs := DiscoverProjectDocs(ctx, pc.WorkingDirectory); docs != "" {
		parts = append(parts, "<project_instructions>\n"+docs+"\n</project_instructions>")
	}
	if pc.UserInstructions != "" {
		parts = append(parts, "<user_instructions>\n"+pc.UserInstructions+"\n</user_instructions>")
	}
	return strings.Join(parts, "\n\n")
}

// BuildEnvironmentContext generates the environment block.
func BuildEnvironmentContext(ctx context.Context, pc PromptContext) string {
	branch := ""
	isRepo := gitRoot(ctx, pc.WorkingDirectory) != ""
	if isRepo {
		branch = runGit(ctx, pc.WorkingDirectory, "rev-parse", "--abbrev-ref", "HEAD")
	}

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", pc.WorkingDirectory)
	fmt.Fprintf(&sb, "Is git repository: %v\n", isRepo)
	if branch != "" {
		fmt.Fprintf(&sb, "Git branch: %s\n", branch)
	}
	fmt.Fprintf(&sb, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if pc.Model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", pc.Model)
	}
	if len(pc.Tools) > 0 {
		fmt.Fprintf(&sb, "Tools: %s\n", strings.Join(pc.Tools, ", "))
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads AGENTS.md files from the git root (or the
// working directory) down to the working directory, capped at 32KB.
func DiscoverProjectDocs(ctx context.Context, workingDir string) string {
	if workingDir == "" {
		return ""
	}
	root := gitRoot(ctx, workingDir)
	if root == "" {
		root = workingDir
	}

	var docs []string
	total := 0
	for _, dir := range pathHierarchy(root, workingDir) {
		content, err := os.ReadFile(filepath.Join(dir, "AGENTS.md"))
		if err != nil {
			continue
		}
		remaining := maxProjectDocBytes - total
		if remaining <= 0 {
			docs = append(docs, "[Project instructions truncated at 32KB]")
			break
		}
		text := string(content)
		if len(text) > remaining {
			text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
		}
		docs = append(docs, fmt.Sprintf("# AGENTS.md (from %s)\n\n%s", dir, text))
		total += len(text)
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// pathHierarchy returns directories from root to target, inclusive.
func pathHierarchy(root, target string) []string {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	dirs := []string{root}
	if root == target {
		return dirs
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || strings.HasPrefix(rel, "..") {
		return dirs
	}
	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "." || part == "" {
			continue
		}
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func gitRoot(ctx context.Context, dir string) string {
	return runGit(ctx, dir, "rev-parse", "--show-toplevel")
}

func runGit(ctx context.Context, dir string, args ...string) string {
	if dir == "" {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
