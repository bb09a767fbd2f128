package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/martinemde/coderoute/agentloop"
)

// dangerousPatterns are substrings that make bashtool refuse a command.
var dangerousPatterns = []string{"rm -rf /", "sudo rm", "> /dev/null 2>&1 &"}

// Bash runs shell commands. timeout applies when the call does not name one;
// no call may exceed maxTimeout.
func Bash(env Environment, timeout, maxTimeout time.Duration) agentloop.Capability {
	return agentloop.Func(agentloop.Descriptor{
		Name: "bashtool",
		Description: `Executes shell commands with proper quoting and security measures.

IMPORTANT: Avoid using find, grep, cat, ls, head, tail; use the specialized tools instead.
Always quote paths with spaces. Explain non-trivial commands clearly.
Use && or ; to chain commands, not newlines.`,
		Parameters: object([]string{"command"}, map[string]any{
			"command":       prop("string", "The shell command to execute"),
			"timeout":       prop("integer", fmt.Sprintf("Timeout in seconds (default: %d, max: %d)", int(timeout.Seconds()), int(maxTimeout.Seconds()))),
			"description":   prop("string", "Clear, concise description of what this command does in 5-10 words"),
			"is_background": prop("boolean", "Whether to run command in background (for long-running processes)"),
		}),
	}, func(ctx context.Context, args map[string]any) (any, error) {
		command := strings.TrimSpace(agentloop.StringArgOr(args, "command", ""))
		if command == "" {
			return nil, errors.New("no command provided")
		}
		for _, p := range dangerousPatterns {
			if strings.Contains(command, p) {
				return nil, fmt.Errorf("command contains potentially dangerous pattern %q, please verify: %s", p, command)
			}
		}

		if agentloop.BoolArgOr(args, "is_background", false) {
			pid, err := env.Start(command, "")
			if err != nil {
				return nil, err
			}
			return strings.TrimSpace(fmt.Sprintf("Background process started (PID: %d). %s",
				pid, agentloop.StringArgOr(args, "description", ""))), nil
		}

		limit := timeout
		if secs, ok := agentloop.IntArg(args, "timeout"); ok && secs > 0 {
			limit = time.Duration(secs) * time.Second
		}
		limit = min(limit, maxTimeout)

		res, err := env.Exec(ctx, command, limit, "")
		if err != nil {
			return nil, err
		}
		return formatExec(res, limit), nil
	})
}

func formatExec(res *ExecResult, limit time.Duration) string {
	switch {
	case res.TimedOut:
		return fmt.Sprintf("Command timed out after %d seconds", int(limit.Seconds()))
	case res.ExitCode != 0:
		return fmt.Sprintf("Command failed (exit code %d): %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	if out := strings.TrimSpace(res.Stdout); out != "" {
		return out
	}
	return "Command completed successfully"
}
