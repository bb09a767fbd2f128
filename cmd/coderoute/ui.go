package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/martinemde/coderoute/agentloop"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subtitleStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("14"))
	promptStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	toolStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	dimStyle       = lipgloss.NewStyle().Faint(true)
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)
)

func banner() string {
	body := titleStyle.Render("CODE ROUTE") + "\n" +
		subtitleStyle.Render("AI assistant with runtime tool creation")
	return panelStyle.Render(body)
}

func welcome(tools int) string {
	return "# Code Route\n\n" +
		"**Commands:** `refresh` reload tools, `reset` clear history, `models` list models, " +
		"`model <id>` switch models, `export <path>` save the conversation, `/help`, `quit`.\n\n" +
		fmt.Sprintf("%d tools loaded. Ready to assist!\n", tools)
}

// terminal serializes writes from the prompt loop and the event stream and
// draws the thinking spinner between them.
type terminal struct {
	out      io.Writer
	markdown *glamour.TermRenderer

	mu       sync.Mutex
	spinning bool
	stop     chan struct{}
	done     chan struct{}
}

func newTerminal(out io.Writer, width int) *terminal {
	t := &terminal{out: out}
	if width <= 0 {
		width = 100
	}
	if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width)); err == nil {
		t.markdown = r
	}
	return t
}

// Printf writes a line, clearing the spinner first if it is drawn.
func (t *terminal) Printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.spinning {
		fmt.Fprint(t.out, "\r\033[K")
	}
	fmt.Fprintf(t.out, format, args...)
}

// Write lets prompts from other packages share the terminal.
func (t *terminal) Write(p []byte) (int, error) {
	t.Printf("%s", p)
	return len(p), nil
}

// Markdown renders md, falling back to plain text.
func (t *terminal) Markdown(md string) {
	if t.markdown != nil {
		if rendered, err := t.markdown.Render(md); err == nil {
			t.Printf("%s", rendered)
			return
		}
	}
	t.Printf("%s\n", md)
}

// StartSpinner draws frames of s with label until StopSpinner.
func (t *terminal) StartSpinner(s spinner.Spinner, label string) {
	t.mu.Lock()
	if t.spinning {
		t.mu.Unlock()
		return
	}
	t.spinning = true
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	stop, done := t.stop, t.done
	t.mu.Unlock()

	go func() {
		defer close(done)
		tick := time.NewTicker(s.FPS)
		defer tick.Stop()
		for i := 0; ; i++ {
			t.mu.Lock()
			fmt.Fprintf(t.out, "\r\033[K%s %s", toolStyle.Render(s.Frames[i%len(s.Frames)]), dimStyle.Render(label))
			t.mu.Unlock()
			select {
			case <-stop:
				return
			case <-tick.C:
			}
		}
	}()
}

func (t *terminal) StopSpinner() {
	t.mu.Lock()
	if !t.spinning {
		t.mu.Unlock()
		return
	}
	stop, done := t.stop, t.done
	t.mu.Unlock()

	close(stop)
	<-done

	t.mu.Lock()
	t.spinning = false
	fmt.Fprint(t.out, "\r\033[K")
	t.mu.Unlock()
}

// eventLine formats the events worth showing during a send. The second
// result is false for events that are not displayed.
func eventLine(ev agentloop.SessionEvent, showTools bool) (string, bool) {
	str := func(key string) string {
		s, _ := ev.Data[key].(string)
		return s
	}
	num := func(key string) int {
		switch n := ev.Data[key].(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
		return 0
	}

	switch ev.Kind {
	case agentloop.EventToolCallStart:
		if !showTools {
			return "", false
		}
		line := toolStyle.Render("  Handling tool: " + str("tool_name"))
		if args := str("arguments"); args != "" && args != "{}" {
			line += "\n" + dimStyle.Render("  Arguments: "+truncate(args, 200))
		}
		return line, true
	case agentloop.EventToolCallEnd:
		if !showTools {
			return "", false
		}
		status := successStyle.Render("done")
		if failed, _ := ev.Data["is_error"].(bool); failed {
			status = errorStyle.Render("failed")
		}
		return fmt.Sprintf("  %s %s %s", str("tool_name"), status, dimStyle.Render(fmt.Sprintf("(%dms)", num("duration_ms")))), true
	case agentloop.EventCompletionEnd:
		if _, ok := ev.Data["tokens"]; !ok {
			return "", false
		}
		return dimStyle.Render(fmt.Sprintf("  Tokens: %d in + %d out | %d used, %d remaining",
			num("input_tokens"), num("output_tokens"), num("total"), num("remaining"))), true
	case agentloop.EventBudgetWarning:
		return warnStyle.Render(fmt.Sprintf("Warning: Only %d tokens remaining!", num("remaining"))), true
	case agentloop.EventLoopDetection:
		return warnStyle.Render(str("message")), true
	case agentloop.EventTurnLimit:
		return warnStyle.Render(fmt.Sprintf("Stopped after %d tool round trips.", num("round_trips"))), true
	case agentloop.EventDependencyMissing:
		return warnStyle.Render(fmt.Sprintf("Missing dependency: %s for tool %s", str("package"), str("module"))), true
	case agentloop.EventCapabilityLoadFailed:
		return errorStyle.Render("Error loading tool: ") + str("error"), true
	}
	return "", false
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// renderTools formats descriptors as an aligned two-column table.
func renderTools(descs []agentloop.Descriptor) string {
	if len(descs) == 0 {
		return dimStyle.Render("No tools loaded.")
	}
	width := 0
	for _, d := range descs {
		width = max(width, len(d.Name))
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Available tools (%d loaded)", len(descs))))
	for _, d := range descs {
		summary, _, _ := strings.Cut(strings.TrimSpace(d.Description), "\n")
		fmt.Fprintf(&sb, "\n  %s  %s",
			toolStyle.Render(d.Name+strings.Repeat(" ", width-len(d.Name))),
			truncate(summary, 80))
	}
	return sb.String()
}

// renderTranscript formats an exported conversation for reading.
func renderTranscript(turns []agentloop.Turn, includeSystem bool) string {
	var sb strings.Builder
	for _, t := range turns {
		switch t.Kind {
		case agentloop.TurnSystem:
			if !includeSystem {
				continue
			}
			sb.WriteString("## System\n\n" + t.System.Content + "\n\n")
		case agentloop.TurnUser:
			sb.WriteString("## You\n\n" + t.TextContent() + "\n\n")
		case agentloop.TurnAssistant:
			sb.WriteString("## Code Route\n\n")
			if t.Assistant.Text != "" {
				sb.WriteString(t.Assistant.Text + "\n\n")
			}
			for _, c := range t.Assistant.Calls {
				fmt.Fprintf(&sb, "- calls `%s` `%s`\n", c.Name, truncate(string(c.Arguments), 120))
			}
			if len(t.Assistant.Calls) > 0 {
				sb.WriteString("\n")
			}
		case agentloop.TurnToolResult:
			label := "Result"
			if t.ToolResult.IsError {
				label = "Error"
			}
			fmt.Fprintf(&sb, "### %s from %s\n\n```\n%s\n```\n\n", label, t.ToolResult.Name, t.ToolResult.Content)
		}
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}
