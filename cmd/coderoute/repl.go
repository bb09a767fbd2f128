package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/martinemde/coderoute/agentloop"
	"github.com/martinemde/coderoute/plugins"
)

var promptFlag string

func init() {
	rootCmd.Flags().StringVarP(&promptFlag, "prompt", "p", "", "Send a single message, print the answer and exit")
}

func runInteractive(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	term := newTerminal(os.Stdout, 0)
	var con *console
	opts := appOptions{out: term}
	if promptFlag == "" {
		con = newConsole(os.Stdin)
		if interactive() {
			opts.in = con
		}
	}

	a, err := newApp(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if resumePath != "" {
		n, err := a.resume(resumePath)
		if err != nil {
			return err
		}
		term.Printf("%s\n", successStyle.Render(fmt.Sprintf("Resumed %d turns from %s", n, resumePath)))
	}

	events := make(chan struct{})
	go func() {
		defer close(events)
		for ev := range a.session.Events() {
			logger.Debug("session event", zap.String("kind", string(ev.Kind)))
			if line, ok := eventLine(ev, cfg.ShowToolUsage); ok {
				term.Printf("%s\n", line)
			}
		}
	}()
	defer func() {
		a.session.Close()
		<-events
	}()

	if promptFlag != "" {
		return oneShot(ctx, a, term, promptFlag)
	}
	return repl(ctx, a, term, con)
}

// sendCancellable runs one send that a SIGINT cancels without ending the
// process.
func sendCancellable(ctx context.Context, s *agentloop.Session, text string) (string, error) {
	sendCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
			cancel()
		case <-sendCtx.Done():
		}
	}()
	return s.Send(sendCtx, agentloop.TextInput(text))
}

func oneShot(ctx context.Context, a *app, term *terminal, text string) error {
	answer, err := sendCancellable(ctx, a.session, text)
	if err != nil {
		return err
	}
	fmt.Println(answer)
	return nil
}

func repl(ctx context.Context, a *app, term *terminal, con *console) error {
	if !noBanner {
		term.Printf("%s\n", banner())
	}
	term.Markdown(welcome(a.session.Registry().Len()))

	refreshes := make(chan struct{}, 1)
	if cfg.Tools.WatchPlugins {
		w, err := plugins.NewWatcher(a.pluginDir, plugins.DefaultDebounce, func(context.Context) {
			select {
			case refreshes <- struct{}{}:
			default:
			}
		}, logger.Named("watcher"))
		if err != nil {
			logger.Warn("plugin watcher unavailable", zap.Error(err))
		} else if err := w.Start(ctx); err != nil {
			logger.Warn("plugin watcher unavailable", zap.Error(err))
			w.Stop()
		} else {
			defer w.Stop()
		}
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	lines := make(chan string)
	for {
		term.Printf("%s", promptStyle.Render("You: "))

		go func() {
			line, ok := con.Next(ctx)
			if !ok {
				close(lines)
				return
			}
			lines <- line
		}()

		var line string
	wait:
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-interrupts:
				term.Printf("\n%s\n%s", dimStyle.Render("Type 'quit' to exit."), promptStyle.Render("You: "))
			case <-refreshes:
				if added := a.session.RefreshCapabilities(ctx); len(added) > 0 {
					term.Printf("\n%s\n%s", successStyle.Render("New tools: "+strings.Join(added, ", ")), promptStyle.Render("You: "))
				}
			case l, ok := <-lines:
				if !ok {
					term.Printf("\n")
					return nil
				}
				line = strings.TrimSpace(l)
				break wait
			}
		}
		if line == "" {
			continue
		}

		done := handleLine(ctx, a, term, line)
		// The Ctrl-C that cancelled the send was delivered here as well.
		drainSignals(interrupts)
		if done {
			return nil
		}
	}
}

func drainSignals(ch <-chan os.Signal) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// handleLine sends one line and prints the answer. It reports whether the
// session has ended.
func handleLine(ctx context.Context, a *app, term *terminal, line string) bool {
	_, isCommand := agentloop.ParseCommand(line)
	if !isCommand && cfg.EnableThinking {
		term.StartSpinner(spinner.Dot, "Thinking...")
	}
	answer, err := sendCancellable(ctx, a.session, line)
	term.StopSpinner()

	switch {
	case errors.Is(err, agentloop.ErrSessionClosed):
		return true
	case errors.Is(err, context.Canceled):
		term.Printf("%s\n", warnStyle.Render("[cancelled]"))
		return false
	case err != nil:
		term.Printf("%s\n", errorStyle.Render("Error: "+err.Error()))
		return false
	}

	if isCommand {
		term.Printf("%s\n", answer)
		return a.session.State() == agentloop.StateClosed
	}
	term.Printf("%s\n", assistantStyle.Render("Code Route:"))
	term.Markdown(answer)
	return false
}
