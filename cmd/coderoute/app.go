package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/martinemde/coderoute/agentloop"
	"github.com/martinemde/coderoute/config"
	"github.com/martinemde/coderoute/plugins"
	"github.com/martinemde/coderoute/tools"
)

// app is a session together with what it was built from.
type app struct {
	session   *agentloop.Session
	env       *tools.LocalEnvironment
	pluginDir string
	closers   []func() error
}

type appOptions struct {
	// in answers dependency install prompts. Nil skips missing
	// dependencies without asking.
	in  io.Reader
	out io.Writer
}

func interactive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts appOptions) (*app, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	a := &app{
		env:       tools.NewLocalEnvironment(wd),
		pluginDir: cfg.PluginDir(wd),
	}

	toolOpts := cfg.ToolOptions(wd)
	toolOpts.Logger = logger.Named("tools")
	if cfg.Tools.RenderJS {
		r := tools.NewRodRenderer(cfg.Tools.BrowserBin)
		toolOpts.Renderer = r
		a.closers = append(a.closers, r.Close)
	}

	var policy plugins.DependencyPolicy = plugins.SkipPolicy{Logger: logger.Named("plugins")}
	if opts.in != nil {
		install := tools.NewInstaller(a.env, toolOpts.PluginGOPATH, toolOpts.InstallTimeout, logger.Named("install"))
		policy = plugins.NewPromptPolicy(opts.in, opts.out, func(ctx context.Context, pkg string) error {
			_, err := install(ctx, pkg, "")
			return err
		}, logger.Named("plugins"))
	}

	sources := []agentloop.Source{
		tools.Source(a.env, toolOpts),
		plugins.NewSource(a.pluginDir,
			plugins.WithGOPATH(toolOpts.PluginGOPATH),
			plugins.WithPolicy(policy),
			plugins.WithTimeout(cfg.GetPluginTimeout()),
			plugins.WithLogger(logger.Named("plugins"))),
	}

	session, err := agentloop.NewSession(ctx, cfg.SessionConfig(wd),
		agentloop.WithProfiles(cfg.ProfileSet()),
		agentloop.WithSources(sources...),
		agentloop.WithSessionLogger(logger))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.session = session
	return a, nil
}

// Close ends the session and releases the page renderer.
func (a *app) Close() {
	if a.session != nil {
		a.session.Close()
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			logger.Warn("close", zap.Error(err))
		}
	}
}

// resume loads an exported transcript into the session.
func (a *app) resume(path string) (int, error) {
	turns, err := agentloop.ReadTranscript(path)
	if err != nil {
		return 0, fmt.Errorf("resume %s: %w", path, err)
	}
	a.session.Restore(turns)
	return len(turns), nil
}
