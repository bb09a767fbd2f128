package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/martinemde/coderoute/agentloop"
	"github.com/martinemde/coderoute/config"
	"github.com/martinemde/coderoute/unifiedllm"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the built-in and plugin tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()
		fmt.Fprintln(cmd.OutOrStdout(), renderTools(a.session.Tools()))
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the configured models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		current := cfg.Model
		ps := cfg.ProfileSet()
		if p, ok := ps.Lookup(cfg.Model); ok {
			current = p.ID
		}
		fmt.Fprintln(cmd.OutOrStdout(), ps.Render(current))
		return nil
	},
}

var showSystem bool

var transcriptCmd = &cobra.Command{
	Use:   "transcript <file>",
	Short: "Print a conversation written by the export command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		turns, err := agentloop.ReadTranscript(args[0])
		if err != nil {
			return err
		}
		md := renderTranscript(turns, showSystem)
		newTerminal(cmd.OutOrStdout(), 0).Markdown(md)
		return nil
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file in the current directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintln(out, successStyle.Render(configPath+" already exists"))
			return nil
		}
		if err := config.DefaultConfig().Save(configPath); err != nil {
			return err
		}
		wd, _ := os.Getwd()
		if err := os.MkdirAll(config.DefaultConfig().PluginDir(wd), 0o755); err != nil {
			return err
		}
		fmt.Fprintln(out, successStyle.Render("Created "+configPath))
		fmt.Fprintln(out, warnStyle.Render("Set OPENROUTER_API_KEY (or edit providers.openrouter.api_key) before starting."))
		return nil
	},
}

func init() {
	transcriptCmd.Flags().BoolVar(&showSystem, "system", false, "Include the system prompt")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and tool status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), status(cmd.Context()))
		return nil
	},
}

func status(ctx context.Context) string {
	rows := [][2]string{}
	add := func(name, value string) { rows = append(rows, [2]string{name, value}) }

	key := cfg.Providers.OpenRouter.APIKey
	switch {
	case key == "":
		add("OpenRouter API", errorStyle.Render("missing"))
	case len(key) > 8:
		add("OpenRouter API", successStyle.Render("configured")+dimStyle.Render(" key ..."+key[len(key)-8:]))
	default:
		add("OpenRouter API", successStyle.Render("configured"))
	}
	if cfg.Providers.Gemini.APIKey != "" {
		add("Gemini API", successStyle.Render("configured"))
	} else {
		add("Gemini API", dimStyle.Render("optional"))
	}

	model := cfg.Model
	if p, ok := cfg.ProfileSet().Lookup(cfg.Model); ok {
		model = p.ID + " (" + p.Display() + ")"
		if err := p.Validate(); err != nil {
			model += " " + errorStyle.Render(err.Error())
		}
	} else {
		model += " " + errorStyle.Render("unknown")
	}
	add("Model", model)

	a, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		label := "error: "
		if unifiedllm.IsConfigurationError(err) {
			label = "not started: "
		}
		add("Tools", errorStyle.Render(label)+truncate(err.Error(), 60))
	} else {
		add("Tools", successStyle.Render(fmt.Sprintf("%d loaded", a.session.Registry().Len())))
		add("Plugin dir", a.pluginDir)
		a.Close()
	}

	wd, _ := os.Getwd()
	if _, err := os.Stat(configPath); err == nil {
		abs, _ := filepath.Abs(configPath)
		add("Config", abs)
	} else {
		add("Config", warnStyle.Render("defaults")+dimStyle.Render(" (run coderoute init)"))
	}
	add("Directory", wd)

	width := 0
	for _, r := range rows {
		width = max(width, len(r[0]))
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("coderoute status"))
	for _, r := range rows {
		fmt.Fprintf(&sb, "\n  %s  %s", r[0]+strings.Repeat(" ", width-len(r[0])), r[1])
	}
	return sb.String()
}
