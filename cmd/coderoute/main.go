// Command coderoute is an interactive coding assistant that routes a
// conversation through a language model and the tools it calls.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/martinemde/coderoute/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
	modelFlag  string
	noBanner   bool
	resumePath string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "coderoute",
	Short: "coderoute - AI coding assistant with runtime tool creation",
	Long: `coderoute runs a conversation with a language model that can read and
edit files, run shell commands and write new tools for itself.

Tools written to the plugin directory are interpreted on the fly and become
available after "refresh" (or immediately when tools.watch_plugins is set).

Run without arguments to start the interactive assistant.`,
	Version:       config.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if modelFlag != "" {
			cfg.Model = modelFlag
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger, err = newLogger(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runInteractive,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFile, "Config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&modelFlag, "model", "m", "", "Model id or alias (overrides MODEL)")

	rootCmd.Flags().BoolVar(&noBanner, "no-banner", false, "Skip the welcome banner")
	rootCmd.Flags().StringVar(&resumePath, "resume", "", "Continue a conversation exported with the export command")

	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(transcriptCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
