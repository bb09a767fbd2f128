package main

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/martinemde/coderoute/config"
)

// newLogger builds the process logger. Logs go to stderr unless a file is
// configured, so they stay out of the conversation.
func newLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc, err := loggerConfig(lc, verbose)
	if err != nil {
		return nil, err
	}
	return zc.Build()
}

func loggerConfig(lc config.LoggingConfig, verbose bool) (zap.Config, error) {
	zc := zap.NewProductionConfig()
	zc.Sampling = nil
	level, err := zap.ParseAtomicLevel(lc.Level)
	if err != nil {
		return zc, fmt.Errorf("logging level: %w", err)
	}
	zc.Level = level
	if verbose {
		zc.Level.SetLevel(zapcore.DebugLevel)
	}
	if lc.File != "" {
		zc.OutputPaths = []string{lc.File}
		zc.ErrorOutputPaths = []string{lc.File}
	}
	return zc, nil
}
