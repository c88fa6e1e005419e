// Package logging builds the bridge's zap logger. Standard output is
// owned by the MCP protocol, so logs go to stderr or a file, never
// stdout.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the log sink and verbosity.
type Options struct {
	Level       string // debug, info, warn, error
	File        string // empty logs to stderr
	Development bool   // console encoding with debug level
}

// New builds a logger from options. The returned atomic level can be
// adjusted at runtime, e.g. on config reload.
func New(opts Options) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevel()
	if err := setLevel(&level, opts.Level); err != nil {
		return nil, level, err
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
		level.SetLevel(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = level

	if opts.File != "" {
		cfg.OutputPaths = []string{opts.File}
		cfg.ErrorOutputPaths = []string{opts.File}
	} else {
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, level, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, level, nil
}

func setLevel(level *zap.AtomicLevel, name string) error {
	switch name {
	case "", "info":
		level.SetLevel(zapcore.InfoLevel)
	case "debug":
		level.SetLevel(zapcore.DebugLevel)
	case "warn", "warning":
		level.SetLevel(zapcore.WarnLevel)
	case "error":
		level.SetLevel(zapcore.ErrorLevel)
	default:
		return fmt.Errorf("unknown log level: %s", name)
	}
	return nil
}

// SetLevel adjusts a live logger's level by name.
func SetLevel(level zap.AtomicLevel, name string) error {
	return setLevel(&level, name)
}
