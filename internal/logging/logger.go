// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the logger flavour.
type Config struct {
	// Development switches to the coloured console encoder.
	Development bool `mapstructure:"development"`
	// Level is a zap level name; empty keeps the flavour's default.
	Level string `mapstructure:"level"`
	// File is an extra output path next to stderr.
	File string `mapstructure:"file"`
}

// New builds a zap.Logger configured for development or production.
func New(c Config) (*zap.Logger, error) {
	var cfg zap.Config
	if c.Development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"

	if lvl := strings.TrimSpace(c.Level); lvl != "" {
		level, err := zap.ParseAtomicLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		cfg.Level = level
	}
	if c.File != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, c.File)
		if c.Development {
			// Colour escapes make no sense in a file.
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		}
	}

	logger, err := cfg.Build()
	if err != nil {
		if c.Development {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}
