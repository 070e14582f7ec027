package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap logger for the given level (debug, info, warn, error)
// and format (console or json).
func NewLogger(c LoggingConfig) (*zap.Logger, error) {
	level := c.Level
	if level == "" {
		level = "info"
	}
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch c.Format {
	case "console", "":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: must be \"json\" or \"console\"", c.Format)
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	// Keep stdout free for scan output.
	cfg.OutputPaths = []string{"stderr"}

	return cfg.Build()
}
