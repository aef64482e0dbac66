// Package zenithlog builds the process-wide structured logger.
package zenithlog

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build constructs a *zap.Logger for the given level ("debug", "info",
// "warn", "error") and format ("json" or "console"). "console" is intended
// for local development; production deployments should use "json".
func Build(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("zenithlog: invalid level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "", "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("zenithlog: invalid format %q", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("zenithlog: build logger: %w", err)
	}
	return logger, nil
}
