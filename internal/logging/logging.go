// Package logging builds the zap logger shared by the server and the admin CLI.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON logger in production and a console logger otherwise.
func New(level, env string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}

	var cfg zap.Config
	if env == "prod" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = lvl
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// Must is New for call sites that cannot continue without a logger.
func Must(level, env string) *zap.Logger {
	l, err := New(level, env)
	if err != nil {
		return zap.NewExample()
	}
	return l
}
