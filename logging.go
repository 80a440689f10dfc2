package main

import (
	"os"
	"strings"

	"go.uber.org/zap"
)

// logger is the process-wide sugared logger. Set once by initLogging before
// any service is constructed; tests that construct services directly get a
// no-op logger from init().
var logger *zap.SugaredLogger

func init() {
	logger = zap.NewNop().Sugar()
}

// initLogging builds the global logger. Level and format come from the
// environment (LOG_LEVEL=debug|info|warn|error, LOG_FORMAT=console|json)
// so they can be changed without touching config.yaml.
func initLogging() error {
	var cfg zap.Config
	switch strings.ToLower(os.Getenv("LOG_FORMAT")) {
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(strings.ToLower(envOrDefault("LOG_LEVEL", "info")))
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = level

	l, err := cfg.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		return err
	}
	logger = l.Sugar()
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
