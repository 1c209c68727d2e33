package main

import (
	"log/slog"
	"os"

	"parchment/pkg/config"
)

// loadConfig reads the YAML config and applies command-line overrides.
func loadConfig(g *Globals) (config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return cfg, err
	}
	if g.Dir != "" {
		cfg.Storage.Path = g.Dir
	}
	if g.Backend != "" {
		cfg.Storage.Backend = g.Backend
	}
	return cfg, cfg.Validate()
}

// initLogger installs the global slog.Logger. Records go to stderr so that
// command output on stdout stays clean.
func initLogger(cfg *config.Config) {
	level, err := config.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{AddSource: true, Level: level}

	var handler slog.Handler
	if cfg.Logger.JSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.Debug("logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)
}
