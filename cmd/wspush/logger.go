package main

import (
	"io"
	"log/slog"

	"github.com/vango-dev/wspush/internal/config"
)

// newLogger builds the process logger from the log section.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With(slog.String("service", "wspush"))
}
