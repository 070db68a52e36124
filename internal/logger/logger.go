// Package logger wires log/slog to a zap JSON backend for production and a
// plain text handler for development.
package logger

import (
	"log/slog"
	"os"
)

type Backend string

const (
	BackendStd Backend = "std"
	BackendZap Backend = "zap"
)

type Config struct {
	Env     string // "dev" or "prod"
	Service string
	Debug   bool
	Backend Backend
}

var def *slog.Logger

// Init configures the process-wide slog default.
func Init(cfg Config) {
	if cfg.Service == "" {
		cfg.Service = "app"
	}
	if cfg.Backend == "" {
		if cfg.Env == "dev" {
			cfg.Backend = BackendStd
		} else {
			cfg.Backend = BackendZap
		}
	}

	var h slog.Handler
	switch cfg.Backend {
	case BackendZap:
		h = newZapHandler(cfg)
	default:
		h = newStdHandler(cfg)
	}

	h = h.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})

	base := slog.New(h)
	slog.SetDefault(base)
	def = base
}

// L returns the configured logger, initialising defaults on first use.
func L() *slog.Logger {
	if def != nil {
		return def
	}
	Init(Config{})
	return def
}

func newStdHandler(cfg Config) slog.Handler {
	lvl := slog.LevelInfo
	if cfg.Debug {
		lvl = slog.LevelDebug
	}
	return slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
}
