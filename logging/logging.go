// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Env   string // development: console output; anything else: JSON
	Level string // trace, debug, info, warn, error
}

// New returns a zerolog logger writing to stdout. It also replaces the
// global log.Logger so libraries logging through it share the settings.
func New(cfg Config) zerolog.Logger {
	return NewWriter(os.Stdout, cfg)
}

func NewWriter(out io.Writer, cfg Config) zerolog.Logger {
	w := out
	if cfg.Env == "development" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}
	zl := zerolog.New(w).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger()
	log.Logger = zl
	return zl
}

// ParseLevel falls back to info for anything it does not recognise.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
