// Package logger constructs the process-wide zerolog.Logger.
package logger

import (
	"os"
	"strings"

	"github.com/kkhwan1/bloomberg-data/config"
	"github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger. Console-pretty in development,
// JSON in production, level driven by cfg.LogLevel
// (DEBUG/INFO/WARNING/ERROR/CRITICAL).
func New(cfg *config.Config) zerolog.Logger {
	var out zerolog.ConsoleWriter
	var log zerolog.Logger

	lvl := parseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(lvl)

	if cfg.IsDevelopment() {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
		log = zerolog.New(out).With().Timestamp().Logger()
	} else {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return log
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARNING", "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	case "CRITICAL", "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
