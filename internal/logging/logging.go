// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// Setup sets the global level and output. format "console" writes
// human-readable lines; anything else writes JSON.
func Setup(level, format, service string) {
	zerolog.SetGlobalLevel(parseLevel(level))

	var w io.Writer = os.Stderr
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Str("service", service).Logger()
}
