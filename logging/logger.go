// Package logging configures the process-wide zerolog logger once, the way
// the teacher's utility package configures a process-wide slog.Logger: a
// sync.Once-guarded setup read from LOG_LEVEL. Get returns the base logger;
// callers derive component-scoped sub-loggers from it via zerolog's
// With().Str("component", ...) chaining.
package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	configureOnce sync.Once
	base          zerolog.Logger
)

// Get returns the process-wide base logger, configuring it from LOG_LEVEL
// on first call.
func Get() zerolog.Logger {
	configureOnce.Do(func() {
		level := zerolog.InfoLevel
		if raw := os.Getenv("LOG_LEVEL"); raw != "" {
			switch strings.ToUpper(raw) {
			case "DEBUG":
				level = zerolog.DebugLevel
			case "INFO":
				level = zerolog.InfoLevel
			case "WARN":
				level = zerolog.WarnLevel
			case "ERROR":
				level = zerolog.ErrorLevel
			}
		}
		zerolog.SetGlobalLevel(level)
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	})
	return base
}
