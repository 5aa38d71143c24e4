// Package logging configures the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Setup configures the global logger. level is one of zerolog's named
// levels ("debug", "info", ...); format is "console" for human-readable
// output or "json" for machine ingestion.
func Setup(level, format string) {
	lv, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lv == zerolog.NoLevel {
		lv = zerolog.InfoLevel
	}
	var out io.Writer = os.Stderr
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	mu.Lock()
	logger = zerolog.New(out).Level(lv).With().Timestamp().Logger()
	mu.Unlock()
}

// L returns the configured logger.
func L() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// With returns the configured logger tagged with a component name.
func With(component string) zerolog.Logger {
	return L().With().Str("component", component).Logger()
}
