package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a zerolog logger writing structured JSON to stderr at info level.
func New() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.InfoLevel)
}

// NewWithLevel returns a logger at the named level. Unknown or empty names
// fall back to info.
func NewWithLevel(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return New().Level(parsed)
}

// NewConsole returns a logger with human-readable output for interactive use.
// The logger stays on stderr so command output on stdout can be piped cleanly.
func NewConsole(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	return zerolog.New(writer).With().Timestamp().Logger().Level(parsed)
}
