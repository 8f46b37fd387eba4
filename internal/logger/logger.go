// Package logger provides the process-wide logger used by xwm.
//
// The package exposes printf-style helpers (Debug, Info, Warn, Error) so call
// sites stay short, and L() for call sites that want structured fields.
// Output goes to stderr through a zerolog console writer so stdout stays
// free for command output.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu   sync.RWMutex
	base = newLogger(os.Stderr, zerolog.InfoLevel)
)

func newLogger(w io.Writer, level zerolog.Level) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Logger().Level(level)
}

// SetDebug switches the logger between debug and info level.
func SetDebug(enabled bool) {
	if enabled {
		SetLevel("debug")
		return
	}
	SetLevel("info")
}

// SetLevel sets the minimum level from a name such as "debug" or "warn".
// Unknown names fall back to info.
func SetLevel(name string) {
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil || name == "" {
		level = zerolog.InfoLevel
	}
	mu.Lock()
	base = base.Level(level)
	mu.Unlock()
}

// SetOutput redirects log output, keeping the current level.
// Tests use it to capture or silence logs.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = newLogger(w, base.GetLevel())
}

// L returns the underlying zerolog logger.
func L() *zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	l := base
	return &l
}

// Debug logs a formatted message at debug level.
func Debug(format string, args ...any) {
	L().Debug().Msgf(format, args...)
}

// Info logs a formatted message at info level.
func Info(format string, args ...any) {
	L().Info().Msgf(format, args...)
}

// Warn logs a formatted message at warn level.
func Warn(format string, args ...any) {
	L().Warn().Msgf(format, args...)
}

// Error logs a formatted message at error level.
func Error(format string, args ...any) {
	L().Error().Msgf(format, args...)
}
