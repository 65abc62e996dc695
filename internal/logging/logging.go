// Package logging provides structured logging for the payment engine.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps a component-scoped zerolog logger.
type Logger struct {
	zerolog.Logger
}

var root zerolog.Logger

func init() {
	root = newConsole(os.Stdout, "info")
}

// Init configures the process-wide root logger. level is one of
// trace/debug/info/warn/error; json selects machine-readable output.
func Init(level string, json bool) {
	if json {
		root = zerolog.New(os.Stdout).
			Level(parseLevel(level)).
			With().
			Timestamp().
			Logger()
		return
	}
	root = newConsole(os.Stdout, level)
}

// New returns a logger scoped to a named component.
func New(component string) *Logger {
	return &Logger{root.With().Str("component", component).Logger()}
}

// SecurityEvent logs a security-relevant occurrence (key decryption failure,
// rate-limit trip) at warn level with a fixed marker field so these can be
// filtered downstream.
func (l *Logger) SecurityEvent(event string, fields map[string]interface{}) {
	ev := l.Warn().Str("security_event", event)
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg("security event")
}

func newConsole(w io.Writer, level string) zerolog.Logger {
	out := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
	}
	return zerolog.New(out).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
