// Package logger builds roughtimed's zerolog.Logger (roughtime-client
// prints its result directly and does not use it): structured JSON by default, RFC3339Nano
// timestamps, a configurable level, and an opt-in pretty console
// writer for local runs.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger at the given level (info/debug/warn/
// error/trace/disabled; unknown strings default to info).
func New(levelStr string) zerolog.Logger {
	level := parseLevel(levelStr)

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "ts"
	zerolog.LevelFieldName = "level"
	zerolog.MessageFieldName = "msg"

	var out io.Writer = os.Stdout
	if os.Getenv("ROUGHTIMED_LOG_PRETTY") == "1" {
		cw := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000",
		}
		cw.FormatLevel = func(i interface{}) string {
			if ll, ok := i.(string); ok {
				return strings.ToUpper(ll)
			}
			return "?"
		}
		out = cw
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
