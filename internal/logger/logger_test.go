package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevelKnownValues(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		"debug":    zerolog.DebugLevel,
		"info":     zerolog.InfoLevel,
		"warn":     zerolog.WarnLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"disabled": zerolog.Disabled,
		"":         zerolog.InfoLevel,
		"bogus":    zerolog.InfoLevel,
	}
	for in, want := range cases {
		require.Equal(t, want, parseLevel(in), "parseLevel(%q)", in)
	}
}

func TestNewSetsConfiguredLevel(t *testing.T) {
	l := New("warn")
	require.Equal(t, zerolog.WarnLevel, l.GetLevel())
}
