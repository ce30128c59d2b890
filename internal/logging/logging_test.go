package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, zerolog.DebugLevel, ParseLevel(" DEBUG "))
	require.Equal(t, zerolog.WarnLevel, ParseLevel("warning"))
	require.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
	require.Equal(t, zerolog.InfoLevel, ParseLevel(""))
}

func TestNew_AppliesLevel(t *testing.T) {
	l := New(Config{Level: "error", ServiceName: "liveroom"})
	require.Equal(t, zerolog.ErrorLevel, l.GetLevel())
}

func TestNew_ServiceNameWrittenOnce(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{ServiceName: "liveroom", Out: &buf})
	cl := l.With().Str(FieldComponent, "gate").Logger()
	cl.Info().Msg("armed")

	line := buf.String()
	require.Equal(t, 1, strings.Count(line, `"service":`))
	require.Contains(t, line, `"service":"liveroom"`)
	require.Contains(t, line, `"component":"gate"`)
}
