package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zerolog.Level{
		"":         zerolog.InfoLevel,
		"debug":    zerolog.DebugLevel,
		" WARN ":   zerolog.WarnLevel,
		"disabled": zerolog.Disabled,
		"off":      zerolog.Disabled,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Settings{Level: "info", Format: FormatJSON, App: "chatbubble", Output: &buf})
	require.NoError(t, err)

	logger.Debug().Msg("hidden")
	logger.Info().Str("component", "test").Msg("shown")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	require.Equal(t, "shown", line["message"])
	require.Equal(t, "chatbubble", line["app"])
	require.Equal(t, "test", line["component"])
}

func TestAutoFormatFallsBackToJSONForNonTerminals(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Settings{Output: &buf})
	require.NoError(t, err)
	logger.Info().Msg("x")
	require.True(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Settings{Format: FormatConsole, Output: &buf})
	require.NoError(t, err)
	logger.Info().Msg("hello console")
	require.Contains(t, buf.String(), "hello console")
	require.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestUnknownFormat(t *testing.T) {
	_, err := New(Settings{Format: "xml"})
	require.Error(t, err)
}

func TestInitReplacesGlobal(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	_, err := Init(Settings{Format: FormatJSON, Output: &buf})
	require.NoError(t, err)
	log.Info().Msg("global")
	require.Contains(t, buf.String(), `"message":"global"`)
}
