package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "info"}, &buf)

	l.Debug().Msg("hidden")
	l.Info().Str("component", "engine").Msg("visible")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "visible", entry["message"])
	assert.Equal(t, "engine", entry["component"])
	assert.Equal(t, "portfolio-sync", entry["service"])
	assert.Equal(t, "info", entry["level"])
}

func TestNewWithWriter_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "chatty"}, &buf)

	l.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())

	l.Warn().Msg("shown")
	assert.NotZero(t, buf.Len())
}

func TestNewWithWriter_Pretty(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "debug", Pretty: true}, &buf)

	l.Debug().Msg("pretty line")
	assert.Contains(t, buf.String(), "pretty line")
	assert.False(t, json.Valid(buf.Bytes()))
}
