package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", true)
	require.NoError(t, err)

	child := Component(logger, "fetch")
	child.Debug().Str("url", "https://k").Msg("fetching")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "debug", entry["level"])
	assert.Equal(t, "fetch", entry["component"])
	assert.Equal(t, "fetching", entry["message"])
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "WARN", true)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "", false)
	require.NoError(t, err)

	logger.Info().Str("path", "/home/a/.ssh/authorized_keys").Msg("keys synced")
	assert.Contains(t, buf.String(), "keys synced")
	assert.Contains(t, buf.String(), "path=/home/a/.ssh/authorized_keys")
}

func TestNew_BadLevel(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "loud", false)
	assert.Error(t, err)
}
