package xlog

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xansworks/shadow/config"
)

func TestNewWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(config.Log{Level: "warn", Encoding: "json"}, &buf)
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", zap.Int("n", 3))
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, "warn", entry["level"])
	assert.EqualValues(t, 3, entry["n"])
}

func TestNewWriter_TraceLowersLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWriter(config.Log{Level: "error", Encoding: "console", Trace: true}, &buf)
	require.NoError(t, err)

	log.Debug("trace line")
	assert.Contains(t, buf.String(), "trace line")
	assert.Contains(t, buf.String(), "DEBUG")
}

func TestNewWriter_Errors(t *testing.T) {
	_, err := NewWriter(config.Log{Level: "loud", Encoding: "json"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = NewWriter(config.Log{Level: "info", Encoding: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}
