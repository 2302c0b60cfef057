package app

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLoggerCarriesServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn", AppEnv: "staging"}, &buf)

	logger.Info("dropped")
	logger.Warn("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "billing", entry["service"])
	assert.Equal(t, "staging", entry["env"])
}

func TestTextLoggerDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(nil, &buf)

	logger.Debug("hidden")
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "msg=shown")
}
