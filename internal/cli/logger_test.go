package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger_ProductionIsJSONAtInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	log := newLogger(buf, false)

	log.Debug("hidden")
	log.Info("stream complete", zap.Int("packets", 14))
	require.NoError(t, log.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "stream complete", entry["msg"])
	assert.Equal(t, "abxfeed", entry["logger"])
	assert.Equal(t, float64(14), entry["packets"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestNewLogger_VerboseIncludesDebug(t *testing.T) {
	buf := &bytes.Buffer{}
	log := newLogger(buf, true)

	log.Debug("resend scheduled")
	require.NoError(t, log.Sync())
	assert.Contains(t, buf.String(), "resend scheduled")
}
