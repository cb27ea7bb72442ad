package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogNeverNil(t *testing.T) {
	assert.NotNil(t, Log())
	assert.NotNil(t, S())
}

func TestInit(t *testing.T) {
	assert.Error(t, Init("verbose", ""))
	assert.Error(t, Init("production", "loud"))
	require.NoError(t, Init("development", "warn"))
	assert.False(t, Log().Core().Enabled(zap.InfoLevel))
	assert.True(t, Log().Core().Enabled(zap.WarnLevel))
}

func TestNamed(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	Set(zap.New(core))

	Named("pipeline").Info("analysis finished", zap.Int("pages", 2))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "pipeline", entries[0].LoggerName)
	assert.Equal(t, int64(2), entries[0].ContextMap()["pages"])
}
