package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewTestLogger(t *testing.T) {
	logger := NewTestLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Desugar().Core().Enabled(zapcore.DebugLevel))
	logger.Debugw("test message", "key", "value")
}

func TestNewObservedLogger(t *testing.T) {
	logger, logs := NewObservedLogger(zapcore.WarnLevel)
	logger.Infow("dropped")
	logger.Warnw("Failed to revoke token", "account", "cli:foo@bar.com")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Failed to revoke token", entries[0].Message)
	assert.Equal(t, "cli:foo@bar.com", entries[0].ContextMap()["account"])
}
