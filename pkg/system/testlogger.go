package system

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewTestLogger logs everything from debug up to stderr without timestamps
// or stacktraces.
func NewTestLogger() *zap.SugaredLogger {
	return NewWriterLogger(os.Stderr, zapcore.DebugLevel).Sugar()
}

// NewObservedLogger records entries at level and above in memory so tests
// can assert on what was logged.
func NewObservedLogger(level zapcore.Level) (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core).Sugar(), logs
}
