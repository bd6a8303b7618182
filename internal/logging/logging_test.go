package logging

import (
	"errors"
	"fmt"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	t.Run("defaults to info console", func(t *testing.T) {
		logger, err := New(Config{})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("honours debug level", func(t *testing.T) {
		logger, err := New(Config{Level: "debug", Format: "json"})
		require.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := New(Config{Level: "loud"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("rejects unknown format", func(t *testing.T) {
		_, err := New(Config{Format: "xml"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log format")
	})
}

// failingSyncer writes fine but fails Sync with a fixed error.
type failingSyncer struct {
	err error
}

func (f failingSyncer) Write(p []byte) (int, error) { return len(p), nil }
func (f failingSyncer) Sync() error                 { return f.err }

func TestSync(t *testing.T) {
	newLoggerWithSyncErr := func(err error) *zap.Logger {
		core := zapcore.NewCore(newEncoder("json"), zapcore.Lock(failingSyncer{err: err}), zapcore.InfoLevel)
		return zap.New(core)
	}

	t.Run("swallows terminal sync errors", func(t *testing.T) {
		for _, errno := range []syscall.Errno{syscall.EINVAL, syscall.ENOTTY} {
			logger := newLoggerWithSyncErr(fmt.Errorf("sync /dev/stderr: %w", errno))
			assert.NoError(t, Sync(logger))
		}
	})

	t.Run("surfaces real sync errors", func(t *testing.T) {
		logger := newLoggerWithSyncErr(errors.New("disk gone"))
		assert.Error(t, Sync(logger))
	})
}

func TestIsStdoutSyncError(t *testing.T) {
	assert.True(t, isStdoutSyncError(syscall.EINVAL))
	assert.True(t, isStdoutSyncError(fmt.Errorf("wrapped: %w", syscall.ENOTTY)))
	assert.False(t, isStdoutSyncError(errors.New("boom")))
	assert.False(t, isStdoutSyncError(nil))
}
