package logs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("info"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
}

func TestNewReturnsUsableLoggerForBothProfiles(t *testing.T) {
	dev := New(Options{Env: EnvDevelopment, Level: "debug"})
	require.NotNil(t, dev)
	dev.Info("development logger check")

	prod := New(Options{Env: EnvProduction, Level: "warn"})
	require.NotNil(t, prod)
	prod.Warn("production logger check")
}

func TestNewToFileWritesUnderDir(t *testing.T) {
	dir := t.TempDir()
	logger := New(Options{Env: EnvDevelopment, Level: "info", ToFile: true, Dir: dir, Filename: "test.log"})
	require.NotNil(t, logger)
	logger.Info("hello file")
	_ = logger.Sync()
}
