package logging

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWrap_FieldsAndWith(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := Wrap(zap.New(core)).With(String("run", "r1"))

	logger.Info("Post stored", String("filename", "1.html"), Int("images", 2))
	logger.Warn("Fetch failed", Err(errors.New("boom")))

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)

	first := entries[0].ContextMap()
	assert.Equal(t, "Post stored", entries[0].Message)
	assert.Equal(t, "r1", first["run"])
	assert.Equal(t, "1.html", first["filename"])
	assert.EqualValues(t, 2, first["images"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}

func TestNewNop_Discards(t *testing.T) {
	logger := NewNop()
	logger.Error("ignored", String("k", "v"))
	assert.NoError(t, logger.Sync())
}
