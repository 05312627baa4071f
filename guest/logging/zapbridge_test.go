package logging

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vg-engine/vg/guest/internal/imports"
)

func TestZapBridgeWithFields(t *testing.T) {
	imports.Drain()

	logger := NewHostBridgeLogger().Named("game").With(zap.String("scene", "title"))
	logger.Warn("low health",
		zap.String("player", "ferris"),
		zap.Int("hp", 3),
		zap.Bool("shielded", false),
	)

	logs := drainLogs(t)
	require.Len(t, logs, 1)
	assert.Equal(t, int32(slog.LevelWarn), logs[0].Level)
	assert.Equal(t, "low health", logs[0].Message)
	assert.Equal(t, map[string]string{
		"logger":   "game",
		"scene":    "title",
		"player":   "ferris",
		"hp":       "3",
		"shielded": "false",
	}, logs[0].Fields)
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		zap  zapcore.Level
		want slog.Level
	}{
		{zapcore.DebugLevel, slog.LevelDebug},
		{zapcore.InfoLevel, slog.LevelInfo},
		{zapcore.WarnLevel, slog.LevelWarn},
		{zapcore.ErrorLevel, slog.LevelError},
		{zapcore.DPanicLevel, LevelDPanic},
		{zapcore.PanicLevel, LevelPanic},
		{zapcore.FatalLevel, LevelFatal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, slogLevel(tt.zap), tt.zap.String())
	}
}
