package engine

import (
	"log/slog"
	"maps"
	"slices"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vg-engine/vg/protocol"
)

// zapLevelFromSlogLevel maps a guest slog level to zap. Guest levels above
// error are clamped to error so a guest can never panic or exit the host.
func zapLevelFromSlogLevel(level slog.Level) zapcore.Level {
	switch {
	case level < slog.LevelInfo:
		return zapcore.DebugLevel
	case level < slog.LevelWarn:
		return zapcore.InfoLevel
	case level < slog.LevelError:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// logGuest writes a guest Log call to logger.
func logGuest(logger *zap.Logger, l protocol.Log) {
	ce := logger.Check(zapLevelFromSlogLevel(slog.Level(l.Level)), l.Message)
	if ce == nil {
		return
	}
	fields := make([]zap.Field, 0, len(l.Fields))
	for _, k := range slices.Sorted(maps.Keys(l.Fields)) {
		fields = append(fields, zap.String(k, l.Fields[k]))
	}
	ce.Write(fields...)
}
