package logging

import (
	"fmt"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewHostBridgeLogger creates a zap.Logger whose entries are sent to the host
// as log records. Filtering is left to the host.
func NewHostBridgeLogger() *zap.Logger {
	return zap.New(&hostBridgeCore{})
}

// hostBridgeCore implements zapcore.Core and forwards all log entries
// to the host-side logger
type hostBridgeCore struct {
	fields []zapcore.Field
}

func (c *hostBridgeCore) Enabled(zapcore.Level) bool {
	return true
}

func (c *hostBridgeCore) With(fields []zapcore.Field) zapcore.Core {
	return &hostBridgeCore{fields: append(append([]zapcore.Field(nil), c.fields...), fields...)}
}

func (c *hostBridgeCore) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, c)
	}
	return checkedEntry
}

// Write serializes the Entry and any Fields supplied at the log site and writes them to the host
func (c *hostBridgeCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, field := range c.fields {
		field.AddTo(enc)
	}
	for _, field := range fields {
		field.AddTo(enc)
	}

	fieldMap := make(map[string]string, len(enc.Fields)+2)
	for k, v := range enc.Fields {
		fieldMap[k] = fmt.Sprint(v)
	}
	if entry.LoggerName != "" {
		fieldMap["logger"] = entry.LoggerName
	}
	if entry.Caller.Defined {
		fieldMap["caller"] = entry.Caller.String()
	}

	Send(slogLevel(entry.Level), entry.Message, fieldMap)
	return nil
}

// Sync flushes buffered logs (no-op for our implementation)
func (c *hostBridgeCore) Sync() error {
	return nil
}

// slogLevel converts a zap level to our extended slog level
func slogLevel(l zapcore.Level) slog.Level {
	switch l {
	case zapcore.DebugLevel:
		return slog.LevelDebug
	case zapcore.InfoLevel:
		return slog.LevelInfo
	case zapcore.WarnLevel:
		return slog.LevelWarn
	case zapcore.ErrorLevel:
		return slog.LevelError
	case zapcore.DPanicLevel:
		return LevelDPanic
	case zapcore.PanicLevel:
		return LevelPanic
	case zapcore.FatalLevel:
		return LevelFatal
	default:
		return slog.LevelInfo
	}
}
