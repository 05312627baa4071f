// Package logging sends structured guest log records to the host, which
// writes them to its own logger.
package logging

import (
	"log/slog"

	"github.com/vg-engine/vg/guest/internal/imports"
	"github.com/vg-engine/vg/protocol"
)

// Extended log levels beyond slog to support Zap's additional levels
const (
	LevelDPanic slog.Level = slog.LevelError + 1 // 9
	LevelPanic  slog.Level = slog.LevelError + 2 // 10
	LevelFatal  slog.Level = slog.LevelError + 3 // 11
)

// Send emits one log record to the host.
func Send(level slog.Level, message string, fields map[string]string) {
	imports.Call(protocol.EncodeCall(protocol.Log{
		Level:   int32(level),
		Message: message,
		Fields:  fields,
	}))
}

func firstFields(fields []map[string]string) map[string]string {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs a debug-level message
func Debug(message string, fields ...map[string]string) {
	Send(slog.LevelDebug, message, firstFields(fields))
}

// Info logs an info-level message
func Info(message string, fields ...map[string]string) {
	Send(slog.LevelInfo, message, firstFields(fields))
}

// Warn logs a warning-level message
func Warn(message string, fields ...map[string]string) {
	Send(slog.LevelWarn, message, firstFields(fields))
}

// Error logs an error-level message
func Error(message string, fields ...map[string]string) {
	Send(slog.LevelError, message, firstFields(fields))
}

// Logger provides a structured logging interface compatible with slog
type Logger struct {
	attrs []slog.Attr
}

// NewLogger creates a new logger instance
func NewLogger() *Logger {
	return &Logger{}
}

// With returns a Logger that adds attrs to every record.
func (l *Logger) With(attrs ...slog.Attr) *Logger {
	return &Logger{attrs: append(append([]slog.Attr(nil), l.attrs...), attrs...)}
}

// LogAttrs logs a message with structured attributes
func (l *Logger) LogAttrs(level slog.Level, msg string, attrs ...slog.Attr) {
	var fields map[string]string
	if n := len(l.attrs) + len(attrs); n > 0 {
		fields = make(map[string]string, n)
	}
	for _, attr := range l.attrs {
		fields[attr.Key] = attr.Value.String()
	}
	for _, attr := range attrs {
		fields[attr.Key] = attr.Value.String()
	}
	Send(level, msg, fields)
}

// DebugAttrs logs a debug message with structured attributes
func (l *Logger) DebugAttrs(msg string, attrs ...slog.Attr) {
	l.LogAttrs(slog.LevelDebug, msg, attrs...)
}

// InfoAttrs logs an info message with structured attributes
func (l *Logger) InfoAttrs(msg string, attrs ...slog.Attr) {
	l.LogAttrs(slog.LevelInfo, msg, attrs...)
}

// WarnAttrs logs a warning message with structured attributes
func (l *Logger) WarnAttrs(msg string, attrs ...slog.Attr) {
	l.LogAttrs(slog.LevelWarn, msg, attrs...)
}

// ErrorAttrs logs an error message with structured attributes
func (l *Logger) ErrorAttrs(msg string, attrs ...slog.Attr) {
	l.LogAttrs(slog.LevelError, msg, attrs...)
}
