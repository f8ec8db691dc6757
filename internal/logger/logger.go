// Package logger builds the daemon's structured logger.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log levels accepted in configuration.
const (
	DebugLevel = "debug"
	InfoLevel  = "info"
	WarnLevel  = "warn"
	ErrorLevel = "error"
)

// defaultLevel applies when the level string is unknown.
const defaultLevel = zapcore.InfoLevel

// ToZapLevel converts a textual level to zapcore.Level.
func ToZapLevel(level string) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case InfoLevel:
		return zapcore.InfoLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return defaultLevel
	}
}

// newConsoleCore builds a console-encoded core. Timestamps are left to
// journald.
func newConsoleCore(ws zapcore.WriteSyncer, level zapcore.Level) zapcore.Core {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = ""
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	return zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(ws), zap.NewAtomicLevelAt(level))
}

// New returns a sugared logger writing to stderr at the given level.
func New(level string) *zap.SugaredLogger {
	return NewWithWriter(os.Stderr, level)
}

// NewWithWriter returns a sugared logger writing to ws.
func NewWithWriter(ws zapcore.WriteSyncer, level string) *zap.SugaredLogger {
	return zap.New(newConsoleCore(ws, ToZapLevel(level))).Sugar()
}
