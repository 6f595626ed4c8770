// Package logging constructs the structured zap logger used across the
// platform, mirroring the teacher's pkg/logger: console encoding in
// development, JSON in production, level controlled by configuration.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a *zap.Logger the way the teacher's pkg/logger wraps it,
// exposing both the structured zap API and a thin key/value convenience
// layer used by components that don't want to import zap directly.
type Logger struct {
	z *zap.Logger
}

// New builds a Logger for the given level ("debug"|"info"|"warn"|"error")
// and environment ("development"|"production"|"test"|...).
func New(level, environment string) *Logger {
	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if lvl, err := zapcore.ParseLevel(level); err == nil {
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// Zap exposes the underlying structured logger for components that want
// zap.Field-based calls directly.
func (l *Logger) Zap() *zap.Logger { return l.z }

func (l *Logger) Debug(msg string, fields ...zap.Field) { l.z.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...zap.Field)  { l.z.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...zap.Field)  { l.z.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...zap.Field) { l.z.Error(msg, fields...) }
func (l *Logger) Fatal(msg string, fields ...zap.Field) { l.z.Fatal(msg, fields...) }

// With returns a Logger with the given fields attached to every
// subsequent entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{z: l.z.With(fields...)}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.z.Sync() }
