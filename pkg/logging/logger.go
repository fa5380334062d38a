// Package logging provides the structured logger every VACS subsystem takes
// at construction time instead of reaching for a package-level global.
package logging

import (
	"go.uber.org/zap"
)

// Logger is the structured logging façade used throughout the audio, webrtc,
// signaling, and keybind subsystems. Formatted methods (Infof, ...) cover the
// common case; the "w" methods take alternating key/value pairs for fields
// that should be queryable once logs leave the process.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)

	Debugw(msg string, kv ...any)
	Infow(msg string, kv ...any)
	Warnw(msg string, kv ...any)
	Errorw(msg string, kv ...any)

	// With returns a child logger with the given key/value pairs attached to
	// every subsequent entry, e.g. a per-peer or per-call logger.
	With(kv ...any) Logger

	// Sync flushes any buffered log entries. Call once at shutdown.
	Sync() error
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a Logger backed by a production zap configuration.
func New() (Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: z.Sugar()}, nil
}

// NewDevelopment builds a Logger with human-readable, colorized output
// suitable for local runs.
func NewDevelopment() (Logger, error) {
	z, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: z.Sugar()}, nil
}

// NewNop returns a Logger that discards everything. Useful in tests that
// don't care about log output but need to satisfy a constructor signature.
func NewNop() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debugf(format string, args ...any) { l.s.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...any)  { l.s.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...any)  { l.s.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...any) { l.s.Errorf(format, args...) }

func (l *zapLogger) Debugw(msg string, kv ...any) { l.s.Debugw(msg, kv...) }
func (l *zapLogger) Infow(msg string, kv ...any)  { l.s.Infow(msg, kv...) }
func (l *zapLogger) Warnw(msg string, kv ...any)  { l.s.Warnw(msg, kv...) }
func (l *zapLogger) Errorw(msg string, kv ...any) { l.s.Errorw(msg, kv...) }

func (l *zapLogger) With(kv ...any) Logger {
	return &zapLogger{s: l.s.With(kv...)}
}

func (l *zapLogger) Sync() error {
	return l.s.Sync()
}
