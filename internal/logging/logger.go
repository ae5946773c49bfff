// Package logging provides the structured, component-scoped logger used
// throughout the engine. It wraps logrus behind a small interface so call
// sites never depend on the concrete logging library.
package logging

import (
	"context"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the minimal structured-logging surface the engine depends on.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	WithField(key string, value any) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

var (
	root     *logrus.Logger
	rootOnce sync.Once
)

func base() *logrus.Logger {
	rootOnce.Do(func() {
		root = logrus.New()
		root.SetOutput(os.Stderr)
		root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		if lvl := os.Getenv("TASKRELAY_LOG_LEVEL"); lvl != "" {
			if parsed, err := logrus.ParseLevel(lvl); err == nil {
				root.SetLevel(parsed)
			}
		}
	})
	return root
}

// SetLevel adjusts the process-wide log level.
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return
	}
	base().SetLevel(parsed)
}

// NewComponentLogger returns a Logger scoped to the named component.
func NewComponentLogger(component string) Logger {
	return &logrusLogger{entry: base().WithField("component", component)}
}

func (l *logrusLogger) Debug(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Info(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warn(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Error(format string, args ...any) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value any) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

type ctxKey struct{}

// WithContext attaches a logger to ctx so downstream calls can recover it via FromContext.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or fallback if none is attached.
func FromContext(ctx context.Context, fallback Logger) Logger {
	if ctx == nil {
		return fallback
	}
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	return fallback
}
