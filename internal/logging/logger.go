// Package logging provides structured logging for the alert engine,
// backed by logrus with context-aware helpers.
package logging

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

var root = logrus.New()

// Setup configures the process-wide logger. Format is "json" or "text".
func Setup(level, format string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	root.SetLevel(lvl)
	root.SetOutput(os.Stdout)

	switch format {
	case "text":
		root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		root.SetFormatter(&logrus.JSONFormatter{})
	}
}

// L returns the root logger entry.
func L() *logrus.Entry {
	return logrus.NewEntry(root)
}

// WithField returns the root logger with an extra field.
func WithField(key string, value interface{}) *logrus.Entry {
	return root.WithField(key, value)
}

// WithFields returns the root logger with extra fields.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return root.WithFields(fields)
}

// WithError returns the root logger with an error field.
func WithError(err error) *logrus.Entry {
	return root.WithError(err)
}

type loggerKey struct{}

// WithLogger stores a logger entry in the context.
func WithLogger(ctx context.Context, entry *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, entry)
}

// FromContext retrieves the logger entry from the context, falling back to
// the root logger.
func FromContext(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return entry
	}
	return L()
}
