// Package definition holds the default implementations of the
// collaborator interfaces declared in pkg/mesh/types — today, only the
// logger. A caller may always substitute its own implementation at
// mesh.Config time.
package definition

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/go-mesh/mesh/pkg/mesh/types"
)

// DefaultLogger wraps a *logrus.Entry, matching the shape of
// types.Logger. Components tag their entries with fields (component=...,
// node=...) via With rather than interpolating them into the message.
type DefaultLogger struct {
	entry *logrus.Entry
	base  *logrus.Logger
}

// NewLogger returns a DefaultLogger writing to stderr at info level.
func NewLogger() *DefaultLogger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &DefaultLogger{base: l, entry: logrus.NewEntry(l)}
}

func (l *DefaultLogger) Info(v ...interface{})                    { l.entry.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{})    { l.entry.Infof(format, v...) }
func (l *DefaultLogger) Warn(v ...interface{})                    { l.entry.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{})    { l.entry.Warnf(format, v...) }
func (l *DefaultLogger) Error(v ...interface{})                   { l.entry.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{})   { l.entry.Errorf(format, v...) }
func (l *DefaultLogger) Debug(v ...interface{})                   { l.entry.Debug(v...) }
func (l *DefaultLogger) Debugf(format string, v ...interface{})   { l.entry.Debugf(format, v...) }
func (l *DefaultLogger) Fatal(v ...interface{})                   { l.entry.Fatal(v...) }
func (l *DefaultLogger) Fatalf(format string, v ...interface{})   { l.entry.Fatalf(format, v...) }
func (l *DefaultLogger) Panic(v ...interface{})                   { l.entry.Panic(v...) }
func (l *DefaultLogger) Panicf(format string, v ...interface{})   { l.entry.Panicf(format, v...) }

// ToggleDebug flips the logger between info and debug verbosity and
// returns the new state.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	if value {
		l.base.SetLevel(logrus.DebugLevel)
	} else {
		l.base.SetLevel(logrus.InfoLevel)
	}
	return value
}

// With returns a derived logger with one extra structured field.
func (l *DefaultLogger) With(key string, value interface{}) types.Logger {
	return &DefaultLogger{base: l.base, entry: l.entry.WithField(key, value)}
}

var _ types.Logger = (*DefaultLogger)(nil)
