package types

// Logger is the logging collaborator every component accepts at
// construction time. The default implementation (definition.NewLogger)
// wraps logrus; callers may substitute their own.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Panic(v ...interface{})
	Panicf(format string, v ...interface{})

	// ToggleDebug enables or disables Debug/Debugf output and returns
	// the new state.
	ToggleDebug(value bool) bool

	// With returns a derived Logger carrying an additional structured
	// field, used to tag log lines with component/node context.
	With(key string, value interface{}) Logger
}
