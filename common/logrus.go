package common

import (
	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts a logrus logger to the Logger interface so that
// applications already using logrus can route library diagnostics into
// their existing log pipeline.
type LogrusLogger struct {
	backend *logrus.Logger
}

// NewLogrusLogger wraps `backend` as a Logger. If backend is nil the
// logrus standard logger is used.
func NewLogrusLogger(backend *logrus.Logger) *LogrusLogger {
	if backend == nil {
		backend = logrus.StandardLogger()
	}
	return &LogrusLogger{backend: backend}
}

// levelMap translates library log levels to logrus levels. Notice has no
// logrus counterpart and maps to Info.
var levelMap = map[LogLevel]logrus.Level{
	LogLevelError:   logrus.ErrorLevel,
	LogLevelWarning: logrus.WarnLevel,
	LogLevelNotice:  logrus.InfoLevel,
	LogLevelInfo:    logrus.InfoLevel,
	LogLevelDebug:   logrus.DebugLevel,
	LogLevelTrace:   logrus.TraceLevel,
}

// IsLogLevel returns true if messages at `level` would be emitted.
func (l *LogrusLogger) IsLogLevel(level LogLevel) bool {
	return l.backend.IsLevelEnabled(levelMap[level])
}

// Error logs error message.
func (l *LogrusLogger) Error(format string, args ...interface{}) {
	l.backend.Errorf(format, args...)
}

// Warning logs warning message.
func (l *LogrusLogger) Warning(format string, args ...interface{}) {
	l.backend.Warnf(format, args...)
}

// Notice logs notice message.
func (l *LogrusLogger) Notice(format string, args ...interface{}) {
	l.backend.Infof(format, args...)
}

// Info logs info message.
func (l *LogrusLogger) Info(format string, args ...interface{}) {
	l.backend.Infof(format, args...)
}

// Debug logs debug message.
func (l *LogrusLogger) Debug(format string, args ...interface{}) {
	l.backend.Debugf(format, args...)
}

// Trace logs trace message.
func (l *LogrusLogger) Trace(format string, args ...interface{}) {
	l.backend.Tracef(format, args...)
}
