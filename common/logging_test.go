package common

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestWriterLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(LogLevelWarning, &buf)

	logger.Error("boom %d", 1)
	logger.Warning("careful")
	logger.Info("not shown")

	out := buf.String()
	require.Contains(t, out, "[ERROR]")
	require.Contains(t, out, "boom 1")
	require.Contains(t, out, "[WARNING]")
	require.False(t, strings.Contains(out, "not shown"))

	require.True(t, logger.IsLogLevel(LogLevelError))
	require.False(t, logger.IsLogLevel(LogLevelDebug))
}

func TestLogrusAdapter(t *testing.T) {
	backend := logrus.New()
	var buf bytes.Buffer
	backend.SetOutput(&buf)
	backend.SetLevel(logrus.InfoLevel)

	logger := NewLogrusLogger(backend)
	logger.Warning("warned %s", "once")
	logger.Debug("hidden")

	out := buf.String()
	require.Contains(t, out, "warned once")
	require.False(t, strings.Contains(out, "hidden"))

	require.True(t, logger.IsLogLevel(LogLevelWarning))
	require.False(t, logger.IsLogLevel(LogLevelTrace))
}

func TestSetLogger(t *testing.T) {
	orig := Log
	defer SetLogger(orig)

	var buf bytes.Buffer
	SetLogger(NewWriterLogger(LogLevelInfo, &buf))
	Log.Info("through the global")
	require.Contains(t, buf.String(), "through the global")
}
