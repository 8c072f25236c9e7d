package log

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  LogLevel
	}{
		{name: "debug lower", input: "debug", want: LevelDebug},
		{name: "info upper", input: "INFO", want: LevelInfo},
		{name: "warn mixed", input: "WaRn", want: LevelWarn},
		{name: "error", input: "error", want: LevelError},
		{name: "fatal", input: "fatal", want: LevelFatal},
		{name: "trim spaces", input: "  debug  ", want: LevelDebug},
		{name: "unknown fallback", input: "verbose", want: LevelInfo},
		{name: "empty fallback", input: "", want: LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Fatalf("ParseLevel(%q)=%v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLogger_SetLevelFiltersEntries(t *testing.T) {
	atom := zap.NewAtomicLevelAt(LevelInfo.zapLevel())
	core, logs := observer.New(atom)
	l := newLoggerWithCore(core, atom)

	l.Debug("hidden %d", 1)
	l.Info("shown %d", 2)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "shown 2", logs.All()[0].Message)

	l.SetLevel(LevelError)
	l.Warn("dropped")
	l.Error("kept %s", "err")
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "kept err", logs.All()[1].Message)
}

func useObservedLogger(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	atom := zap.NewAtomicLevelAt(LevelDebug.zapLevel())
	core, logs := observer.New(atom)

	globalMu.Lock()
	prev := globalLogger
	globalLogger = newLoggerWithCore(core, atom)
	globalMu.Unlock()
	t.Cleanup(func() {
		globalMu.Lock()
		globalLogger = prev
		globalMu.Unlock()
	})
	return logs
}

func TestPackageFunctions_ReportCallingLine(t *testing.T) {
	logs := useObservedLogger(t)

	_, _, line, _ := runtime.Caller(0)
	Info("package call %d", 1)
	Warn("package call %d", 2)

	require.Equal(t, 2, logs.Len())
	for i, entry := range logs.All() {
		caller := entry.Caller
		require.True(t, caller.Defined)
		assert.Equal(t, "logger_level_test.go", filepath.Base(caller.File))
		assert.Equal(t, line+1+i, caller.Line)
	}
}

func TestLoggerMethods_ReportCallingLine(t *testing.T) {
	atom := zap.NewAtomicLevelAt(LevelInfo.zapLevel())
	core, logs := observer.New(atom)
	l := newLoggerWithCore(core, atom)

	_, _, line, _ := runtime.Caller(0)
	l.Error("method call")

	require.Equal(t, 1, logs.Len())
	caller := logs.All()[0].Caller
	assert.Equal(t, "logger_level_test.go", filepath.Base(caller.File))
	assert.Equal(t, line+1, caller.Line)
}
