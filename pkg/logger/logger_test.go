package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetOutputAndLevels(t *testing.T) {
	saved := globalLogger
	defer func() { globalLogger = saved }()

	var buf bytes.Buffer
	SetOutput(&buf, INFO)

	CompilerDebug("hidden %d", 1)
	CompilerInfo("visible %d", 2)
	ServerWarn("warned")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Debug entries should be filtered at INFO level")
	}
	if !strings.Contains(out, "[COMPILER] visible 2") {
		t.Errorf("Missing compiler entry in %q", out)
	}
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "[SERVER] warned") {
		t.Errorf("Missing server warning in %q", out)
	}
	if !strings.Contains(out, "logger_test.go") {
		t.Errorf("Entries should name the calling file, got %q", out)
	}
}

func TestAreaSwitches(t *testing.T) {
	saved := globalLogger
	defer func() { globalLogger = saved }()

	var buf bytes.Buffer
	SetOutput(&buf, DEBUG)

	DisableArea(AreaDatabase)
	if AreaEnabled(AreaDatabase) {
		t.Fatal("Database area should be disabled")
	}
	DatabaseInfo("dropped")
	if buf.Len() != 0 {
		t.Errorf("Disabled area should not log, got %q", buf.String())
	}

	EnableArea(AreaDatabase)
	DatabaseInfo("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Errorf("Enabled area should log, got %q", buf.String())
	}
}

func TestNoLoggerIsNoop(t *testing.T) {
	saved := globalLogger
	globalLogger = nil
	defer func() { globalLogger = saved }()

	CompilerInfo("nobody listens")
	if AreaEnabled(AreaCompiler) {
		t.Error("No area is enabled without a logger")
	}
	if ReloadConfig() == nil {
		t.Error("ReloadConfig should fail without a logger")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug": DEBUG, "INFO": INFO, "warning": WARN, "Error": ERROR, "FATAL": FATAL, "bogus": INFO,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
