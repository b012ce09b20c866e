package logger

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newFileLogger(t *testing.T, level Level, maxSize int64) (*DefaultLogger, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "test.log")
	l, err := NewDefaultLogger(&Config{
		LogFilePath: logPath,
		MaxFileSize: maxSize,
		MaxBackups:  3,
		Level:       level,
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return l, logPath
}

func TestNewDefaultLogger(t *testing.T) {
	l, logPath := newFileLogger(t, LevelDebug, 1024)
	defer l.Close()

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Error("Log file was not created")
	}
}

func TestNewDefaultLoggerWithoutFile(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewDefaultLogger(&Config{Level: LevelInfo, Console: &buf})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer l.Close()

	l.Info("console only", String("model", "yolo11n"))

	if !strings.Contains(buf.String(), "[INFO] console only model=yolo11n") {
		t.Errorf("unexpected console output: %q", buf.String())
	}
}

func TestLogLevels(t *testing.T) {
	l, logPath := newFileLogger(t, LevelDebug, 1024*1024)

	l.Debug("debug message", String("key", "value"))
	l.Info("info message", Int("count", 42))
	l.Warn("warn message", Bool("flag", true))
	l.Error("error message", errors.New("test error"), Float64("rate", 3.14))
	l.Close()

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	logContent := string(content)

	for _, want := range []string{
		"[DEBUG] debug message key=value",
		"[INFO] info message count=42",
		"[WARN] warn message flag=true",
		`[ERROR] error message error="test error" rate=3.14`,
	} {
		if !strings.Contains(logContent, want) {
			t.Errorf("log missing %q, got:\n%s", want, logContent)
		}
	}
	if strings.Contains(logContent, "Stack trace") {
		t.Error("stack trace should be off by default")
	}
}

func TestLogLevelFiltering(t *testing.T) {
	l, logPath := newFileLogger(t, LevelWarn, 1024*1024)

	l.Debug("should not appear")
	l.Info("should not appear either")
	l.Warn("warn appears")
	l.Close()

	content, _ := os.ReadFile(logPath)
	logContent := string(content)

	if strings.Contains(logContent, "should not appear") {
		t.Error("entries below the configured level were written")
	}
	if !strings.Contains(logContent, "warn appears") {
		t.Error("warn entry missing")
	}
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l, _ := NewDefaultLogger(&Config{Level: LevelError, Console: &buf})

	l.Info("hidden")
	l.SetLevel(LevelDebug)
	l.Debug("visible")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info logged before level was lowered")
	}
	if !strings.Contains(buf.String(), "visible") {
		t.Error("debug not logged after SetLevel(LevelDebug)")
	}
}

func TestLogRotation(t *testing.T) {
	l, logPath := newFileLogger(t, LevelDebug, 200)

	for i := 0; i < 20; i++ {
		l.Info("rotation filler entry", Int("i", i))
	}
	l.Close()

	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Errorf("expected rotated backup %s.1: %v", logPath, err)
	}
	if _, err := os.Stat(logPath + ".5"); !os.IsNotExist(err) {
		t.Error("backups beyond MaxBackups should be removed")
	}
}

func TestQuotedValues(t *testing.T) {
	var buf bytes.Buffer
	l, _ := NewDefaultLogger(&Config{Level: LevelDebug, Console: &buf})

	l.Debug("child output", String("line", "Ultralytics 8.3.0 Python-3.11"))

	if !strings.Contains(buf.String(), `line="Ultralytics 8.3.0 Python-3.11"`) {
		t.Errorf("value with spaces not quoted: %q", buf.String())
	}
}

func TestErrorStackTrace(t *testing.T) {
	var buf bytes.Buffer
	l, _ := NewDefaultLogger(&Config{Level: LevelDebug, Console: &buf, StackTraces: true})

	l.Error("boom", errors.New("bad"))

	if !strings.Contains(buf.String(), "Stack trace:") {
		t.Error("stack trace expected when StackTraces is set")
	}
}

func TestGlobalLogger(t *testing.T) {
	var buf bytes.Buffer
	if err := Init(&Config{Level: LevelInfo, Console: &buf}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer Close()

	Info("global info", String("phase", "exporting"))
	Debug("global debug")

	if !strings.Contains(buf.String(), "global info phase=exporting") {
		t.Errorf("global logger output missing: %q", buf.String())
	}
	if strings.Contains(buf.String(), "global debug") {
		t.Error("debug should be filtered at info level")
	}
}

func TestNoopLogger(t *testing.T) {
	Close()
	l := GetLogger()
	if l == nil {
		t.Fatal("GetLogger returned nil before Init")
	}
	l.Info("discarded")
	l.Error("discarded", errors.New("x"))
	if err := l.Close(); err != nil {
		t.Errorf("noop Close returned %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Level != LevelWarn {
		t.Errorf("default level = %v, want WARN", cfg.Level)
	}
	if cfg.LogFilePath != "" {
		t.Errorf("default config should not write a file, got %q", cfg.LogFilePath)
	}
	if cfg.Console != os.Stderr {
		t.Error("default console should be stderr")
	}
}

func TestLevelString(t *testing.T) {
	tests := map[Level]string{
		LevelDebug: "DEBUG",
		LevelInfo:  "INFO",
		LevelWarn:  "WARN",
		LevelError: "ERROR",
		Level(99):  "UNKNOWN",
	}
	for level, want := range tests {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %s, want %s", level, got, want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{" INFO ", LevelInfo, true},
		{"warning", LevelWarn, true},
		{"error", LevelError, true},
		{"loud", LevelWarn, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestErrFieldWithNil(t *testing.T) {
	f := Err(nil)
	if f.Key != "error" || f.Value != nil {
		t.Errorf("Err(nil) = %+v", f)
	}
}

func TestLogDirectoryCreation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "dir", "app.log")
	l, err := NewDefaultLogger(&Config{LogFilePath: logPath, MaxFileSize: 1024, Level: LevelInfo})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	defer l.Close()

	if _, err := os.Stat(filepath.Dir(logPath)); err != nil {
		t.Errorf("log directory not created: %v", err)
	}
}
