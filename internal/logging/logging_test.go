package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogger_WritesToFile(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	logger, err := New(logPath)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer logger.Close()

	logger.Info("test message")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}

	if !strings.Contains(string(content), "test message") {
		t.Errorf("log file should contain 'test message', got: %s", content)
	}
}

func TestLogger_RespectsDebugLevel(t *testing.T) {
	// Unset the debug env to ensure test isolation
	originalDebug := os.Getenv(DebugEnv)
	os.Unsetenv(DebugEnv)
	defer func() {
		if originalDebug != "" {
			os.Setenv(DebugEnv, originalDebug)
		}
	}()

	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	logger, err := New(logPath)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer logger.Close()

	// Debug disabled by default
	logger.Debug("debug message")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}

	if strings.Contains(string(content), "debug message") {
		t.Errorf("debug message should not appear when debug disabled")
	}
}

func TestLogger_DebugEnabled(t *testing.T) {
	// Set the debug env for this test
	originalDebug := os.Getenv(DebugEnv)
	os.Setenv(DebugEnv, "debug")
	defer func() {
		if originalDebug != "" {
			os.Setenv(DebugEnv, originalDebug)
		} else {
			os.Unsetenv(DebugEnv)
		}
	}()

	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	logger, err := New(logPath)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer logger.Close()

	// Debug should be enabled now
	logger.Debug("debug message")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}

	if !strings.Contains(string(content), "debug message") {
		t.Errorf("debug message should appear when C0LOR_MEM_DEBUG=debug, got: %s", content)
	}
}

func TestLogger_Infof(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	logger, err := New(logPath)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer logger.Close()

	logger.Infof("formatted %s %d", "message", 42)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}

	if !strings.Contains(string(content), "formatted message 42") {
		t.Errorf("log file should contain formatted message, got: %s", content)
	}
	if !strings.Contains(string(content), "INFO") {
		t.Errorf("log file should contain INFO level, got: %s", content)
	}
}

func TestLogger_Errorf(t *testing.T) {
	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, "test.log")

	logger, err := New(logPath)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer logger.Close()

	logger.Errorf("error: %s (code %d)", "not found", 404)

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}

	if !strings.Contains(string(content), "error: not found (code 404)") {
		t.Errorf("log file should contain formatted error, got: %s", content)
	}
	if !strings.Contains(string(content), "ERROR") {
		t.Errorf("log file should contain ERROR level, got: %s", content)
	}
}

func TestLogger_Warnf(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf)

	logger.Warnf("port %d busy", 18100)

	if !strings.Contains(buf.String(), "WARN: port 18100 busy") {
		t.Errorf("expected WARN line, got: %s", buf.String())
	}
}

func TestLogger_LineWriterSplitsLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf)

	w := logger.LineWriter("worker stdout")
	_, _ = w.Write([]byte("first line\nsecond "))
	_, _ = w.Write([]byte("line\npartial"))
	if err := w.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"[worker stdout] first line",
		"[worker stdout] second line",
		"[worker stdout] partial",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q, got: %s", want, out)
		}
	}
	if n := strings.Count(out, "INFO"); n != 3 {
		t.Errorf("got %d INFO lines, want 3: %s", n, out)
	}
}

func TestLogger_NopDiscards(t *testing.T) {
	logger := Nop()
	logger.Info("nothing")
	if err := logger.Close(); err != nil {
		t.Errorf("Close error: %v", err)
	}
}
