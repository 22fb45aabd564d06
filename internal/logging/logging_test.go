package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"paceclub/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		raw  string
		want slog.Leveler
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tc := range cases {
		got, err := parseLevel(tc.raw)
		if err != nil {
			t.Fatalf("parseLevel(%q): %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}

	if _, err := parseLevel("verbose"); err == nil {
		t.Fatalf("expected error for unsupported level")
	}
}

func TestManager_ConfigureWritesToFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "app.log")
	mgr := NewManager()

	err := mgr.Configure(config.LoggingConfig{Level: "info", LogToFile: true}, logPath)
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	defer func() {
		_ = mgr.Close()
	}()

	mgr.Logger("test").Info("hello from test")

	raw, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), "hello from test") {
		t.Fatalf("expected log line in file, got %q", string(raw))
	}
	if !strings.Contains(string(raw), "component=test") {
		t.Fatalf("expected component attribute in log line, got %q", string(raw))
	}
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	mgr := NewManager()
	if err := mgr.Close(); err != nil {
		t.Fatalf("close without file: %v", err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
