package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"linkcleaner/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
		hasError bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}

	for _, test := range tests {
		t.Run(test.input, func(t *testing.T) {
			level, err := ParseLevel(test.input)
			if test.hasError != (err != nil) {
				t.Fatalf("ParseLevel(%q) error = %v", test.input, err)
			}
			if level != test.expected {
				t.Errorf("expected %v, got %v", test.expected, level)
			}
		})
	}
}

func TestContentIsRedacted(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Format = FormatJSON
	l := NewWriter(&buf, cfg)

	original := "https://x.test/?utm_source=secret"
	l.Info("cleaned", "original", original, "params_removed", 1)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if strings.Contains(buf.String(), "secret") {
		t.Errorf("clipboard text leaked into log: %s", buf.String())
	}
	if rec["original"] != fmt.Sprintf("[%d bytes]", len(original)) {
		t.Errorf("original = %v", rec["original"])
	}
	if rec["params_removed"] != float64(1) {
		t.Errorf("params_removed = %v", rec["params_removed"])
	}
}

func TestLogContentKeepsText(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.LogContent = true
	l := NewWriter(&buf, cfg)

	l.Info("cleaned", "text", "visible")
	if !strings.Contains(buf.String(), "text=visible") {
		t.Errorf("expected text in output: %s", buf.String())
	}
}

func TestSetLevelAffectsChildren(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, DefaultConfig())
	child := l.WithComponent("monitor")

	child.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug record written at info level: %s", buf.String())
	}

	l.SetLevel(slog.LevelDebug)
	child.Debug("shown")
	if !strings.Contains(buf.String(), "component=monitor") {
		t.Errorf("expected component attr: %s", buf.String())
	}
	if l.Level() != slog.LevelDebug {
		t.Errorf("Level() = %v", l.Level())
	}
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{
		Level:      "warn",
		Format:     "json",
		Output:     "file",
		FilePath:   "/tmp/x.log",
		MaxBackups: 2,
	}, "linkcleanerd")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Level != slog.LevelWarn || cfg.Format != FormatJSON {
		t.Errorf("unexpected level/format: %v %v", cfg.Level, cfg.Format)
	}
	if cfg.MaxSizeMB != 10 {
		t.Errorf("expected default max size, got %d", cfg.MaxSizeMB)
	}
	if cfg.Component != "linkcleanerd" {
		t.Errorf("component = %q", cfg.Component)
	}

	if _, err := FromSettings(config.LoggingConfig{Level: "loud"}, ""); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon.log")
	cfg := DefaultConfig()
	cfg.Output = "file"
	cfg.FilePath = path

	l, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("started")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "msg=started") {
		t.Errorf("log file content: %s", data)
	}
}

func TestRotatorRotatesAndPrunes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	r, err := NewFileRotator(path, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	line := bytes.Repeat([]byte("x"), 64*1024)
	// 16 lines fill one megabyte; 64 lines force several rotations.
	for i := 0; i < 64; i++ {
		if _, err := r.Write(line); err != nil {
			t.Fatal(err)
		}
	}

	backups, err := r.Backups()
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups, got %d: %v", len(backups), backups)
	}
	for _, b := range backups {
		if !strings.HasSuffix(b, ".log.gz") {
			t.Errorf("backup not compressed: %s", b)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() > 1024*1024 {
		t.Errorf("current file exceeds limit: %d", info.Size())
	}
}

func TestRotatorRequiresPath(t *testing.T) {
	if _, err := NewFileRotator("", 1, 1); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriter(&buf, &Config{Level: slog.LevelInfo, Format: FormatJSON})

	WithRequestID(l.Logger, "req-1").Info("handled")
	WithRequestID(l.Logger, "").Info("untagged")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatal(err)
	}
	if first["request_id"] != "req-1" {
		t.Errorf("request_id = %v, want req-1", first["request_id"])
	}
	if _, ok := second["request_id"]; ok {
		t.Error("empty id should not add request_id")
	}
}
