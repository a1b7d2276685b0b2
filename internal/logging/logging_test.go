package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"log/slog"

	"github.com/grabbit/grabbit/internal/config"
)

func TestNewConfiguresSupportedFormats(t *testing.T) {
	tests := []struct {
		name   string
		format string
		level  slog.Level
	}{
		{name: "json", format: "json", level: slog.LevelWarn},
		{name: "text", format: "text", level: slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(&buf, config.LoggingConfig{Level: tt.level, Format: tt.format})
			if err != nil {
				t.Fatalf("New returned error: %v", err)
			}

			levels := []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError}
			ctx := context.Background()
			for _, lvl := range levels {
				enabled := logger.Enabled(ctx, lvl)
				expected := lvl >= tt.level
				if enabled != expected {
					t.Fatalf("logger level %v enabled(%v)=%t, want %t", tt.level, lvl, enabled, expected)
				}
			}

			logger.Error("boom", "key", "value")
			if buf.Len() == 0 {
				t.Fatal("expected log output in buffer")
			}
		})
	}
}

func TestNewWritesJSONRecords(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, config.LoggingConfig{Level: slog.LevelInfo, Format: "json"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("session started", "target", "forum/pics")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, buf.String())
	}
	if record["msg"] != "session started" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["target"] != "forum/pics" {
		t.Errorf("target = %v", record["target"])
	}
}

func TestNewSuppressesRecordsBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, config.LoggingConfig{Level: slog.LevelWarn, Format: "text"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info record emitted below warn level: %s", buf.String())
	}

	logger.Warn("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Fatalf("warn record missing: %s", buf.String())
	}
}

func TestNewWithUnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	_, err := New(&buf, config.LoggingConfig{Level: slog.LevelInfo, Format: "pretty"})
	if err == nil {
		t.Fatal("expected error for unsupported format, got nil")
	}

	if !strings.Contains(err.Error(), "unsupported log format") {
		t.Fatalf("unexpected error: %v", err)
	}
}
