package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONRespectsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, "warn", "json")
	log.Info("hidden")
	log.Warn("shown", slog.String("k", "v"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["msg"] != "shown" || rec["k"] != "v" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestParseLevelDefaultsToInfo(t *testing.T) {
	t.Parallel()

	if got := parseLevel("verbose"); got != slog.LevelInfo {
		t.Fatalf("parseLevel(verbose) = %v", got)
	}
	if got := parseLevel(" DEBUG "); got != slog.LevelDebug {
		t.Fatalf("parseLevel(DEBUG) = %v", got)
	}
}
