package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"vtagent/pkg/config"
)

func decodeLines(t *testing.T, out *bytes.Buffer) []LogEntry {
	t.Helper()

	var entries []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var entry LogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("unmarshal log entry %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestLoggerJSONTurnColumns(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	agentLog := ForCharacter(log, "agent", "Mao")
	ForTurn(agentLog, "t-1").Warn("Turn failed", "sentences", 3, "error", errors.New("boom"))

	entries := decodeLines(t, &out)
	if len(entries) != 1 {
		t.Fatalf("entries = %+v, want 1", entries)
	}
	entry := entries[0]
	if entry.Level != "warn" || entry.Message != "Turn failed" {
		t.Fatalf("entry = %+v", entry)
	}
	if entry.Component != "agent" || entry.Character != "Mao" || entry.Turn != "t-1" {
		t.Fatalf("turn columns = %q/%q/%q", entry.Component, entry.Character, entry.Turn)
	}
	if entry.Error != "boom" {
		t.Fatalf("error = %q, want %q", entry.Error, "boom")
	}
	if got := entry.Fields["sentences"]; got != float64(3) {
		t.Fatalf("fields.sentences = %v, want 3", got)
	}
	if _, ok := entry.Fields["turn_id"]; ok {
		t.Fatalf("turn id leaked into fields: %+v", entry.Fields)
	}
}

func TestLoggerJSONTurnsDoNotShareFields(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	base := ForCharacter(log, "agent", "").With("model", "gpt")
	ForTurn(base, "t-1").Info("first", "sentences", 1)
	ForTurn(base, "t-2").Info("second")

	entries := decodeLines(t, &out)
	if len(entries) != 2 {
		t.Fatalf("entries = %+v, want 2", entries)
	}
	if entries[0].Turn != "t-1" || entries[1].Turn != "t-2" {
		t.Fatalf("turns = %q, %q", entries[0].Turn, entries[1].Turn)
	}
	if entries[1].Character != "" {
		t.Fatalf("blank character should be left out, got %q", entries[1].Character)
	}
	if _, ok := entries[1].Fields["sentences"]; ok {
		t.Fatalf("record field leaked into a later line: %+v", entries[1].Fields)
	}
	if entries[1].Fields["model"] != "gpt" {
		t.Fatalf("bound field missing: %+v", entries[1].Fields)
	}
}

func TestLoggerJSONGroupsStayInFields(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "info"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.WithGroup("rag").Info("Context retrieved", "turn_id", "inner", slog.Group("query", "length", 12), "took", 1500*time.Millisecond)

	entry := decodeLines(t, &out)[0]
	if entry.Turn != "" {
		t.Fatalf("grouped turn id was promoted: %q", entry.Turn)
	}
	want := map[string]any{"rag.turn_id": "inner", "rag.query.length": float64(12), "rag.took": "1.5s"}
	for key, value := range want {
		if entry.Fields[key] != value {
			t.Fatalf("fields[%q] = %v, want %v (fields %+v)", key, entry.Fields[key], value, entry.Fields)
		}
	}
}

func TestLoggerJSONCaller(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", AddSource: true}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("with caller")
	if caller := decodeLines(t, &out)[0].Caller; !strings.HasPrefix(caller, "logger_test.go:") {
		t.Fatalf("caller = %q, want logger_test.go:<line>", caller)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Ignored")
	if got := strings.TrimSpace(out.String()); got != "" {
		t.Fatalf("expected no output for info, got %q", got)
	}

	log.Error("Kept")
	if got := strings.TrimSpace(out.String()); got == "" {
		t.Fatal("expected output for error")
	}
}

func TestLoggerEnvironmentOverrides(t *testing.T) {
	t.Setenv(envLevel, "debug")
	t.Setenv(envFormat, "text")
	t.Setenv(envAddSource, "")

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{Format: "json", Level: "error"}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Debug("Debug enabled", "component", "test")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected debug output with env override")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format override, got %q", line)
	}
}

func TestLoggerRejectsUnknownSettings(t *testing.T) {
	clearLoggingEnv(t)

	if _, err := newWithWriter(config.LoggingConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := newWithWriter(config.LoggingConfig{Level: "trace"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown level")
	}

	t.Setenv(envAddSource, "sometimes")
	if _, err := newWithWriter(config.LoggingConfig{}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for malformed add-source override")
	}
}

func TestLoggerDefaultsToTextFormat(t *testing.T) {
	clearLoggingEnv(t)

	var out bytes.Buffer
	log, err := newWithWriter(config.LoggingConfig{}, &out)
	if err != nil {
		t.Fatalf("newWithWriter error: %v", err)
	}

	log.Info("Default format")
	line := strings.TrimSpace(out.String())
	if line == "" {
		t.Fatal("expected log output")
	}
	if strings.HasPrefix(line, "{") {
		t.Fatalf("expected text format by default, got %q", line)
	}
}

func TestParseLevelAcceptsWarning(t *testing.T) {
	for _, raw := range []string{"warn", "WARNING", "Warn"} {
		level, err := parseLevel(raw)
		if err != nil {
			t.Fatalf("parseLevel(%q) error: %v", raw, err)
		}
		if level != slog.LevelWarn {
			t.Fatalf("parseLevel(%q) = %v, want warn", raw, level)
		}
	}
}

func clearLoggingEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envLevel, "")
	t.Setenv(envFormat, "")
	t.Setenv(envAddSource, "")
}
