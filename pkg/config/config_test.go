package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
	  "character": {"name": "Mao", "avatar": "mao.png", "persona_prompt": "You are Mao."},
	  "agent": {"provider": "openai", "model": "openai/gpt-5.2", "segment_method": "uax29", "interrupt_method": "system",
	            "speech_filter": {"rules": ["ignore_asterisks"]}},
	  "rag": {"enabled": true, "vault_path": "vault.txt", "retry_attempts": 5},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("VTAGENT_CONFIG", path)
	t.Setenv(envCharacterName, "")
	t.Setenv(envValidTags, "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Logging.Format != "json" {
		t.Fatalf("logging.format = %q, want %q", cfg.Logging.Format, "json")
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging.level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if !cfg.Logging.AddSource {
		t.Fatal("logging.add_source = false, want true")
	}
	if cfg.Agent.SegmentMethod != SegmentMethodUAX29 {
		t.Fatalf("agent.segment_method = %q, want %q", cfg.Agent.SegmentMethod, SegmentMethodUAX29)
	}
	if cfg.Agent.InterruptMethod != InterruptMethodSystem {
		t.Fatalf("agent.interrupt_method = %q, want %q", cfg.Agent.InterruptMethod, InterruptMethodSystem)
	}
	if cfg.Agent.SpeechFilter == nil || len(cfg.Agent.SpeechFilter.Rules) != 1 {
		t.Fatalf("agent.speech_filter = %#v, want one rule", cfg.Agent.SpeechFilter)
	}
	if cfg.RAG.RetryAttempts != 5 {
		t.Fatalf("rag.retry_attempts = %d, want 5", cfg.RAG.RetryAttempts)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("VTAGENT_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	if cfg.Agent.FasterFirstResponse == nil || !*cfg.Agent.FasterFirstResponse {
		t.Fatal("faster_first_response should default to true")
	}
	if cfg.Agent.SegmentMethod != SegmentMethodPunctuation {
		t.Fatalf("segment_method = %q, want %q", cfg.Agent.SegmentMethod, SegmentMethodPunctuation)
	}
	if len(cfg.Agent.ValidTags) != 1 || cfg.Agent.ValidTags[0] != "think" {
		t.Fatalf("valid_tags = %v, want [think]", cfg.Agent.ValidTags)
	}
	if cfg.Agent.InterruptMethod != InterruptMethodUser {
		t.Fatalf("interrupt_method = %q, want %q", cfg.Agent.InterruptMethod, InterruptMethodUser)
	}
	if cfg.RAG.RetryAttempts != 3 || cfg.RAG.RetryDelayMillis != 200 {
		t.Fatalf("rag retry = %d/%dms, want 3/200ms", cfg.RAG.RetryAttempts, cfg.RAG.RetryDelayMillis)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error on defaults: %v", err)
	}
}

func TestValidateRejectsUnknownValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "interrupt method", mutate: func(c *Config) { c.Agent.InterruptMethod = "assistant" }},
		{name: "segment method", mutate: func(c *Config) { c.Agent.SegmentMethod = "pysbd" }},
		{name: "provider", mutate: func(c *Config) { c.Agent.Provider = "opencode" }},
		{name: "tag markup", mutate: func(c *Config) { c.Agent.ValidTags = []string{"<think>"} }},
		{name: "rag without vault", mutate: func(c *Config) { c.RAG.Enabled = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(envCharacterName, " Hiyori ")
	t.Setenv(envValidTags, "think, reflect ,,")

	cfg := &Config{}
	applyEnvOverrides(cfg)

	if cfg.Character.Name != "Hiyori" {
		t.Fatalf("character.name = %q, want %q", cfg.Character.Name, "Hiyori")
	}
	if len(cfg.Agent.ValidTags) != 2 || cfg.Agent.ValidTags[1] != "reflect" {
		t.Fatalf("valid_tags = %v, want [think reflect]", cfg.Agent.ValidTags)
	}
}
