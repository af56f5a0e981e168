package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	envCharacterName = "VTAGENT_CHARACTER_NAME"
	envValidTags     = "VTAGENT_VALID_TAGS"
)

const (
	InterruptMethodSystem = "system"
	InterruptMethodUser   = "user"

	SegmentMethodPunctuation = "punctuation"
	SegmentMethodUAX29       = "uax29"

	ProviderOpenAI  = "openai"
	ProviderFantasy = "fantasy"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Character CharacterConfig `json:"character"`
	Agent     AgentConfig     `json:"agent"`
	RAG       RAGConfig       `json:"rag"`
	Providers ProvidersConfig `json:"providers"`
	History   HistoryConfig   `json:"history"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// CharacterConfig describes the persona the agent speaks as.
type CharacterConfig struct {
	ConfUID       string       `json:"conf_uid"`
	Name          string       `json:"name"`
	Avatar        string       `json:"avatar"`
	HumanName     string       `json:"human_name"`
	PersonaPrompt string       `json:"persona_prompt"`
	Live2D        Live2DConfig `json:"live2d"`
}

// Live2DConfig carries the avatar's expression vocabulary.
type Live2DConfig struct {
	EmotionMap map[string]int `json:"emotion_map"`
}

// AgentConfig controls model selection and the sentence pipeline.
type AgentConfig struct {
	Provider            string              `json:"provider"`
	Model               string              `json:"model"`
	MaxTokens           int                 `json:"max_tokens"`
	Temperature         float64             `json:"temperature"`
	FasterFirstResponse *bool               `json:"faster_first_response,omitempty"`
	SegmentMethod       string              `json:"segment_method"`
	Terminators         []string            `json:"terminators,omitempty"`
	ValidTags           []string            `json:"valid_tags,omitempty"`
	InterruptMethod     string              `json:"interrupt_method"`
	SpeechFilter        *SpeechFilterConfig `json:"speech_filter,omitempty"`
}

// SpeechFilterConfig lists the normalization rules applied to speech text.
// A nil config means speech text is passed through untouched.
type SpeechFilterConfig struct {
	Rules        []string          `json:"rules"`
	Replacements map[string]string `json:"replacements,omitempty"`
}

// RAGConfig configures retrieval augmentation.
type RAGConfig struct {
	Enabled          bool    `json:"enabled"`
	VaultPath        string  `json:"vault_path"`
	EmbeddingModel   string  `json:"embedding_model"`
	TopK             int     `json:"top_k"`
	MinScore         float64 `json:"min_score"`
	HistoryWindow    int     `json:"history_window"`
	RetryAttempts    int     `json:"retry_attempts"`
	RetryDelayMillis int     `json:"retry_delay_ms"`
	CacheSize        int     `json:"cache_size"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenAI OpenAIProviderConfig `json:"openai"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	APIKeyEnv             string `json:"api_key_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// HistoryConfig locates persisted conversation history.
type HistoryConfig struct {
	Dir        string `json:"dir"`
	HistoryUID string `json:"history_uid"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ApplyDefaults fills unset fields with runtime defaults.
func (c *Config) ApplyDefaults() {
	if c == nil {
		return
	}

	if strings.TrimSpace(c.Agent.Provider) == "" {
		c.Agent.Provider = ProviderOpenAI
	}
	if c.Agent.FasterFirstResponse == nil {
		enabled := true
		c.Agent.FasterFirstResponse = &enabled
	}
	if strings.TrimSpace(c.Agent.SegmentMethod) == "" {
		c.Agent.SegmentMethod = SegmentMethodPunctuation
	}
	if c.Agent.ValidTags == nil {
		c.Agent.ValidTags = []string{"think"}
	}
	if strings.TrimSpace(c.Agent.InterruptMethod) == "" {
		c.Agent.InterruptMethod = InterruptMethodUser
	}

	if c.RAG.TopK <= 0 {
		c.RAG.TopK = 3
	}
	if c.RAG.HistoryWindow <= 0 {
		c.RAG.HistoryWindow = 10
	}
	if c.RAG.RetryAttempts <= 0 {
		c.RAG.RetryAttempts = 3
	}
	if c.RAG.RetryDelayMillis <= 0 {
		c.RAG.RetryDelayMillis = 200
	}
	if c.RAG.CacheSize <= 0 {
		c.RAG.CacheSize = 256
	}
	if strings.TrimSpace(c.RAG.EmbeddingModel) == "" {
		c.RAG.EmbeddingModel = "text-embedding-3-small"
	}

	if strings.TrimSpace(c.Character.ConfUID) == "" {
		c.Character.ConfUID = "default"
	}
	if strings.TrimSpace(c.Character.HumanName) == "" {
		c.Character.HumanName = "Human"
	}
}

// Validate rejects settings the agent cannot be built from.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is required")
	}

	switch c.Agent.InterruptMethod {
	case InterruptMethodSystem, InterruptMethodUser:
	default:
		return fmt.Errorf("agent.interrupt_method %q is not supported (use %q or %q)", c.Agent.InterruptMethod, InterruptMethodSystem, InterruptMethodUser)
	}

	switch c.Agent.SegmentMethod {
	case SegmentMethodPunctuation, SegmentMethodUAX29:
	default:
		return fmt.Errorf("agent.segment_method %q is not supported", c.Agent.SegmentMethod)
	}

	switch c.Agent.Provider {
	case ProviderOpenAI, ProviderFantasy:
	default:
		return fmt.Errorf("agent.provider %q is not supported", c.Agent.Provider)
	}

	for _, tag := range c.Agent.ValidTags {
		if strings.TrimSpace(tag) == "" || strings.ContainsAny(tag, "<>/ ") {
			return fmt.Errorf("agent.valid_tags contains invalid tag %q", tag)
		}
	}

	if c.RAG.Enabled && strings.TrimSpace(c.RAG.VaultPath) == "" {
		return fmt.Errorf("rag.vault_path is required when rag is enabled")
	}

	return nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if name := strings.TrimSpace(os.Getenv(envCharacterName)); name != "" {
		cfg.Character.Name = name
	}

	if rawTags := strings.TrimSpace(os.Getenv(envValidTags)); rawTags != "" {
		cfg.Agent.ValidTags = parseCSV(rawTags)
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is VTAGENT_CONFIG first, then cwd-local fallback paths.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv("VTAGENT_CONFIG")); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("VTAGENT_CONFIG does not point to a file: %s", value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
