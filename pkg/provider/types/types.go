package types

import (
	"strings"

	"vtagent/pkg/memory"
)

// TokenUsage captures token accounting across providers.
type TokenUsage struct {
	InputTokens         int64
	OutputTokens        int64
	TotalTokens         int64
	ReasoningTokens     int64
	CacheCreationTokens int64
	CacheReadTokens     int64
}

// IsZero reports whether all token counters are unset/zero.
func (u TokenUsage) IsZero() bool {
	return u.InputTokens == 0 &&
		u.OutputTokens == 0 &&
		u.TotalTokens == 0 &&
		u.ReasoningTokens == 0 &&
		u.CacheCreationTokens == 0 &&
		u.CacheReadTokens == 0
}

// LogAttrs flattens usage into slog key/value pairs.
func (u TokenUsage) LogAttrs() []any {
	return []any{
		"input_tokens", u.InputTokens,
		"output_tokens", u.OutputTokens,
		"total_tokens", u.TotalTokens,
		"reasoning_tokens", u.ReasoningTokens,
		"cache_read_tokens", u.CacheReadTokens,
	}
}

// WithSystemPrompt returns messages led by a system message carrying
// systemPrompt. A conversation that already opens with that exact system
// message is returned unchanged.
func WithSystemPrompt(messages []memory.Message, systemPrompt string) []memory.Message {
	systemPrompt = strings.TrimSpace(systemPrompt)
	if systemPrompt == "" {
		return messages
	}
	if len(messages) > 0 && messages[0].Role == memory.RoleSystem && strings.TrimSpace(messages[0].Text()) == systemPrompt {
		return messages
	}

	out := make([]memory.Message, 0, len(messages)+1)
	out = append(out, memory.Message{Role: memory.RoleSystem, Content: systemPrompt})
	return append(out, messages...)
}
