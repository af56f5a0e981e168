package fantasy

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"strings"
	"time"

	core "charm.land/fantasy"
	provideropenai "charm.land/fantasy/providers/openai"

	"vtagent/pkg/config"
	"vtagent/pkg/memory"
	providertypes "vtagent/pkg/provider/types"
)

// continuePrompt drives a turn whose conversation does not end with a user
// message.
const continuePrompt = "Continue the conversation."

type languageModelProvider interface {
	LanguageModel(ctx context.Context, modelID string) (core.LanguageModel, error)
}

// Client generates whole replies through a fantasy agent. The reply is
// yielded as a single token once generation finishes.
type Client struct {
	provider        languageModelProvider
	requestTimeout  time.Duration
	modelID         string
	maxOutputTokens *int64
	temperature     *float64
	generate        func(context.Context, core.LanguageModel, core.AgentCall) (*core.AgentResult, error)
}

func New(cfg *config.Config) (*Client, error) {
	apiKey := resolveAPIKey(cfg.Providers.OpenAI)
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY must be set")
	}

	modelID, err := normalizeOpenAIModel(cfg.Agent.Model)
	if err != nil {
		return nil, err
	}

	providerOptions := []provideropenai.Option{provideropenai.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(cfg.Providers.OpenAI.BaseURL); baseURL != "" {
		providerOptions = append(providerOptions, provideropenai.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(cfg.Providers.OpenAI.Organization); organization != "" {
		providerOptions = append(providerOptions, provideropenai.WithOrganization(organization))
	}
	if project := strings.TrimSpace(cfg.Providers.OpenAI.Project); project != "" {
		providerOptions = append(providerOptions, provideropenai.WithProject(project))
	}

	fantasyProvider, err := provideropenai.New(providerOptions...)
	if err != nil {
		return nil, fmt.Errorf("initialize fantasy openai provider: %w", err)
	}

	client := &Client{
		provider:       fantasyProvider,
		requestTimeout: time.Duration(cfg.Providers.OpenAI.RequestTimeoutSeconds) * time.Second,
		modelID:        modelID,
		generate:       generateWithFantasyAgent,
	}

	if cfg.Agent.MaxTokens > 0 {
		maxTokens := int64(cfg.Agent.MaxTokens)
		client.maxOutputTokens = &maxTokens
	}
	if cfg.Agent.Temperature > 0 {
		temp := cfg.Agent.Temperature
		client.temperature = &temp
	}

	return client, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if _, err := c.provider.LanguageModel(ctx, c.modelID); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

func (c *Client) Complete(ctx context.Context, messages []memory.Message, systemPrompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		log := slog.Default().With("component", "provider.fantasy", "operation", "complete", "model", c.modelID)
		startedAt := time.Now()

		languageModel, err := c.provider.LanguageModel(ctx, c.modelID)
		if err != nil {
			yield("", fmt.Errorf("resolve language model: %w", err))
			return
		}

		call := buildCall(providertypes.WithSystemPrompt(messages, systemPrompt))
		if c.maxOutputTokens != nil {
			call.MaxOutputTokens = c.maxOutputTokens
		}
		if c.temperature != nil {
			call.Temperature = c.temperature
		}

		generate := c.generate
		if generate == nil {
			generate = generateWithFantasyAgent
		}

		log.Debug("provider request started", "messages", len(call.Messages)+1)
		result, err := generate(ctx, languageModel, call)
		if err != nil {
			log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
			yield("", fmt.Errorf("generate: %w", err))
			return
		}

		usage := providertypes.TokenUsage{
			InputTokens:         result.TotalUsage.InputTokens,
			OutputTokens:        result.TotalUsage.OutputTokens,
			TotalTokens:         result.TotalUsage.TotalTokens,
			ReasoningTokens:     result.TotalUsage.ReasoningTokens,
			CacheCreationTokens: result.TotalUsage.CacheCreationTokens,
			CacheReadTokens:     result.TotalUsage.CacheReadTokens,
		}
		attrs := []any{"duration_ms", time.Since(startedAt).Milliseconds()}
		if !usage.IsZero() {
			attrs = append(attrs, usage.LogAttrs()...)
		}
		log.Debug("provider request completed", attrs...)

		if text := extractText(result.Response.Content); text != "" {
			yield(text, nil)
		}
	}
}

// buildCall splits the conversation into prior messages and the prompt for
// this call, which is the trailing user message.
func buildCall(messages []memory.Message) core.AgentCall {
	prompt := continuePrompt
	if n := len(messages); n > 0 && messages[n-1].Role == memory.RoleUser {
		prompt = messages[n-1].Text()
		messages = messages[:n-1]
	}

	history := make([]core.Message, 0, len(messages))
	for _, msg := range messages {
		history = append(history, core.Message{
			Role:    toRole(msg.Role),
			Content: []core.MessagePart{core.TextPart{Text: msg.Text()}},
		})
	}

	return core.AgentCall{Prompt: prompt, Messages: history}
}

func toRole(role memory.Role) core.MessageRole {
	switch role {
	case memory.RoleSystem:
		return core.MessageRoleSystem
	case memory.RoleAssistant:
		return core.MessageRoleAssistant
	default:
		return core.MessageRoleUser
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

func resolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}
	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func normalizeOpenAIModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("model is required")
	}

	parts := strings.SplitN(model, "/", 2)
	if len(parts) != 2 {
		return model, nil
	}

	providerID := strings.TrimSpace(parts[0])
	modelID := strings.TrimSpace(parts[1])
	if providerID == "" || modelID == "" {
		return "", errors.New("model is invalid")
	}
	if providerID != "openai" {
		return "", fmt.Errorf("model provider %q is not supported by fantasy openai provider", providerID)
	}

	return modelID, nil
}

func extractText(content core.ResponseContent) string {
	lines := make([]string, 0)
	for _, part := range content {
		if part.GetType() != core.ContentTypeText {
			continue
		}

		textPart, ok := core.AsContentType[core.TextContent](part)
		if !ok {
			continue
		}

		line := strings.TrimSpace(textPart.Text)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func generateWithFantasyAgent(ctx context.Context, model core.LanguageModel, call core.AgentCall) (*core.AgentResult, error) {
	runtime := core.NewAgent(model)
	return runtime.Generate(ctx, call)
}
