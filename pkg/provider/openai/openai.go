package openai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"vtagent/pkg/config"
	"vtagent/pkg/memory"
	providertypes "vtagent/pkg/provider/types"
)

type Client struct {
	client         osdk.Client
	requestTimeout time.Duration
	model          string
	maxTokens      int64
	temperature    float64
}

func New(cfg *config.Config) (*Client, error) {
	providerCfg := cfg.Providers.OpenAI
	apiKey := ResolveAPIKey(providerCfg)
	if apiKey == "" {
		return nil, errors.New("providers.openai.api_key_env is required or OPENAI_API_KEY must be set")
	}

	model, err := normalizeModel(cfg.Agent.Model)
	if err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(providerCfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(providerCfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if project := strings.TrimSpace(providerCfg.Project); project != "" {
		opts = append(opts, option.WithProject(project))
	}

	requestTimeout := time.Duration(providerCfg.RequestTimeoutSeconds) * time.Second
	if requestTimeout > 0 {
		opts = append(opts, option.WithRequestTimeout(requestTimeout))
	}

	return &Client{
		client:         osdk.NewClient(opts...),
		requestTimeout: requestTimeout,
		model:          model,
		maxTokens:      int64(cfg.Agent.MaxTokens),
		temperature:    cfg.Agent.Temperature,
	}, nil
}

func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	log := providerLogger().With("operation", "health")
	startedAt := time.Now()
	log.Debug("provider request started")

	if _, err := c.client.Models.List(ctx); err != nil {
		log.Debug("provider request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Debug("provider request completed", "duration_ms", time.Since(startedAt).Milliseconds())

	return nil
}

// Complete streams a chat completion. Each yielded token is one content
// delta as received from the API.
func (c *Client) Complete(ctx context.Context, messages []memory.Message, systemPrompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()
		log := providerLogger().With("operation", "complete", "model", c.model)
		startedAt := time.Now()

		params := c.params(providertypes.WithSystemPrompt(messages, systemPrompt))
		log.Debug("provider request started", "messages", len(params.Messages))

		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var usage providertypes.TokenUsage
		tokens := 0
		for stream.Next() {
			chunk := stream.Current()
			if chunk.Usage.TotalTokens > 0 {
				usage = providertypes.TokenUsage{
					InputTokens:     chunk.Usage.PromptTokens,
					OutputTokens:    chunk.Usage.CompletionTokens,
					TotalTokens:     chunk.Usage.TotalTokens,
					ReasoningTokens: chunk.Usage.CompletionTokensDetails.ReasoningTokens,
					CacheReadTokens: chunk.Usage.PromptTokensDetails.CachedTokens,
				}
			}

			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				tokens++
				if !yield(choice.Delta.Content, nil) {
					log.Debug("provider stream abandoned", "tokens", tokens, "duration_ms", time.Since(startedAt).Milliseconds())
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			log.Debug("provider request failed", "tokens", tokens, "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
			yield("", fmt.Errorf("stream completion: %w", err))
			return
		}

		attrs := []any{"tokens", tokens, "duration_ms", time.Since(startedAt).Milliseconds()}
		if !usage.IsZero() {
			attrs = append(attrs, usage.LogAttrs()...)
		}
		log.Debug("provider request completed", attrs...)
	}
}

func (c *Client) params(messages []memory.Message) osdk.ChatCompletionNewParams {
	params := osdk.ChatCompletionNewParams{
		Model:    osdk.ChatModel(c.model),
		Messages: toChatMessages(messages),
		StreamOptions: osdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: osdk.Bool(true),
		},
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = osdk.Int(c.maxTokens)
	}
	if c.temperature > 0 {
		params.Temperature = osdk.Float(c.temperature)
	}
	return params
}

func toChatMessages(messages []memory.Message) []osdk.ChatCompletionMessageParamUnion {
	out := make([]osdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case memory.RoleSystem:
			out = append(out, osdk.SystemMessage(msg.Text()))
		case memory.RoleAssistant:
			out = append(out, osdk.AssistantMessage(msg.Text()))
		default:
			if len(msg.Parts) == 0 {
				out = append(out, osdk.UserMessage(msg.Content))
				continue
			}
			out = append(out, osdk.UserMessage(toContentParts(msg.Parts)))
		}
	}
	return out
}

func toContentParts(parts []memory.ContentPart) []osdk.ChatCompletionContentPartUnionParam {
	out := make([]osdk.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case memory.PartImageURL:
			out = append(out, osdk.ImageContentPart(osdk.ChatCompletionContentPartImageImageURLParam{URL: part.ImageURL}))
		default:
			out = append(out, osdk.TextContentPart(part.Text))
		}
	}
	return out
}

func providerLogger() *slog.Logger {
	return slog.Default().With("component", "provider.openai")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout <= 0 {
		return ctx, func() {}
	}

	return context.WithTimeout(ctx, c.requestTimeout)
}

// ResolveAPIKey reads the key from the configured env var, falling back to
// OPENAI_API_KEY.
func ResolveAPIKey(cfg config.OpenAIProviderConfig) string {
	if apiKeyEnv := strings.TrimSpace(cfg.APIKeyEnv); apiKeyEnv != "" {
		if apiKey := strings.TrimSpace(os.Getenv(apiKeyEnv)); apiKey != "" {
			return apiKey
		}
	}

	return strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
}

func normalizeModel(model string) (string, error) {
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
		return "", fmt.Errorf("model provider %q is not supported by openai provider", providerID)
	}

	return modelID, nil
}
