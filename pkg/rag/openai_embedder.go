package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	osdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"vtagent/pkg/config"
	"vtagent/pkg/logger"
)

// OpenAIEmbedder embeds texts with the OpenAI embeddings endpoint.
type OpenAIEmbedder struct {
	client osdk.Client
	model  string
}

func NewOpenAIEmbedder(providerCfg config.OpenAIProviderConfig, apiKey string, model string) (*OpenAIEmbedder, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required for embeddings")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("embedding model is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := strings.TrimSpace(providerCfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization := strings.TrimSpace(providerCfg.Organization); organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	if providerCfg.RequestTimeoutSeconds > 0 {
		opts = append(opts, option.WithRequestTimeout(time.Duration(providerCfg.RequestTimeoutSeconds)*time.Second))
	}

	return &OpenAIEmbedder{client: osdk.NewClient(opts...), model: model}, nil
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	log := logger.Component("rag.embedder").With("model", e.model)
	startedAt := time.Now()

	response, err := e.client.Embeddings.New(ctx, osdk.EmbeddingNewParams{
		Model: osdk.EmbeddingModel(e.model),
		Input: osdk.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	})
	if err != nil {
		log.Debug("embedding request failed", "duration_ms", time.Since(startedAt).Milliseconds(), "error", err)
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	vectors := make([][]float64, len(texts))
	for _, item := range response.Data {
		if item.Index < 0 || int(item.Index) >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, vector := range vectors {
		if vector == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}

	log.Debug("embedding request completed", "inputs", len(texts), "duration_ms", time.Since(startedAt).Milliseconds())
	return vectors, nil
}
