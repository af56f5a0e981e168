package provider

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"vtagent/pkg/config"
	"vtagent/pkg/memory"
	providerfantasy "vtagent/pkg/provider/fantasy"
	provideropenai "vtagent/pkg/provider/openai"
)

// Client is a language model that streams a reply to a conversation.
//
// Complete returns a single-use token sequence. Breaking out of the loop
// abandons the request.
type Client interface {
	Health(ctx context.Context) error
	Complete(ctx context.Context, messages []memory.Message, systemPrompt string) iter.Seq2[string, error]
}

func New(cfg *config.Config) (Client, error) {
	providerID := strings.TrimSpace(cfg.Agent.Provider)
	if providerID == "" {
		providerID = config.ProviderOpenAI
	}

	slog.Default().With("component", "provider.factory").Debug("Resolving provider client", "provider", providerID)

	switch providerID {
	case config.ProviderOpenAI:
		return provideropenai.New(cfg)
	case config.ProviderFantasy:
		return providerfantasy.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", providerID)
	}
}
