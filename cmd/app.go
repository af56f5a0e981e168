package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vtagent/pkg/agent"
	"vtagent/pkg/bus"
	"vtagent/pkg/config"
	"vtagent/pkg/history"
	"vtagent/pkg/prompts"
	"vtagent/pkg/provider"
	provideropenai "vtagent/pkg/provider/openai"
	"vtagent/pkg/rag"
)

// app bundles everything one command needs to run turns.
type app struct {
	cfg       *config.Config
	agent     *agent.Agent
	augmenter *rag.Augmenter
	history   history.Store
	bus       *bus.Bus
	log       *slog.Logger
}

func buildApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	log = log.With("component", "cmd.app")

	client, err := provider.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize provider: %w", err)
	}
	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("provider health check failed: %w", err)
	}

	augmenter, err := buildAugmenter(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	var store history.Store
	if strings.TrimSpace(cfg.History.Dir) != "" {
		fileStore, err := history.NewFileStore(cfg.History.Dir)
		if err != nil {
			return nil, fmt.Errorf("open history store: %w", err)
		}
		store = fileStore
	}

	set, err := prompts.Load()
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	events := bus.New()
	go bus.Observe(ctx, events, log)

	a, err := agent.New(agent.Options{
		Config:    cfg,
		Client:    client,
		Augmenter: augmenter,
		Prompts:   set,
		History:   store,
		Bus:       events,
		Logger:    log,
	})
	if err != nil {
		events.Close()
		return nil, fmt.Errorf("initialize agent: %w", err)
	}

	if store != nil && strings.TrimSpace(cfg.History.HistoryUID) != "" {
		if err := a.SetMemoryFromHistory(ctx, cfg.History.HistoryUID); err != nil {
			events.Close()
			return nil, err
		}
	}

	log.Info("Runtime ready",
		"character", cfg.Character.Name,
		"provider", cfg.Agent.Provider,
		"model", cfg.Agent.Model,
		"retrieval", augmenter != nil,
		"history", store != nil,
	)

	return &app{
		cfg:       cfg,
		agent:     a,
		augmenter: augmenter,
		history:   store,
		bus:       events,
		log:       log,
	}, nil
}

// buildAugmenter returns nil when retrieval is disabled. A vault that fails
// to load is kept: the augmenter sees it as unhealthy and turns run without
// context.
func buildAugmenter(ctx context.Context, cfg *config.Config, log *slog.Logger) (*rag.Augmenter, error) {
	if !cfg.RAG.Enabled {
		return nil, nil
	}

	apiKey := provideropenai.ResolveAPIKey(cfg.Providers.OpenAI)
	embedder, err := rag.NewOpenAIEmbedder(cfg.Providers.OpenAI, apiKey, cfg.RAG.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("initialize embedder: %w", err)
	}

	vault, err := rag.NewVault(embedder, rag.VaultOptions{
		Path:     cfg.RAG.VaultPath,
		TopK:     cfg.RAG.TopK,
		MinScore: cfg.RAG.MinScore,
		Logger:   log,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize vault: %w", err)
	}

	cache := rag.NewCache(vault, cfg.RAG.CacheSize)
	if err := cache.Initialize(ctx); err != nil {
		log.Warn("Knowledge vault unavailable, retrieval will be skipped", "path", cfg.RAG.VaultPath, "error", err)
	}

	return rag.NewAugmenter(cache, rag.Options{
		HistoryWindow: cfg.RAG.HistoryWindow,
		Attempts:      cfg.RAG.RetryAttempts,
		RetryDelay:    time.Duration(cfg.RAG.RetryDelayMillis) * time.Millisecond,
		Logger:        log,
	}), nil
}

func (a *app) Close() {
	a.bus.Close()
}

// session returns the agent wrapped so finished turns are persisted.
func (a *app) session() *recorder {
	return newRecorder(a.agent, a.history, a.cfg, a.log)
}
