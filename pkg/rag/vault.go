package rag

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"vtagent/pkg/memory"
)

const (
	defaultTopK         = 3
	vaultContextHistory = 2
)

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// VaultOptions configures a Vault.
type VaultOptions struct {
	Path     string
	TopK     int
	MinScore float64
	Logger   *slog.Logger
}

// Vault is an embedding-backed Backend over a plain text corpus holding one
// passage per non-empty line.
type Vault struct {
	embedder Embedder
	path     string
	topK     int
	minScore float64
	log      *slog.Logger

	mu       sync.RWMutex
	passages []string
	vectors  [][]float64

	embedMu    sync.Mutex
	embeddings map[string][]float64
}

type scoredPassage struct {
	index int
	score float64
}

func NewVault(embedder Embedder, opts VaultOptions) (*Vault, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if strings.TrimSpace(opts.Path) == "" {
		return nil, errors.New("vault path is required")
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Vault{
		embedder:   embedder,
		path:       opts.Path,
		topK:       opts.TopK,
		minScore:   opts.MinScore,
		log:        opts.Logger.With("component", "rag.vault"),
		embeddings: make(map[string][]float64),
	}, nil
}

// Initialize reads the corpus and embeds every passage.
func (v *Vault) Initialize(ctx context.Context) error {
	passages, err := readPassages(v.path)
	if err != nil {
		return err
	}
	if len(passages) == 0 {
		return fmt.Errorf("vault %s has no passages", v.path)
	}

	vectors, err := v.embed(ctx, passages)
	if err != nil {
		return fmt.Errorf("embed vault: %w", err)
	}

	v.mu.Lock()
	v.passages = passages
	v.vectors = vectors
	v.mu.Unlock()

	v.log.Info("Vault initialized", "path", v.path, "passages", len(passages))
	return nil
}

func (v *Vault) CheckHealth(context.Context) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return len(v.passages) > 0 && len(v.vectors) == len(v.passages)
}

// Query ranks passages against text, prefixed by the latest history turns so
// follow-up questions ("what is its name?") resolve against their subject.
func (v *Vault) Query(ctx context.Context, text string, history []memory.Message) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrInvalidQuery
	}
	if !v.CheckHealth(ctx) {
		return "", errors.New("vault is not initialized")
	}

	vectors, err := v.embed(ctx, []string{contextualQuery(text, history)})
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	query := vectors[0]

	v.mu.RLock()
	defer v.mu.RUnlock()

	scored := make([]scoredPassage, 0, len(v.passages))
	for i, vector := range v.vectors {
		score, err := cosineSimilarity(query, vector)
		if err != nil {
			return "", err
		}
		if score < v.minScore {
			continue
		}
		scored = append(scored, scoredPassage{index: i, score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > v.topK {
		scored = scored[:v.topK]
	}

	lines := make([]string, 0, len(scored))
	for _, item := range scored {
		lines = append(lines, v.passages[item.index])
	}
	return strings.Join(lines, "\n"), nil
}

// embed returns one vector per text, reusing vectors of texts seen before.
func (v *Vault) embed(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	var missing []string
	var missingAt []int

	v.embedMu.Lock()
	for i, text := range texts {
		if vector, ok := v.embeddings[text]; ok {
			out[i] = vector
			continue
		}
		missing = append(missing, text)
		missingAt = append(missingAt, i)
	}
	v.embedMu.Unlock()

	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := v.embedder.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(missing))
	}

	v.embedMu.Lock()
	for i, vector := range vectors {
		v.embeddings[missing[i]] = vector
		out[missingAt[i]] = vector
	}
	v.embedMu.Unlock()

	return out, nil
}

func contextualQuery(text string, history []memory.Message) string {
	start := max(0, len(history)-vaultContextHistory)
	parts := make([]string, 0, vaultContextHistory+1)
	for _, msg := range history[start:] {
		if content := strings.TrimSpace(msg.Content); content != "" {
			parts = append(parts, content)
		}
	}
	parts = append(parts, strings.TrimSpace(text))
	return strings.Join(parts, "\n")
}

func readPassages(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	defer file.Close()

	var passages []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			passages = append(passages, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vault: %w", err)
	}
	return passages, nil
}

// cosineSimilarity returns a value in [-1, 1]; zero vectors score 0.
func cosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
