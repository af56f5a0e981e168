package rag

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"vtagent/pkg/memory"
)

const (
	proactivePrefix = "Based on this conversation context, what would be relevant to discuss next: "
	genericQuery    = "What would be an interesting topic to discuss?"

	proactiveWindow      = 3
	defaultHistoryWindow = 10
	defaultAttempts      = 3
	defaultRetryDelay    = 200 * time.Millisecond
)

var errBackendUnhealthy = errors.New("retrieval backend is unhealthy")

// Options tunes an Augmenter. Zero values take defaults.
type Options struct {
	HistoryWindow int
	Attempts      int
	RetryDelay    time.Duration
	Logger        *slog.Logger
}

// Augmenter turns a turn's text and the conversation so far into retrieved
// context. Backend failures degrade to no context.
type Augmenter struct {
	backend  Backend
	window   int
	attempts int
	delay    time.Duration
	log      *slog.Logger
}

// Query is one request the augmenter sends to its backend.
type Query struct {
	Text      string
	History   []memory.Message
	Proactive bool
}

func NewAugmenter(backend Backend, opts Options) *Augmenter {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = defaultHistoryWindow
	}
	if opts.Attempts <= 0 {
		opts.Attempts = defaultAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Augmenter{
		backend:  backend,
		window:   opts.HistoryWindow,
		attempts: opts.Attempts,
		delay:    opts.RetryDelay,
		log:      opts.Logger.With("component", "rag.augmenter"),
	}
}

// BuildQuery picks the text to retrieve with. A blank turn text produces a
// proactive query built from the latest conversation turns, or a generic
// topic question when there is nothing usable. The result is never blank.
func (a *Augmenter) BuildQuery(text string, conversation []memory.Message) Query {
	history := a.recentHistory(conversation)

	if strings.TrimSpace(text) != "" {
		return Query{Text: text, History: history}
	}

	start := max(0, len(history)-proactiveWindow)
	recent := make([]string, 0, proactiveWindow)
	for _, msg := range history[start:] {
		content := strings.TrimSpace(msg.Content)
		if content == "" || strings.HasPrefix(content, "[") {
			continue
		}
		recent = append(recent, content)
	}

	if joined := strings.Join(recent, " "); joined != "" {
		return Query{Text: proactivePrefix + joined, History: history, Proactive: true}
	}

	return Query{Text: genericQuery, Proactive: true}
}

// Retrieve returns context for the turn, or "" when none is available.
// The only error it surfaces is ErrInvalidQuery.
func (a *Augmenter) Retrieve(ctx context.Context, text string, conversation []memory.Message) (string, error) {
	if a == nil || a.backend == nil {
		return "", nil
	}

	query := a.BuildQuery(text, conversation)
	startedAt := time.Now()
	attempt := 0

	var result string
	backoff := retry.WithMaxRetries(uint64(a.attempts-1), retry.NewConstant(a.delay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if !a.backend.CheckHealth(ctx) {
			return retry.RetryableError(errBackendUnhealthy)
		}

		out, err := a.backend.Query(ctx, query.Text, query.History)
		if errors.Is(err, ErrInvalidQuery) {
			return err
		}
		if err != nil {
			a.log.Debug("retrieval attempt failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}

		result = out
		return nil
	})
	if errors.Is(err, ErrInvalidQuery) {
		return "", err
	}
	if err != nil {
		a.log.Warn("retrieval unavailable, continuing without context",
			"attempts", attempt,
			"duration_ms", time.Since(startedAt).Milliseconds(),
			"error", err,
		)
		return "", nil
	}

	attrs := []any{
		"proactive", query.Proactive,
		"attempts", attempt,
		"context_length", len(result),
		"duration_ms", time.Since(startedAt).Milliseconds(),
	}
	if memo, ok := a.backend.(interface{ Len() int }); ok {
		attrs = append(attrs, "memoized", memo.Len())
	}
	a.log.Debug("retrieval completed", attrs...)
	return strings.TrimSpace(result), nil
}

func (a *Augmenter) recentHistory(conversation []memory.Message) []memory.Message {
	history := make([]memory.Message, 0, len(conversation))
	for _, msg := range conversation {
		if msg.Role != memory.RoleUser && msg.Role != memory.RoleAssistant {
			continue
		}
		history = append(history, memory.Message{Role: msg.Role, Content: msg.Content})
	}

	if len(history) > a.window {
		history = history[len(history)-a.window:]
	}
	return history
}
