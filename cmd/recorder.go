package cmd

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"sync"

	"vtagent/pkg/agent"
	"vtagent/pkg/config"
	"vtagent/pkg/history"
	"vtagent/pkg/input"
	"vtagent/pkg/memory"
	"vtagent/pkg/pipeline"
)

// recorder persists finished turns to the history store. With no store or no
// history uid it passes turns straight through.
type recorder struct {
	agent      *agent.Agent
	store      history.Store
	confUID    string
	historyUID string
	name       string
	avatar     string
	log        *slog.Logger

	mu      sync.Mutex
	pending string
	open    bool
}

func newRecorder(a *agent.Agent, store history.Store, cfg *config.Config, log *slog.Logger) *recorder {
	return &recorder{
		agent:      a,
		store:      store,
		confUID:    cfg.Character.ConfUID,
		historyUID: strings.TrimSpace(cfg.History.HistoryUID),
		name:       cfg.Character.Name,
		avatar:     cfg.Character.Avatar,
		log:        log.With("component", "cmd.recorder"),
	}
}

func (r *recorder) enabled() bool {
	return r.store != nil && r.historyUID != ""
}

func (r *recorder) Chat(ctx context.Context, turn input.BatchInput) (iter.Seq2[pipeline.SentenceOutput, error], error) {
	seq, err := r.agent.Chat(ctx, turn)
	if err != nil || !r.enabled() {
		return seq, err
	}

	text, _ := input.FormatPrompt(turn)
	return func(yield func(pipeline.SentenceOutput, error) bool) {
		// The turn is recorded once it produces output, so a turn rejected as
		// overlapping never touches the record of the one in flight.
		begun := false
		for output, err := range seq {
			if err != nil {
				if begun {
					r.end()
				}
				yield(output, err)
				return
			}
			if !begun {
				r.begin(text)
				begun = true
			}
			if !yield(output, nil) {
				r.end()
				return
			}
		}
		if !begun {
			r.begin(text)
		}

		last, ok := r.agent.LastMessage()
		if !r.end() || !ok || last.Role != memory.RoleAssistant {
			return
		}
		r.persist(ctx, text, last.Content)
	}, nil
}

// HandleInterrupt forwards the barge-in and persists the heard part of the
// reply for the turn in flight.
func (r *recorder) HandleInterrupt(heard string) {
	r.agent.HandleInterrupt(heard)
	if !r.enabled() {
		return
	}

	r.mu.Lock()
	text, open := r.pending, r.open
	r.open = false
	r.mu.Unlock()
	if !open {
		return
	}

	reply := ""
	if heard != "" {
		reply = heard + "..."
	}
	r.persist(context.Background(), text, reply)
}

func (r *recorder) begin(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = text
	r.open = true
}

// end closes the turn and reports whether it was still open.
func (r *recorder) end() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	open := r.open
	r.open = false
	return open
}

func (r *recorder) persist(ctx context.Context, text string, reply string) {
	if strings.TrimSpace(text) != "" {
		if err := r.store.Append(ctx, r.confUID, r.historyUID, history.Entry{Role: history.RoleHuman, Content: text}); err != nil {
			r.log.Warn("Failed to persist user message", "history_uid", r.historyUID, "error", err)
			return
		}
	}
	if reply == "" {
		return
	}

	entry := history.Entry{Role: history.RoleAI, Content: reply, Name: r.name, Avatar: r.avatar}
	if err := r.store.Append(ctx, r.confUID, r.historyUID, entry); err != nil {
		r.log.Warn("Failed to persist reply", "history_uid", r.historyUID, "error", err)
	}
}
