package agent

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"vtagent/pkg/bus"
	"vtagent/pkg/config"
	"vtagent/pkg/history"
	"vtagent/pkg/input"
	"vtagent/pkg/logger"
	"vtagent/pkg/memory"
	"vtagent/pkg/pipeline"
	"vtagent/pkg/prompts"
	"vtagent/pkg/provider"
	"vtagent/pkg/rag"
)

// Options wires an Agent to its collaborators. Client and Config are
// required; the rest are optional.
type Options struct {
	Config    *config.Config
	Client    provider.Client
	Augmenter *rag.Augmenter
	Prompts   *prompts.Set
	History   history.Store
	Bus       *bus.Bus
	Logger    *slog.Logger
}

// Agent owns one character's conversation. Turns on one Agent are serial.
type Agent struct {
	client    provider.Client
	augmenter *rag.Augmenter
	prompts   *prompts.Set
	history   history.Store
	bus       *bus.Bus
	log       *slog.Logger

	confUID string
	name    string
	avatar  string

	memory     *memory.Memory
	assembler  *Assembler
	interrupts *InterruptController
	chain      *pipeline.Chain

	systemPrompt atomic.Value
	busy         atomic.Bool
}

// New validates the configuration and builds the sentence chain once. A
// malformed speech filter or segmentation setting fails here, before any
// turn runs.
func New(opts Options) (*Agent, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Client == nil {
		return nil, errors.New("provider client is required")
	}
	if opts.Prompts == nil {
		set, err := prompts.Load()
		if err != nil {
			return nil, err
		}
		opts.Prompts = set
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	cfg := opts.Config
	chain, err := buildChain(cfg)
	if err != nil {
		return nil, err
	}

	mem := memory.New()
	a := &Agent{
		client:     opts.Client,
		augmenter:  opts.Augmenter,
		prompts:    opts.Prompts,
		history:    opts.History,
		bus:        opts.Bus,
		log:        logger.ForCharacter(opts.Logger, "agent", cfg.Character.Name),
		confUID:    cfg.Character.ConfUID,
		name:       cfg.Character.Name,
		avatar:     cfg.Character.Avatar,
		memory:     mem,
		assembler:  NewAssembler(opts.Prompts),
		interrupts: NewInterruptController(mem, cfg.Agent.InterruptMethod),
		chain:      chain,
	}
	a.SetSystemPrompt(cfg.Character.PersonaPrompt, cfg.Agent.InterruptMethod)

	a.log.Debug("Agent initialized", "stages", chain.Stages(), "retrieval", opts.Augmenter != nil)
	return a, nil
}

func buildChain(cfg *config.Config) (*pipeline.Chain, error) {
	fasterFirst := true
	if cfg.Agent.FasterFirstResponse != nil {
		fasterFirst = *cfg.Agent.FasterFirstResponse
	}

	segmenter, err := pipeline.NewSegmenter(pipeline.SegmenterOptions{
		Method:      cfg.Agent.SegmentMethod,
		Terminators: cfg.Agent.Terminators,
		FasterFirst: fasterFirst,
		Tags:        cfg.Agent.ValidTags,
	})
	if err != nil {
		return nil, fmt.Errorf("build segmenter: %w", err)
	}

	speech, err := pipeline.NewSpeechFilter(cfg.Agent.SpeechFilter)
	if err != nil {
		return nil, err
	}

	return pipeline.NewChain(
		segmenter,
		pipeline.NewActionExtractor(pipeline.VocabularyFromEmotionMap(cfg.Character.Live2D.EmotionMap)),
		pipeline.NewDisplayShaper(cfg.Character.Name, cfg.Character.Avatar),
		speech,
	), nil
}

// SetSystemPrompt replaces the system prompt used from the next turn on.
// A blank persona falls back to a prompt that reports the missing setting.
func (a *Agent) SetSystemPrompt(persona string, interruptMethod string) {
	prompt := strings.TrimSpace(persona)
	if prompt == "" {
		prompt = a.prompts.FallbackSystem()
	}
	if interruptMethod != config.InterruptMethodSystem {
		prompt += "\n\n" + a.prompts.InterruptNotice()
	}
	a.systemPrompt.Store(prompt)
}

func (a *Agent) SystemPrompt() string {
	prompt, _ := a.systemPrompt.Load().(string)
	return prompt
}

// Memory returns a snapshot of the conversation.
func (a *Agent) Memory() []memory.Message {
	return a.memory.List()
}

// LastMessage returns the newest memory entry.
func (a *Agent) LastMessage() (memory.Message, bool) {
	return a.memory.Last()
}

// SetMemoryFromHistory replaces memory with the system prompt followed by a
// persisted history.
func (a *Agent) SetMemoryFromHistory(ctx context.Context, historyUID string) error {
	if a.history == nil {
		return errors.New("history store is not configured")
	}

	entries, err := a.history.Load(ctx, a.confUID, historyUID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	a.memory.RebuildFromHistory(a.SystemPrompt(), entries)
	a.log.Info("Memory rebuilt from history", "history_uid", historyUID, "entries", len(entries))
	return nil
}

// StartGroupConversation tells the model who else is in the conversation.
func (a *Agent) StartGroupConversation(humanName string, otherAIs []string) error {
	content, err := a.prompts.GroupConversation(humanName, otherAIs)
	if err != nil {
		return err
	}

	a.memory.Append(memory.Message{Role: memory.RoleUser, Content: content})
	a.log.Debug("Group conversation context added", "human", humanName, "participants", len(otherAIs))
	return nil
}

// ResetInterrupt arms the interrupt controller. Chat does this at the start
// of every turn.
func (a *Agent) ResetInterrupt() {
	a.interrupts.Reset()
}

// HandleInterrupt records that only heard was voiced before the user cut in.
// Repeated calls within one turn are no-ops.
func (a *Agent) HandleInterrupt(heard string) {
	if !a.interrupts.Handle(heard, memory.Message{Name: a.name, Avatar: a.avatar}) {
		return
	}

	a.log.Info("Turn interrupted", "heard_length", len(heard))
	a.bus.Publish(context.Background(), bus.Event{
		Type:    bus.EventTurnInterrupted,
		Agent:   a.name,
		Payload: map[string]string{"heard": heard},
	})
}

// Chat runs one turn. The turn is formatted right away, so malformed input
// fails here. Retrieval, the model call and memory updates happen while the
// returned sequence is consumed.
//
// The sequence is single-use. Breaking out of it abandons the turn: no
// assistant message is remembered. A model failure is yielded as an
// *UpstreamGenerationError.
func (a *Agent) Chat(ctx context.Context, turn input.BatchInput) (iter.Seq2[pipeline.SentenceOutput, error], error) {
	text, err := input.FormatPrompt(turn)
	if err != nil {
		return nil, err
	}

	return func(yield func(pipeline.SentenceOutput, error) bool) {
		if !a.busy.CompareAndSwap(false, true) {
			yield(pipeline.SentenceOutput{}, ErrTurnInProgress)
			return
		}
		defer a.busy.Store(false)

		a.interrupts.Reset()
		t := &turnState{id: uuid.NewString(), startedAt: time.Now()}
		log := logger.ForTurn(a.log, t.id)
		a.publish(ctx, t, bus.EventTurnStarted, map[string]string{"text": text})

		snapshot := a.memory.List()
		retrieved, err := a.augmenter.Retrieve(ctx, text, snapshot)
		if err != nil {
			a.fail(ctx, t, log, err)
			yield(pipeline.SentenceOutput{}, err)
			return
		}

		messages, err := a.assembler.Assemble(snapshot, retrieved, turn)
		if err != nil {
			a.fail(ctx, t, log, err)
			yield(pipeline.SentenceOutput{}, err)
			return
		}

		if strings.TrimSpace(text) != "" || turn.HasImages() {
			a.memory.Append(memory.Message{Role: memory.RoleUser, Content: text})
		}
		log.Debug("Turn prompt assembled", "messages", len(messages), "context_length", len(retrieved))

		tokens := a.recordReply(t, a.client.Complete(ctx, messages, a.SystemPrompt()))
		for output, err := range a.chain.Run(tokens) {
			if err != nil {
				a.fail(ctx, t, log, err)
				yield(pipeline.SentenceOutput{}, err)
				return
			}

			t.sentences++
			a.publish(ctx, t, bus.EventSentenceEmitted, map[string]string{
				"display": output.Display.Text,
				"speech":  output.Speech,
			})
			if !yield(output, nil) {
				log.Debug("Turn abandoned by caller", "sentences", t.sentences)
				a.publish(ctx, t, bus.EventTurnAbandoned, nil)
				return
			}
		}

		log.Debug("Turn completed", "sentences", t.sentences, "remembered", t.remembered, "duration_ms", time.Since(t.startedAt).Milliseconds())
		a.publish(ctx, t, bus.EventTurnCompleted, map[string]string{"remembered": strconv.FormatBool(t.remembered)})
	}, nil
}

type turnState struct {
	id         string
	startedAt  time.Time
	sentences  int
	remembered bool
}

// recordReply passes tokens through and, once the stream is fully drained,
// appends the whole reply to memory exactly once. Nothing is remembered when
// the stream fails, is abandoned, or the turn was interrupted meanwhile.
func (a *Agent) recordReply(t *turnState, tokens iter.Seq2[string, error]) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var reply strings.Builder
		for token, err := range tokens {
			if err != nil {
				yield("", &UpstreamGenerationError{Err: err})
				return
			}
			reply.WriteString(token)
			if !yield(token, nil) {
				return
			}
		}

		t.remembered = a.interrupts.AppendUnlessFired(memory.Message{
			Role:    memory.RoleAssistant,
			Content: reply.String(),
			Name:    a.name,
			Avatar:  a.avatar,
		})
	}
}

func (a *Agent) fail(ctx context.Context, t *turnState, log *slog.Logger, err error) {
	log.Warn("Turn failed", "sentences", t.sentences, "duration_ms", time.Since(t.startedAt).Milliseconds(), "error", err)
	a.bus.Publish(ctx, bus.Event{Type: bus.EventTurnFailed, TurnID: t.id, Agent: a.name, Error: err.Error()})
}

func (a *Agent) publish(ctx context.Context, t *turnState, eventType bus.EventType, payload map[string]string) {
	a.bus.Publish(ctx, bus.Event{Type: eventType, TurnID: t.id, Agent: a.name, Payload: payload})
}
