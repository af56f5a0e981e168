package pipeline

import (
	"iter"
)

// Sentence is the record every stage reads and writes. Text is the working
// text the next stage sees; the other fields are filled in along the chain.
type Sentence struct {
	Text    string
	Tag     string
	Actions Actions
	Display DisplayText
	Speech  string
}

// Actions holds avatar actions recognized in a fragment, in first-seen order.
type Actions struct {
	Expressions []string
}

func (a Actions) Empty() bool {
	return len(a.Expressions) == 0
}

// DisplayText is what a front-end shows for one fragment.
type DisplayText struct {
	Text   string
	Name   string
	Avatar string
}

// SentenceOutput is one unit emitted to the caller of a turn.
type SentenceOutput struct {
	Speech  string
	Display DisplayText
	Actions Actions
	Tag     string
}

// Stage transforms one sentence stream into another. Stages must preserve
// fragment order, pass errors through unchanged and stop pulling from in as
// soon as their consumer stops.
type Stage interface {
	Name() string
	Apply(in iter.Seq2[Sentence, error]) iter.Seq2[Sentence, error]
}

// Chain is an ordered list of stages composed once at construction.
type Chain struct {
	stages []Stage
}

func NewChain(stages ...Stage) *Chain {
	kept := make([]Stage, 0, len(stages))
	for _, stage := range stages {
		if stage != nil {
			kept = append(kept, stage)
		}
	}
	return &Chain{stages: kept}
}

// Stages returns the stage names in application order.
func (c *Chain) Stages() []string {
	names := make([]string, 0, len(c.stages))
	for _, stage := range c.stages {
		names = append(names, stage.Name())
	}
	return names
}

// Run feeds raw model tokens through every stage. The returned sequence is
// single-use and ends when tokens ends or yields an error.
func (c *Chain) Run(tokens iter.Seq2[string, error]) iter.Seq2[SentenceOutput, error] {
	stream := func(yield func(Sentence, error) bool) {
		for token, err := range tokens {
			if err != nil {
				yield(Sentence{}, err)
				return
			}
			if !yield(Sentence{Text: token}, nil) {
				return
			}
		}
	}

	var sentences iter.Seq2[Sentence, error] = stream
	for _, stage := range c.stages {
		sentences = stage.Apply(sentences)
	}

	return func(yield func(SentenceOutput, error) bool) {
		for sentence, err := range sentences {
			if err != nil {
				yield(SentenceOutput{}, err)
				return
			}
			if !yield(sentence.Output(), nil) {
				return
			}
		}
	}
}

// Output converts a fully processed sentence into the caller-facing record.
func (s Sentence) Output() SentenceOutput {
	return SentenceOutput{
		Speech:  s.Speech,
		Display: s.Display,
		Actions: Actions{Expressions: append([]string(nil), s.Actions.Expressions...)},
		Tag:     s.Tag,
	}
}

// mapStage adapts a per-sentence function into a Stage.
type mapStage struct {
	name string
	fn   func(Sentence) Sentence
}

func (m mapStage) Name() string {
	return m.name
}

func (m mapStage) Apply(in iter.Seq2[Sentence, error]) iter.Seq2[Sentence, error] {
	return func(yield func(Sentence, error) bool) {
		for sentence, err := range in {
			if err != nil {
				yield(Sentence{}, err)
				return
			}
			if !yield(m.fn(sentence), nil) {
				return
			}
		}
	}
}
