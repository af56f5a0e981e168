package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"vtagent/pkg/input"
	"vtagent/pkg/pipeline"
)

type sentenceMsg struct {
	turn   int
	output pipeline.SentenceOutput
}

type turnDoneMsg struct {
	turn int
	err  error
}

// streamTurn drains one turn into ch and closes it. Once ctx is cancelled
// nothing more is delivered and the turn is abandoned.
func streamTurn(ctx context.Context, session Session, turn input.BatchInput, id int, ch chan<- tea.Msg) {
	defer close(ch)

	send := func(msg tea.Msg) bool {
		select {
		case ch <- msg:
			return true
		case <-ctx.Done():
			return false
		}
	}

	seq, err := session.Chat(ctx, turn)
	if err != nil {
		send(turnDoneMsg{turn: id, err: err})
		return
	}

	for output, err := range seq {
		if err != nil {
			send(turnDoneMsg{turn: id, err: err})
			return
		}
		if !send(sentenceMsg{turn: id, output: output}) {
			return
		}
	}

	send(turnDoneMsg{turn: id})
}

// waitForStream reads the next message of a running turn.
func waitForStream(ch <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return nil
		}
		return msg
	}
}
