package chat

import (
	"context"
	"fmt"
	"iter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"vtagent/pkg/input"
	"vtagent/pkg/pipeline"
)

// Session runs turns for the chat UI. *agent.Agent satisfies it.
type Session interface {
	Chat(ctx context.Context, turn input.BatchInput) (iter.Seq2[pipeline.SentenceOutput, error], error)
	HandleInterrupt(heard string)
}

// RuntimeInfo is shown in the header.
type RuntimeInfo struct {
	Character string
	Provider  string
	Model     string
	Retrieval bool
}

func RunInteractive(ctx context.Context, session Session, info RuntimeInfo) error {
	model := newModel(ctx, session, info)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := program.Run()
	model.cancelTurn()
	if err != nil {
		return err
	}

	fmt.Println(renderGoodbyeBanner(info.Character))
	return nil
}

func renderGoodbyeBanner(character string) string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("88")).
		Padding(1, 2)

	return style.Render("✨ " + displayOrNA(character) + " says goodbye")
}
