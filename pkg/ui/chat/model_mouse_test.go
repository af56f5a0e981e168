package chat

import (
	"fmt"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

// liveTurn is a model mid-reply with enough sentences to overflow a small
// viewport.
func liveTurn(t *testing.T) *model {
	t.Helper()

	m := streamingModel(&fakeSession{})
	m.viewport.Width = 40
	m.viewport.Height = 5
	for i := range 20 {
		m.Update(sentenceMsg{turn: 1, output: sentence(fmt.Sprintf("This is sentence %d of the reply.", i+1))})
	}
	require.True(t, m.viewport.AtBottom())
	require.True(t, m.followLog)
	return m
}

func wheel(button tea.MouseButton) tea.MouseMsg {
	return tea.MouseMsg{Action: tea.MouseActionPress, Button: button}
}

func TestWheelUpDuringTurnHoldsPosition(t *testing.T) {
	m := liveTurn(t)

	m.Update(wheel(tea.MouseButtonWheelUp))
	require.False(t, m.followLog)
	held := m.viewport.YOffset

	m.Update(sentenceMsg{turn: 1, output: sentence("A sentence that arrives while reading back.")})

	require.Equal(t, held, m.viewport.YOffset)
	require.False(t, m.viewport.AtBottom())
	require.True(t, m.streaming)
}

func TestWheelDownToLatestResumesFollowDuringTurn(t *testing.T) {
	m := liveTurn(t)

	m.Update(wheel(tea.MouseButtonWheelUp))
	require.False(t, m.followLog)

	m.Update(wheel(tea.MouseButtonWheelDown))
	require.True(t, m.viewport.AtBottom())
	require.True(t, m.followLog)

	m.Update(sentenceMsg{turn: 1, output: sentence("Still following along.")})
	require.True(t, m.viewport.AtBottom())
}

func TestWheelDownShortOfLatestKeepsHolding(t *testing.T) {
	m := liveTurn(t)

	m.Update(wheel(tea.MouseButtonWheelUp))
	m.Update(wheel(tea.MouseButtonWheelUp))
	m.Update(wheel(tea.MouseButtonWheelDown))
	require.False(t, m.viewport.AtBottom())
	require.False(t, m.followLog)

	held := m.viewport.YOffset
	m.Update(sentenceMsg{turn: 1, output: sentence("Not shown until scrolled to.")})
	require.Equal(t, held, m.viewport.YOffset)
}

func TestOtherMouseEventsLeaveFollowAlone(t *testing.T) {
	m := liveTurn(t)

	require.False(t, m.handleViewportMouse(wheel(tea.MouseButtonLeft)))
	require.False(t, m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionRelease, Button: tea.MouseButtonWheelUp}))
	require.True(t, m.followLog)

	m.Update(sentenceMsg{turn: 1, output: sentence("Clicks do not pause the reply.")})
	require.True(t, m.viewport.AtBottom())
}

func TestFinishedTurnKeepsReaderPosition(t *testing.T) {
	m := liveTurn(t)

	m.Update(wheel(tea.MouseButtonWheelUp))
	held := m.viewport.YOffset

	m.Update(turnDoneMsg{turn: 1})
	require.False(t, m.streaming)
	require.Equal(t, held, m.viewport.YOffset)
}
