package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"vtagent/pkg/input"
	"vtagent/pkg/pipeline"
)

const wheelStep = 3

type chatMessage struct {
	role        string
	content     string
	parts       []spokenPart
	expressions []string
	interrupted bool
}

// spokenPart is one displayed sentence of a reply. Asides come from think
// tags and are shown but never voiced.
type spokenPart struct {
	text  string
	aside bool
}

type bootTickMsg struct{}

type model struct {
	ctx     context.Context
	session Session

	theme     theme
	spinner   spinner.Model
	input     textinput.Model
	viewport  viewport.Model
	messages  []chatMessage
	width     int
	height    int
	isReady   bool
	lastErr   string
	booting   bool
	bootStep  int
	followLog bool
	runtime   RuntimeInfo

	streaming bool
	turnID    int
	cancel    context.CancelFunc
	stream    <-chan tea.Msg
	heard     []string
	sentences int
}

func newModel(ctx context.Context, session Session, info RuntimeInfo) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Say something..."
	in.Focus()
	in.CharLimit = 0

	vp := viewport.New(80, 12)

	return &model{
		ctx:       ctx,
		session:   session,
		theme:     defaultTheme(),
		spinner:   spin,
		input:     in,
		viewport:  vp,
		width:     100,
		height:    28,
		booting:   true,
		followLog: true,
		runtime:   info,
	}
}

func (m *model) Init() tea.Cmd {
	return bootTickCmd()
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case bootTickMsg:
		if !m.booting {
			return m, nil
		}

		m.bootStep++
		if m.bootStep < len(bootScriptLines())+1 {
			return m, bootTickCmd()
		}

		m.booting = false
		return m, textinput.Blink
	case tea.MouseMsg:
		if m.handleViewportMouse(typed) {
			return m, nil
		}
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c":
			m.cancelTurn()
			return m, tea.Quit
		case "esc":
			if m.streaming {
				m.interrupt()
				return m, nil
			}
			return m, tea.Quit
		}

		if m.booting {
			return m, nil
		}

		if handled := m.handleViewportKey(typed); handled {
			return m, nil
		}

		if typed.String() == "enter" {
			if m.streaming {
				return m, nil
			}

			prompt := strings.TrimSpace(m.input.Value())
			if prompt == "" {
				return m, nil
			}
			if isExitCommand(prompt) {
				return m, tea.Quit
			}

			m.input.SetValue("")
			return m, m.startTurn(input.Text(prompt), prompt)
		}
	case sentenceMsg:
		if typed.turn != m.turnID || !m.streaming {
			return m, nil
		}
		m.appendSentence(typed.output)
		return m, waitForStream(m.stream)
	case turnDoneMsg:
		if typed.turn != m.turnID || !m.streaming {
			return m, nil
		}
		m.finishTurn(typed.err)
		return m, nil
	case spinner.TickMsg:
		if !m.streaming {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	}

	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// startTurn launches a turn in the background and returns the command that
// feeds its sentences back into Update.
func (m *model) startTurn(turn input.BatchInput, shown string) tea.Cmd {
	m.lastErr = ""
	m.messages = append(m.messages, chatMessage{role: "user", content: shown})
	m.followLog = true
	m.refreshViewport(true)

	ctx, cancel := context.WithCancel(m.ctx)
	ch := make(chan tea.Msg)

	m.turnID++
	m.streaming = true
	m.cancel = cancel
	m.stream = ch
	m.heard = nil
	m.sentences = 0

	go streamTurn(ctx, m.session, turn, m.turnID, ch)
	return tea.Batch(m.spinner.Tick, waitForStream(ch))
}

func (m *model) appendSentence(output pipeline.SentenceOutput) {
	if m.sentences == 0 {
		m.messages = append(m.messages, chatMessage{role: "assistant"})
	}
	m.sentences++

	last := &m.messages[len(m.messages)-1]
	if text := strings.TrimSpace(output.Display.Text); text != "" {
		if last.content != "" {
			last.content += " "
		}
		last.content += text
		last.parts = append(last.parts, spokenPart{text: text, aside: output.Tag == pipeline.ThinkTag})
	}
	last.expressions = append(last.expressions, output.Actions.Expressions...)

	if speech := strings.TrimSpace(output.Speech); speech != "" {
		m.heard = append(m.heard, speech)
	}
	m.refreshViewport(false)
}

// interrupt is a barge-in: what was shown so far counts as heard, the rest
// of the turn is dropped.
func (m *model) interrupt() {
	heard := strings.Join(m.heard, " ")
	m.session.HandleInterrupt(heard)
	m.cancelTurn()

	if m.sentences > 0 {
		m.messages[len(m.messages)-1].interrupted = true
	}
	m.finishTurn(nil)
}

func (m *model) finishTurn(err error) {
	m.streaming = false
	m.cancelTurn()

	if err != nil {
		m.lastErr = err.Error()
		m.messages = append(m.messages, chatMessage{role: "error", content: err.Error()})
	}
	m.refreshViewport(false)
}

func (m *model) cancelTurn() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}
	if m.booting {
		return m.bootView()
	}

	header := m.theme.banner.Width(m.width - 2).Render("🎙 " + displayOrNA(m.runtime.Character) + " live")
	retrieval := "off"
	if m.runtime.Retrieval {
		retrieval = "on"
	}
	meta := m.theme.bannerMeta.Render(fmt.Sprintf(
		"provider:%s · model:%s · retrieval:%s · turns:%d",
		displayOrNA(m.runtime.Provider),
		displayOrNA(m.runtime.Model),
		retrieval,
		conversationTurns(m.messages),
	))
	line := m.theme.rule.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	status := m.theme.idle.Render("💡 Enter send  ·  PgUp/PgDn/wheel scroll  ·  End jump latest  ·  🛑 Ctrl+C/Esc quit")
	if m.streaming {
		status = m.theme.speaking.Render(fmt.Sprintf("%s ⚡ speaking... (Esc to interrupt)", m.spinner.View()))
	}
	if m.lastErr != "" {
		status = m.theme.failed.Render("🚨 last turn failed - try again")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.stage.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.promptLabel.Render("👤 You")+" "+m.theme.muted.Render("(type /exit, quit, or :q)"),
		m.theme.prompt.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := max(8, m.height-10)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset
	var sections []string
	for _, item := range m.messages {
		switch item.role {
		case "user":
			sections = append(sections, m.renderCard(
				m.theme.viewer.title.Render("▛▚ [ 👤 ] ▞▜"),
				m.theme.viewer.body.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
			))
		case "assistant":
			style := m.theme.character
			if item.interrupted {
				style = m.theme.cut
			}
			sections = append(sections, m.renderCard(
				style.title.Render("▛▚ [ "+displayOrNA(m.runtime.Character)+" ] ▞▜"),
				style.body.Width(m.viewport.Width).Render(m.characterBody(item)),
			))
		case "error":
			sections = append(sections, m.renderCard(
				m.theme.fault.title.Render("▛▚ [ERROR] ▞▜"),
				m.theme.fault.body.Width(m.viewport.Width).Render(strings.TrimSpace(item.content)),
			))
		}
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

// characterBody lays out a reply: spoken text with asides dimmed, then the
// expression badges, then the cut-off tag.
func (m *model) characterBody(item chatMessage) string {
	spoken := make([]string, 0, len(item.parts))
	for _, part := range item.parts {
		if part.aside {
			spoken = append(spoken, m.theme.aside.Render(part.text))
			continue
		}
		spoken = append(spoken, part.text)
	}

	lines := []string{strings.Join(spoken, " ")}
	if len(item.expressions) > 0 {
		badges := make([]string, 0, len(item.expressions))
		for _, expression := range item.expressions {
			badges = append(badges, m.theme.expression.Render(expression))
		}
		lines = append(lines, "", strings.Join(badges, " "))
	}
	if item.interrupted {
		lines = append(lines, m.theme.cutTag.Render("✂ cut off"))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) bootView() string {
	header := m.theme.banner.Width(m.width - 2).Render("🎙 " + displayOrNA(m.runtime.Character) + " live")
	meta := m.theme.bannerMeta.Render("warming up")
	line := m.theme.rule.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))

	script := bootScriptLines()
	count := min(m.bootStep, len(script))
	visible := make([]string, 0, count+1)
	for i := 0; i < count; i++ {
		visible = append(visible, m.theme.boot.Render(script[i]))
	}
	if m.bootStep > len(script) {
		visible = append(visible, m.theme.bootReady.Render("✅ on air"))
	}

	body := m.theme.stage.Width(m.width - 2).Render(strings.Join(visible, "\n"))
	return lipgloss.JoinVertical(lipgloss.Left, header, meta, line, body)
}

func bootTickCmd() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(_ time.Time) tea.Msg {
		return bootTickMsg{}
	})
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	case "home":
		m.viewport.GotoTop()
		m.followLog = false
		return true
	case "end":
		m.viewport.GotoBottom()
		m.followLog = true
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(wheelStep)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(wheelStep)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func bootScriptLines() []string {
	return []string{
		"[BOOT] loading persona",
		"[BOOT] arming sentence pipeline",
		"[BOOT] checking knowledge vault",
		"[BOOT] opening microphone",
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}

func conversationTurns(messages []chatMessage) int {
	count := 0
	for _, message := range messages {
		if message.role == "user" {
			count++
		}
	}

	return count
}

func isExitCommand(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "exit", "/exit", "quit", ":q":
		return true
	default:
		return false
	}
}
