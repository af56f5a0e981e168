package chat

import "github.com/charmbracelet/lipgloss"

// Stage palette. Pinks and violets for the character, amber for the viewer.
var (
	colorInk       = lipgloss.Color("16")
	colorPaper     = lipgloss.Color("255")
	colorBackdrop  = lipgloss.Color("234")
	colorCharacter = lipgloss.Color("213")
	colorViewer    = lipgloss.Color("221")
	colorCut       = lipgloss.Color("208")
	colorFault     = lipgloss.Color("197")
	colorMuted     = lipgloss.Color("245")
	colorLive      = lipgloss.Color("48")
)

// card is the title tab and body of one conversation bubble.
type card struct {
	title lipgloss.Style
	body  lipgloss.Style
}

func newCard(accent lipgloss.Color, border lipgloss.Border) card {
	return card{
		title: lipgloss.NewStyle().Bold(true).Foreground(colorInk).Background(accent).Padding(0, 1),
		body:  lipgloss.NewStyle().Border(border).BorderForeground(accent).Background(colorBackdrop).Padding(0, 1),
	}
}

type theme struct {
	banner     lipgloss.Style
	bannerMeta lipgloss.Style
	rule       lipgloss.Style
	stage      lipgloss.Style

	boot      lipgloss.Style
	bootReady lipgloss.Style

	viewer    card
	character card
	// cut is a character card whose reply was interrupted.
	cut   card
	fault card

	expression lipgloss.Style
	aside      lipgloss.Style
	cutTag     lipgloss.Style

	idle     lipgloss.Style
	speaking lipgloss.Style
	failed   lipgloss.Style

	muted       lipgloss.Style
	promptLabel lipgloss.Style
	prompt      lipgloss.Style
}

func defaultTheme() theme {
	fault := newCard(colorFault, lipgloss.ThickBorder())
	fault.body = fault.body.Foreground(colorFault)

	return theme{
		banner:     lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(colorPaper).Background(lipgloss.Color("90")),
		bannerMeta: lipgloss.NewStyle().Foreground(lipgloss.Color("183")),
		rule:       lipgloss.NewStyle().Foreground(lipgloss.Color("96")),
		stage:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("96")).Padding(0, 1),

		boot:      lipgloss.NewStyle().Foreground(lipgloss.Color("183")),
		bootReady: lipgloss.NewStyle().Bold(true).Foreground(colorLive),

		viewer:    newCard(colorViewer, lipgloss.RoundedBorder()),
		character: newCard(colorCharacter, lipgloss.RoundedBorder()),
		cut:       newCard(colorCut, lipgloss.NormalBorder()),
		fault:     fault,

		expression: lipgloss.NewStyle().Foreground(colorInk).Background(lipgloss.Color("183")).Padding(0, 1),
		aside:      lipgloss.NewStyle().Italic(true).Foreground(colorMuted),
		cutTag:     lipgloss.NewStyle().Bold(true).Foreground(colorCut),

		idle:     lipgloss.NewStyle().Foreground(colorMuted),
		speaking: lipgloss.NewStyle().Bold(true).Foreground(colorCharacter),
		failed:   lipgloss.NewStyle().Bold(true).Foreground(colorFault),

		muted:       lipgloss.NewStyle().Foreground(colorMuted),
		promptLabel: lipgloss.NewStyle().Bold(true).Foreground(colorViewer),
		prompt:      lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorViewer).Padding(0, 1),
	}
}
