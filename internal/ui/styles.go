package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

var (
	cPurple     = lipgloss.Color("99")
	cCyan       = lipgloss.Color("39")
	cNeonGreen  = lipgloss.Color("118")
	cRed        = lipgloss.Color("203")
	cGold       = lipgloss.Color("220")
	cBrightGray = lipgloss.Color("246")
	cLightGray  = lipgloss.Color("250")
	cWhite      = lipgloss.Color("255")
	cField      = lipgloss.Color("63")

	styleAppHeader = lipgloss.NewStyle().
			Foreground(cWhite).
			Background(cPurple).
			Bold(true).
			Padding(0, 1)

	styleHeaderInfo = lipgloss.NewStyle().
			Foreground(cLightGray)

	styleBody = lipgloss.NewStyle().
			Padding(1, 2)

	styleBusyText = lipgloss.NewStyle().Foreground(cCyan).Bold(true)
	styleDoneText = lipgloss.NewStyle().Foreground(cNeonGreen).Bold(true)
	styleDimText  = lipgloss.NewStyle().Foreground(cBrightGray)

	styleVersion = lipgloss.NewStyle().Foreground(cGold).Bold(true)

	styleField = lipgloss.NewStyle().
			Foreground(cField).
			Bold(true).
			Width(10)

	styleVal = lipgloss.NewStyle().Foreground(cWhite)

	styleNotes = lipgloss.NewStyle().
			MarginTop(1)

	styleErrorIndicator = lipgloss.NewStyle().
				Foreground(cRed).
				Bold(true)

	styleErrorBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(cRed).
			Foreground(cWhite).
			Padding(0, 1)

	styleToast = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(cNeonGreen).
			Foreground(cWhite).
			Padding(0, 1)

	// Help overlay styles
	styleHelpOverlay = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(cPurple).
				Padding(1, 2)

	styleHelpTitle = lipgloss.NewStyle().
			Foreground(cGold).
			Bold(true)

	styleHelpKey = lipgloss.NewStyle().
			Foreground(cCyan).
			Bold(true).
			Width(10)

	styleHelpDesc = lipgloss.NewStyle().
			Foreground(cLightGray)

	styleHelpFooter = lipgloss.NewStyle().
			Foreground(cBrightGray).
			Italic(true)

	// Footer bar styles
	styleKeyPill = lipgloss.NewStyle().
			Background(cPurple).
			Foreground(cWhite).
			Bold(true)

	styleKeyDesc = lipgloss.NewStyle().
			Foreground(cBrightGray)

	styleFooterMuted = lipgloss.NewStyle().
				Foreground(cBrightGray)
)

// buildMarkdownRenderer returns a release-notes renderer for the given style.
// "plain" and any glamour failure fall back to word wrapping.
func buildMarkdownRenderer(format string, width int) func(string) string {
	fallback := func(input string) string {
		return wordwrap.String(input, width)
	}

	style := strings.ToLower(strings.TrimSpace(format))
	if style == "" || style == "rich" || style == "dark" {
		style = "dark"
	}
	if style == "plain" {
		return fallback
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fallback
	}
	return func(input string) string {
		out, err := renderer.Render(input)
		if err != nil {
			return fallback(input)
		}
		return strings.TrimSpace(out)
	}
}
