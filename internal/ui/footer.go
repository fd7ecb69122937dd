package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"gameupdater/internal/lifecycle"
)

// footerHint defines a key hint for the footer bar.
// These are intentionally shorter than the KeyMap help text.
type footerHint struct {
	key  string
	desc string
}

// Global footer hints (always shown)
var globalFooterHints = []footerHint{
	{"q", "Quit"},
	{"?", "Help"},
}

var offerFooterHints = []footerHint{
	{"⏎", "Install"},
}

var busyFooterHints = []footerHint{
	{"esc", "Cancel"},
}

var failedFooterHints = []footerHint{
	{"r", "Recheck"},
	{"c", "Copy error"},
}

// renderFooter renders the footer bar with pill-style key hints.
func (m *App) renderFooter() string {
	var hints []footerHint
	if m.snap.State.Busy() {
		hints = append(hints, busyFooterHints...)
	}
	switch m.snap.State {
	case lifecycle.StateUpdateFound:
		hints = append(hints, offerFooterHints...)
	case lifecycle.StateFailed:
		if m.snap.CanConfirm() && m.snap.Stage == lifecycle.StateUpdateFound {
			hints = append(hints, footerHint{"⏎", "Retry"})
		}
		hints = append(hints, failedFooterHints...)
	}
	hints = append(hints, globalFooterHints...)

	right := ""
	if m.cfg.Version != "" {
		right = styleFooterMuted.Render("gameupdater " + m.cfg.Version)
	}
	rightWidth := lipgloss.Width(right)
	hints = trimHintsToFit(hints, m.width-rightWidth-4)

	var parts []string
	for _, h := range hints {
		parts = append(parts, keyPill(h.key, h.desc))
	}
	left := strings.Join(parts, "  ")

	spacing := m.width - lipgloss.Width(left) - rightWidth
	if spacing < 2 {
		spacing = 2
	}
	return left + strings.Repeat(" ", spacing) + right
}

// keyPill renders a single key hint as a pill with description.
func keyPill(key, desc string) string {
	return styleKeyPill.Render(" "+key+" ") + " " + styleKeyDesc.Render(desc)
}

// trimHintsToFit drops context hints first, then globals from the end.
func trimHintsToFit(hints []footerHint, availableWidth int) []footerHint {
	globalCount := len(globalFooterHints)
	for len(hints) > 0 && renderHintsWidth(hints) > availableWidth {
		if len(hints) > globalCount {
			hints = hints[1:]
		} else {
			hints = hints[:len(hints)-1]
		}
	}
	return hints
}

// renderHintsWidth calculates the visual width of rendered hints.
func renderHintsWidth(hints []footerHint) int {
	var parts []string
	for _, h := range hints {
		parts = append(parts, keyPill(h.key, h.desc))
	}
	return lipgloss.Width(strings.Join(parts, "  "))
}
