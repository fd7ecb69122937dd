package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
)

// helpBindings lists the bindings in display order.
// Text is derived from binding.Help() to keep a single source of truth.
func helpBindings(keys KeyMap) []key.Binding {
	return []key.Binding{
		keys.Confirm,
		keys.Cancel,
		keys.Recheck,
		keys.Copy,
		keys.Help,
		keys.Quit,
	}
}

// renderHelpOverlay renders the key reference shown by "?".
func renderHelpOverlay(keys KeyMap) string {
	lines := []string{styleHelpTitle.Render("KEYS"), ""}
	for _, b := range helpBindings(keys) {
		h := b.Help()
		lines = append(lines, styleHelpKey.Render(h.Key)+styleHelpDesc.Render(h.Desc))
	}
	lines = append(lines, "", styleHelpFooter.Render("Press any key to close"))
	return styleHelpOverlay.Render(strings.Join(lines, "\n"))
}
