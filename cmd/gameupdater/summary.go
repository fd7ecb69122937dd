package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	appErrors "gameupdater/internal/errors"
	"gameupdater/internal/lifecycle"
)

var (
	primaryColor = lipgloss.Color("99")
	dimColor     = lipgloss.Color("246")
	textColor    = lipgloss.Color("255")
	goodColor    = lipgloss.Color("#50FA7B")
	badColor     = lipgloss.Color("203")
)

// ExitSummary holds data for the line printed after the status screen exits.
type ExitSummary struct {
	Version   string
	StartTime time.Time
	Snapshot  lifecycle.Snapshot
	// Quit is set when the user left before the game was started.
	Quit bool
}

// printExitSummary prints a formatted exit summary to the writer.
// This is displayed after the TUI exits alt screen mode.
func printExitSummary(w io.Writer, summary ExitSummary) {
	appStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(primaryColor)

	versionStyle := lipgloss.NewStyle().
		Foreground(dimColor)

	goodStyle := lipgloss.NewStyle().Foreground(goodColor)
	badStyle := lipgloss.NewStyle().Foreground(badColor)
	textStyle := lipgloss.NewStyle().Foreground(textColor)

	versionStr := ""
	if summary.Version != "" {
		versionStr = versionStyle.Render(fmt.Sprintf(" %s", summary.Version))
	}
	sessionStr := versionStyle.Render(fmt.Sprintf(" • %s", formatDuration(time.Since(summary.StartTime))))

	snap := summary.Snapshot
	var outcome string
	switch {
	case snap.State == lifecycle.StateFailed:
		outcome = badStyle.Render(fmt.Sprintf("%s while %s: %v", appErrors.Kind(snap.Err), snap.Stage, snap.Err))
	case summary.Quit:
		outcome = textStyle.Render("Quit before the game was started")
	case snap.State == lifecycle.StateReadyToLaunch:
		outcome = goodStyle.Render(fmt.Sprintf("Updated %s → %s", snap.Current.Version, snap.Installed.Version))
	case snap.State == lifecycle.StateUpToDate:
		outcome = goodStyle.Render(fmt.Sprintf("Up to date (%s)", snap.Current.Version))
	default:
		outcome = textStyle.Render("Stopped while " + snap.State.String())
	}
	if snap.Launched {
		outcome += textStyle.Render(", game started")
	}

	_, _ = fmt.Fprintln(w, appStyle.Render("Game Updater")+versionStr+sessionStr)
	_, _ = fmt.Fprintln(w, outcome)
}

// formatDuration formats a duration into a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if mins == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}
