package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	appErrors "gameupdater/internal/errors"
	"gameupdater/internal/lifecycle"
	"gameupdater/internal/update"
)

func (m *App) View() string {
	header := m.renderHeader()
	footer := m.renderFooter()

	var body string
	if m.showHelp {
		body = renderHelpOverlay(m.keys)
	} else {
		body = styleBody.Render(m.renderBody())
	}

	parts := []string{header, body}
	if m.toast != "" {
		parts = append(parts, m.renderToast())
	}
	parts = append(parts, footer)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m *App) renderHeader() string {
	title := styleAppHeader.Render("GAME UPDATER")
	info := m.gameTitle()
	if v := m.snap.Current.Version; v != "" {
		info += "  " + styleVersion.Render(v)
	}
	return title + " " + styleHeaderInfo.Render(info)
}

func (m *App) gameTitle() string {
	if t := strings.TrimSpace(m.snap.Current.Title); t != "" {
		return t
	}
	return m.cfg.Title
}

func (m *App) renderBody() string {
	snap := m.snap
	switch snap.State {
	case lifecycle.StateIdle:
		return styleDimText.Render("Starting...")
	case lifecycle.StateChecking:
		return m.spinner.View() + " " + styleBusyText.Render("Checking for updates...")
	case lifecycle.StateUpToDate:
		lines := []string{styleDoneText.Render("✓ Up to date")}
		lines = append(lines, m.launchLine())
		return strings.Join(lines, "\n")
	case lifecycle.StateUpdateFound:
		return m.renderOffer()
	case lifecycle.StateDownloading:
		return m.renderDownload()
	case lifecycle.StateInstalling:
		return m.spinner.View() + " " + styleBusyText.Render("Installing "+offerLabel(snap.Offer)+"...")
	case lifecycle.StateFinalizing:
		return m.spinner.View() + " " + styleBusyText.Render("Recording the installed version...")
	case lifecycle.StateReadyToLaunch:
		installed := snap.Installed.Version
		if installed == "" {
			installed = offerLabel(snap.Offer)
		}
		lines := []string{styleDoneText.Render("✓ Installed " + installed)}
		lines = append(lines, m.launchLine())
		return strings.Join(lines, "\n")
	case lifecycle.StateFailed:
		return m.renderFailure()
	}
	return ""
}

func (m *App) launchLine() string {
	if m.snap.Launched {
		return styleDimText.Render("Started " + m.gameTitle() + ".")
	}
	return m.spinner.View() + " " + styleBusyText.Render("Launching "+m.gameTitle()+"...")
}

func (m *App) renderOffer() string {
	of := m.snap.Offer
	rows := []string{
		styleDoneText.Render("Update available"),
		"",
		field("Version", versionChange(m.snap.Current.Version, of)),
		field("Source", of.Source.Label()),
	}
	if of.Source == lifecycle.SourceOffline && of.ArchivePath != "" {
		rows = append(rows, field("Archive", of.ArchivePath))
	}
	if notes := strings.TrimSpace(of.ReleaseNotes); notes != "" && m.notes != nil {
		rows = append(rows, styleNotes.Render(m.notes(notes)))
	}
	rows = append(rows, "", styleDimText.Render("Press enter to install, q to quit."))
	return strings.Join(rows, "\n")
}

func (m *App) renderDownload() string {
	p := m.snap.Progress
	head := styleBusyText.Render("Downloading " + offerLabel(m.snap.Offer))
	if pct, ok := p.Percent(); ok {
		line := fmt.Sprintf("%s / %s  %3.0f%%",
			humanize.IBytes(p.BytesRead), humanize.IBytes(p.TotalBytes), pct*100)
		return strings.Join([]string{head, m.progress.ViewAs(pct), styleDimText.Render(line)}, "\n")
	}
	line := fmt.Sprintf("%s received, size unknown", humanize.IBytes(p.BytesRead))
	return strings.Join([]string{head, m.spinner.View() + " " + styleDimText.Render(line)}, "\n")
}

func (m *App) renderFailure() string {
	snap := m.snap
	headline := styleErrorIndicator.Render("✗ " + appErrors.Kind(snap.Err) + " while " + stageVerb(snap.Stage))
	msg := "unknown error"
	if snap.Err != nil {
		msg = snap.Err.Error()
	}
	boxWidth := m.width - 8
	if boxWidth < 20 {
		boxWidth = 20
	}
	box := styleErrorBox.Render(ansi.Wordwrap(msg, boxWidth, " /"))

	hint := "Press r to check again, c to copy the error."
	if snap.Stage == lifecycle.StateUpdateFound {
		hint = "Press enter to retry, r to check again, c to copy the error."
	}
	return strings.Join([]string{headline, box, "", styleDimText.Render(hint)}, "\n")
}

func (m *App) renderToast() string {
	style := styleToast
	if m.toastError {
		style = style.BorderForeground(cRed)
	}
	return style.Render(m.toast)
}

func field(name, value string) string {
	return styleField.Render(name) + styleVal.Render(value)
}

// offerLabel names the offered build for status lines.
func offerLabel(of lifecycle.Offer) string {
	if v := strings.TrimSpace(of.LatestVersion); v != "" {
		return v
	}
	return "update"
}

func versionChange(current string, of lifecycle.Offer) string {
	if current == "" {
		current = "unknown"
	}
	latest := of.LatestVersion
	if latest == "" {
		return current + " → new build"
	}
	out := current + " → " + latest
	switch of.Relation {
	case update.RelationUpgrade, update.RelationDowngrade, update.RelationDifferent:
		out += " (" + of.Relation.String() + ")"
	}
	return out
}

func stageVerb(stage lifecycle.State) string {
	switch stage {
	case lifecycle.StateChecking:
		return "checking for updates"
	case lifecycle.StateUpdateFound:
		return "preparing the update"
	case lifecycle.StateDownloading:
		return "downloading"
	case lifecycle.StateInstalling:
		return "installing"
	case lifecycle.StateFinalizing:
		return "recording the installed version"
	case lifecycle.StateUpToDate, lifecycle.StateReadyToLaunch:
		return "launching"
	default:
		return stage.String()
	}
}

// failureText is the plain text copied to the clipboard for a failure.
func failureText(snap lifecycle.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "stage: %s\n", snap.Stage)
	fmt.Fprintf(&b, "code: %s\n", appErrors.CodeOf(snap.Err))
	if snap.SessionID != "" {
		fmt.Fprintf(&b, "session: %s\n", snap.SessionID)
	}
	if snap.Current.Version != "" {
		fmt.Fprintf(&b, "installed: %s\n", snap.Current.Version)
	}
	if snap.Err != nil {
		fmt.Fprintf(&b, "error: %s\n", snap.Err)
	}
	return strings.TrimRight(b.String(), "\n")
}
