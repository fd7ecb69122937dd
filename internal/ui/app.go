// Package ui is the interactive status screen of the updater. It renders the
// lifecycle snapshot and turns key presses into lifecycle commands.
package ui

import (
	"context"
	"errors"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"gameupdater/internal/debug"
	"gameupdater/internal/lifecycle"
)

const (
	defaultWidth  = 80
	toastDuration = 2 * time.Second
)

// Controller is the part of the orchestrator the screen drives.
type Controller interface {
	State() lifecycle.Snapshot
	Start(ctx context.Context) error
	Confirm(ctx context.Context) error
	Cancel()
	Close() error
}

// Config configures the status screen.
type Config struct {
	// Title is shown until the installed record has been read.
	Title string
	// OutputFormat selects the release notes style (rich, light, plain).
	OutputFormat string
	// Version is the updater's own version, shown in the footer.
	Version string
	// Clipboard replaces clipboard.WriteAll, mostly for tests.
	Clipboard func(string) error
}

// App is the Bubble Tea model of the status screen.
type App struct {
	ctl    Controller
	ctx    context.Context
	keys   KeyMap
	cfg    Config
	snap   lifecycle.Snapshot
	width  int
	height int

	spinner  spinner.Model
	progress progress.Model
	notes    func(string) string

	showHelp   bool
	closing    bool
	toast      string
	toastError bool
	toastStart time.Time
	exitErr    error
}

// NewApp builds the screen around a controller. ctx bounds every command the
// screen issues.
func NewApp(ctx context.Context, ctl Controller, cfg Config) *App {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Clipboard == nil {
		cfg.Clipboard = clipboard.WriteAll
	}
	m := &App{
		ctl:      ctl,
		ctx:      ctx,
		keys:     DefaultKeyMap(),
		cfg:      cfg,
		snap:     ctl.State(),
		width:    defaultWidth,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styleBusyText)),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
	m.resize(defaultWidth, 0)
	return m
}

// Snapshot returns the last state the screen rendered.
func (m *App) Snapshot() lifecycle.Snapshot {
	return m.snap
}

// Err returns the error that should decide the exit status: the failure of
// the last attempt, or nil once the game was launched.
func (m *App) Err() error {
	if m.exitErr != nil {
		return m.exitErr
	}
	if m.snap.State == lifecycle.StateFailed {
		return m.snap.Err
	}
	return nil
}

func (m *App) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startCmd())
}

func (m *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case eventMsg:
		m.snap = msg.Snapshot
		if msg.Kind == lifecycle.EventLaunched {
			debug.Log("ui: game launched, quitting")
			return m, tea.Quit
		}
		return m, nil

	case commandDoneMsg:
		return m, m.handleCommandDone(msg)

	case closedMsg:
		if msg.err != nil {
			debug.WithField("op", "close").WithError(msg.err).Warn("ui: close")
		}
		return m, tea.Quit

	case toastTickMsg:
		if m.toast == "" {
			return m, nil
		}
		if time.Since(m.toastStart) >= toastDuration {
			m.toast = ""
			return m, nil
		}
		return m, scheduleToastTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.closeCmd()
	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return nil
	}
	if m.closing {
		return nil
	}
	if m.showHelp {
		m.showHelp = false
		return nil
	}

	switch {
	case key.Matches(msg, m.keys.Confirm):
		if !m.snap.CanConfirm() {
			return nil
		}
		return m.confirmCmd()
	case key.Matches(msg, m.keys.Cancel):
		if !m.snap.State.Busy() {
			return nil
		}
		m.ctl.Cancel()
		return m.showToast("Cancelling...", false)
	case key.Matches(msg, m.keys.Recheck):
		switch m.snap.State {
		case lifecycle.StateIdle, lifecycle.StateFailed:
			return m.startCmd()
		}
		return nil
	case key.Matches(msg, m.keys.Copy):
		return m.copyFailure()
	}
	return nil
}

func (m *App) handleCommandDone(msg commandDoneMsg) tea.Cmd {
	m.snap = m.ctl.State()
	if msg.err == nil {
		return nil
	}
	switch {
	case errors.Is(msg.err, lifecycle.ErrBusy),
		errors.Is(msg.err, lifecycle.ErrNoOffer),
		errors.Is(msg.err, lifecycle.ErrConfirmDisabled):
		return m.showToast(msg.err.Error(), true)
	case errors.Is(msg.err, lifecycle.ErrClosed):
		return nil
	}
	debug.WithField("op", msg.op).WithError(msg.err).Info("ui: command failed")
	return nil
}

func (m *App) copyFailure() tea.Cmd {
	if m.snap.State != lifecycle.StateFailed || m.snap.Err == nil {
		return nil
	}
	if err := m.cfg.Clipboard(failureText(m.snap)); err != nil {
		return m.showToast("Clipboard unavailable: "+err.Error(), true)
	}
	return m.showToast("Copied the failure to the clipboard.", false)
}

func (m *App) showToast(text string, isError bool) tea.Cmd {
	m.toast = text
	m.toastError = isError
	m.toastStart = time.Now()
	return scheduleToastTick()
}

func (m *App) startCmd() tea.Cmd {
	ctl, ctx := m.ctl, m.ctx
	return func() tea.Msg {
		return commandDoneMsg{op: "check", err: ctl.Start(ctx)}
	}
}

func (m *App) confirmCmd() tea.Cmd {
	ctl, ctx := m.ctl, m.ctx
	return func() tea.Msg {
		return commandDoneMsg{op: "confirm", err: ctl.Confirm(ctx)}
	}
}

// closeCmd cancels in-flight work. The program quits once Close returns.
func (m *App) closeCmd() tea.Cmd {
	if m.closing {
		return nil
	}
	m.closing = true
	if m.snap.State != lifecycle.StateFailed && !m.snap.Launched {
		m.exitErr = errQuit
	}
	ctl := m.ctl
	return func() tea.Msg {
		return closedMsg{err: ctl.Close()}
	}
}

func (m *App) resize(width, height int) {
	if width <= 0 {
		width = defaultWidth
	}
	m.width = width
	m.height = height
	barWidth := width - 8
	if barWidth > 60 {
		barWidth = 60
	}
	if barWidth < 10 {
		barWidth = 10
	}
	m.progress.Width = barWidth
	m.notes = buildMarkdownRenderer(m.cfg.OutputFormat, width-6)
}

// errQuit is reported when the user leaves before the game was launched.
var errQuit = errors.New("quit before launch")

// IsQuit reports whether err means the user quit the screen.
func IsQuit(err error) bool {
	return errors.Is(err, errQuit)
}
