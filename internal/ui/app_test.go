package ui

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	appErrors "gameupdater/internal/errors"
	"gameupdater/internal/lifecycle"
	"gameupdater/internal/update"
)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

type fakeController struct {
	mu       sync.Mutex
	snap     lifecycle.Snapshot
	starts   int
	confirms int
	cancels  int
	closed   bool
	err      error
}

func (f *fakeController) State() lifecycle.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeController) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.err
}

func (f *fakeController) Confirm(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	return f.err
}

func (f *fakeController) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeController) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestApp(t *testing.T, snap lifecycle.Snapshot) (*App, *fakeController) {
	t.Helper()
	ctl := &fakeController{snap: snap}
	app := NewApp(context.Background(), ctl, Config{
		Title:        "Space Game",
		OutputFormat: "plain",
		Version:      "v0.3.0",
		Clipboard:    func(string) error { return nil },
	})
	app.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return app, ctl
}

func plainView(app *App) string {
	return ansi.Strip(app.View())
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func offerSnapshot() lifecycle.Snapshot {
	return lifecycle.Snapshot{
		State:     lifecycle.StateUpdateFound,
		SessionID: "sess-1",
		Current:   update.VersionRecord{Title: "Space Game", Version: "1.0.0"},
		Offer: lifecycle.Offer{
			Source:        lifecycle.SourceRemote,
			DownloadURL:   "https://example.test/game.zip",
			LatestVersion: "1.1.0",
			ReleaseNotes:  "Fixed the warp drive.",
			Relation:      update.RelationUpgrade,
		},
	}
}

func failedSnapshot(stage lifecycle.State) lifecycle.Snapshot {
	return lifecycle.Snapshot{
		State:     lifecycle.StateFailed,
		Stage:     stage,
		SessionID: "sess-2",
		Current:   update.VersionRecord{Title: "Space Game", Version: "1.0.0"},
		Err:       appErrors.New(appErrors.CodeNetwork, "update server unreachable", nil),
	}
}

func TestViewFollowsState(t *testing.T) {
	tests := []struct {
		name string
		snap lifecycle.Snapshot
		want []string
	}{
		{
			name: "Checking",
			snap: lifecycle.Snapshot{State: lifecycle.StateChecking},
			want: []string{"GAME UPDATER", "Space Game", "Checking for updates"},
		},
		{
			name: "UpToDate",
			snap: lifecycle.Snapshot{State: lifecycle.StateUpToDate, Current: update.VersionRecord{Title: "Space Game", Version: "1.0.0"}},
			want: []string{"Up to date", "Launching Space Game", "1.0.0"},
		},
		{
			name: "Offer",
			snap: offerSnapshot(),
			want: []string{"Update available", "1.0.0 → 1.1.0 (upgrade)", "update server", "Fixed the warp drive.", "Press enter to install"},
		},
		{
			name: "Installing",
			snap: lifecycle.Snapshot{State: lifecycle.StateInstalling, Offer: lifecycle.Offer{LatestVersion: "1.1.0"}},
			want: []string{"Installing 1.1.0"},
		},
		{
			name: "ReadyToLaunch",
			snap: lifecycle.Snapshot{State: lifecycle.StateReadyToLaunch, Installed: update.VersionRecord{Title: "Space Game", Version: "1.1.0"}},
			want: []string{"Installed 1.1.0", "Launching Space Game"},
		},
		{
			name: "Failed",
			snap: failedSnapshot(lifecycle.StateChecking),
			want: []string{"Network error while checking for updates", "update server unreachable", "Press r to check again"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newTestApp(t, lifecycle.Snapshot{})
			app.Update(eventMsg{Kind: lifecycle.EventState, Snapshot: tt.snap})
			view := plainView(app)
			for _, want := range tt.want {
				if !strings.Contains(view, want) {
					t.Errorf("expected view to contain %q, got:\n%s", want, view)
				}
			}
		})
	}
}

func TestOfflineOfferShowsArchive(t *testing.T) {
	snap := offerSnapshot()
	snap.Offer = lifecycle.Offer{Source: lifecycle.SourceOffline, ArchivePath: "/media/usb/update.zip"}
	app, _ := newTestApp(t, snap)
	view := plainView(app)
	for _, want := range []string{"offline media", "/media/usb/update.zip", "1.0.0 → new build"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q, got:\n%s", want, view)
		}
	}
}

func TestDownloadProgressView(t *testing.T) {
	t.Run("KnownTotal", func(t *testing.T) {
		app, _ := newTestApp(t, lifecycle.Snapshot{})
		app.Update(eventMsg{Kind: lifecycle.EventProgress, Snapshot: lifecycle.Snapshot{
			State:    lifecycle.StateDownloading,
			Offer:    lifecycle.Offer{LatestVersion: "1.1.0"},
			Progress: update.DownloadProgress{BytesRead: 512, TotalBytes: 1024},
		}})
		view := plainView(app)
		for _, want := range []string{"Downloading 1.1.0", "512 B / 1.0 KiB", "50%"} {
			if !strings.Contains(view, want) {
				t.Errorf("expected view to contain %q, got:\n%s", want, view)
			}
		}
	})

	t.Run("UnknownTotal", func(t *testing.T) {
		app, _ := newTestApp(t, lifecycle.Snapshot{})
		app.Update(eventMsg{Kind: lifecycle.EventProgress, Snapshot: lifecycle.Snapshot{
			State:    lifecycle.StateDownloading,
			Progress: update.DownloadProgress{BytesRead: 2048},
		}})
		view := plainView(app)
		if !strings.Contains(view, "2.0 KiB received, size unknown") {
			t.Errorf("expected indeterminate label, got:\n%s", view)
		}
		if strings.Contains(view, "%") {
			t.Errorf("did not expect a percentage, got:\n%s", view)
		}
	})
}

func TestConfirmKey(t *testing.T) {
	t.Run("IgnoredWithoutOffer", func(t *testing.T) {
		app, _ := newTestApp(t, lifecycle.Snapshot{State: lifecycle.StateChecking})
		_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
		if cmd != nil {
			t.Fatal("expected no command while checking")
		}
	})

	for _, k := range []tea.KeyMsg{{Type: tea.KeyEnter}, runes("u")} {
		t.Run("Confirms/"+k.String(), func(t *testing.T) {
			app, ctl := newTestApp(t, offerSnapshot())
			_, cmd := app.Update(k)
			if cmd == nil {
				t.Fatal("expected confirm command")
			}
			msg := cmd()
			done, ok := msg.(commandDoneMsg)
			if !ok || done.op != "confirm" {
				t.Fatalf("expected confirm result, got %#v", msg)
			}
			if ctl.confirms != 1 {
				t.Errorf("expected one Confirm, got %d", ctl.confirms)
			}
		})
	}

	t.Run("RetryAfterVanishedArchive", func(t *testing.T) {
		app, ctl := newTestApp(t, failedSnapshot(lifecycle.StateUpdateFound))
		_, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter})
		if cmd == nil {
			t.Fatal("expected confirm command")
		}
		cmd()
		if ctl.confirms != 1 {
			t.Errorf("expected one Confirm, got %d", ctl.confirms)
		}
	})
}

func TestRecheckKey(t *testing.T) {
	app, ctl := newTestApp(t, failedSnapshot(lifecycle.StateDownloading))
	_, cmd := app.Update(runes("r"))
	if cmd == nil {
		t.Fatal("expected start command")
	}
	if done, ok := cmd().(commandDoneMsg); !ok || done.op != "check" {
		t.Fatal("expected check result")
	}
	if ctl.starts != 1 {
		t.Errorf("expected one Start, got %d", ctl.starts)
	}

	busy, _ := newTestApp(t, lifecycle.Snapshot{State: lifecycle.StateDownloading})
	if _, cmd := busy.Update(runes("r")); cmd != nil {
		t.Error("expected recheck to be ignored while downloading")
	}
}

func TestCancelKey(t *testing.T) {
	app, ctl := newTestApp(t, lifecycle.Snapshot{State: lifecycle.StateDownloading})
	app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	if ctl.cancels != 1 {
		t.Fatalf("expected one Cancel, got %d", ctl.cancels)
	}
	if !strings.Contains(plainView(app), "Cancelling") {
		t.Error("expected cancelling toast")
	}

	idle, idleCtl := newTestApp(t, offerSnapshot())
	idle.Update(runes("x"))
	if idleCtl.cancels != 0 {
		t.Error("expected cancel to be ignored when nothing runs")
	}
}

func TestRejectedCommandShowsToast(t *testing.T) {
	app, ctl := newTestApp(t, offerSnapshot())
	ctl.snap = lifecycle.Snapshot{State: lifecycle.StateDownloading}
	_, cmd := app.Update(commandDoneMsg{op: "confirm", err: lifecycle.ErrBusy})
	if cmd == nil {
		t.Fatal("expected toast tick")
	}
	view := plainView(app)
	if !strings.Contains(view, lifecycle.ErrBusy.Error()) {
		t.Errorf("expected busy toast, got:\n%s", view)
	}
	if app.Snapshot().State != lifecycle.StateDownloading {
		t.Errorf("expected snapshot refresh, got %s", app.Snapshot().State)
	}
}

func TestCopyFailure(t *testing.T) {
	var copied string
	app, _ := newTestApp(t, failedSnapshot(lifecycle.StateChecking))
	app.cfg.Clipboard = func(s string) error {
		copied = s
		return nil
	}

	app.Update(runes("c"))
	for _, want := range []string{"stage: checking", "code: network", "session: sess-2", "error: update server unreachable"} {
		if !strings.Contains(copied, want) {
			t.Errorf("expected clipboard text to contain %q, got %q", want, copied)
		}
	}
	if !strings.Contains(plainView(app), "Copied the failure") {
		t.Error("expected copy toast")
	}

	t.Run("ClipboardError", func(t *testing.T) {
		app, _ := newTestApp(t, failedSnapshot(lifecycle.StateChecking))
		app.cfg.Clipboard = func(string) error { return errors.New("no display") }
		app.Update(runes("c"))
		if !strings.Contains(plainView(app), "Clipboard unavailable: no display") {
			t.Error("expected clipboard error toast")
		}
	})

	t.Run("IgnoredWhenNotFailed", func(t *testing.T) {
		app, _ := newTestApp(t, offerSnapshot())
		called := false
		app.cfg.Clipboard = func(string) error {
			called = true
			return nil
		}
		app.Update(runes("c"))
		if called {
			t.Error("did not expect clipboard write")
		}
	})
}

func TestLaunchedEventQuits(t *testing.T) {
	app, _ := newTestApp(t, lifecycle.Snapshot{})
	snap := lifecycle.Snapshot{State: lifecycle.StateUpToDate, Launched: true}
	_, cmd := app.Update(eventMsg{Kind: lifecycle.EventLaunched, Snapshot: snap})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
	if err := app.Err(); err != nil {
		t.Errorf("expected nil exit error after launch, got %v", err)
	}
}

func TestQuitClosesController(t *testing.T) {
	app, ctl := newTestApp(t, lifecycle.Snapshot{State: lifecycle.StateDownloading})
	_, cmd := app.Update(runes("q"))
	if cmd == nil {
		t.Fatal("expected close command")
	}
	if _, again := app.Update(tea.KeyMsg{Type: tea.KeyCtrlC}); again != nil {
		t.Error("expected a second quit to be ignored")
	}

	msg := cmd()
	if !ctl.closed {
		t.Fatal("expected Close to be called")
	}
	_, quit := app.Update(msg)
	if quit == nil {
		t.Fatal("expected quit after close")
	}
	if _, ok := quit().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
	if !IsQuit(app.Err()) {
		t.Errorf("expected quit error, got %v", app.Err())
	}
}

func TestErrReportsFailure(t *testing.T) {
	app, _ := newTestApp(t, failedSnapshot(lifecycle.StateInstalling))
	if !appErrors.IsCode(app.Err(), appErrors.CodeNetwork) {
		t.Errorf("expected failure error, got %v", app.Err())
	}
}

func TestHelpToggle(t *testing.T) {
	app, ctl := newTestApp(t, offerSnapshot())
	app.Update(runes("?"))
	view := plainView(app)
	if !strings.Contains(view, "KEYS") || !strings.Contains(view, "Install the offered update") {
		t.Fatalf("expected help overlay, got:\n%s", view)
	}

	// Any key closes help without acting.
	if _, cmd := app.Update(tea.KeyMsg{Type: tea.KeyEnter}); cmd != nil {
		t.Error("expected enter to only close help")
	}
	if ctl.confirms != 0 {
		t.Error("did not expect Confirm")
	}
	if strings.Contains(plainView(app), "KEYS") {
		t.Error("expected help to be closed")
	}
}

func TestRelayDropsEventsBeforeAttach(t *testing.T) {
	var r Relay
	r.Observe(lifecycle.Event{Kind: lifecycle.EventState})
}
