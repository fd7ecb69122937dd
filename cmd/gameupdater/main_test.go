package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	appErrors "gameupdater/internal/errors"
	"gameupdater/internal/history"
	"gameupdater/internal/lifecycle"
	"gameupdater/internal/ui"
)

type testEnv struct {
	*env
	dir    string
	stdout *bytes.Buffer
	stderr *bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	e := newEnv(stdout, stderr)
	e.workDir = dir
	e.exeDir = dir
	return &testEnv{env: e, dir: dir, stdout: stdout, stderr: stderr}
}

// writeSettings writes settings.json into the test directory with a valid
// baseline that fields may override.
func (te *testEnv) writeSettings(t *testing.T, fields map[string]any) {
	t.Helper()
	settings := map[string]any{
		"api_url":           "http://127.0.0.1:1/api/update",
		"launch_command":    filepath.Join(te.dir, "launch.sh"),
		"download_location": filepath.Join(te.dir, "downloads"),
		"install_location":  filepath.Join(te.dir, "game"),
		"version_file":      filepath.Join(te.dir, "version.json"),
	}
	for k, v := range fields {
		settings[k] = v
	}
	data, err := json.Marshal(settings)
	if err != nil {
		t.Fatalf("marshal settings: %v", err)
	}
	writeFile(t, filepath.Join(te.dir, "settings.json"), string(data), 0o644)
}

func writeFile(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := io.WriteString(w, content); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// updateServer answers the version check with an offer of 1.1.0 and serves
// the payload.
func updateServer(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("/api/update", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"update_url":"`+server.URL+`/game.zip","latest_version":"1.1.0","release_notes":"Fixed the warp drive."}`)
	})
	mux.HandleFunc("/game.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write(payload)
	})
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"Nil", nil, exitOK},
		{"Config", appErrors.New(appErrors.CodeConfigurationError, "api_url is required", nil), exitConfigError},
		{"Network", appErrors.New(appErrors.CodeNetwork, "unreachable", nil), exitFailure},
		{"Plain", errors.New("boom"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	te := newTestEnv(t)
	if code := run(context.Background(), []string{"version"}, te.env); code != exitOK {
		t.Fatalf("exit code %d, stderr %s", code, te.stderr)
	}
	out := te.stdout.String()
	if !strings.Contains(out, "gameupdater version "+Version) {
		t.Errorf("unexpected version output %q", out)
	}
	if !strings.Contains(out, "OS/Arch: "+runtime.GOOS) {
		t.Errorf("expected platform line, got %q", out)
	}
}

func TestMissingSettingsIsConfigError(t *testing.T) {
	te := newTestEnv(t)
	code := run(context.Background(), []string{"check"}, te.env)
	if code != exitConfigError {
		t.Fatalf("exit code = %d, want %d", code, exitConfigError)
	}
	if !strings.Contains(te.stderr.String(), "api_url") {
		t.Errorf("expected api_url problem on stderr, got %q", te.stderr.String())
	}
}

func TestExplicitConfigMissing(t *testing.T) {
	te := newTestEnv(t)
	code := run(context.Background(), []string{"--config", filepath.Join(te.dir, "nope.json"), "history"}, te.env)
	if code != exitConfigError {
		t.Fatalf("exit code = %d, want %d", code, exitConfigError)
	}
}

func TestHistoryCommand(t *testing.T) {
	te := newTestEnv(t)
	dbPath := filepath.Join(te.dir, "history.db")
	te.writeSettings(t, map[string]any{"history_db": dbPath})

	ctx := context.Background()
	store, err := history.Open(ctx, dbPath)
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	base := time.Now().Add(-time.Hour)
	for i, a := range []history.Attempt{
		{ID: "a", FromVersion: "1.0.0", Outcome: history.OutcomeUpToDate, Source: "remote"},
		{ID: "b", FromVersion: "1.0.0", Outcome: history.OutcomeFailed, Stage: "downloading", ErrorCode: "download", Error: "connection reset"},
	} {
		a.StartedAt = base.Add(time.Duration(i) * time.Minute)
		a.FinishedAt = a.StartedAt.Add(time.Second)
		if err := store.Record(ctx, a); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if code := run(ctx, []string{"history", "--limit", "1"}, te.env); code != exitOK {
		t.Fatalf("exit code %d, stderr %s", code, te.stderr)
	}
	out := te.stdout.String()
	for _, want := range []string{"OUTCOME", "failed", "downloading: connection reset", "ago"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Contains(out, "up_to_date") {
		t.Errorf("expected --limit 1 to hide the older attempt:\n%s", out)
	}
}

func TestHistoryCommandEmptyAndDisabled(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		te := newTestEnv(t)
		te.writeSettings(t, nil)
		if code := run(context.Background(), []string{"history"}, te.env); code != exitOK {
			t.Fatalf("exit code %d, stderr %s", code, te.stderr)
		}
		if !strings.Contains(te.stdout.String(), "No update attempts") {
			t.Errorf("unexpected output %q", te.stdout.String())
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		te := newTestEnv(t)
		te.writeSettings(t, map[string]any{"history_db": "none"})
		if code := run(context.Background(), []string{"history"}, te.env); code != exitConfigError {
			t.Fatalf("exit code = %d, want %d", code, exitConfigError)
		}
	})
}

func TestCheckReportsOfferWithoutInstalling(t *testing.T) {
	te := newTestEnv(t)
	server := updateServer(t, []byte("unused"))
	versionFile := filepath.Join(te.dir, "version.json")
	writeFile(t, versionFile, `{"game_title":"Space Game","current_version":"1.0.0"}`, 0o644)
	te.writeSettings(t, map[string]any{"api_url": server.URL + "/api/update"})

	if code := run(context.Background(), []string{"check"}, te.env); code != exitOK {
		t.Fatalf("exit code %d, stderr %s", code, te.stderr)
	}
	out := te.stdout.String()
	for _, want := range []string{"Update available: 1.0.0 -> 1.1.0 (update server)", "Fixed the warp drive.", "--yes"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	data, err := os.ReadFile(versionFile)
	if err != nil || !strings.Contains(string(data), `"1.0.0"`) {
		t.Errorf("version file should be untouched, got %s (%v)", data, err)
	}
}

func TestCheckYesInstallsAndLaunches(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a shell script as the game")
	}
	te := newTestEnv(t)
	payload := buildZip(t, map[string]string{
		"game.bin":         "new binary",
		"new_version.json": `{"game_title":"Space Game","current_version":"1.1.0"}`,
	})
	server := updateServer(t, payload)

	versionFile := filepath.Join(te.dir, "version.json")
	writeFile(t, versionFile, `{"game_title":"Space Game","current_version":"1.0.0"}`, 0o644)
	writeFile(t, filepath.Join(te.dir, "game", "game.bin"), "old binary", 0o644)
	marker := filepath.Join(te.dir, "launched")
	writeFile(t, filepath.Join(te.dir, "launch.sh"), "#!/bin/sh\necho ok > '"+marker+"'\n", 0o755)
	te.writeSettings(t, map[string]any{"api_url": server.URL + "/api/update"})

	if code := run(context.Background(), []string{"check", "--yes"}, te.env); code != exitOK {
		t.Fatalf("exit code %d, stderr %s", code, te.stderr)
	}
	out := te.stdout.String()
	if !strings.Contains(out, "Installed 1.1.0 (was 1.0.0).") || !strings.Contains(out, "Game started.") {
		t.Errorf("unexpected output:\n%s", out)
	}

	bin, err := os.ReadFile(filepath.Join(te.dir, "game", "game.bin"))
	if err != nil || string(bin) != "new binary" {
		t.Errorf("expected new payload, got %q (%v)", bin, err)
	}
	data, err := os.ReadFile(versionFile)
	if err != nil || !strings.Contains(string(data), `"1.1.0"`) {
		t.Errorf("expected version file to record 1.1.0, got %s (%v)", data, err)
	}
	if _, err := os.Stat(filepath.Join(te.dir, "downloads", "update.zip")); !os.IsNotExist(err) {
		t.Errorf("expected downloaded archive to be removed, got %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := os.Stat(marker); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("game was not started")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The attempt lands in the default history database.
	store, err := history.Open(context.Background(), filepath.Join(te.dir, "downloads", "history.db"))
	if err != nil {
		t.Fatalf("history.Open: %v", err)
	}
	defer func() { _ = store.Close() }()
	attempts, err := store.Recent(context.Background(), 1)
	if err != nil || len(attempts) != 1 || attempts[0].Outcome != history.OutcomeUpdated {
		t.Fatalf("expected one updated attempt, got %+v (%v)", attempts, err)
	}
}

func TestCheckNetworkFailureExitsOne(t *testing.T) {
	te := newTestEnv(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()
	writeFile(t, filepath.Join(te.dir, "version.json"), `{"game_title":"Space Game","current_version":"1.0.0"}`, 0o644)
	te.writeSettings(t, map[string]any{"api_url": server.URL})

	if code := run(context.Background(), []string{"check"}, te.env); code != exitFailure {
		t.Fatalf("exit code = %d, want %d", code, exitFailure)
	}
	if !strings.Contains(te.stderr.String(), "status 503") {
		t.Errorf("expected status in error, got %q", te.stderr.String())
	}
}

// quitProgram stands in for the terminal: it presses q and waits for Close.
type quitProgram struct {
	app *ui.App
}

func (p quitProgram) Run() (tea.Model, error) {
	_, cmd := p.app.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd != nil {
		p.app.Update(cmd())
	}
	return p.app, nil
}

func TestRootRunsTUI(t *testing.T) {
	te := newTestEnv(t)
	writeFile(t, filepath.Join(te.dir, "version.json"), `{"game_title":"Space Game","current_version":"1.0.0"}`, 0o644)
	te.writeSettings(t, nil)

	var built bool
	te.newProgram = func(ctx context.Context, app *ui.App) programRunner {
		built = true
		if app.Snapshot().State != lifecycle.StateIdle {
			t.Errorf("expected idle screen, got %s", app.Snapshot().State)
		}
		return quitProgram{app: app}
	}

	code := run(context.Background(), nil, te.env)
	if !built {
		t.Fatal("expected program factory to be called")
	}
	if code != exitFailure {
		t.Fatalf("quitting before launch should exit %d, got %d", exitFailure, code)
	}
	if te.stderr.Len() != 0 {
		t.Errorf("expected quiet exit, got %q", te.stderr.String())
	}
}

func TestGameName(t *testing.T) {
	te := newTestEnv(t)
	te.writeSettings(t, map[string]any{"launch_command": "/opt/games/SpaceGame.bat"})
	cmd := newRootCmd(te.env)
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	settings, err := loadSettings(cmd, te.env, &rootOptions{})
	if err != nil {
		t.Fatalf("loadSettings: %v", err)
	}
	if got := gameName(settings); got != "SpaceGame" {
		t.Errorf("gameName = %q", got)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFlagChanged(t *testing.T) {
	te := newTestEnv(t)
	cmd := newRootCmd(te.env)
	if err := cmd.ParseFlags([]string{"--debug"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if !flagChanged(cmd.Flags(), "debug") {
		t.Error("expected --debug to be reported as changed")
	}
	if flagChanged(cmd.Flags(), "config") {
		t.Error("expected --config to be unchanged")
	}
	if flagChanged(cmd.Flags(), "no-such-flag") {
		t.Error("expected unknown flag to be unchanged")
	}
}
