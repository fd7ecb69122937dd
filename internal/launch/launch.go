// Package launch starts the game once the updater is done with it.
package launch

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"gameupdater/internal/debug"
	appErrors "gameupdater/internal/errors"
)

// Command describes the process to hand off to.
type Command struct {
	Path string
	Args []string
	// Dir is the working directory. Empty means the directory of Path.
	Dir string
}

// Start launches the command and releases it; the updater does not wait for
// the game to exit.
func (c Command) Start() error {
	path := strings.TrimSpace(c.Path)
	if path == "" {
		return appErrors.New(appErrors.CodeLaunch, "launch command is empty", nil)
	}

	name, args := commandLine(runtime.GOOS, path, c.Args)
	//nolint:gosec // G204: launch command comes from configuration
	cmd := exec.Command(name, args...)
	cmd.Dir = c.Dir
	if cmd.Dir == "" && filepath.IsAbs(path) {
		cmd.Dir = filepath.Dir(path)
	}
	detach(cmd)

	debug.WithFields(map[string]any{"command": name, "args": args, "dir": cmd.Dir}).Info("launching game")
	if err := cmd.Start(); err != nil {
		return appErrors.New(appErrors.CodeLaunch, fmt.Sprintf("start %s: %v", filepath.Base(path), err), err)
	}
	if err := cmd.Process.Release(); err != nil {
		debug.WithField("command", name).WithError(err).Warn("release launched process")
	}
	return nil
}

// String returns the command as it would be typed.
func (c Command) String() string {
	parts := append([]string{c.Path}, c.Args...)
	return strings.Join(parts, " ")
}

// commandLine maps the configured command to what exec should run. Batch
// files on Windows need the command interpreter.
func commandLine(goos, path string, args []string) (string, []string) {
	if goos == "windows" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".bat", ".cmd":
			return "cmd", append([]string{"/C", path}, args...)
		}
	}
	return path, append([]string(nil), args...)
}
