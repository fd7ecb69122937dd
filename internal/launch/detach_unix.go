//go:build !windows

package launch

import (
	"os/exec"
	"syscall"
)

// detach puts the game in its own process group so it outlives the updater.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
