//go:build unix

package ffmpeg

import (
	"os/exec"
	"syscall"
)

// detach moves the child into its own process group so a terminal interrupt
// aimed at the server does not also stop running conversions.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
