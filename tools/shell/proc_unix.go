//go:build unix

package shell

import (
	"os/exec"
	"syscall"
)

// killGroup runs the command in its own process group,
// so cancellation also stops the processes it started.
func killGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
