//go:build !windows

package child

import (
	"os/exec"
	"syscall"
)

func signalProcess(cmd *exec.Cmd, sig Signal) error {
	if cmd.Process == nil {
		return nil
	}
	var sys syscall.Signal
	switch sig {
	case SigTerm:
		sys = syscall.SIGTERM
	case SigQuit:
		sys = syscall.SIGQUIT
	case SigKill:
		sys = syscall.SIGKILL
	default:
		sys = syscall.SIGTERM
	}
	return cmd.Process.Signal(sys)
}
