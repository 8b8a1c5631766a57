//go:build !windows

package piper

import "syscall"

// TryReap performs a non-blocking WNOHANG|WUNTRACED wait4 on pid, as used
// by Worker.Wait. It reports whether the process has
// exited.
func TryReap(pid int) (exited bool, err error) {
	var ws syscall.WaitStatus
	got, err := syscall.Wait4(pid, &ws, syscall.WNOHANG|syscall.WUNTRACED, nil)
	if err != nil {
		if err == syscall.ECHILD {
			return true, nil
		}
		return false, err
	}
	return got == pid && (ws.Exited() || ws.Signaled()), nil
}

// ReapBlocking blocks until pid has exited, clearing its zombie entry, as
// used by Pool.Reap.
func ReapBlocking(pid int) error {
	var ws syscall.WaitStatus
	for {
		_, err := syscall.Wait4(pid, &ws, 0, nil)
		if err == syscall.EINTR {
			continue
		}
		if err == syscall.ECHILD {
			return nil
		}
		return err
	}
}

// Alive reports whether pid is reachable by signal 0.
func Alive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
