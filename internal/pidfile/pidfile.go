// Package pidfile implements the PidFile collaborator: a small file
// holding one process's PID, used by Server and Daemon
// to track and signal a long-running process across invocations. Grounded
// on provisr's internal/process PID-file helpers (WritePIDFile,
// RemovePIDFile, ReadPIDFile), generalized into a standalone type with its
// own lifetime instead of being embedded in Process.
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/loykin/preforge/internal/errs"
)

// DefaultMode is used when File is constructed without an explicit mode.
const DefaultMode = 0o640

// PidFile tracks one process's PID on disk under Dir, named after Program.
type PidFile struct {
	Dir     string
	Program string
	Mode    os.FileMode

	mu  sync.Mutex
	pid int
}

// New builds a PidFile for program under dir, using DefaultMode.
func New(dir, program string) *PidFile {
	return &PidFile{Dir: dir, Program: program, Mode: DefaultMode}
}

// Path derives the PID file's path: the program name lowercased, spaces
// replaced with underscores, a .pid suffix, joined with Dir.
func (f *PidFile) Path() string {
	name := strings.ReplaceAll(strings.ToLower(f.Program), " ", "_") + ".pid"
	return filepath.Join(f.Dir, name)
}

// Write records the current process's PID to disk.
func (f *PidFile) Write() error {
	pid := os.Getpid()
	mode := f.Mode
	if mode == 0 {
		mode = DefaultMode
	}
	if err := os.MkdirAll(f.Dir, 0o750); err != nil {
		return fmt.Errorf("pidfile: mkdir %s: %w", f.Dir, err)
	}
	if err := os.WriteFile(f.Path(), []byte(strconv.Itoa(pid)), mode); err != nil {
		return fmt.Errorf("pidfile: write %s: %w", f.Path(), err)
	}
	f.mu.Lock()
	f.pid = pid
	f.mu.Unlock()
	return nil
}

// Delete removes the file only if it still contains this process's PID.
func (f *PidFile) Delete() error {
	stored, err := f.readDisk()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if stored != os.Getpid() {
		return nil
	}
	return f.forceDelete()
}

// ForceDelete removes the file unconditionally.
func (f *PidFile) ForceDelete() error {
	return f.forceDelete()
}

func (f *PidFile) forceDelete() error {
	if err := os.Remove(f.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pidfile: remove %s: %w", f.Path(), err)
	}
	f.mu.Lock()
	f.pid = 0
	f.mu.Unlock()
	return nil
}

// PID returns the stored PID, reading it from disk if this PidFile hasn't
// written it itself this process lifetime (e.g. after a restart recovering
// a previously-running process).
func (f *PidFile) PID() (int, error) {
	f.mu.Lock()
	pid := f.pid
	f.mu.Unlock()
	if pid != 0 {
		return pid, nil
	}
	return f.readDisk()
}

func (f *PidFile) readDisk() (int, error) {
	b, err := os.ReadFile(f.Path())
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("pidfile: %w: malformed contents in %s", errs.ErrArgument, f.Path())
	}
	return pid, nil
}

// Alive checks process existence for the recorded PID via signal 0.
func (f *PidFile) Alive() bool {
	pid, err := f.PID()
	if err != nil || pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// Kill signals the recorded PID.
func (f *PidFile) Kill(sig syscall.Signal) error {
	pid, err := f.PID()
	if err != nil {
		return err
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return fmt.Errorf("pidfile: signal pid %d: %w", pid, err)
	}
	return nil
}
