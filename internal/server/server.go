// Package server implements the Server collaborator: a long-running
// single-process service built on the Threaded Activity Loop
// (internal/runner), owning a PidFile for its lifetime and dispatching OS
// signals to optional same-named hook methods. Grounded on
// cmd/provisr's main.go signal-handling loop (signal.Notify +
// SIGINT/SIGTERM shutdown), generalized to a reusable type and extended
// with HUP/USR1/USR2 dispatch.
package server

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/loykin/preforge/internal/pidfile"
	"github.com/loykin/preforge/internal/runner"
)

// Hooks are the optional signal handlers. HUP, USR1, and USR2 are no-ops
// when nil. INT and TERM default to a graceful Shutdown when nil.
type Hooks struct {
	HUP  func()
	INT  func()
	TERM func()
	USR1 func()
	USR2 func()
}

// Server pairs a Threaded Activity Loop with a PidFile and signal
// dispatch. Loop.Run must already be set by the caller before Startup.
type Server struct {
	PidFile *pidfile.PidFile
	Loop    *runner.Runner
	Hooks   Hooks

	mu           sync.Mutex
	sigCh        chan os.Signal
	shutdownOnce sync.Once
	shutdownErr  error
	done         chan struct{}
}

// New constructs a Server around loop, optionally tracked by pf (nil is
// accepted for servers that don't need a PID file).
func New(pf *pidfile.PidFile, loop *runner.Runner, hooks Hooks) *Server {
	return &Server{PidFile: pf, Loop: loop, Hooks: hooks, done: make(chan struct{})}
}

// Startup writes the PID file (if any), installs signal handlers, and
// starts the loop. If wait is true, Startup does not return until
// Shutdown has fully completed, including the loop's AfterStopping hook.
func (s *Server) Startup(wait bool) error {
	if s.PidFile != nil {
		if err := s.PidFile.Write(); err != nil {
			return fmt.Errorf("server: write pidfile: %w", err)
		}
	}

	s.mu.Lock()
	s.sigCh = make(chan os.Signal, 8)
	ch := s.sigCh
	s.mu.Unlock()
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	go s.dispatch(ch)

	if err := s.Loop.Start(); err != nil {
		return fmt.Errorf("server: start loop: %w", err)
	}

	if wait {
		<-s.done
	}
	return nil
}

func (s *Server) dispatch(ch chan os.Signal) {
	for sig := range ch {
		switch sig {
		case syscall.SIGHUP:
			if s.Hooks.HUP != nil {
				s.Hooks.HUP()
			}
		case syscall.SIGINT:
			if s.Hooks.INT != nil {
				s.Hooks.INT()
			} else {
				_ = s.Shutdown()
			}
		case syscall.SIGTERM:
			if s.Hooks.TERM != nil {
				s.Hooks.TERM()
			} else {
				_ = s.Shutdown()
			}
		case syscall.SIGUSR1:
			if s.Hooks.USR1 != nil {
				s.Hooks.USR1()
			}
		case syscall.SIGUSR2:
			if s.Hooks.USR2 != nil {
				s.Hooks.USR2()
			}
		}
	}
}

// Shutdown stops the loop (running its BeforeStopping/AfterStopping
// hooks), removes the PID file, and unblocks any Startup(wait=true) call.
// Safe to call more than once; only the first call does anything.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		ch := s.sigCh
		s.mu.Unlock()
		if ch != nil {
			signal.Stop(ch)
			close(ch)
		}

		s.shutdownErr = s.Loop.Stop()
		if s.PidFile != nil {
			if err := s.PidFile.Delete(); err != nil && s.shutdownErr == nil {
				s.shutdownErr = err
			}
		}
		close(s.done)
	})
	return s.shutdownErr
}
