package server

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/loykin/preforge/internal/pidfile"
	"github.com/loykin/preforge/internal/runner"
)

func newTestLoop() *runner.Runner {
	r := runner.New()
	r.Interval = 5 * time.Millisecond
	r.Run = func() error { return nil }
	return r
}

func TestStartupWritesPidFileAndShutdownRemovesIt(t *testing.T) {
	dir := t.TempDir()
	pf := pidfile.New(dir, "preforge")
	s := New(pf, newTestLoop(), Hooks{})

	if err := s.Startup(false); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	if !pf.Alive() {
		t.Fatal("expected pidfile to record a live pid after Startup")
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := os.Stat(pf.Path()); !os.IsNotExist(err) {
		t.Fatalf("expected pidfile removed after Shutdown, stat err = %v", err)
	}
}

func TestStartupWaitBlocksUntilShutdown(t *testing.T) {
	s := New(nil, newTestLoop(), Hooks{})
	startupDone := make(chan error, 1)
	go func() { startupDone <- s.Startup(true) }()

	select {
	case <-startupDone:
		t.Fatal("Startup(wait=true) returned before Shutdown was called")
	case <-time.After(30 * time.Millisecond):
	}

	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case err := <-startupDone:
		if err != nil {
			t.Fatalf("Startup returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Startup(wait=true) did not return after Shutdown")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	s := New(nil, newTestLoop(), Hooks{})
	if err := s.Startup(false); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestDispatchInvokesHUPHookWithoutShuttingDown(t *testing.T) {
	called := make(chan struct{}, 1)
	s := New(nil, newTestLoop(), Hooks{HUP: func() { called <- struct{}{} }})
	if err := s.Startup(false); err != nil {
		t.Fatalf("Startup: %v", err)
	}
	defer func() { _ = s.Shutdown() }()

	s.mu.Lock()
	ch := s.sigCh
	s.mu.Unlock()
	ch <- syscall.SIGHUP

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("HUP hook was not invoked")
	}
	if !s.Loop.Running() {
		t.Fatal("HUP should not stop the loop")
	}
}

func TestDispatchDefaultsINTAndTERMToShutdown(t *testing.T) {
	for _, sig := range []os.Signal{syscall.SIGINT, syscall.SIGTERM} {
		sig := sig
		t.Run(sig.String(), func(t *testing.T) {
			s := New(nil, newTestLoop(), Hooks{})
			if err := s.Startup(false); err != nil {
				t.Fatalf("Startup: %v", err)
			}
			s.mu.Lock()
			ch := s.sigCh
			s.mu.Unlock()
			ch <- sig

			select {
			case <-s.done:
			case <-time.After(time.Second):
				t.Fatalf("%v did not trigger default Shutdown", sig)
			}
		})
	}
}
