package piper

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

const (
	stage1Func = "preforge-daemonize-stage1"
	devNull    = "/dev/null"
)

// DaemonizeOptions configures Daemonize's detach-from-TTY sequence.
type DaemonizeOptions struct {
	// ChildFunc names a ChildFunc (see Register) that becomes the
	// grandchild's body once it has detached: the actual long-running
	// daemon logic.
	ChildFunc string
	// Chdir, when true, changes the grandchild's working directory to "/".
	Chdir bool
	// ReopenStdio, when true, reopens stdin/stdout/stderr to /dev/null in
	// the grandchild.
	ReopenStdio bool
	// Timeout bounds each leg of the handshake; defaults to 1s.
	Timeout time.Duration
}

func init() {
	Register(stage1Func, runStage1)
	Register(stage2FuncName, runStage2)
}

const stage2FuncName = "preforge-daemonize-stage2"

// daemonizeState threads ChildFunc/Chdir/ReopenStdio across the two
// re-exec legs via environment variables, since childEnvVar only carries
// fd plumbing.
const (
	envChildFunc   = "PREFORGE_DAEMON_CHILD_FUNC"
	envChdir       = "PREFORGE_DAEMON_CHDIR"
	envReopenStdio = "PREFORGE_DAEMON_REOPEN_STDIO"
)

// Daemonize performs the double-fork detach sequence: fork, become
// session leader, fork again and exit the
// intermediate (orphaning the grandchild to init), optionally chdir("/"),
// umask(0), optionally reopen stdio to /dev/null. The grandchild sends its
// own PID back through the original Piper; Daemonize blocks for at most
// opts.Timeout waiting for it and returns a Piper whose PID() reports that
// grandchild.
func Daemonize(opts DaemonizeOptions) (*Piper, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	if opts.ChildFunc == "" {
		return nil, fmt.Errorf("%w: Daemonize requires a ChildFunc name", ErrArgument)
	}
	if err := os.Setenv(envChildFunc, opts.ChildFunc); err != nil {
		return nil, err
	}
	_ = os.Setenv(envChdir, boolStr(opts.Chdir))
	_ = os.Setenv(envReopenStdio, boolStr(opts.ReopenStdio))

	p, err := forkRaw(ModeR, opts.Timeout, stage1Func, nil, &syscall.SysProcAttr{Setsid: true})
	if err != nil {
		return nil, fmt.Errorf("piper: daemonize: %w", err)
	}

	got, err := p.Receive()
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("piper: daemonize: waiting for grandchild pid: %w", err)
	}
	if got.Kind == ReceiveTimeout {
		_ = p.Close()
		return nil, fmt.Errorf("piper: daemonize: %w", ErrTimeoutAwaitingGrandchild)
	}
	var pid int
	if got.Kind == ReceiveValue {
		if err := got.Raw.Decode(&pid); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("piper: daemonize: decode grandchild pid: %w", err)
		}
	}
	p.pid = &pid
	return p, nil
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// runStage1 is the intermediate process: already a session leader (its
// SysProcAttr had Setsid set before exec), it forks the grandchild and
// exits immediately, orphaning the grandchild to init.
func runStage1(p *Piper) {
	// p.w connects this intermediate back to the original ancestor (mode
	// ModeR on the ancestor's side means this side writes). Pass it
	// through unchanged so the grandchild can report directly. Stage1
	// doesn't use its own piper to the grandchild for anything beyond fd
	// plumbing, so it's closed immediately once the grandchild exists.
	stage2, err := forkRaw(ModeR, defaultTimeout, stage2FuncName, p.w, &syscall.SysProcAttr{})
	if err != nil {
		// Best effort: tell the ancestor we failed by reporting pid 0.
		_, _ = p.Send(0)
	} else {
		_ = stage2.Close()
	}
	os.Exit(0)
}

// runStage2 is the grandchild: it finishes the detach (umask, optional
// chdir, optional stdio reopen), reports its own PID to the original
// ancestor over the inherited report fd, then hands off to the
// user-registered daemon body. The report Piper stays open across the
// fn call rather than being closed right after the PID report: it
// doubles as the daemon body's channel for raising a startup error (via
// Send with a frame.ChildError, the same contract internal/worker's child
// driver uses), which daemon.Start watches for until the daemon declares
// itself up.
func runStage2(p *Piper) {
	_ = syscall.Umask(0)
	if os.Getenv(envChdir) == "1" {
		_ = os.Chdir("/")
	}
	if os.Getenv(envReopenStdio) == "1" {
		reopenStdio()
	}

	report := &Piper{w: p.report, timeout: defaultTimeout, isChild: true}
	if _, err := report.Send(os.Getpid()); err != nil {
		fmt.Fprintln(os.Stderr, "piper: daemonize: reporting pid:", err)
	}

	fn, ok := lookup(os.Getenv(envChildFunc))
	if !ok {
		fmt.Fprintln(os.Stderr, "piper: daemonize: no registered daemon body")
		_ = report.Close()
		os.Exit(1)
	}
	fn(report)
	_ = report.Close()
	os.Exit(0)
}

func reopenStdio() {
	null, err := os.OpenFile(devNull, os.O_RDWR, 0)
	if err != nil {
		return
	}
	_ = syscall.Dup2(int(null.Fd()), int(os.Stdin.Fd()))
	_ = syscall.Dup2(int(null.Fd()), int(os.Stdout.Fd()))
	_ = syscall.Dup2(int(null.Fd()), int(os.Stderr.Fd()))
}
