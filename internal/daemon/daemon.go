// Package daemon implements the Daemon collaborator: detaches a child via
// internal/piper's Daemonize, then waits for a
// startup signal before declaring the daemon up, escalating TERM then
// KILL if the wait times out. Grounded on internal/piper/daemonize.go
// (the detach primitive) and provisr's Process.Stop escalation pattern,
// adapted from "stop a running process" to "give up on one that never
// finished starting".
package daemon

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/preforge/internal/errs"
	"github.com/loykin/preforge/internal/pidfile"
	"github.com/loykin/preforge/internal/piper"
)

// WaitMode selects how Start decides the daemon has finished starting.
type WaitMode int

const (
	// WaitByPID polls signal-0 liveness on the grandchild's PID.
	WaitByPID WaitMode = iota
	// WaitByLogFile watches a log file for growth and, optionally, a phrase.
	WaitByLogFile
)

// LogWatch configures WaitByLogFile.
type LogWatch struct {
	Path string
	// Phrase, if non-empty, must appear in content appended after the
	// watch started before the daemon is considered up.
	Phrase string
	// PhraseIsPattern treats Phrase as a regexp instead of a literal substring.
	PhraseIsPattern bool
	PollInterval    time.Duration
}

// Options configures Start.
type Options struct {
	piper.DaemonizeOptions
	// StartupTimeout bounds the whole wait; defaults to 10s.
	StartupTimeout time.Duration
	Wait           WaitMode
	Log            LogWatch
	// PidFile, if set, is checked before forking: a recorded, alive PID
	// means a daemon under this name is already running, and Start fails
	// with errs.ErrAlreadyStarted instead of forking a second instance.
	PidFile *pidfile.PidFile
}

// Handle identifies a successfully started daemon.
type Handle struct {
	PID int
}

// Start detaches the daemon body named by opts.ChildFunc and blocks until
// it reports itself started, or opts.StartupTimeout elapses — at which
// point Start escalates TERM then KILL against the grandchild and returns
// a startup error. It also watches the same Piper Daemonize used for the
// PID handshake for a subsequent startup error: the daemon body may send
// one (a frame.ChildError, reconstructed here as errs.ChildRaised) any
// time before it declares itself up, using the report Piper runStage2
// hands it.
func Start(opts Options) (*Handle, error) {
	if opts.PidFile != nil && opts.PidFile.Alive() {
		return nil, fmt.Errorf("daemon: %w", errs.ErrAlreadyStarted)
	}

	p, err := piper.Daemonize(opts.DaemonizeOptions)
	if err != nil {
		return nil, fmt.Errorf("daemon: detach: %w", err)
	}
	defer func() { _ = p.Close() }()

	pid, _ := p.PID()
	if pid <= 0 {
		return nil, fmt.Errorf("daemon: %w: grandchild failed to report a PID", errs.ErrArgument)
	}

	timeout := opts.StartupTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)

	var (
		up   startupCheck
		poll time.Duration
		op   string
	)
	switch opts.Wait {
	case WaitByLogFile:
		lc, err := newLogFileCheck(opts.Log)
		if err != nil {
			return nil, err
		}
		up = lc
		poll = opts.Log.PollInterval
		if poll <= 0 {
			poll = 50 * time.Millisecond
		}
		op = "daemon startup (log watch)"
	default:
		up = pidCheck{pid: pid}
		poll = 20 * time.Millisecond
		op = "daemon startup (pid liveness)"
	}

	if err := awaitStartup(p, up, poll, deadline, timeout, op); err != nil {
		escalate(pid)
		return nil, err
	}
	return &Handle{PID: pid}, nil
}

// startupCheck reports whether the daemon has finished starting, per
// opts.Wait's chosen strategy.
type startupCheck interface {
	up() (bool, error)
}

type pidCheck struct{ pid int }

func (c pidCheck) up() (bool, error) {
	return syscall.Kill(c.pid, 0) == nil, nil
}

type logFileCheck struct {
	path     string
	matcher  func(string) bool
	startOff int64
}

func newLogFileCheck(w LogWatch) (*logFileCheck, error) {
	if w.Path == "" {
		return nil, fmt.Errorf("daemon: %w: WaitByLogFile requires a Path", errs.ErrArgument)
	}
	var matcher func(string) bool
	if w.Phrase != "" {
		if w.PhraseIsPattern {
			re, err := regexp.Compile(w.Phrase)
			if err != nil {
				return nil, fmt.Errorf("daemon: %w: bad phrase pattern: %v", errs.ErrArgument, err)
			}
			matcher = re.MatchString
		} else {
			matcher = func(s string) bool { return strings.Contains(s, w.Phrase) }
		}
	}
	var startOffset int64
	if fi, err := os.Stat(w.Path); err == nil {
		startOffset = fi.Size()
	}
	return &logFileCheck{path: w.Path, matcher: matcher, startOff: startOffset}, nil
}

func (c *logFileCheck) up() (bool, error) {
	fi, err := os.Stat(c.path)
	if err != nil || fi.Size() <= c.startOff {
		return false, nil
	}
	if c.matcher == nil {
		return true, nil
	}
	b, err := os.ReadFile(c.path)
	if err != nil || int64(len(b)) <= c.startOff {
		return false, nil
	}
	return c.matcher(string(b[c.startOff:])), nil
}

// awaitStartup is the single goroutine that owns p for the rest of
// Start's lifetime: each round it uses one bounded Receive as both its
// read and its sleep, so a startup-error frame is noticed within one
// poll tick instead of only after up succeeds or the deadline passes.
func awaitStartup(p *piper.Piper, up startupCheck, poll time.Duration, deadline time.Time, total time.Duration, op string) error {
	for {
		now := time.Now()
		if !now.Before(deadline) {
			return &errs.Timeout{Op: op, Seconds: total.Seconds()}
		}
		window := poll
		if remain := deadline.Sub(now); remain < window {
			window = remain
		}

		got, err := p.ReceiveWithin(window)
		if err != nil {
			return fmt.Errorf("daemon: watching startup error channel: %w", err)
		}
		if got.Kind == piper.ReceiveError {
			ce, derr := got.Raw.DecodeError()
			if derr != nil {
				return fmt.Errorf("daemon: decode startup error: %w", derr)
			}
			return &errs.ChildRaised{Kind: ce.Kind, Message: ce.Message}
		}

		okUp, err := up.up()
		if err != nil {
			return err
		}
		if okUp {
			return nil
		}
	}
}

func escalate(pid int) {
	_ = syscall.Kill(pid, syscall.SIGTERM)
	time.Sleep(time.Second)
	if syscall.Kill(pid, 0) == nil {
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
}
