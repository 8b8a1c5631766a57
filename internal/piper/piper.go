// Package piper implements the bidirectional, framed, object-carrying
// channel across a parent/child process boundary. "Forking" is realized
// as a self re-exec (see fork.go) since the Go runtime cannot fork()
// without exec(). This package assumes POSIX fork/exec and signals
// throughout; Windows is out of scope.
package piper

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/preforge/internal/errs"
	"github.com/loykin/preforge/internal/frame"
)

// ForkSupported reports whether this platform can realize Piper's
// fork-via-re-exec primitive. Fork-dependent constructors check this
// before doing any work, so a future non-POSIX backend can fail fast
// instead of partway through Fork.
func ForkSupported() bool { return true }

// ErrUnsupportedPlatform re-exports errs.ErrUnsupportedPlatform for callers
// that only import piper.
var ErrUnsupportedPlatform = errs.ErrUnsupportedPlatform

// ErrArgument re-exports errs.ErrArgument for callers that only import piper.
var ErrArgument = errs.ErrArgument

// ErrTimeoutAwaitingGrandchild is returned by Daemonize when the
// grandchild's PID report does not arrive within the configured timeout.
var ErrTimeoutAwaitingGrandchild = fmt.Errorf("%w: daemonize grandchild never reported", errs.ErrTimeout)

const defaultTimeout = time.Second

// Mode selects which ends of the pipe each side of a Piper keeps.
type Mode int

const (
	// ModeR: parent reads, child writes.
	ModeR Mode = iota
	// ModeW: parent writes, child reads.
	ModeW
	// ModeRW: both directions.
	ModeRW
)

func (m Mode) String() string {
	switch m {
	case ModeR:
		return "R"
	case ModeW:
		return "W"
	case ModeRW:
		return "RW"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "R", "W", or "RW" and fails with errs.ErrArgument
// naming the offending value otherwise.
func ParseMode(s string) (Mode, error) {
	switch strings.ToUpper(s) {
	case "R":
		return ModeR, nil
	case "W":
		return ModeW, nil
	case "RW":
		return ModeRW, nil
	default:
		return 0, fmt.Errorf("%w: unknown piper mode %q", errs.ErrArgument, s)
	}
}

// Piper owns the parent-end (or, inside a child, the inherited-end)
// descriptors for one framed channel, plus the forked process's PID as
// observed from the parent side.
type Piper struct {
	mode    Mode
	timeout time.Duration
	pid     *int // nil inside the child; the child's PID on the parent side
	cmd     childHandle

	mu      sync.Mutex
	r       *os.File
	w       *os.File
	report  *os.File // set only inside a daemonize grandchild; see daemonize.go
	reader  *frame.Reader
	closed  bool
	isChild bool
}

// childHandle is the subset of *exec.Cmd Piper needs; kept as an interface
// so tests can substitute a fake without spawning real processes.
type childHandle interface {
	Pid() int
	Wait() error
}

// Fork creates a pipe pair (one or two os.Pipe()s depending on mode),
// re-execs the current binary tagged to dispatch into the ChildFunc
// registered under childFunc, and closes each side's unused ends. It
// returns the parent-side Piper; the corresponding child-side Piper is
// constructed by MaybeRunChild and handed to the registered ChildFunc.
func Fork(mode Mode, suspendTimeout time.Duration, childFunc string) (*Piper, error) {
	return forkRaw(mode, suspendTimeout, childFunc, nil, &syscall.SysProcAttr{Setpgid: true})
}

// forkRaw is Fork's implementation, generalized so daemonize.go's
// double-fork sequence can pass a pre-existing report fd through to the
// grandchild and override the process attributes (Setsid for the
// intermediate stage instead of Setpgid).
func forkRaw(mode Mode, suspendTimeout time.Duration, childFunc string, passthrough *os.File, sysAttr *syscall.SysProcAttr) (*Piper, error) {
	if !ForkSupported() {
		return nil, ErrUnsupportedPlatform
	}
	if suspendTimeout <= 0 {
		suspendTimeout = defaultTimeout
	}

	var extraFiles []*os.File
	var parentR, parentW *os.File
	childReadIdx, childWriteIdx, reportIdx := -1, -1, -1

	// pipe1: child writes, parent reads (used by ModeR, ModeRW)
	if mode == ModeR || mode == ModeRW {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("piper: create read pipe: %w", err)
		}
		parentR = r
		extraFiles = append(extraFiles, w) // child's write end
		childWriteIdx = len(extraFiles) - 1
	}
	// pipe2: parent writes, child reads (used by ModeW, ModeRW)
	if mode == ModeW || mode == ModeRW {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("piper: create write pipe: %w", err)
		}
		parentW = w
		extraFiles = append(extraFiles, r) // child's read end
		childReadIdx = len(extraFiles) - 1
	}
	if passthrough != nil {
		extraFiles = append(extraFiles, passthrough)
		reportIdx = len(extraFiles) - 1
	}

	cmd, err := spawn(childFunc, mode, childReadIdx, childWriteIdx, reportIdx, suspendTimeout, extraFiles, sysAttr)
	if err != nil {
		closeAll(parentR, parentW)
		closeAll(extraFiles...)
		return nil, err
	}

	// Parent closes its copies of the ends it handed to the child; only
	// the child's duplicated fds (inherited at Start) remain open there.
	closeAll(extraFiles...)

	pid := cmd.Process.Pid
	p := &Piper{
		mode:    mode,
		timeout: suspendTimeout,
		pid:     &pid,
		cmd:     &execHandle{cmd: cmd},
		r:       parentR,
		w:       parentW,
	}
	return p, nil
}

// Wrap builds a Piper directly from already-open pipe ends, without
// forking. Intended for tests exercising the framing/timeout logic
// in-process (see internal/worker's tests), and for advanced callers
// wiring up their own pipe pairs.
func Wrap(mode Mode, r, w *os.File, timeout time.Duration) *Piper {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Piper{mode: mode, timeout: timeout, r: r, w: w}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}

// PID returns the child's PID as seen by the parent, or (0, false) inside
// the child or on an un-forked Piper.
func (p *Piper) PID() (int, bool) {
	if p.pid == nil {
		return 0, false
	}
	return *p.pid, true
}

// Timeout reports the configured suspend timeout used for Send/Receive
// deadlines.
func (p *Piper) Timeout() time.Duration { return p.timeout }

// IsChild reports whether this Piper was built from inherited descriptors
// inside a re-exec'd child (see MaybeRunChild), i.e. "pid is nil" in
// spec terms.
func (p *Piper) IsChild() bool { return p.isChild }

// Close closes both descriptors this side owns. Idempotent.
func (p *Piper) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errOut error
	if p.w != nil {
		if err := p.w.Close(); err != nil && errOut == nil {
			errOut = err
		}
	}
	if p.r != nil {
		if err := p.r.Close(); err != nil && errOut == nil {
			errOut = err
		}
	}
	return errOut
}

func (p *Piper) frameReader() *frame.Reader {
	if p.reader == nil {
		p.reader = frame.NewReader(p.r)
	}
	return p.reader
}

// Send serializes value (any msgpack-transferable payload, or a frame.Tag
// control constant) and writes one frame, flushing immediately. It returns
// the number of bytes written, or (0, nil) if the write end is closed or
// the write would block past the configured suspend timeout — Send never
// raises for those conditions.
func (p *Piper) Send(value any) (int, error) {
	p.mu.Lock()
	w, closed := p.w, p.closed
	p.mu.Unlock()
	if closed || w == nil {
		return 0, nil
	}

	f, err := encodeOutbound(value)
	if err != nil {
		return 0, fmt.Errorf("piper: send: %w", err)
	}

	if err := w.SetWriteDeadline(time.Now().Add(p.timeout)); err != nil {
		return 0, fmt.Errorf("piper: set write deadline: %w", err)
	}
	defer func() { _ = w.SetWriteDeadline(time.Time{}) }()

	n, err := f.WriteTo(w)
	if err != nil {
		if isDeadlineExceeded(err) || errors.Is(err, os.ErrClosed) {
			return 0, nil
		}
		return 0, fmt.Errorf("piper: send: %w", err)
	}
	return int(n), nil
}

// encodeOutbound turns a Send argument into a wire Frame: frame.Tag
// constants become control frames, everything else is treated as an
// application value.
func encodeOutbound(value any) (frame.Frame, error) {
	if t, ok := value.(frame.Tag); ok && t != frame.TagValue {
		return frame.Control(t), nil
	}
	if ce, ok := value.(frame.ChildError); ok {
		return frame.EncodeError(ce)
	}
	return frame.Encode(value)
}

// Received is the decoded result of Receive, selected by Kind: Tag is
// meaningful for ReceiveControl, Raw holds the frame for ReceiveValue and
// ReceiveError (decode it with Decode or DecodeError).
type Received struct {
	Kind ReceiveKind
	Tag  frame.Tag // valid when Kind == ReceiveControl
	Raw  frame.Frame
}

// ReceiveKind discriminates a Received value.
type ReceiveKind int

const (
	// ReceiveTimeout indicates the bounded wait elapsed with no frame.
	ReceiveTimeout ReceiveKind = iota
	// ReceiveControl indicates a control tag (START/HALT/HEARTBEAT) arrived.
	ReceiveControl
	// ReceiveValue indicates an application payload arrived.
	ReceiveValue
	// ReceiveError indicates a structured child error arrived.
	ReceiveError
)

// Receive blocks up to the configured suspend timeout for one complete
// frame. On timeout it returns Received{Kind: ReceiveTimeout}, nil — never
// an error — acting as a sentinel for "timeout/no data".
func (p *Piper) Receive() (Received, error) {
	return p.ReceiveWithin(p.timeout)
}

// ReceiveWithin is Receive against an explicit deadline d instead of the
// Piper's configured suspend timeout, so a caller that already owns this
// Piper (e.g. a startup-error watch loop polling at a finer grain than
// the configured timeout) can use one Receive call as both its read and
// its sleep, without a second goroutine ever touching the Piper.
func (p *Piper) ReceiveWithin(d time.Duration) (Received, error) {
	p.mu.Lock()
	r, closed := p.r, p.closed
	p.mu.Unlock()
	if closed || r == nil {
		return Received{Kind: ReceiveTimeout}, nil
	}

	if err := r.SetReadDeadline(time.Now().Add(d)); err != nil {
		return Received{}, fmt.Errorf("piper: set read deadline: %w", err)
	}
	defer func() { _ = r.SetReadDeadline(time.Time{}) }()

	f, err := p.frameReader().ReadFrame()
	if err != nil {
		if isDeadlineExceeded(err) {
			return Received{Kind: ReceiveTimeout}, nil
		}
		if errors.Is(err, os.ErrClosed) {
			return Received{Kind: ReceiveTimeout}, nil
		}
		return Received{}, fmt.Errorf("piper: receive: %w", err)
	}

	switch f.Tag {
	case frame.TagStart, frame.TagHalt, frame.TagHeartbeat:
		return Received{Kind: ReceiveControl, Tag: f.Tag, Raw: f}, nil
	case frame.TagError:
		return Received{Kind: ReceiveError, Raw: f}, nil
	default:
		return Received{Kind: ReceiveValue, Raw: f}, nil
	}
}

// Readable reports, within a bounded wait no longer than the suspend
// timeout, whether one non-blocking Receive would return a frame.
func (p *Piper) Readable() bool {
	p.mu.Lock()
	r, closed := p.r, p.closed
	p.mu.Unlock()
	if closed || r == nil {
		return false
	}
	if err := r.SetReadDeadline(time.Now().Add(p.timeout)); err != nil {
		return false
	}
	defer func() { _ = r.SetReadDeadline(time.Time{}) }()
	_, err := p.frameReader().Peek(1)
	return err == nil
}

// Writable reports whether this side still holds an open write end. It
// does not wait and does not probe whether the pipe has room, so a Send
// after a true result can still hit the suspend timeout.
func (p *Piper) Writable() bool {
	p.mu.Lock()
	w, closed := p.w, p.closed
	p.mu.Unlock()
	return !closed && w != nil
}

// Signal delivers POSIX signal sig to the child PID; a no-op on the child
// side, and silently swallowed if the process no longer exists.
func (p *Piper) Signal(sig syscall.Signal) error {
	if p.pid == nil {
		return nil
	}
	if err := syscall.Kill(*p.pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return fmt.Errorf("piper: signal pid %d: %w", *p.pid, err)
	}
	return nil
}

// Wait blocks until the forked child has exited, clearing its zombie
// entry. It is a no-op on the child side.
func (p *Piper) Wait() error {
	if p.cmd == nil {
		return nil
	}
	return p.cmd.Wait()
}

func isDeadlineExceeded(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// execHandle adapts *exec.Cmd to childHandle.
type execHandle struct{ cmd *exec.Cmd }

func (h *execHandle) Pid() int    { return h.cmd.Process.Pid }
func (h *execHandle) Wait() error { return h.cmd.Wait() }
