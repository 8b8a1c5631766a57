package worker

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/preforge/internal/errs"
	"github.com/loykin/preforge/internal/frame"
	"github.com/loykin/preforge/internal/metrics"
	"github.com/loykin/preforge/internal/piper"
	"github.com/loykin/preforge/internal/runner"
)

// defaultStopJoinLimit bounds how long Stop waits for the supervisor to
// finish its current round before returning.
const defaultStopJoinLimit = 2 * time.Second

// Worker is one supervised child: a Piper, a parent-side
// supervisor ThreadedRunner, an optional recorded error, and a stop-request
// flag. Exactly one live child process exists per Worker at a time; a
// Worker may be started, stopped, and restarted repeatedly.
type Worker struct {
	// CapabilitiesName names a Capabilities set already passed to Register.
	CapabilitiesName string
	// Timeout bounds each heartbeat round; propagated to the child's Piper too.
	Timeout time.Duration
	// OnExit, if set, is called once per child lifetime after its
	// supervisor loop exits, before a restart (if any) is attempted. The
	// Pool uses this to append the exited PID to its harvest list.
	OnExit func(pid int, restart bool)

	mu      sync.Mutex
	p       *piper.Piper
	sup     *runner.Runner
	err     error
	stopReq bool
	restart bool
}

// New constructs a Worker bound to a registered capability set.
func New(capabilitiesName string, timeout time.Duration) *Worker {
	return &Worker{CapabilitiesName: capabilitiesName, Timeout: timeout}
}

// Start forks a fresh child, announces readiness with a START frame, and
// launches the parent-side supervisor loop.
func (w *Worker) Start() error {
	if _, ok := lookup(w.CapabilitiesName); !ok {
		return fmt.Errorf("worker: %w: capability set %q not registered", errs.ErrArgument, w.CapabilitiesName)
	}

	p, err := piper.Fork(piper.ModeRW, w.Timeout, childFuncName(w.CapabilitiesName))
	if err != nil {
		return fmt.Errorf("worker: start: %w", err)
	}

	w.mu.Lock()
	w.p = p
	w.err = nil
	w.stopReq = false
	w.restart = false
	w.mu.Unlock()

	if _, err := p.Send(frame.TagStart); err != nil {
		_ = p.Close()
		return fmt.Errorf("worker: announce start: %w", err)
	}

	sup := runner.New()
	sup.Run = w.superviseOnce
	w.mu.Lock()
	w.sup = sup
	w.mu.Unlock()

	if err := sup.Start(); err != nil {
		return fmt.Errorf("worker: start supervisor: %w", err)
	}
	go w.awaitSupervisorExit(sup)
	return nil
}

// superviseOnce is one round of the supervision loop: send HEARTBEAT,
// receive one frame with timeout, act on it. A normal heartbeat reply
// returns nil so the ThreadedRunner continues; any break condition records
// the outcome on the Worker and asks the runner to stop after this round.
func (w *Worker) superviseOnce() error {
	w.mu.Lock()
	p, sup, stopReq := w.p, w.sup, w.stopReq
	w.mu.Unlock()
	if stopReq {
		sup.StopAsync()
		return nil
	}

	if _, err := p.Send(frame.TagHeartbeat); err != nil {
		w.recordErr(fmt.Errorf("worker: send heartbeat: %w", err))
		sup.StopAsync()
		return nil
	}
	got, err := p.Receive()

	w.mu.Lock()
	stopReq = w.stopReq
	w.mu.Unlock()
	if err != nil && !stopReq {
		w.recordErr(fmt.Errorf("worker: receive: %w", err))
		sup.StopAsync()
		return nil
	}
	if stopReq {
		sup.StopAsync()
		return nil
	}

	switch {
	case got.Kind == piper.ReceiveControl && got.Tag == frame.TagHeartbeat:
		metrics.IncHeartbeat(w.CapabilitiesName)
		return nil
	case got.Kind == piper.ReceiveControl && got.Tag == frame.TagStart:
		w.mu.Lock()
		w.restart = true
		w.mu.Unlock()
		metrics.IncRestart(w.CapabilitiesName)
		sup.StopAsync()
		return nil
	case got.Kind == piper.ReceiveTimeout:
		w.recordErr(&errs.Timeout{Op: "worker heartbeat", Seconds: w.Timeout.Seconds()})
		metrics.IncTimeout(w.CapabilitiesName)
		sup.StopAsync()
		return nil
	case got.Kind == piper.ReceiveError:
		ce, derr := got.Raw.DecodeError()
		if derr != nil {
			w.recordErr(fmt.Errorf("worker: decode child error: %w", derr))
		} else {
			w.recordErr(&errs.ChildRaised{Kind: ce.Kind, Message: ce.Message})
		}
		metrics.IncError(w.CapabilitiesName)
		sup.StopAsync()
		return nil
	default:
		w.recordErr(fmt.Errorf("%w: frame kind %v", errs.ErrUnknownResponse, got.Kind))
		metrics.IncError(w.CapabilitiesName)
		sup.StopAsync()
		return nil
	}
}

func (w *Worker) recordErr(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
}

// awaitSupervisorExit runs once the supervisor loop ends: it reports the
// PID to OnExit (a Pool appends it to its
// harvest list for later blocking reap — the actual wait4 happens there,
// not here), close the Piper, and restart the Worker in place if the
// child asked to be replaced and nothing else stopped it first — grounded
// on provisr's supervisor.waitAndHandleExit.
func (w *Worker) awaitSupervisorExit(sup *runner.Runner) {
	_ = sup.Join(0)

	w.mu.Lock()
	p := w.p
	restart := w.restart
	stopReq := w.stopReq
	recordedErr := w.err
	w.mu.Unlock()

	pid, _ := p.PID()
	_, _ = p.Send(frame.TagHalt)
	_ = p.Close()

	if w.OnExit != nil {
		w.OnExit(pid, restart)
	}

	if restart && !stopReq && recordedErr == nil {
		_ = w.Start()
	}
}

// Stop sets the stop flag, delivers SIGTERM to nudge the child off a
// blocked read, and joins the supervisor with a short limit. It never
// writes to or closes the Piper itself: superviseOnce (while the
// supervisor runs) and awaitSupervisorExit (once it has stopped) are the
// only two places that do, and sup.Join inside awaitSupervisorExit
// already sequences them so a Piper is never touched by two goroutines
// at once. Stop only has to ask the supervisor to wind down and wait for
// that same awaitSupervisorExit goroutine to finish the handshake.
func (w *Worker) Stop() error {
	w.mu.Lock()
	w.stopReq = true
	p, sup := w.p, w.sup
	w.mu.Unlock()

	if p != nil {
		_ = p.Signal(syscall.SIGTERM)
	}
	if sup != nil {
		return sup.Stop(defaultStopJoinLimit)
	}
	return nil
}

// Alive reports whether the child PID is reachable by signal 0.
func (w *Worker) Alive() bool {
	w.mu.Lock()
	p := w.p
	w.mu.Unlock()
	if p == nil {
		return false
	}
	pid, ok := p.PID()
	if !ok {
		return false
	}
	return piper.Alive(pid)
}

// Wait non-blockingly reaps the child (WNOHANG|WUNTRACED), reporting
// whether it had already exited.
func (w *Worker) Wait() (exited bool, err error) {
	w.mu.Lock()
	p := w.p
	w.mu.Unlock()
	if p == nil {
		return false, nil
	}
	pid, ok := p.PID()
	if !ok {
		return false, nil
	}
	return piper.TryReap(pid)
}

// Signal forwards sig to the child via its Piper.
func (w *Worker) Signal(sig syscall.Signal) error {
	w.mu.Lock()
	p := w.p
	w.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Signal(sig)
}

// Err returns the error recorded on this Worker's most recent run, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// PID returns the current child's PID, or (0, false) if none is running.
func (w *Worker) PID() (int, bool) {
	w.mu.Lock()
	p := w.p
	w.mu.Unlock()
	if p == nil {
		return 0, false
	}
	return p.PID()
}
