package worker

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/preforge/internal/errs"
	"github.com/loykin/preforge/internal/frame"
	"github.com/loykin/preforge/internal/piper"
)

// runChildDriver implements the child driver. It always terminates the
// process itself rather than returning.
func runChildDriver(caps Capabilities, p *piper.Piper) {
	code := runChildDriverLogic(caps, p)
	os.Exit(code)
}

// runChildDriverLogic is runChildDriver's body minus the process exit, so
// tests can drive it in-process against a local Piper pair. A single
// goroutine — this one — owns p for its entire lifetime: pending SIGHUP/
// SIGTERM are checked via a non-blocking select on sigCh between rounds
// rather than handled by a second goroutine touching p concurrently,
// since a Piper is not safe to share across goroutines.
func runChildDriverLogic(caps Capabilities, p *piper.Piper) int {
	sigCh := installChildSignalHandlers()
	defer teardownChildSignalHandlers(sigCh)

	callHook("before_executing", caps.BeforeExecuting)

	started, sigExit := awaitStart(p, sigCh, caps)
	if !started {
		if sigExit >= 0 {
			return sigExit
		}
		_ = p.Close()
		return 1
	}

driverLoop:
	for {
		select {
		case sig := <-sigCh:
			return handleChildSignal(sig, caps, p)
		default:
		}

		got, err := p.Receive()
		if err != nil {
			sendChildError(p, err)
			break driverLoop
		}
		switch {
		case got.Kind == piper.ReceiveControl && got.Tag == frame.TagHeartbeat:
			if execErr := caps.Execute(); execErr != nil {
				sendChildError(p, execErr)
				break driverLoop
			}
			_, _ = p.Send(frame.TagHeartbeat)
		case got.Kind == piper.ReceiveControl && got.Tag == frame.TagHalt:
			break driverLoop
		case got.Kind == piper.ReceiveTimeout:
			sendChildError(p, &errs.Timeout{Op: "child driver receive", Seconds: p.Timeout().Seconds()})
			break driverLoop
		default:
			sendChildError(p, fmt.Errorf("%w: frame kind %v", errs.ErrUnknownSignal, got.Kind))
			break driverLoop
		}
	}

	callHook("after_executing", caps.AfterExecuting)
	_ = p.Close()
	return 0
}

// awaitStart blocks until a START frame arrives, the Piper errors out, or
// a signal preempts the wait. started is false in every case except the
// first; sigExit is >= 0 only when a signal fired, naming the exit code
// the signal handler already decided (and already closed p for).
func awaitStart(p *piper.Piper, sigCh chan os.Signal, caps Capabilities) (started bool, sigExit int) {
	for {
		select {
		case sig := <-sigCh:
			return false, handleChildSignal(sig, caps, p)
		default:
		}

		got, err := p.Receive()
		if err != nil {
			return false, -1
		}
		if got.Kind == piper.ReceiveControl && got.Tag == frame.TagStart {
			return true, -1
		}
		if got.Kind == piper.ReceiveTimeout {
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func sendChildError(p *piper.Piper, err error) {
	ce := frame.ChildError{Kind: errorKind(err), Message: err.Error()}
	_, _ = p.Send(ce)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, errs.ErrTimeout):
		return "Timeout"
	case errors.Is(err, errs.ErrUnknownSignal):
		return "UnknownSignal"
	default:
		return "Error"
	}
}

// activeSig tracks the one signal channel currently registered by a
// running child driver, so a later install (or resetForTest, between
// sequential test drivers) can unregister it first. A child driver
// occupies its whole process, so there is only ever one active
// registration at a time in production.
var (
	sigMu     sync.Mutex
	activeSig chan os.Signal
)

// installChildSignalHandlers registers a fresh channel for SIGHUP/SIGTERM
// and returns it; the driver loop itself reads from it, so no second
// goroutine ever touches the Piper these signals concern.
func installChildSignalHandlers() chan os.Signal {
	sigMu.Lock()
	defer sigMu.Unlock()
	if activeSig != nil {
		signal.Stop(activeSig)
		close(activeSig)
	}
	ch := make(chan os.Signal, 4)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGTERM)
	activeSig = ch
	return ch
}

// teardownChildSignalHandlers unregisters and closes ch once the driver
// that installed it has exited.
func teardownChildSignalHandlers(ch chan os.Signal) {
	sigMu.Lock()
	defer sigMu.Unlock()
	signal.Stop(ch)
	if activeSig == ch {
		activeSig = nil
	}
	close(ch)
}

// resetForTest clears any installed child signal handlers. Test-only.
func resetForTest() {
	sigMu.Lock()
	defer sigMu.Unlock()
	if activeSig != nil {
		signal.Stop(activeSig)
		close(activeSig)
		activeSig = nil
	}
}

// handleChildSignal runs the handler for sig on the driver loop's own
// goroutine and returns the process exit code to use.
func handleChildSignal(sig os.Signal, caps Capabilities, p *piper.Piper) int {
	switch sig {
	case syscall.SIGHUP:
		return handleChildHUP(caps, p)
	case syscall.SIGTERM:
		return handleChildTerm(caps, p)
	default:
		return 0
	}
}

// handleChildHUP is the SIGHUP handler: it asks the parent supervisor to
// replace this worker, waits for acknowledgement, then closes p.
func handleChildHUP(caps Capabilities, p *piper.Piper) int {
	_, _ = p.Send(frame.TagStart)
	_, _ = p.Receive()
	_ = p.Close()
	callHook("hup", caps.HUP)
	return 0
}

// handleChildTerm is the SIGTERM handler.
func handleChildTerm(caps Capabilities, p *piper.Piper) int {
	_ = p.Close()
	callHook("term", caps.Term)
	return 0
}
