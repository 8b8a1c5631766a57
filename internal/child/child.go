// Package child implements the Child (kill escalator) collaborator:
// runs an external command with an optional wall-clock
// timeout, escalating through a signal sequence if the command hasn't
// exited by the time the timeout fires. Grounded on provisr's
// Process.Stop escalation (SIGTERM then SIGKILL after a wait window),
// generalized to a configurable signal sequence and applied to the
// command's own lifetime rather than an externally-requested stop.
package child

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// DefaultSignals is the escalation sequence used when Signals is unset.
var DefaultSignals = []Signal{SigTerm, SigQuit, SigKill}

// Signal names one of the escalation steps in a platform-neutral way;
// translated to the concrete syscall.Signal in signal_unix.go.
type Signal int

const (
	SigTerm Signal = iota
	SigQuit
	SigKill
)

// Child runs one external command to completion, enforcing an optional
// wall-clock Timeout by escalating through Signals (sleeping Suspend
// between each) once it fires.
type Child struct {
	// Timeout bounds the command's total wall-clock run time; zero means
	// unbounded.
	Timeout time.Duration
	// Signals is the escalation sequence tried on timeout, in order.
	// Defaults to DefaultSignals.
	Signals []Signal
	// Suspend is the wait between escalation steps.
	Suspend time.Duration
}

// Run executes name with args, waiting for it to finish or for Timeout to
// elapse. On timeout it escalates through Signals, returning the command's
// exit error once it exits, or giving up with an error once every signal
// has been tried and the process is still alive.
func (c *Child) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("child: start %s: %w", name, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if c.Timeout <= 0 {
		return <-done
	}

	select {
	case err := <-done:
		return err
	case <-time.After(c.Timeout):
		return c.escalate(cmd, done)
	}
}

func (c *Child) escalate(cmd *exec.Cmd, done chan error) error {
	signals := c.Signals
	if len(signals) == 0 {
		signals = DefaultSignals
	}
	suspend := c.Suspend
	if suspend <= 0 {
		suspend = time.Second
	}

	for _, sig := range signals {
		_ = signalProcess(cmd, sig)
		select {
		case err := <-done:
			return err
		case <-time.After(suspend):
		}
	}

	select {
	case err := <-done:
		return err
	default:
		return fmt.Errorf("child: %s did not exit after exhausting the signal sequence", cmd.Path)
	}
}
