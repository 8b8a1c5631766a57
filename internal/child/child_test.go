package child

import (
	"context"
	"testing"
	"time"
)

func TestRunReturnsNilOnCleanExit(t *testing.T) {
	c := &Child{}
	if err := c.Run(context.Background(), "true"); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunPropagatesNonZeroExit(t *testing.T) {
	c := &Child{}
	if err := c.Run(context.Background(), "false"); err == nil {
		t.Fatal("expected an error for a non-zero exit")
	}
}

func TestRunEscalatesAndKillsOnTimeout(t *testing.T) {
	c := &Child{
		Timeout: 20 * time.Millisecond,
		Signals: []Signal{SigTerm, SigKill},
		Suspend: 20 * time.Millisecond,
	}
	// sh ignores SIGTERM for the duration of the trap, forcing escalation to
	// SIGKILL before the command exits.
	err := c.Run(context.Background(), "sh", "-c", "trap '' TERM; sleep 5")
	if err == nil {
		t.Fatal("expected an error once the command was killed")
	}
}
