package pool

import (
	"testing"
	"time"

	"github.com/loykin/preforge/internal/worker"
)

func TestNewRejectsEmptyCapabilitiesName(t *testing.T) {
	if _, err := New("", time.Second); err == nil {
		t.Fatal("expected an error for an empty capabilities name")
	}
}

func TestNewFromExecuteRejectsNilExecute(t *testing.T) {
	if _, err := NewFromExecute("t", nil, time.Second); err == nil {
		t.Fatal("expected an error for a nil execute func")
	}
}

func TestAddWorkersRespectsMaxCap(t *testing.T) {
	p := &Pool{MaxWorkers: 2}
	p.workers = []*worker.Worker{worker.New("x", time.Second), worker.New("x", time.Second)}

	// addWorker would try to Start a real Worker (and fail, since "x" isn't
	// registered); AddWorkers must short-circuit on the cap before ever
	// calling addWorker when already at/over max.
	if err := p.AddWorkers(3); err != nil {
		t.Fatalf("AddWorkers at cap: %v", err)
	}
	if got := p.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2 (capped, no-op)", got)
	}
}

func TestAddWorkersZeroOrNegativeIsNoOp(t *testing.T) {
	p := &Pool{}
	if err := p.AddWorkers(0); err != nil {
		t.Fatalf("AddWorkers(0): %v", err)
	}
	if err := p.AddWorkers(-1); err != nil {
		t.Fatalf("AddWorkers(-1): %v", err)
	}
	if got := p.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}
}

func TestOnWorkerExitIgnoresNonPositivePID(t *testing.T) {
	p := &Pool{}
	p.onWorkerExit(0, false)
	p.onWorkerExit(-1, false)
	p.mu.Lock()
	n := len(p.harvest)
	p.mu.Unlock()
	if n != 0 {
		t.Fatalf("harvest length = %d, want 0", n)
	}
}

func TestOnWorkerExitAppendsToHarvest(t *testing.T) {
	p := &Pool{}
	p.onWorkerExit(123, false)
	p.onWorkerExit(456, true)
	p.mu.Lock()
	got := append([]int(nil), p.harvest...)
	p.mu.Unlock()
	if len(got) != 2 || got[0] != 123 || got[1] != 456 {
		t.Fatalf("harvest = %v, want [123 456]", got)
	}
}

func TestReapIsIdempotentWhenEmpty(t *testing.T) {
	p := &Pool{}
	if err := p.Reap(); err != nil {
		t.Fatalf("Reap on an empty harvest: %v", err)
	}
	if err := p.Reap(); err != nil {
		t.Fatalf("second Reap on an empty harvest: %v", err)
	}
}

func TestEnsureWorkerPoolSizeIsNoOpWhenAtOrAboveMin(t *testing.T) {
	p := &Pool{MinWorkers: 0}
	if err := p.EnsureWorkerPoolSize(); err != nil {
		t.Fatalf("EnsureWorkerPoolSize: %v", err)
	}
	if got := p.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0", got)
	}
}

func TestPruneWorkersRemovesDeadOnes(t *testing.T) {
	// worker.New builds a Worker with no backing Piper (never Start'ed), so
	// Alive() reports false for it without needing a real process.
	dead := worker.New("x", time.Second)
	p := &Pool{workers: []*worker.Worker{dead}}
	p.PruneWorkers()
	if got := p.Len(); got != 0 {
		t.Fatalf("Len() = %d, want 0 after pruning an unstarted (dead) worker", got)
	}
}

func TestEachWorkerVisitsAllCurrentWorkers(t *testing.T) {
	a, b := worker.New("x", time.Second), worker.New("y", time.Second)
	p := &Pool{workers: []*worker.Worker{a, b}}

	var seen []*worker.Worker
	p.EachWorker(func(w *worker.Worker) { seen = append(seen, w) })
	if len(seen) != 2 {
		t.Fatalf("visited %d workers, want 2", len(seen))
	}
}

func TestErrorsOnlyVisitsWorkersWithRecordedErrors(t *testing.T) {
	clean, broken := worker.New("x", time.Second), worker.New("y", time.Second)
	p := &Pool{workers: []*worker.Worker{clean, broken}}

	var visited int
	p.Errors(func(w *worker.Worker) { visited++ })
	if visited != 0 {
		t.Fatalf("visited = %d, want 0 (neither worker has a recorded error)", visited)
	}
}
