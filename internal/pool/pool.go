// Package pool implements the Prefork Pool: a
// collection of Workers with start/stop/reap, dynamic resizing bounded by
// optional min/max caps, and error iteration. Grounded on provisr's
// Manager, generalized from "named external processes" to "N forked
// copies of one capability set".
package pool

import (
	"fmt"
	"sync"
	"time"

	"github.com/loykin/preforge/internal/errs"
	"github.com/loykin/preforge/internal/metrics"
	"github.com/loykin/preforge/internal/piper"
	"github.com/loykin/preforge/internal/worker"
)

// Pool owns an ordered list of Workers, the name of the capability set to
// install into each new Worker, a heartbeat timeout, optional min/max
// worker caps, and a harvest list of PIDs pending reap.
type Pool struct {
	CapabilitiesName string
	Timeout          time.Duration
	MinWorkers       int
	MaxWorkers       int // 0 means unbounded

	mu      sync.Mutex
	workers []*worker.Worker
	harvest []int
}

// New constructs a Pool bound to a capability set already passed to
// worker.Register. Construction fails with errs.ErrArgument if no name is
// given — a Pool requires either a capability set or a single execute
// function.
func New(capabilitiesName string, timeout time.Duration) (*Pool, error) {
	if capabilitiesName == "" || !worker.IsRegistered(capabilitiesName) {
		return nil, fmt.Errorf("pool: %w: capability set %q not registered", errs.ErrArgument, capabilitiesName)
	}
	return &Pool{CapabilitiesName: capabilitiesName, Timeout: timeout}, nil
}

// NewFromExecute registers execute as a sole-member capability set under
// name and returns a Pool bound to it, for callers with no
// before/after/hup/term hooks to install.
func NewFromExecute(name string, execute func() error, timeout time.Duration) (*Pool, error) {
	if execute == nil {
		return nil, fmt.Errorf("pool: %w: execute is required", errs.ErrArgument)
	}
	worker.Register(name, worker.Capabilities{Execute: execute})
	return New(name, timeout)
}

// Start clears the worker list, constructs n fresh Workers, and starts
// each. After Start returns, len(workers) == n (or fewer, if MaxWorkers
// capped it and the caller asked for more than the pool allows).
func (p *Pool) Start(n int) error {
	p.mu.Lock()
	p.workers = nil
	p.mu.Unlock()
	return p.AddWorkers(n)
}

// Stop calls Stop on every Worker in order, then Reap. It returns after
// all children have been awaited.
func (p *Pool) Stop() error {
	p.mu.Lock()
	workers := append([]*worker.Worker(nil), p.workers...)
	p.mu.Unlock()

	var firstErr error
	for _, w := range workers {
		if err := w.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.Reap(); err != nil && firstErr == nil {
		firstErr = err
	}
	p.reportSize()
	return firstErr
}

// Reap moves the harvest list to a local via swap, then blocking-waits
// each PID, clearing zombies. Idempotent when the harvest list is empty.
func (p *Pool) Reap() error {
	p.mu.Lock()
	pids := p.harvest
	p.harvest = nil
	p.mu.Unlock()

	var firstErr error
	for _, pid := range pids {
		if err := piper.ReapBlocking(pid); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("pool: reap pid %d: %w", pid, err)
		}
	}
	return firstErr
}

// AddWorkers appends min(k, MaxWorkers-len) new Workers (unbounded if
// MaxWorkers is unset) and starts them.
func (p *Pool) AddWorkers(k int) error {
	if k <= 0 {
		return nil
	}
	p.mu.Lock()
	cur := len(p.workers)
	max := p.MaxWorkers
	p.mu.Unlock()

	if max > 0 {
		if cur >= max {
			return nil
		}
		if cur+k > max {
			k = max - cur
		}
	}

	for i := 0; i < k; i++ {
		if err := p.addWorker(); err != nil {
			return err
		}
	}
	p.reportSize()
	return nil
}

func (p *Pool) reportSize() {
	p.mu.Lock()
	total := len(p.workers)
	p.mu.Unlock()
	var alive int
	p.EachWorker(func(w *worker.Worker) {
		if w.Alive() {
			alive++
		}
	})
	metrics.SetPoolSize(p.CapabilitiesName, total, alive)
}

func (p *Pool) addWorker() error {
	w := worker.New(p.CapabilitiesName, p.Timeout)
	w.OnExit = p.onWorkerExit
	if err := w.Start(); err != nil {
		return fmt.Errorf("pool: start worker: %w", err)
	}
	p.mu.Lock()
	p.workers = append(p.workers, w)
	p.mu.Unlock()
	return nil
}

func (p *Pool) onWorkerExit(pid int, _ bool) {
	if pid <= 0 {
		return
	}
	p.mu.Lock()
	p.harvest = append(p.harvest, pid)
	p.mu.Unlock()
}

// PruneWorkers removes Workers whose child is not alive.
func (p *Pool) PruneWorkers() {
	p.mu.Lock()
	kept := p.workers[:0]
	for _, w := range p.workers {
		if w.Alive() {
			kept = append(kept, w)
		}
	}
	p.workers = kept
	p.mu.Unlock()
	p.reportSize()
}

// EnsureWorkerPoolSize computes deficit = MinWorkers - len(alive workers)
// and, if positive, adds that many replacements (subject to MaxWorkers).
func (p *Pool) EnsureWorkerPoolSize() error {
	p.PruneWorkers()
	p.mu.Lock()
	alive := len(p.workers)
	min := p.MinWorkers
	p.mu.Unlock()

	deficit := min - alive
	if deficit <= 0 {
		return nil
	}
	return p.AddWorkers(deficit)
}

// Len reports the current worker count.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// EachWorker calls fn once per Worker currently in the pool.
func (p *Pool) EachWorker(fn func(*worker.Worker)) {
	p.mu.Lock()
	workers := append([]*worker.Worker(nil), p.workers...)
	p.mu.Unlock()
	for _, w := range workers {
		fn(w)
	}
}

// Errors calls fn only for Workers whose recorded error is non-nil.
func (p *Pool) Errors(fn func(*worker.Worker)) {
	p.EachWorker(func(w *worker.Worker) {
		if w.Err() != nil {
			fn(w)
		}
	})
}
