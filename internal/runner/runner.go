// Package runner implements the Threaded Activity Loop: a cooperative
// run loop with lifecycle hooks, used by internal/worker's supervisor and
// internal/server's Server.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/preforge/internal/errs"
	"github.com/loykin/preforge/internal/logger"
)

// state mirrors the idle -> running -> stopping -> idle lifecycle.
type state int32

const (
	stateIdle state = iota
	stateRunning
	stateStopping
)

// Hooks are the optional lifecycle callbacks. Each is invoked at most once
// per lifecycle transition.
type Hooks struct {
	BeforeStarting func()
	AfterStarting  func()
	BeforeStopping func()
	AfterStopping  func()
}

// Runner hosts the Threaded Activity Loop's lifecycle. The concrete
// Worker supervisor and Server supply Run as a function field rather than
// via embedding/mixin.
type Runner struct {
	// Run is called once per iteration. A nil Run is a fixed NotImplemented
	// error.
	Run func() error
	// Interval is the wait between iterations; 0 means no wait.
	Interval time.Duration
	// Strict, when true, logs a warning if one iteration (including Run)
	// overruns Interval.
	Strict bool
	// MaxIterations, if non-zero, must be >= 1 and bounds the loop.
	MaxIterations int
	// ContinueOnError logs Run errors at ERROR and keeps looping instead of
	// stopping the loop and recording the error for Join.
	ContinueOnError bool
	// Hooks are the optional before/after callbacks.
	Hooks Hooks
	// Logger receives FATAL/ERROR/WARN log lines; defaults to slog.Default().
	Logger *slog.Logger

	mu         sync.Mutex
	state      state
	iterations int
	wake       chan struct{}
	done       chan struct{}
	runErr     error
}

// New constructs a Runner. Start rejects MaxIterations < 0 as it would
// never terminate the loop usefully; MaxIterations == 0 means unbounded.
func New() *Runner {
	return &Runner{wake: make(chan struct{}, 1)}
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Start sets running=true, invokes BeforeStarting if present, and launches
// the activity goroutine. Starting an already-running Runner is a no-op.
func (r *Runner) Start() error {
	if r.MaxIterations != 0 && r.MaxIterations < 1 {
		return fmt.Errorf("%w: MaxIterations must be >= 1, got %d", errs.ErrArgument, r.MaxIterations)
	}

	r.mu.Lock()
	if r.state != stateIdle {
		r.mu.Unlock()
		return nil
	}
	r.state = stateRunning
	r.iterations = 0
	r.runErr = nil
	r.done = make(chan struct{})
	r.mu.Unlock()

	if r.Hooks.BeforeStarting != nil {
		r.Hooks.BeforeStarting()
	}

	go r.loop()

	if r.Hooks.AfterStarting != nil {
		// May race with the first iteration; only guaranteed to be
		// scheduled after the task is created.
		go r.Hooks.AfterStarting()
	}
	return nil
}

func (r *Runner) loop() {
	defer close(r.done)

	if r.Run == nil {
		r.fail(errs.ErrNotImplemented, "run")
		return
	}

	for {
		if r.Interval > 0 && r.isRunning() {
			if !r.sleepInterval() {
				break
			}
		}
		if !r.isRunning() {
			break
		}

		t0 := time.Now()
		err := r.Run()
		r.mu.Lock()
		r.iterations++
		iterations := r.iterations
		maxIter := r.MaxIterations
		r.mu.Unlock()

		if err != nil {
			if r.ContinueOnError {
				r.logger().Error("runner: iteration failed, continuing", "error", err)
			} else {
				r.fail(err, "")
				return
			}
		}

		if maxIter != 0 && iterations >= maxIter {
			break
		}
		if r.Strict && r.Interval > 0 && time.Since(t0) > r.Interval {
			r.logger().Warn("runner: iteration exceeded strict interval", "interval", r.Interval, "elapsed", time.Since(t0))
		}
	}

	r.mu.Lock()
	r.state = stateIdle
	r.mu.Unlock()
}

func (r *Runner) fail(err error, missing string) {
	var final error
	if missing != "" {
		final = fmt.Errorf("%w: missing required %s", err, missing)
	} else {
		final = err
	}
	r.logger().Log(context.Background(), logger.LevelFatal, "runner: iteration raised, stopping", "error", final)
	r.mu.Lock()
	r.runErr = final
	r.state = stateIdle
	r.mu.Unlock()
}

// sleepInterval blocks for Interval or until woken by Stop/wake. Returns
// false if the loop should break immediately (runner was stopped).
func (r *Runner) sleepInterval() bool {
	t := time.NewTimer(r.Interval)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.wake:
		return r.isRunning()
	}
}

func (r *Runner) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateRunning
}

// StopAsync requests the loop stop after its current iteration, without
// blocking for it to finish and without invoking Hooks. Safe to call from
// within Run itself (unlike Stop, which would deadlock joining its own
// goroutine) — used by callers such as internal/worker's supervisor that
// decide mid-iteration to end the loop.
func (r *Runner) StopAsync() {
	r.mu.Lock()
	if r.state == stateRunning {
		r.state = stateStopping
	}
	r.mu.Unlock()
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Stop sets running=false, invokes BeforeStopping, wakes a pending
// interval sleep, optionally joins up to limit, then invokes
// AfterStopping once the task has terminated. A no-op from idle.
func (r *Runner) Stop(limit ...time.Duration) error {
	r.mu.Lock()
	if r.state == stateIdle {
		r.mu.Unlock()
		return nil
	}
	done := r.done
	r.mu.Unlock()

	if r.Hooks.BeforeStopping != nil {
		r.Hooks.BeforeStopping()
	}

	r.StopAsync()

	var joinErr error
	if len(limit) > 0 {
		joinErr = r.Join(limit[0])
	} else if done != nil {
		<-done
	}

	if r.Hooks.AfterStopping != nil {
		r.Hooks.AfterStopping()
	}
	return joinErr
}

// Join blocks until the task terminates or limit elapses (limit==0 means
// no bound). If the task failed, Join re-raises that error. Returns
// immediately if the task never started.
func (r *Runner) Join(limit time.Duration) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}

	if limit > 0 {
		t := time.NewTimer(limit)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			return &errs.Timeout{Op: "runner join", Seconds: limit.Seconds()}
		}
	} else {
		<-done
	}

	r.mu.Lock()
	err := r.runErr
	r.mu.Unlock()
	return err
}

// Wait blocks until running becomes false, or until iterLimit additional
// iterations past the call moment have completed (0 means no iteration
// bound, only the running flag is observed).
func (r *Runner) Wait(iterLimit int) {
	r.mu.Lock()
	startIter := r.iterations
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return
	}
	if iterLimit <= 0 {
		<-done
		return
	}
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			cur := r.iterations
			r.mu.Unlock()
			if cur-startIter >= iterLimit {
				return
			}
		}
	}
}

// Running reports the current running flag.
func (r *Runner) Running() bool { return r.isRunning() }

// Iterations reports the number of completed iterations so far.
func (r *Runner) Iterations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iterations
}
