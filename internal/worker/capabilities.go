// Package worker implements one supervised child: a
// child driver running a user-supplied capability set under a simple
// request/response protocol over a Piper, and a parent-side supervisor
// ThreadedRunner that pumps heartbeats and enforces timeouts. Grounded on
// provisr's internal/manager supervisor/managed_process pairing.
package worker

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/loykin/preforge/internal/piper"
)

// Capabilities is the per-worker behavior set composed into every child a
// Pool forks: Execute is required, the rest are optional hooks. Errors
// returned by the optional hooks are logged and swallowed rather than
// propagated.
type Capabilities struct {
	Execute         func() error
	BeforeExecuting func() error
	AfterExecuting  func() error
	HUP             func() error
	Term            func() error
}

var (
	registryMu sync.Mutex
	registry   = map[string]Capabilities{}
)

// Register makes caps available to the child driver under name and wires a
// matching piper.ChildFunc. Because a Worker's child is a re-exec of the
// current binary (internal/piper), not a true fork, name must be
// registered identically in both the parent and child process images —
// call Register from an init() func, or from the same deterministic setup
// code main() runs before calling piper.MaybeRunChild(). Re-registering an
// existing name replaces its capability set.
func Register(name string, caps Capabilities) {
	if caps.Execute == nil {
		panic("worker: Register requires a non-nil Execute")
	}
	registryMu.Lock()
	registry[name] = caps
	registryMu.Unlock()

	piper.Register(childFuncName(name), func(p *piper.Piper) {
		runChildDriver(caps, p)
	})
}

// IsRegistered reports whether name has a capability set installed.
func IsRegistered(name string) bool {
	_, ok := lookup(name)
	return ok
}

func lookup(name string) (Capabilities, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	caps, ok := registry[name]
	return caps, ok
}

func childFuncName(name string) string {
	return fmt.Sprintf("preforge-worker:%s", name)
}

func callHook(name string, fn func() error) {
	if fn == nil {
		return
	}
	if err := fn(); err != nil {
		slog.Default().Error("worker: hook failed", "hook", name, "error", err)
	}
}
