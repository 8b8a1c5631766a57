// Package preforge re-exports the library's public surface: Capabilities
// registration, Pool construction, and the Server/PidFile/Child/Daemon
// collaborators, so embedders can depend on one import instead of every
// internal/* package. Mirrors provisr's root-level provisr.go facade
// (type aliases over its internal Manager), generalized to this module's
// Pool/Worker domain.
package preforge

import (
	"time"

	"github.com/loykin/preforge/internal/child"
	"github.com/loykin/preforge/internal/config"
	"github.com/loykin/preforge/internal/daemon"
	"github.com/loykin/preforge/internal/pidfile"
	"github.com/loykin/preforge/internal/pool"
	"github.com/loykin/preforge/internal/runner"
	"github.com/loykin/preforge/internal/server"
	"github.com/loykin/preforge/internal/worker"
)

// Capabilities is the per-worker behavior set a Pool forks copies of.
type Capabilities = worker.Capabilities

// Register installs caps under name, for use by Pool.New or
// NewFromExecute. See worker.Register's doc comment for the
// parent/child registration-parity requirement.
func Register(name string, caps Capabilities) { worker.Register(name, caps) }

// Pool is a collection of supervised Workers, all running the same
// registered capability set.
type Pool = pool.Pool

// NewPool constructs a Pool bound to an already-registered capability set.
func NewPool(capabilitiesName string, timeout time.Duration) (*Pool, error) {
	return pool.New(capabilitiesName, timeout)
}

// NewPoolFromExecute registers execute as a sole-member capability set
// under name and returns a Pool bound to it.
func NewPoolFromExecute(name string, execute func() error, timeout time.Duration) (*Pool, error) {
	return pool.NewFromExecute(name, execute, timeout)
}

// FileConfig, PoolConfig, ServerConfig, LogConfig describe a TOML-loaded
// set of pools and an optional Server.
type (
	FileConfig   = config.FileConfig
	PoolConfig   = config.PoolConfig
	ServerConfig = config.ServerConfig
	LogConfig    = config.LogConfig
)

// LoadFileConfig and LoadPoolsFromTOML read a TOML config file.
var (
	LoadFileConfig    = config.LoadFileConfig
	LoadPoolsFromTOML = config.LoadPoolsFromTOML
)

// ThreadedRunner is the composable activity-loop type backing both Worker
// supervisors and Server.
type ThreadedRunner = runner.Runner

// NewThreadedRunner constructs an idle ThreadedRunner; set Run (and
// optionally Interval, MaxIterations, Hooks) before calling Start.
func NewThreadedRunner() *ThreadedRunner { return runner.New() }

// PidFile tracks one process's PID on disk.
type PidFile = pidfile.PidFile

// NewPidFile builds a PidFile for program under dir.
func NewPidFile(dir, program string) *PidFile { return pidfile.New(dir, program) }

// Server pairs a ThreadedRunner with a PidFile and OS signal dispatch.
type Server = server.Server

// ServerHooks are the optional per-signal handlers a Server dispatches to.
type ServerHooks = server.Hooks

// NewServer constructs a Server around loop, optionally tracked by pf.
func NewServer(pf *PidFile, loop *ThreadedRunner, hooks ServerHooks) *Server {
	return server.New(pf, loop, hooks)
}

// Child runs an external command with a wall-clock timeout and a
// configurable kill-signal escalation sequence.
type Child = child.Child

// ChildSignal names one step of a Child's escalation sequence.
type ChildSignal = child.Signal

const (
	SigTerm = child.SigTerm
	SigQuit = child.SigQuit
	SigKill = child.SigKill
)

// Daemon options and the grandchild handle returned by StartDaemon.
type (
	DaemonOptions  = daemon.Options
	DaemonHandle   = daemon.Handle
	DaemonLogWatch = daemon.LogWatch
)

// StartDaemon daemonizes and waits for startup confirmation before
// returning.
func StartDaemon(opts DaemonOptions) (*DaemonHandle, error) { return daemon.Start(opts) }
