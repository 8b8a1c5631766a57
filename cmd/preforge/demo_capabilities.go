package main

import (
	"time"

	"github.com/loykin/preforge/internal/worker"
)

// registerBuiltinCapabilities installs the capability sets this binary
// ships with. Real deployments register their own Execute funcs the same
// way, from an init() or from main() before piper.MaybeRunChild — see
// internal/worker.Register's doc comment on why registration must happen
// identically in the parent and the re-exec'd child image.
func registerBuiltinCapabilities() {
	worker.Register("noop", worker.Capabilities{
		Execute: func() error { return nil },
	})
	worker.Register("sleep", worker.Capabilities{
		Execute: func() error {
			time.Sleep(50 * time.Millisecond)
			return nil
		},
	})
}
