// Command preforge is the reference CLI for the prefork worker pool
// library: it wires a TOML config to a Pool or Server and runs until
// signaled. Production users typically embed the internal packages
// directly and register their own capability sets instead of using this
// binary as-is.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/loykin/preforge/internal/logger"
	"github.com/loykin/preforge/internal/piper"
	"github.com/spf13/cobra"
)

func main() {
	registerBuiltinCapabilities()
	piper.MaybeRunChild()

	globalFlags := &GlobalFlags{}
	root := buildRoot(globalFlags)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot(globalFlags *GlobalFlags) *cobra.Command {
	poolStartFlags := &PoolStartFlags{}
	poolStatusFlags := &PoolStatusFlags{}
	serverRunFlags := &ServerRunFlags{}

	root := createRootCommand(globalFlags)
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return setupLogging(*globalFlags)
	}

	poolCmd := createPoolCommand()
	poolCmd.AddCommand(
		createPoolStartCommand(poolStartFlags),
		createPoolStatusCommand(poolStatusFlags),
	)

	serverCmd := createServerCommand()
	serverCmd.AddCommand(createServerRunCommand(serverRunFlags))

	root.AddCommand(poolCmd, serverCmd)
	return root
}

func setupLogging(flags GlobalFlags) error {
	level, err := parseLevel(flags.LogLevel)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stderr
	if flags.LogDir != "" {
		logCfg := logger.Config{Dir: flags.LogDir}
		stdout, _, err := logCfg.Writers("preforge")
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		w = stdout
	}

	handler := logger.NewColorTextHandler(w, &slog.HandlerOptions{Level: level}, true)
	slog.SetDefault(slog.New(handler))
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}
