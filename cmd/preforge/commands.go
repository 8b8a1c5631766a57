package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/preforge/internal/config"
	"github.com/loykin/preforge/internal/httpapi"
	"github.com/loykin/preforge/internal/pidfile"
	"github.com/loykin/preforge/internal/pool"
	"github.com/loykin/preforge/internal/runner"
	"github.com/loykin/preforge/internal/server"
	"github.com/spf13/cobra"
)

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "preforge",
		Short: "Prefork worker pools with heartbeat supervision",
		Long: `preforge runs pools of pre-forked worker processes, each supervised
over a framed IPC pipe with heartbeat timeouts and HUP-triggered restart.

Examples:
  preforge pool start --config pools.toml
  preforge pool status --api-url http://localhost:8080/api
  preforge server run --config pools.toml`,
	}
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&flags.LogDir, "log-dir", "", "directory for rotated log files (stderr only if empty)")
	return root
}

func createPoolCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pool",
		Short: "Manage prefork worker pools",
	}
}

func createPoolStartCommand(flags *PoolStartFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Build pools from a config file and run until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoolStart(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (required)")
	cmd.Flags().StringVar(&flags.Name, "name", "", "start only the pool with this name (default: all)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runPoolStart(flags PoolStartFlags) error {
	pcs, err := config.LoadPoolsFromTOML(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("load pools: %w", err)
	}

	var pools []*pool.Pool
	for _, pc := range pcs {
		if flags.Name != "" && pc.Name != flags.Name {
			continue
		}
		p, err := pool.New(pc.Name, pc.Timeout)
		if err != nil {
			return fmt.Errorf("pool %s: %w", pc.Name, err)
		}
		p.MinWorkers = pc.MinWorkers
		p.MaxWorkers = pc.MaxWorkers
		start := pc.MinWorkers
		if start == 0 {
			start = 1
		}
		if err := p.Start(start); err != nil {
			return fmt.Errorf("pool %s: start: %w", pc.Name, err)
		}
		pools = append(pools, p)
	}
	if len(pools) == 0 {
		return fmt.Errorf("no matching pool in %s", flags.ConfigPath)
	}

	waitForShutdownSignal()

	var firstErr error
	for _, p := range pools {
		if err := p.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func createPoolStatusCommand(flags *PoolStatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch pool status from a running introspection API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoolStatus(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "base URL of a running server's introspection API (required)")
	_ = cmd.MarkFlagRequired("api-url")
	return cmd
}

func runPoolStatus(flags PoolStatusFlags) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(flags.APIUrl + "/status")
	if err != nil {
		return fmt.Errorf("fetch status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func createServerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run a single-process server embedding one or more pools",
	}
}

func createServerRunCommand(flags *ServerRunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load a config, build its pools, and serve until signaled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServerRun(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (required)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runServerRun(flags ServerRunFlags) error {
	fc, err := config.LoadFileConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var pools []*pool.Pool
	for _, pc := range fc.Pools {
		p, err := pool.New(pc.Name, pc.Timeout)
		if err != nil {
			return fmt.Errorf("pool %s: %w", pc.Name, err)
		}
		p.MinWorkers = pc.MinWorkers
		p.MaxWorkers = pc.MaxWorkers
		start := pc.MinWorkers
		if start == 0 {
			start = 1
		}
		if err := p.Start(start); err != nil {
			return fmt.Errorf("pool %s: start: %w", pc.Name, err)
		}
		pools = append(pools, p)
	}

	loop := runner.New()
	loop.Interval = time.Second
	loop.Run = func() error {
		for _, p := range pools {
			_ = p.EnsureWorkerPoolSize()
		}
		return nil
	}

	var pf *pidfile.PidFile
	if fc.Server != nil && fc.Server.PIDDir != "" {
		pf = pidfile.New(fc.Server.PIDDir, "preforge")
	}

	srv := server.New(pf, loop, server.Hooks{})

	var httpSrv *http.Server
	if fc.Server != nil && fc.Server.HTTPAddr != "" && len(pools) > 0 {
		httpSrv = httpapi.NewServer(fc.Server.HTTPAddr, fc.Server.HTTPBasePath, pools[0])
	}

	if err := srv.Startup(true); err != nil {
		return fmt.Errorf("server startup: %w", err)
	}

	if httpSrv != nil {
		_ = httpSrv.Close()
	}
	var firstErr error
	for _, p := range pools {
		if err := p.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func waitForShutdownSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	signal.Stop(ch)
}
