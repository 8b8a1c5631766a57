// Package config loads pool and server definitions from TOML, grounded on
// provisr's internal/config package (the FileConfig/viper.Unmarshal
// pattern, and the env-merging helpers), retargeted from arbitrary shell
// commands to registered-capability-set pools: a PoolConfig names a
// capability set already wired into the binary via worker.Register rather
// than carrying a command line to exec.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/preforge/internal/logger"
	"github.com/spf13/viper"
)

// FileConfig is the top-level TOML structure for a preforge binary: global
// env handling, logging defaults, an optional Server block, and the pools
// to build.
type FileConfig struct {
	Env      []string      `toml:"env" mapstructure:"env"`
	EnvFiles []string      `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool          `toml:"use_os_env" mapstructure:"use_os_env"`
	Log      *LogConfig    `toml:"log" mapstructure:"log"`
	Server   *ServerConfig `toml:"server" mapstructure:"server"`
	Pools    []PoolConfig  `toml:"pools" mapstructure:"pools"`
}

// LogConfig mirrors logger.Config's fields for TOML unmarshaling.
type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// ServerConfig configures the optional single-process Server collaborator
// and its embedded introspection HTTP API. PIDDir is a directory, not a
// file path: pidfile.PidFile derives the filename itself from the program
// name.
type ServerConfig struct {
	PIDDir       string `toml:"pid_dir" mapstructure:"pid_dir"`
	HTTPAddr     string `toml:"http_addr" mapstructure:"http_addr"`
	HTTPBasePath string `toml:"http_base_path" mapstructure:"http_base_path"`
}

// PoolConfig describes one Prefork Pool to build at startup. Name must
// match a capability set already passed to worker.Register.
type PoolConfig struct {
	Name       string        `toml:"name" mapstructure:"name"`
	Timeout    time.Duration `toml:"timeout" mapstructure:"timeout"`
	MinWorkers int           `toml:"min_workers" mapstructure:"min_workers"`
	MaxWorkers int           `toml:"max_workers" mapstructure:"max_workers"`
	PIDFile    string        `toml:"pidfile" mapstructure:"pidfile"`
}

// LoadFileConfig reads and unmarshals a TOML file into a FileConfig.
func LoadFileConfig(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// LoadPoolsFromTOML parses a TOML file and returns its validated Pools
// list: Name is required and MaxWorkers, when set, must be at least
// MinWorkers.
func LoadPoolsFromTOML(path string) ([]PoolConfig, error) {
	fc, err := LoadFileConfig(path)
	if err != nil {
		return nil, err
	}
	for _, pc := range fc.Pools {
		if pc.Name == "" {
			return nil, fmt.Errorf("pool entry missing name")
		}
		if pc.MaxWorkers > 0 && pc.MinWorkers > pc.MaxWorkers {
			return nil, fmt.Errorf("pool %s: min_workers > max_workers", pc.Name)
		}
	}
	return fc.Pools, nil
}

// LogConfigFor builds a logger.Config from the top-level Log block,
// returning the zero value if none was given.
func LogConfigFor(fc *FileConfig) logger.Config {
	if fc == nil || fc.Log == nil {
		return logger.Config{}
	}
	return logger.Config{
		Dir:        fc.Log.Dir,
		StdoutPath: fc.Log.Stdout,
		StderrPath: fc.Log.Stderr,
		MaxSizeMB:  fc.Log.MaxSizeMB,
		MaxBackups: fc.Log.MaxBackups,
		MaxAgeDays: fc.Log.MaxAgeDays,
		Compress:   fc.Log.Compress,
	}
}

// LoadEnvFromTOML parses only the top-level env list from TOML.
func LoadEnvFromTOML(path string) ([]string, error) {
	fc, err := LoadFileConfig(path)
	if err != nil {
		return nil, err
	}
	return fc.Env, nil
}

// LoadGlobalEnv merges env from config: top-level env, env_files contents,
// and optionally OS env when UseOSEnv is true. Precedence: OS env (when
// enabled) provides base; then file vars apply; then the top-level env
// list overrides last.
func LoadGlobalEnv(path string) ([]string, error) {
	fc, err := LoadFileConfig(path)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// LoadEnvFile parses a simple .env file and returns a slice of
// "KEY=VALUE" entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export,
// no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
