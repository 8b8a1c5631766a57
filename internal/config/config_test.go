package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestLoadPoolsFromTOML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "pools.toml", `
[[pools]]
name = "workers"
timeout = "2s"
min_workers = 2
max_workers = 8
`)
	pools, err := LoadPoolsFromTOML(p)
	if err != nil {
		t.Fatalf("LoadPoolsFromTOML: %v", err)
	}
	if len(pools) != 1 {
		t.Fatalf("len(pools) = %d, want 1", len(pools))
	}
	pc := pools[0]
	if pc.Name != "workers" || pc.MinWorkers != 2 || pc.MaxWorkers != 8 {
		t.Fatalf("unexpected pool config: %+v", pc)
	}
}

func TestLoadPoolsFromTOMLRejectsMissingName(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "pools.toml", `
[[pools]]
min_workers = 1
`)
	if _, err := LoadPoolsFromTOML(p); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestLoadPoolsFromTOMLRejectsMinAboveMax(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "pools.toml", `
[[pools]]
name = "workers"
min_workers = 5
max_workers = 2
`)
	if _, err := LoadPoolsFromTOML(p); err == nil {
		t.Fatal("expected error for min_workers > max_workers")
	}
}

func TestLogConfigForNilLogIsZeroValue(t *testing.T) {
	fc := &FileConfig{}
	lc := LogConfigFor(fc)
	if lc.Dir != "" || lc.MaxSizeMB != 0 {
		t.Fatalf("expected zero value, got %+v", lc)
	}
}

func TestLogConfigForMapsFields(t *testing.T) {
	fc := &FileConfig{Log: &LogConfig{Dir: "/var/log/preforge", MaxSizeMB: 20, Compress: true}}
	lc := LogConfigFor(fc)
	if lc.Dir != "/var/log/preforge" || lc.MaxSizeMB != 20 || !lc.Compress {
		t.Fatalf("unexpected log config: %+v", lc)
	}
}

func TestLoadEnvFromTOML(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "env.toml", `
env = ["A=1", "B=2"]
`)
	env, err := LoadEnvFromTOML(p)
	if err != nil {
		t.Fatalf("LoadEnvFromTOML: %v", err)
	}
	if len(env) != 2 {
		t.Fatalf("env = %v, want 2 entries", env)
	}
}

func TestLoadGlobalEnvMergesFilesAndOverrides(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, "extra.env", "FOO=from-file\nBAR=keep\n# comment\n")
	cfg := writeFile(t, dir, "config.toml", `
env = ["FOO=from-config"]
env_files = ["`+envFile+`"]
use_os_env = false
`)
	out, err := LoadGlobalEnv(cfg)
	if err != nil {
		t.Fatalf("LoadGlobalEnv: %v", err)
	}
	got := map[string]bool{}
	for _, kv := range out {
		got[kv] = true
	}
	if !got["FOO=from-config"] {
		t.Fatalf("expected top-level env to override file, got %v", out)
	}
	if !got["BAR=keep"] {
		t.Fatalf("expected file-only var to survive, got %v", out)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "x.env", "A=1\n\n# comment\nB = 2 \n")
	out, err := LoadEnvFile(p)
	if err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	got := map[string]bool{}
	for _, kv := range out {
		got[kv] = true
	}
	if !got["A=1"] || !got["B=2"] {
		t.Fatalf("unexpected env entries: %v", out)
	}
}
