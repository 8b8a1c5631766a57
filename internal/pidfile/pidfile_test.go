package pidfile

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPathDerivation(t *testing.T) {
	f := New("/var/run", "My Worker Pool")
	want := filepath.Join("/var/run", "my_worker_pool.pid")
	if got := f.Path(); got != want {
		t.Fatalf("Path() = %q, want %q", got, want)
	}
}

func TestWriteThenPIDRoundTrips(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, "preforge")
	if err := f.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	pid, err := f.PID()
	if err != nil {
		t.Fatalf("PID: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("PID() = %d, want %d", pid, os.Getpid())
	}
}

func TestPIDReadsFromDiskWhenNotWrittenThisLifetime(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, "preforge")
	if err := os.WriteFile(f.Path(), []byte(strconv.Itoa(999)), DefaultMode); err != nil {
		t.Fatalf("seed pidfile: %v", err)
	}
	pid, err := f.PID()
	if err != nil {
		t.Fatalf("PID: %v", err)
	}
	if pid != 999 {
		t.Fatalf("PID() = %d, want 999", pid)
	}
}

func TestDeleteOnlyRemovesIfOwningPID(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, "preforge")
	if err := os.WriteFile(f.Path(), []byte(strconv.Itoa(999999)), DefaultMode); err != nil {
		t.Fatalf("seed pidfile: %v", err)
	}
	if err := f.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(f.Path()); err != nil {
		t.Fatalf("expected file to survive Delete when it records a foreign PID: %v", err)
	}

	if err := f.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(f.Path()); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed after Delete owning its own PID, stat err = %v", err)
	}
}

func TestDeleteOnMissingFileIsNoOp(t *testing.T) {
	f := New(t.TempDir(), "preforge")
	if err := f.Delete(); err != nil {
		t.Fatalf("Delete on a missing file: %v", err)
	}
}

func TestForceDeleteRemovesRegardlessOfOwner(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, "preforge")
	if err := os.WriteFile(f.Path(), []byte(strconv.Itoa(999999)), DefaultMode); err != nil {
		t.Fatalf("seed pidfile: %v", err)
	}
	if err := f.ForceDelete(); err != nil {
		t.Fatalf("ForceDelete: %v", err)
	}
	if _, err := os.Stat(f.Path()); !os.IsNotExist(err) {
		t.Fatalf("expected file to be gone after ForceDelete")
	}
}

func TestAliveTrueForSelfPID(t *testing.T) {
	dir := t.TempDir()
	f := New(dir, "preforge")
	if err := f.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !f.Alive() {
		t.Fatal("expected Alive() true for this process's own PID")
	}
}

func TestAliveFalseWhenMissing(t *testing.T) {
	f := New(t.TempDir(), "preforge")
	if f.Alive() {
		t.Fatal("expected Alive() false with no pidfile on disk")
	}
}
