package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestPIDFileLifecycle(t *testing.T) {
	dir := t.TempDir()

	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "gateman.pid")); err != nil {
		t.Fatalf("expected gateman.pid in data dir: %v", err)
	}

	pid, err := ReadPID(dir)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("ReadPID got %d, want %d", pid, os.Getpid())
	}

	if err := RemovePID(dir); err != nil {
		t.Fatalf("RemovePID: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, pidFilename)); !os.IsNotExist(err) {
		t.Error("PID file still exists after RemovePID")
	}
}

func TestReadPID_NoFile(t *testing.T) {
	if _, err := ReadPID(t.TempDir()); err == nil {
		t.Fatal("expected error reading nonexistent PID file")
	}
}

func TestReadPID_TrailingNewline(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, pidFilename), []byte("4242\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	pid, err := ReadPID(dir)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != 4242 {
		t.Errorf("ReadPID got %d, want 4242", pid)
	}
}

func TestReadPID_InvalidContent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, pidFilename), []byte("not-a-number"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := ReadPID(dir); err == nil {
		t.Fatal("expected error parsing invalid PID")
	}
}

func TestRemovePID_NoFile(t *testing.T) {
	// Removing a PID file that was never written is not an error.
	if err := RemovePID(t.TempDir()); err != nil {
		t.Fatalf("RemovePID on nonexistent file: %v", err)
	}
}

func TestIsRunning(t *testing.T) {
	dir := t.TempDir()

	if IsRunning(dir) {
		t.Error("IsRunning true with no PID file")
	}

	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if !IsRunning(dir) {
		t.Error("IsRunning false for our own PID")
	}
}

func TestIsRunning_StalePID(t *testing.T) {
	dir := t.TempDir()

	// Above the default pid ceiling on Linux and macOS, so never live.
	// Signal 0 semantics still vary by platform; assert no panic only.
	stale := (1 << 22) + 7
	if err := os.WriteFile(filepath.Join(dir, pidFilename), []byte(strconv.Itoa(stale)), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_ = IsRunning(dir)
}

func TestWritePID_CreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")

	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID with nested dir: %v", err)
	}

	pid, err := ReadPID(dir)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("got PID %d, want %d", pid, os.Getpid())
	}
}

func TestClaimPIDFile_ReplacesStaleFile(t *testing.T) {
	dir := t.TempDir()
	stale := (1 << 22) + 7
	if err := os.WriteFile(filepath.Join(dir, pidFilename), []byte(strconv.Itoa(stale)), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := ClaimPIDFile(dir); err != nil {
		t.Fatalf("ClaimPIDFile over stale file: %v", err)
	}

	pid, err := ReadPID(dir)
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("claimed PID file holds %d, want %d", pid, os.Getpid())
	}
}

func TestClaimPIDFile_LiveOwner(t *testing.T) {
	dir := t.TempDir()

	// Our own PID is as live an owner as it gets.
	if err := WritePID(dir); err != nil {
		t.Fatalf("WritePID: %v", err)
	}

	err := ClaimPIDFile(dir)
	if err == nil {
		t.Fatal("expected ClaimPIDFile to refuse a live owner")
	}
	var running *AlreadyRunningError
	if !errors.As(err, &running) {
		t.Fatalf("expected AlreadyRunningError, got %T: %v", err, err)
	}
	if running.PID != os.Getpid() {
		t.Errorf("reported PID %d, want %d", running.PID, os.Getpid())
	}
}
