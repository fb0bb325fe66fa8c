package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
)

const pidFilename = "gateman.pid"

// AlreadyRunningError reports a live gateman process holding the PID file.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("gateman is already running (PID %d)", e.PID)
}

// ClaimPIDFile takes ownership of dataDir's PID file. A live owner aborts
// with AlreadyRunningError; a stale file left behind by a crash is logged
// and replaced.
func ClaimPIDFile(dataDir string) error {
	if pid, err := ReadPID(dataDir); err == nil {
		if isProcessAlive(pid) {
			return &AlreadyRunningError{PID: pid}
		}
		log.Warn().Int("pid", pid).Msg("removing stale PID file")
		if err := RemovePID(dataDir); err != nil {
			return fmt.Errorf("removing stale PID file: %w", err)
		}
	}
	return WritePID(dataDir)
}

// WritePID writes the current process ID to dataDir/gateman.pid, creating
// the directory if needed.
func WritePID(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory for PID file: %w", err)
	}

	path := pidPath(dataDir)
	data := []byte(strconv.Itoa(os.Getpid()) + "\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing PID file %s: %w", path, err)
	}
	return nil
}

// ReadPID parses the PID stored in dataDir/gateman.pid.
func ReadPID(dataDir string) (int, error) {
	path := pidPath(dataDir)

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file %s: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing PID from %s: %w", path, err)
	}
	return pid, nil
}

// RemovePID deletes the PID file; a file that is already gone is fine.
func RemovePID(dataDir string) error {
	if err := os.Remove(pidPath(dataDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing PID file: %w", err)
	}
	return nil
}

// IsRunning reports whether the PID file names a live process.
func IsRunning(dataDir string) bool {
	pid, err := ReadPID(dataDir)
	if err != nil {
		return false
	}
	return isProcessAlive(pid)
}

// isProcessAlive sends signal 0, which tests existence without delivering
// anything.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, pidFilename)
}
