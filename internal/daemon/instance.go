//go:build unix

package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrAlreadyRunning is returned when another dictd holds the instance lock.
var ErrAlreadyRunning = errors.New("dictd is already running")

// AlreadyRunningError carries the pid of the running instance when it could
// be read from the lock file.
type AlreadyRunningError struct {
	PID int
}

func (e *AlreadyRunningError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("dictd is already running (pid %d)", e.PID)
	}
	return ErrAlreadyRunning.Error()
}

func (e *AlreadyRunningError) Is(target error) bool {
	return target == ErrAlreadyRunning
}

// Instance is the single-instance guard: an exclusive flock on the pid file,
// held for the life of the process.
type Instance struct {
	path string
	file *os.File
}

// AcquireInstance locks path and writes the current pid into it. The lock
// is released by the kernel if the process dies, so a stale file never
// blocks a new start.
func AcquireInstance(path string) (*Instance, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create pid dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open pid file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			pid, _ := ReadPID(path)
			return nil, &AlreadyRunningError{PID: pid}
		}
		return nil, fmt.Errorf("lock pid file: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("truncate pid file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("write pid file: %w", err)
	}

	return &Instance{path: path, file: f}, nil
}

// Path returns the pid file path.
func (i *Instance) Path() string {
	return i.path
}

// Release removes the pid file and drops the lock.
func (i *Instance) Release() error {
	if i == nil || i.file == nil {
		return nil
	}
	os.Remove(i.path)
	unix.Flock(int(i.file.Fd()), unix.LOCK_UN)
	err := i.file.Close()
	i.file = nil
	return err
}

// ReadPID reads the daemon's pid from the pid file.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid file: %w", err)
	}

	return pid, nil
}

// IsRunning reports whether the pid in path belongs to a live process.
func IsRunning(path string) bool {
	pid, err := ReadPID(path)
	if err != nil {
		return false
	}
	return isProcessRunning(pid)
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// FindProcess always succeeds on Unix; signal 0 checks existence.
	return process.Signal(syscall.Signal(0)) == nil
}
