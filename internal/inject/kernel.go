package inject

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"dictd/internal/logging"
)

// Helper tracks whether the ydotoold daemon is reachable. Its state changes
// are logged here so callers only see available or not.
type Helper struct {
	paths []string
	log   *logging.Logger

	mu        sync.Mutex
	reachable bool
	checked   bool
	socket    string
}

// NewHelper returns a helper probing the usual ydotoold socket locations.
func NewHelper(log *logging.Logger) *Helper {
	return &Helper{paths: helperSocketPaths(os.Getenv), log: log}
}

func helperSocketPaths(getenv func(string) string) []string {
	var paths []string
	if p := getenv("YDOTOOL_SOCKET"); p != "" {
		paths = append(paths, p)
	}
	if dir := getenv("XDG_RUNTIME_DIR"); dir != "" {
		paths = append(paths, filepath.Join(dir, ".ydotool_socket"))
	}
	return append(paths, "/tmp/.ydotool_socket")
}

// Check connects to the helper socket and returns ErrUnavailable when no
// listener answers.
func (h *Helper) Check() error {
	var lastErr error
	for _, p := range h.paths {
		conn, err := net.DialTimeout("unixgram", p, 500*time.Millisecond)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		h.transition(true, p, nil)
		return nil
	}
	h.transition(false, "", lastErr)
	return fmt.Errorf("%w: ydotoold not reachable: %v", ErrUnavailable, lastErr)
}

func (h *Helper) transition(ok bool, socket string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	changed := !h.checked || ok != h.reachable || socket != h.socket
	h.checked, h.reachable, h.socket = true, ok, socket
	if !changed {
		return
	}
	if ok {
		h.log.Info("ydotoold connected", "socket", socket)
	} else {
		h.log.Warn("ydotoold unreachable, kernel injection will fall back", "error", err)
	}
}

// Socket returns the socket last found reachable.
func (h *Helper) Socket() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.socket
}

// helperChecker is the part of Helper the kernel strategy needs.
type helperChecker interface {
	Check() error
	Socket() string
}

// KernelStrategy types through uinput via ydotool.
type KernelStrategy struct {
	runner   Runner
	helper   helperChecker
	keyDelay int
}

func NewKernelStrategy(runner Runner, helper helperChecker, keyDelayMs int) *KernelStrategy {
	return &KernelStrategy{runner: runner, helper: helper, keyDelay: keyDelayMs}
}

func (k *KernelStrategy) Method() Method { return MethodKernel }

func (k *KernelStrategy) Inject(ctx context.Context, text string) error {
	if err := k.helper.Check(); err != nil {
		return err
	}
	args := []string{"type"}
	if k.keyDelay > 0 {
		args = append(args, "--key-delay", strconv.Itoa(k.keyDelay))
	}
	args = append(args, "--", text)
	return k.runner.Run(ctx, "ydotool", args...)
}
