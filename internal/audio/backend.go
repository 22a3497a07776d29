package audio

import (
	"errors"
	"fmt"
	"sort"
)

var errStreamStopped = errors.New("stream stopped")

type backendFactory func(command string) Capture

var backends = map[string]backendFactory{
	"ffmpeg": func(command string) Capture { return NewFFmpegCapture(command) },
}

func registerBackend(name string, f backendFactory) {
	backends[name] = f
}

// NewCapture returns the named capture backend.
func NewCapture(backend, command string) (Capture, error) {
	if backend == "" {
		backend = "ffmpeg"
	}
	f, ok := backends[backend]
	if !ok {
		return nil, fmt.Errorf("%w: unknown capture backend %q (available: %v)", ErrDeviceUnavailable, backend, Backends())
	}
	return f(command), nil
}

// Backends lists the compiled-in capture backends.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
