//go:build !linux

package input

import (
	"fmt"

	"dictd/internal/logging"
)

// Options configures a Source.
type Options struct {
	Devices []string
	Hotplug bool
	Logger  *logging.Logger
}

// Source is only implemented on Linux.
type Source struct{}

// Open always fails outside Linux.
func Open(Options) (*Source, error) {
	return nil, fmt.Errorf("%w: evdev is only available on linux", ErrDeviceUnavailable)
}

func (s *Source) Events() <-chan KeyEvent { return nil }
func (s *Source) Devices() []string       { return nil }
func (s *Source) Close() error            { return nil }

// ListDevices is only implemented on Linux.
func ListDevices() ([]Device, error) {
	return nil, fmt.Errorf("%w: evdev is only available on linux", ErrDeviceUnavailable)
}
