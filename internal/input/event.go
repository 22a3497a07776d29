// Package input reads key transitions from kernel evdev keyboards and merges
// them into a single logical keyboard stream.
package input

import (
	"errors"
	"fmt"
	"time"
)

// ErrDeviceUnavailable is returned when no keyboard device can be opened.
// It usually means the user is not in the 'input' group; retrying does not help.
var ErrDeviceUnavailable = errors.New("input device unavailable")

// Action is a key transition.
type Action uint8

const (
	Down Action = iota + 1
	Up
)

func (a Action) String() string {
	switch a {
	case Down:
		return "down"
	case Up:
		return "up"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// KeyEvent is a single key transition from the merged stream.
type KeyEvent struct {
	Code   uint16
	Action Action
	Time   time.Time
	Device string
}

// Device describes one evdev node.
type Device struct {
	Path     string
	Name     string
	Phys     string
	Keyboard bool
	Readable bool
}
