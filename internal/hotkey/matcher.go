package hotkey

import (
	"context"
	"time"

	"dictd/internal/input"
	"dictd/internal/logging"
)

// Mode selects how chord presses map to recording sessions.
type Mode uint8

const (
	// PushToTalk records while the chord is held.
	PushToTalk Mode = iota
	// Toggle starts on one press and stops on the next.
	Toggle
)

func (m Mode) String() string {
	if m == Toggle {
		return "toggle"
	}
	return "push-to-talk"
}

// ModeFor maps the continuous_mode option to a Mode.
func ModeFor(continuous bool) Mode {
	if continuous {
		return Toggle
	}
	return PushToTalk
}

// Signal is a semantic trigger emitted by the matcher.
type Signal uint8

const (
	Engage Signal = iota + 1
	Disengage
)

func (s Signal) String() string {
	switch s {
	case Engage:
		return "engage"
	case Disengage:
		return "disengage"
	default:
		return "unknown"
	}
}

// Event is a signal stamped with the time of the key transition that caused it.
type Event struct {
	Signal Signal
	Time   time.Time
}

// Gate reports the orchestrator's state so the matcher can suppress
// overlapping sessions.
type Gate interface {
	// Busy is true whenever the orchestrator is not idle.
	Busy() bool
	// Recording is true while a session is capturing audio.
	Recording() bool
}

type matcherState uint8

const (
	released matcherState = iota
	pressed
)

// Matcher tracks one chord. It is not safe for concurrent use; Run drives it
// from a single goroutine.
type Matcher struct {
	chord Chord
	mode  Mode
	gate  Gate
	log   *logging.Logger

	down    map[uint16]bool
	state   matcherState
	engaged bool // this press emitted Engage (push-to-talk)
	active  bool // toggle state when no gate is set
}

// NewMatcher returns a matcher for chord. gate may be nil.
func NewMatcher(chord Chord, mode Mode, gate Gate, log *logging.Logger) *Matcher {
	if log == nil {
		log = logging.Nop()
	}
	return &Matcher{
		chord: chord,
		mode:  mode,
		gate:  gate,
		log:   log.WithComponent("hotkey"),
		down:  make(map[uint16]bool),
	}
}

// Feed consumes one key transition and returns the signal it produced, if any.
func (m *Matcher) Feed(ev input.KeyEvent) (Signal, bool) {
	if !m.chord.Contains(ev.Code) {
		return 0, false
	}

	switch ev.Action {
	case input.Down:
		m.down[ev.Code] = true
		if m.state == released && m.chord.heldBy(m.down) {
			m.state = pressed
			return m.onPress()
		}
	case input.Up:
		delete(m.down, ev.Code)
		if m.state == pressed && !m.chord.heldBy(m.down) {
			m.state = released
			return m.onRelease()
		}
	}
	return 0, false
}

func (m *Matcher) onPress() (Signal, bool) {
	if m.mode == Toggle {
		if m.recording() {
			m.active = false
			return Disengage, true
		}
		if m.busy() {
			m.log.Debug("engage ignored, session in progress")
			return 0, false
		}
		m.active = true
		return Engage, true
	}

	if m.busy() {
		m.log.Debug("engage ignored, session in progress")
		m.engaged = false
		return 0, false
	}
	m.engaged = true
	return Engage, true
}

func (m *Matcher) onRelease() (Signal, bool) {
	if m.mode == Toggle || !m.engaged {
		return 0, false
	}
	m.engaged = false
	return Disengage, true
}

func (m *Matcher) busy() bool {
	if m.gate == nil {
		return false
	}
	return m.gate.Busy()
}

func (m *Matcher) recording() bool {
	if m.gate == nil {
		return m.active
	}
	return m.gate.Recording()
}

// Run feeds events into the matcher until the stream closes or ctx is
// cancelled, passing every signal to emit. emit must not block.
func (m *Matcher) Run(ctx context.Context, events <-chan input.KeyEvent, emit func(Event)) {
	m.log.Info("watching chord", "chord", m.chord.String(), "mode", m.mode.String())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if sig, ok := m.Feed(ev); ok {
				m.log.Debug("signal", "signal", sig.String())
				emit(Event{Signal: sig, Time: ev.Time})
			}
		}
	}
}
