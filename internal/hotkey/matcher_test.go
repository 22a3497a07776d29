package hotkey

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dictd/internal/input"
)

type fakeGate struct {
	busy, recording bool
}

func (g *fakeGate) Busy() bool      { return g.busy }
func (g *fakeGate) Recording() bool { return g.recording }

func down(code uint16) input.KeyEvent { return input.KeyEvent{Code: code, Action: input.Down} }
func up(code uint16) input.KeyEvent   { return input.KeyEvent{Code: code, Action: input.Up} }

func feedAll(m *Matcher, evs ...input.KeyEvent) []Signal {
	var out []Signal
	for _, ev := range evs {
		if s, ok := m.Feed(ev); ok {
			out = append(out, s)
		}
	}
	return out
}

func TestPushToTalkPressAndRelease(t *testing.T) {
	m := NewMatcher(MustParseChord("ctrl+space"), PushToTalk, nil, nil)

	got := feedAll(m,
		down(KeyLeftCtrl),
		down(KeySpace),
		up(KeySpace),
		up(KeyLeftCtrl),
	)
	assert.Equal(t, []Signal{Engage, Disengage}, got)
}

func TestPartialPressNeverEngages(t *testing.T) {
	m := NewMatcher(MustParseChord("<ctrl>+<alt>+space"), PushToTalk, nil, nil)

	got := feedAll(m,
		down(KeyLeftCtrl), down(KeySpace), up(KeySpace), up(KeyLeftCtrl),
		down(KeyLeftAlt), down(KeySpace), up(KeyLeftAlt), up(KeySpace),
	)
	assert.Empty(t, got)
}

func TestEitherModifierSideMatches(t *testing.T) {
	m := NewMatcher(MustParseChord("ctrl+space"), PushToTalk, nil, nil)

	got := feedAll(m, down(KeyRightCtrl), down(KeySpace))
	assert.Equal(t, []Signal{Engage}, got)

	// Releasing one side while the other is held keeps the chord pressed.
	got = feedAll(m, down(KeyLeftCtrl), up(KeyRightCtrl))
	assert.Empty(t, got)

	got = feedAll(m, up(KeyLeftCtrl))
	assert.Equal(t, []Signal{Disengage}, got)
}

func TestRepressingModifierWhileHeldDoesNotRefire(t *testing.T) {
	m := NewMatcher(MustParseChord("ctrl+space"), PushToTalk, nil, nil)

	got := feedAll(m,
		down(KeyLeftCtrl), down(KeySpace),
		down(KeyRightCtrl), up(KeyRightCtrl),
		down(KeyLeftShift), up(KeyLeftShift),
	)
	assert.Equal(t, []Signal{Engage}, got)
}

func TestToggleMode(t *testing.T) {
	m := NewMatcher(MustParseChord("ctrl+space"), Toggle, nil, nil)

	press := []input.KeyEvent{down(KeyLeftCtrl), down(KeySpace), up(KeySpace), up(KeyLeftCtrl)}

	assert.Equal(t, []Signal{Engage}, feedAll(m, press...))
	assert.Equal(t, []Signal{Disengage}, feedAll(m, press...))
	assert.Equal(t, []Signal{Engage}, feedAll(m, press...))
}

func TestToggleUsesGate(t *testing.T) {
	gate := &fakeGate{}
	m := NewMatcher(MustParseChord("ctrl+space"), Toggle, gate, nil)
	press := []input.KeyEvent{down(KeyLeftCtrl), down(KeySpace), up(KeySpace), up(KeyLeftCtrl)}

	assert.Equal(t, []Signal{Engage}, feedAll(m, press...))

	gate.busy, gate.recording = true, true
	assert.Equal(t, []Signal{Disengage}, feedAll(m, press...))

	// Transcribing: busy but not recording, the press is dropped.
	gate.recording = false
	assert.Empty(t, feedAll(m, press...))

	// Session auto-stopped and finished; the next press starts a new one.
	gate.busy = false
	assert.Equal(t, []Signal{Engage}, feedAll(m, press...))
}

func TestEngageWhileBusyIsDropped(t *testing.T) {
	gate := &fakeGate{busy: true}
	m := NewMatcher(MustParseChord("ctrl+space"), PushToTalk, gate, nil)

	got := feedAll(m, down(KeyLeftCtrl), down(KeySpace), up(KeySpace), up(KeyLeftCtrl))
	assert.Empty(t, got, "no engage and no orphan disengage while busy")
}

// For random event sequences, push-to-talk signals must alternate starting
// with Engage, and every Engage must correspond to a full press.
func TestPushToTalkSignalsAlternate(t *testing.T) {
	chord := MustParseChord("<ctrl>+<alt>+space")
	codes := []uint16{KeyLeftCtrl, KeyRightCtrl, KeyLeftAlt, KeyRightAlt, KeySpace, 30}
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		m := NewMatcher(chord, PushToTalk, nil, nil)
		held := map[uint16]bool{}
		var last Signal
		fullPresses := 0
		engages := 0
		wasFull := false

		for step := 0; step < 100; step++ {
			code := codes[rng.Intn(len(codes))]
			ev := down(code)
			if held[code] {
				ev = up(code)
				delete(held, code)
			} else {
				held[code] = true
			}

			full := chord.heldBy(held)
			if full && !wasFull {
				fullPresses++
			}
			wasFull = full

			sig, ok := m.Feed(ev)
			if !ok {
				continue
			}
			require.NotEqual(t, last, sig, "signals must alternate (iter %d step %d)", iter, step)
			if last == 0 {
				require.Equal(t, Engage, sig)
			}
			if sig == Engage {
				engages++
			}
			last = sig
		}
		assert.Equal(t, fullPresses, engages, "one engage per full press (iter %d)", iter)
	}
}

func TestRunEmitsSignals(t *testing.T) {
	m := NewMatcher(MustParseChord("ctrl+space"), PushToTalk, nil, nil)
	events := make(chan input.KeyEvent, 4)
	now := time.Now()
	events <- input.KeyEvent{Code: KeyLeftCtrl, Action: input.Down, Time: now}
	events <- input.KeyEvent{Code: KeySpace, Action: input.Down, Time: now}
	events <- input.KeyEvent{Code: KeySpace, Action: input.Up, Time: now}
	close(events)

	var got []Event
	m.Run(context.Background(), events, func(ev Event) { got = append(got, ev) })

	require.Len(t, got, 2)
	assert.Equal(t, Engage, got[0].Signal)
	assert.Equal(t, now, got[0].Time)
	assert.Equal(t, Disengage, got[1].Signal)
}
