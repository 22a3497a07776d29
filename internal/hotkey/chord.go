// Package hotkey parses key chords and turns raw key transitions into
// Engage and Disengage signals.
package hotkey

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyChord          = errors.New("hotkey: empty chord")
	ErrNoTriggerKey        = errors.New("hotkey: chord needs exactly one non-modifier key")
	ErrMultipleTriggerKeys = errors.New("hotkey: chord has more than one non-modifier key")
	ErrUnknownKey          = errors.New("hotkey: unknown key")
)

// Modifier is a bit set of logical modifiers.
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModAlt
	ModShift
	ModSuper
)

var modifierOrder = []struct {
	mod   Modifier
	name  string
	codes [2]uint16
}{
	{ModCtrl, "ctrl", [2]uint16{KeyLeftCtrl, KeyRightCtrl}},
	{ModAlt, "alt", [2]uint16{KeyLeftAlt, KeyRightAlt}},
	{ModShift, "shift", [2]uint16{KeyLeftShift, KeyRightShift}},
	{ModSuper, "super", [2]uint16{KeyLeftMeta, KeyRightMeta}},
}

var modifierNames = map[string]Modifier{
	"ctrl": ModCtrl, "control": ModCtrl, "ctrl_l": ModCtrl, "ctrl_r": ModCtrl,
	"alt": ModAlt, "alt_l": ModAlt, "alt_r": ModAlt, "alt_gr": ModAlt, "option": ModAlt,
	"shift": ModShift, "shift_l": ModShift, "shift_r": ModShift,
	"super": ModSuper, "cmd": ModSuper, "cmd_l": ModSuper, "cmd_r": ModSuper,
	"meta": ModSuper, "win": ModSuper, "logo": ModSuper,
}

// Chord is a set of modifiers plus exactly one trigger key. Two chords are
// equal when they have the same modifiers and key, regardless of how they
// were written.
type Chord struct {
	Mods Modifier
	Key  uint16
}

// ParseChord parses strings like "<ctrl>+<alt>+space" or "super+F9".
// Tokens are case-insensitive and the angle brackets are optional.
func ParseChord(s string) (Chord, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Chord{}, ErrEmptyChord
	}

	var (
		c       Chord
		haveKey bool
	)
	for _, raw := range strings.Split(s, "+") {
		tok := strings.ToLower(strings.TrimSpace(raw))
		tok = strings.TrimSuffix(strings.TrimPrefix(tok, "<"), ">")
		if tok == "" {
			return Chord{}, fmt.Errorf("%w in %q", ErrEmptyChord, s)
		}
		if mod, ok := modifierNames[tok]; ok {
			c.Mods |= mod
			continue
		}
		code, ok := keyCodes[tok]
		if !ok {
			return Chord{}, fmt.Errorf("%w %q in %q", ErrUnknownKey, tok, s)
		}
		if haveKey && code != c.Key {
			return Chord{}, fmt.Errorf("%w: %q", ErrMultipleTriggerKeys, s)
		}
		c.Key = code
		haveKey = true
	}
	if !haveKey {
		return Chord{}, fmt.Errorf("%w: %q", ErrNoTriggerKey, s)
	}
	return c, nil
}

// MustParseChord is ParseChord for constants; it panics on error.
func MustParseChord(s string) Chord {
	c, err := ParseChord(s)
	if err != nil {
		panic(err)
	}
	return c
}

// String renders the chord in canonical form, e.g. "<ctrl>+<alt>+space".
func (c Chord) String() string {
	var parts []string
	for _, m := range modifierOrder {
		if c.Mods&m.mod != 0 {
			parts = append(parts, "<"+m.name+">")
		}
	}
	name, ok := keyNames[c.Key]
	if !ok {
		name = fmt.Sprintf("key%d", c.Key)
	}
	return strings.Join(append(parts, name), "+")
}

// Contains reports whether code is the trigger key or one side of a
// modifier in the chord.
func (c Chord) Contains(code uint16) bool {
	if code == c.Key {
		return true
	}
	for _, m := range modifierOrder {
		if c.Mods&m.mod != 0 && (code == m.codes[0] || code == m.codes[1]) {
			return true
		}
	}
	return false
}

// heldBy reports whether the chord is fully pressed given the keys down.
func (c Chord) heldBy(down map[uint16]bool) bool {
	if !down[c.Key] {
		return false
	}
	for _, m := range modifierOrder {
		if c.Mods&m.mod != 0 && !down[m.codes[0]] && !down[m.codes[1]] {
			return false
		}
	}
	return true
}
