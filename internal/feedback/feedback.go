// Package feedback tells the user what the daemon is doing: a short sound
// when recording starts and stops, and a desktop notification when a
// session fails.
package feedback

import (
	"fmt"
	"sync"
)

// Kind identifies a feedback event.
type Kind int

const (
	Started Kind = iota
	Stopped
	Discarded
	Failed
	Delivered
)

func (k Kind) String() string {
	switch k {
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	case Discarded:
		return "discarded"
	case Failed:
		return "failed"
	case Delivered:
		return "delivered"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Event is one user-visible occurrence.
type Event struct {
	Kind      Kind
	SessionID string
	// Error is the failure class for Failed events, e.g. "transcription".
	Error  string
	Detail string
	// Text is the transcription that could not be delivered, so the user
	// can copy it from the notification.
	Text string
}

// Notifier delivers feedback. Notify must not block the caller.
type Notifier interface {
	Notify(Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(Event) {}

// Multi fans an event out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(ev Event) {
	for _, n := range m {
		n.Notify(ev)
	}
}

// Recorder keeps every event. Used in tests of packages that emit feedback.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds returns the kinds of the recorded events in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}
