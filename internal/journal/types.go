// Package journal keeps a SQLite history of dictation sessions and the
// injection attempts made for each.
package journal

import "time"

// Outcome is how a session ended.
type Outcome string

const (
	// OutcomeDelivered means the text reached the focused window.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeDiscarded means the session held no speech or no text.
	OutcomeDiscarded Outcome = "discarded"
	// OutcomeFailed means capture, transcription or injection failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeAborted means the session was cancelled or the daemon stopped.
	OutcomeAborted Outcome = "aborted"
)

// Session is one journal row.
type Session struct {
	ID        string
	StartedAt time.Time
	Mode      string
	// Duration is the length of the captured audio.
	Duration time.Duration
	Outcome  Outcome
	// Reason is the seal reason or the failure class.
	Reason string
	Error  string
	// Method is the injection method that delivered the text.
	Method            string
	TranscriptionTime time.Duration
	TextLen           int
	// Text is empty unless the journal stores text.
	Text string
}

// Attempt is one try of one injection method.
type Attempt struct {
	SessionID string
	Ordinal   int
	Method    string
	Success   bool
	Reason    string
	Duration  time.Duration
}

// Entry is a session with its attempts.
type Entry struct {
	Session
	Attempts []Attempt
}
