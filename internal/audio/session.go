package audio

import (
	"sync"
	"time"

	"dictd/internal/hotkey"
)

// SealReason records why a session stopped accepting frames.
type SealReason uint8

const (
	SealStopped SealReason = iota + 1
	SealSilence
	SealMaxDuration
	SealAborted
	SealDeviceError
)

func (r SealReason) String() string {
	switch r {
	case SealStopped:
		return "stopped"
	case SealSilence:
		return "silence"
	case SealMaxDuration:
		return "max-duration"
	case SealAborted:
		return "aborted"
	case SealDeviceError:
		return "device-error"
	default:
		return "open"
	}
}

// Session is one recording. The capture goroutine appends frames until the
// session is sealed; afterwards the frames are read-only.
type Session struct {
	ID        string
	StartedAt time.Time
	Mode      hotkey.Mode

	sampleRate int

	mu           sync.Mutex
	frames       [][]int16
	samples      int
	speechFrames int
	hasSpeech    bool
	reason       SealReason

	stopOnce sync.Once
	stopCh   chan struct{}
	request  SealReason
}

func newSession(id string, mode hotkey.Mode, sampleRate int) *Session {
	return &Session{
		ID:         id,
		StartedAt:  time.Now(),
		Mode:       mode,
		sampleRate: sampleRate,
		stopCh:     make(chan struct{}),
	}
}

// Stop ends the session and keeps its audio.
func (s *Session) Stop() { s.requestSeal(SealStopped) }

// Abort ends the session and discards its audio.
func (s *Session) Abort() { s.requestSeal(SealAborted) }

func (s *Session) requestSeal(r SealReason) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.request = r
		s.mu.Unlock()
		close(s.stopCh)
	})
}

func (s *Session) requested() SealReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.request
}

// append adds a frame; it returns false once the session is sealed.
func (s *Session) append(frame []int16, speech bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason != 0 {
		return false
	}
	s.frames = append(s.frames, frame)
	s.samples += len(frame)
	if speech {
		s.speechFrames++
	}
	return true
}

func (s *Session) seal(r SealReason, speech bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason != 0 {
		return
	}
	s.reason = r
	s.hasSpeech = speech
	if r == SealAborted || r == SealDeviceError {
		s.frames = nil
	}
}

// Sealed reports whether the session stopped accepting frames.
func (s *Session) Sealed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason != 0
}

// Reason returns why the session was sealed, or 0 while open.
func (s *Session) Reason() SealReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// HasSpeech is false when the voice detector never saw an utterance start.
// Such sessions are discarded before transcription.
func (s *Session) HasSpeech() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasSpeech
}

// SpeechFrames returns how many frames were above the speech threshold.
func (s *Session) SpeechFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speechFrames
}

// FrameCount returns the number of buffered frames.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Duration is the length of the captured audio.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sampleRate == 0 {
		return 0
	}
	return time.Duration(s.samples) * time.Second / time.Duration(s.sampleRate)
}

// SampleRate of the buffered PCM.
func (s *Session) SampleRate() int { return s.sampleRate }

// PCM returns all frames joined in capture order.
func (s *Session) PCM() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int16, 0, s.samples)
	for _, f := range s.frames {
		out = append(out, f...)
	}
	return out
}

// Release drops the buffered audio.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = nil
}
