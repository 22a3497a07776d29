package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"dictd/internal/hotkey"
	"dictd/internal/logging"
)

// Config controls capture and end-of-utterance policy.
type Config struct {
	Format        Format
	FrameDuration time.Duration
	VAD           VADConfig
	// MaxDuration seals a session regardless of activity.
	MaxDuration time.Duration
	// AutoStopPushToTalk and AutoStopToggle enable the silence timeout per mode.
	AutoStopPushToTalk bool
	AutoStopToggle     bool
}

// DefaultConfig returns 16 kHz mono capture with 30 ms frames.
func DefaultConfig() Config {
	return Config{
		Format:        Format{SampleRate: 16000, Channels: 1, InputFormat: "pulse", InputDevice: "default"},
		FrameDuration: 30 * time.Millisecond,
		VAD: VADConfig{
			Threshold: 0.015,
			MinSpeech: 150 * time.Millisecond,
			Silence:   600 * time.Millisecond,
		},
		MaxDuration:        2 * time.Minute,
		AutoStopPushToTalk: true,
		AutoStopToggle:     true,
	}
}

// Sealed is handed to the orchestrator when a session ends. Err is non-nil
// (wrapping ErrAudioDevice) when the device failed; the frames are already
// released in that case.
type Sealed struct {
	Session *Session
	Reason  SealReason
	Err     error
}

// Manager owns the microphone and the open session.
type Manager struct {
	capture Capture
	cfg     Config
	log     *logging.Logger
	sealed  chan Sealed

	mu      sync.Mutex
	current *Session
	wg      sync.WaitGroup
}

// NewManager creates a manager using capture.
func NewManager(capture Capture, cfg Config, log *logging.Logger) *Manager {
	if cfg.Format.Channels <= 0 {
		cfg.Format.Channels = 1
	}
	if cfg.Format.SampleRate <= 0 {
		cfg.Format.SampleRate = 16000
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = 30 * time.Millisecond
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Manager{
		capture: capture,
		cfg:     cfg,
		log:     log.WithComponent("audio"),
		sealed:  make(chan Sealed, 4),
	}
}

// Probe checks the capture backend at startup.
func (m *Manager) Probe() error {
	return m.capture.Probe()
}

// Sealed delivers every session once it ends.
func (m *Manager) Sealed() <-chan Sealed {
	return m.sealed
}

// Start opens the microphone and begins a session. Only one session may be
// open at a time.
func (m *Manager) Start(ctx context.Context, mode hotkey.Mode) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, errors.New("audio: session already open")
	}

	stream, err := m.capture.Start(ctx, m.cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAudioDevice, err)
	}

	s := newSession(uuid.NewString(), mode, m.cfg.Format.SampleRate)
	m.current = s
	m.log.Debug("session started", "session_id", s.ID, "mode", mode.String())

	m.wg.Add(1)
	go m.run(ctx, s, stream)
	return s, nil
}

func (m *Manager) autoStop(mode hotkey.Mode) bool {
	if mode == hotkey.Toggle {
		return m.cfg.AutoStopToggle
	}
	return m.cfg.AutoStopPushToTalk
}

func (m *Manager) run(ctx context.Context, s *Session, stream Stream) {
	defer m.wg.Done()

	// Stop or cancellation closes the stream, which unblocks the read below.
	done := make(chan struct{})
	go func() {
		select {
		case <-s.stopCh:
		case <-ctx.Done():
			s.requestSeal(SealAborted)
		case <-done:
		}
		_ = stream.Stop()
	}()

	vadCfg := m.cfg.VAD
	if !m.autoStop(s.Mode) {
		vadCfg.Silence = 0
	}
	vad := NewVAD(vadCfg, m.cfg.Format.SampleRate)

	frameSamples := int(m.cfg.FrameDuration * time.Duration(m.cfg.Format.SampleRate) / time.Second)
	frameSamples *= m.cfg.Format.Channels
	maxSamples := int(m.cfg.MaxDuration * time.Duration(m.cfg.Format.SampleRate) / time.Second)
	buf := make([]byte, frameSamples*2)

	var (
		reason  SealReason
		readErr error
		total   int
	)
	for reason == 0 {
		_, err := io.ReadFull(stream, buf)
		if err != nil {
			if req := s.requested(); req != 0 {
				reason = req
				break
			}
			reason = SealDeviceError
			readErr = err
			break
		}

		frame := decodeS16LE(buf)
		res := vad.Process(frame)
		s.append(frame, res.Speech)
		total += len(frame) / m.cfg.Format.Channels

		switch {
		case res.EndOfUtterance:
			reason = SealSilence
		case m.cfg.MaxDuration > 0 && total >= maxSamples:
			reason = SealMaxDuration
		}
	}

	close(done)
	stopErr := stream.Stop()
	s.seal(reason, vad.Began())

	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()

	out := Sealed{Session: s, Reason: reason}
	if reason == SealDeviceError {
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			readErr = errors.New("capture stream ended unexpectedly")
		}
		if stopErr != nil {
			readErr = errors.Join(readErr, stopErr)
		}
		out.Err = fmt.Errorf("%w: %v", ErrAudioDevice, readErr)
	}

	m.log.Debug("session sealed",
		"session_id", s.ID,
		"reason", reason.String(),
		"duration", s.Duration(),
		"speech_frames", s.SpeechFrames(),
		"has_speech", s.HasSpeech(),
	)

	select {
	case m.sealed <- out:
	default:
		m.log.Warn("sealed session dropped, nobody listening", "session_id", s.ID)
	}
}

// Wait blocks until all capture goroutines have exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}
