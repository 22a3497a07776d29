package audio

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrDeviceUnavailable means no microphone backend can be used at all.
	// It is reported at startup and is fatal.
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrAudioDevice is a session-scoped capture failure: the microphone
	// could not be opened or dropped mid-session.
	ErrAudioDevice = errors.New("audio device error")
)

// Format describes the PCM stream requested from a backend. Samples are
// always signed 16-bit little-endian.
type Format struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// Stream is an open microphone. Read returns raw s16le bytes; Stop releases
// the device and makes pending reads return. Stop is idempotent.
type Stream interface {
	io.Reader
	Stop() error
}

// Capture opens microphone streams.
type Capture interface {
	Start(ctx context.Context, f Format) (Stream, error)
	// Probe checks that the backend can run at all.
	Probe() error
}
