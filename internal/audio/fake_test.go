package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
)

// fakeCapture serves scripted PCM and counts open handles.
type fakeCapture struct {
	data     []byte
	readErr  error
	startErr error

	opened atomic.Int32
	closed atomic.Int32
}

func (c *fakeCapture) Probe() error { return nil }

func (c *fakeCapture) Start(ctx context.Context, f Format) (Stream, error) {
	if c.startErr != nil {
		return nil, c.startErr
	}
	c.opened.Add(1)
	return &fakeStream{
		data:    append([]byte(nil), c.data...),
		err:     c.readErr,
		stopped: make(chan struct{}),
		owner:   c,
	}, nil
}

func (c *fakeCapture) open() int32 {
	return c.opened.Load() - c.closed.Load()
}

type fakeStream struct {
	data    []byte
	err     error
	stopped chan struct{}
	once    sync.Once
	owner   *fakeCapture
}

func (s *fakeStream) Read(p []byte) (int, error) {
	if len(s.data) > 0 {
		n := copy(p, s.data)
		s.data = s.data[n:]
		return n, nil
	}
	if s.err != nil {
		return 0, s.err
	}
	<-s.stopped
	return 0, io.EOF
}

func (s *fakeStream) Stop() error {
	s.once.Do(func() {
		close(s.stopped)
		s.owner.closed.Add(1)
	})
	return nil
}

var errUnplugged = errors.New("device unplugged")

// pcmBytes renders ms of a 440 Hz tone (amplitude > 0) or silence at 16 kHz.
func pcmBytes(ms int, amplitude float64) []byte {
	n := 16 * ms
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
