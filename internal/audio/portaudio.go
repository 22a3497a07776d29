//go:build portaudio

package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioCapture reads the default input device through PortAudio. It is
// only built with -tags portaudio since it links against libportaudio.
type PortAudioCapture struct {
	framesPerBuffer int
}

func NewPortAudioCapture() *PortAudioCapture {
	return &PortAudioCapture{framesPerBuffer: 480}
}

func init() {
	registerBackend("portaudio", func(string) Capture { return NewPortAudioCapture() })
}

func (c *PortAudioCapture) Probe() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: portaudio: %v", ErrDeviceUnavailable, err)
	}
	defer portaudio.Terminate()
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return fmt.Errorf("%w: no default input device: %v", ErrDeviceUnavailable, err)
	}
	return nil
}

func (c *PortAudioCapture) Start(ctx context.Context, f Format) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	buf := make([]int16, c.framesPerBuffer*f.Channels)
	stream, err := portaudio.OpenDefaultStream(f.Channels, 0, float64(f.SampleRate), c.framesPerBuffer, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}
	return &portAudioStream{stream: stream, buf: buf}, nil
}

type portAudioStream struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	buf     []int16
	pending []byte
	stopped bool

	stopOnce sync.Once
	stopErr  error
}

func (s *portAudioStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		if s.stopped {
			return 0, errStreamStopped
		}
		if err := s.stream.Read(); err != nil {
			return 0, err
		}
		s.pending = make([]byte, 2*len(s.buf))
		for i, v := range s.buf {
			binary.LittleEndian.PutUint16(s.pending[2*i:], uint16(v))
		}
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *portAudioStream) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.stopped = true
		if err := s.stream.Stop(); err != nil {
			s.stopErr = err
		}
		if err := s.stream.Close(); err != nil && s.stopErr == nil {
			s.stopErr = err
		}
		portaudio.Terminate()
	})
	return s.stopErr
}
