package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ffmpegStartupGrace = 250 * time.Millisecond
	ffmpegStopTimeout  = 1200 * time.Millisecond
)

// FFmpegCapture streams microphone PCM audio through an ffmpeg child process.
type FFmpegCapture struct {
	command string
}

// NewFFmpegCapture returns a capture backend running command ("ffmpeg" when empty).
func NewFFmpegCapture(command string) *FFmpegCapture {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFmpegCapture{command: command}
}

// Probe checks that the ffmpeg binary is on PATH.
func (c *FFmpegCapture) Probe() error {
	if _, err := exec.LookPath(c.command); err != nil {
		return fmt.Errorf("%w: %s not found (install ffmpeg or set audio.command): %v", ErrDeviceUnavailable, c.command, err)
	}
	return nil
}

func (c *FFmpegCapture) args(f Format) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", f.InputFormat,
		"-i", f.InputDevice,
		"-ac", strconv.Itoa(f.Channels),
		"-ar", strconv.Itoa(f.SampleRate),
		"-f", "s16le",
		"-",
	}
}

// Start launches ffmpeg and returns its stdout as the stream.
func (c *FFmpegCapture) Start(ctx context.Context, f Format) (Stream, error) {
	if f.SampleRate <= 0 {
		f.SampleRate = 16000
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	if f.InputFormat == "" {
		f.InputFormat = "pulse"
	}
	if f.InputDevice == "" {
		f.InputDevice = "default"
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create ffmpeg pipe: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.command, c.args(f)...)
	var stderr bytes.Buffer
	cmd.Stdout = pw
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}
	// The child holds its own copy; closing ours lets reads see EOF on exit.
	pw.Close()

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		pr.Close()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, errors.New("ffmpeg exited before capture started")
	case <-time.After(ffmpegStartupGrace):
	}

	return &ffmpegStream{
		stdout:  pr,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}, nil
}

type ffmpegStream struct {
	stdout  *os.File
	stderr  *bytes.Buffer
	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

// Stop interrupts ffmpeg, kills it if it does not exit in time, and closes
// the pipe.
func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		_ = s.process.Signal(os.Interrupt)

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(ffmpegStopTimeout):
			_ = s.process.Kill()
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && s.stopErr == nil {
			s.stopErr = err
		}
		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
