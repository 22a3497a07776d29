// Package transcribe adapts captured audio to an external speech-to-text
// engine that stays loaded for the life of the daemon.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"dictd/internal/audio"
	"dictd/internal/logging"
)

var (
	// ErrTranscription matches every per-call failure.
	ErrTranscription = errors.New("transcription failed")
	// ErrBackendMissing means the engine binary or model file does not
	// exist. Retrying cannot fix it.
	ErrBackendMissing = errors.New("transcription backend missing")
)

// Error is a failed transcription call.
type Error struct {
	Backend string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcribe: %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrTranscription, e.Err}
}

// Request is one buffered utterance. PCM is borrowed for the duration of
// the call only.
type Request struct {
	SessionID  string
	PCM        []int16
	SampleRate int
	Language   string
}

// Result is the text produced for one session.
type Result struct {
	SessionID string
	Text      string
	Language  string
	// Confidence is in [0,1], or negative when the engine does not report it.
	Confidence float64
	Duration   time.Duration
}

// Gateway is a warm speech-to-text engine.
type Gateway interface {
	Name() string
	// Start loads the model. It is called once at daemon startup.
	Start(ctx context.Context) error
	Transcribe(ctx context.Context, req Request) (Result, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend        string
	URL            string
	Binary         string
	Model          string
	ModelDir       string
	ModelPath      string
	Language       string
	Threads        int
	APIKey         string
	StartupTimeout time.Duration
	RequestTimeout time.Duration
}

// New returns the configured gateway.
func New(cfg Config, log *logging.Logger) (Gateway, error) {
	if log == nil {
		log = logging.Nop()
	}
	log = log.WithComponent("transcribe")

	switch cfg.Backend {
	case "", "whisper-server":
		return NewWhisperServer(cfg, log), nil
	case "openai":
		return NewOpenAI(cfg, log)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrBackendMissing, cfg.Backend)
	}
}

// writeWAV stores the request PCM in a temporary WAV file. The caller
// removes it.
func writeWAV(req Request) (*os.File, error) {
	f, err := os.CreateTemp("", "dictd-"+req.SessionID+"-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp wav: %w", err)
	}
	if err := audio.EncodeWAV(f, req.PCM, req.SampleRate, 1); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("rewind temp wav: %w", err)
	}
	return f, nil
}

var nonSpeech = regexp.MustCompile(`\[(BLANK_AUDIO|MUSIC|NOISE|SOUND|inaudible)\]|\((silence|music|noise|inaudible)\)`)

// cleanText strips whisper's non-speech markers and surrounding whitespace.
func cleanText(s string) string {
	s = nonSpeech.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

func pcmDuration(req Request) time.Duration {
	if req.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(req.PCM)) * time.Second / time.Duration(req.SampleRate)
}
