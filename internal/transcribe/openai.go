package transcribe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"dictd/internal/logging"
)

// OpenAI talks to an OpenAI-compatible transcription endpoint, typically a
// local faster-whisper or whisper.cpp server exposing /v1/audio/transcriptions.
type OpenAI struct {
	cfg    Config
	log    *logging.Logger
	client openai.Client
}

// NewOpenAI builds the client once; Start only checks reachability.
func NewOpenAI(cfg Config, log *logging.Logger) (*OpenAI, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: openai backend needs transcription.url", ErrBackendMissing)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	key := cfg.APIKey
	if key == "" {
		// Local servers ignore the key but the client requires one.
		key = "dictd-local"
	}
	client := openai.NewClient(
		option.WithBaseURL(strings.TrimRight(cfg.URL, "/")+"/"),
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.RequestTimeout),
	)
	return &OpenAI{cfg: cfg, log: log, client: client}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) model() string {
	if o.cfg.Model == "" {
		return "whisper-1"
	}
	return o.cfg.Model
}

// Start waits until the endpoint accepts connections.
func (o *OpenAI) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.StartupTimeout)
	defer cancel()

	probe := &http.Client{Timeout: 2 * time.Second}
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(o.cfg.URL, "/")+"/models", nil)
		if err != nil {
			return err
		}
		if resp, err := probe.Do(req); err == nil {
			resp.Body.Close()
			o.log.Info("transcription endpoint ready", "url", o.cfg.URL, "model", o.model())
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("transcription endpoint %s not reachable: %w", o.cfg.URL, ctx.Err())
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// Transcribe uploads the audio as a WAV file.
func (o *OpenAI) Transcribe(ctx context.Context, req Request) (Result, error) {
	wavFile, err := writeWAV(req)
	if err != nil {
		return Result{}, &Error{Backend: o.Name(), Op: "encode", Err: err}
	}
	defer os.Remove(wavFile.Name())
	defer wavFile.Close()

	params := openai.AudioTranscriptionNewParams{
		File:           wavFile,
		Model:          openai.AudioModel(o.model()),
		ResponseFormat: openai.AudioResponseFormatJSON,
	}
	if req.Language != "" && req.Language != "auto" {
		params.Language = openai.String(req.Language)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			err = fmt.Errorf("status %d: %s", apiErr.StatusCode, apiErr.Message)
		}
		return Result{}, &Error{Backend: o.Name(), Op: "request", Err: err}
	}

	confidence := -1.0
	if n := len(resp.Logprobs); n > 0 {
		var sum float64
		for _, lp := range resp.Logprobs {
			sum += lp.Logprob
		}
		confidence = math.Exp(sum / float64(n))
	}

	return Result{
		SessionID:  req.SessionID,
		Text:       cleanText(resp.Text),
		Language:   req.Language,
		Confidence: confidence,
		Duration:   pcmDuration(req),
	}, nil
}

func (o *OpenAI) Close() error { return nil }
