package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request() Request {
	return Request{
		SessionID:  "s1",
		PCM:        make([]int16, 16000),
		SampleRate: 16000,
		Language:   "en",
	}
}

func fakeWhisperServer(t *testing.T, reply func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "whisper.cpp server")
	})
	mux.HandleFunc("POST /inference", reply)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWhisperServerTranscribe(t *testing.T) {
	srv := fakeWhisperServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "json", r.FormValue("response_format"))
		assert.Equal(t, "en", r.FormValue("language"))

		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		head := make([]byte, 4)
		_, err = io.ReadFull(f, head)
		require.NoError(t, err)
		assert.Equal(t, "RIFF", string(head))

		json.NewEncoder(w).Encode(map[string]string{"text": " hello world\n"})
	})

	gw := NewWhisperServer(Config{URL: srv.URL, StartupTimeout: time.Second}, nopLog())
	require.NoError(t, gw.Start(context.Background()))
	defer gw.Close()

	res, err := gw.Transcribe(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, time.Second, res.Duration)
	assert.Less(t, res.Confidence, 0.0)
}

func TestWhisperServerErrors(t *testing.T) {
	tests := []struct {
		name  string
		reply func(w http.ResponseWriter, r *http.Request)
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model crashed", http.StatusInternalServerError)
		}},
		{"error field", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"error":"failed to decode audio"}`)
		}},
		{"garbage", func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `not json`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeWhisperServer(t, tt.reply)
			gw := NewWhisperServer(Config{URL: srv.URL}, nopLog())
			require.NoError(t, gw.Start(context.Background()))

			_, err := gw.Transcribe(context.Background(), request())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrTranscription))

			var terr *Error
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, "whisper-server", terr.Backend)
		})
	}
}

func TestWhisperServerNotStarted(t *testing.T) {
	gw := NewWhisperServer(Config{}, nopLog())
	_, err := gw.Transcribe(context.Background(), request())
	assert.True(t, errors.Is(err, ErrTranscription))
}

func TestWhisperServerStartTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	gw := NewWhisperServer(Config{URL: srv.URL, StartupTimeout: 300 * time.Millisecond}, nopLog())
	err := gw.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestResolveModel(t *testing.T) {
	dir := t.TempDir()
	model := filepath.Join(dir, "ggml-base.en.bin")
	require.NoError(t, os.WriteFile(model, []byte("ggml"), 0o644))

	got, err := ResolveModel("base.en", dir, "")
	require.NoError(t, err)
	assert.Equal(t, model, got)

	got, err = ResolveModel("ignored", "", model)
	require.NoError(t, err)
	assert.Equal(t, model, got)

	_, err = ResolveModel("large-v3", dir, "")
	assert.True(t, errors.Is(err, ErrBackendMissing))
}

func TestFindServerBinaryExplicit(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "my-whisper")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	got, err := FindServerBinary(bin)
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	_, err = FindServerBinary(filepath.Join(dir, "missing"))
	assert.True(t, errors.Is(err, ErrBackendMissing))
}

func TestCleanText(t *testing.T) {
	tests := map[string]string{
		" hello world\n":           "hello world",
		"[BLANK_AUDIO]":            "",
		" (silence) ":              "",
		"one [MUSIC] two":          "one two",
		"  multiple   spaces here": "multiple spaces here",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanText(in), "cleanText(%q)", in)
	}
}

func TestOpenAITranscribe(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /models", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data":[]}`)
	})
	mux.HandleFunc("POST /audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "base.en", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"hello world"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	gw, err := NewOpenAI(Config{URL: srv.URL, Model: "base.en"}, nopLog())
	require.NoError(t, err)
	require.NoError(t, gw.Start(context.Background()))

	res, err := gw.Transcribe(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	gw, err := NewOpenAI(Config{URL: srv.URL}, nopLog())
	require.NoError(t, err)

	_, err = gw.Transcribe(context.Background(), request())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTranscription))
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "cloud"}, nil)
	assert.True(t, errors.Is(err, ErrBackendMissing))

	_, err = New(Config{Backend: "openai"}, nil)
	assert.True(t, errors.Is(err, ErrBackendMissing), "openai backend needs a url")
}
