package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"dictd/internal/logging"
)

var serverBinaryNames = []string{"whisper-server", "whisper-cpp-server", "whisper.cpp-server"}

// WhisperServer runs whisper.cpp's HTTP server as a child process so the
// model stays resident, or talks to an already running one when URL is set.
type WhisperServer struct {
	cfg  Config
	log  *logging.Logger
	http *http.Client

	mu      sync.Mutex
	baseURL string
	cmd     *exec.Cmd
	exited  chan struct{}
	stderr  *tailBuffer
}

// NewWhisperServer creates the backend; nothing runs until Start.
func NewWhisperServer(cfg Config, log *logging.Logger) *WhisperServer {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	return &WhisperServer{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: cfg.RequestTimeout},
	}
}

func (w *WhisperServer) Name() string { return "whisper-server" }

// ResolveModel maps a tier name such as "base.en" to a ggml model file.
func ResolveModel(model, dir, path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: model %s: %v", ErrBackendMissing, path, err)
		}
		return path, nil
	}
	if model == "" {
		model = "base.en"
	}
	name := model
	if !strings.HasSuffix(name, ".bin") {
		name = "ggml-" + model + ".bin"
	}
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); err != nil {
		return "", fmt.Errorf("%w: model %q not found at %s (download it with whisper.cpp's download-ggml-model.sh)",
			ErrBackendMissing, model, candidate)
	}
	return candidate, nil
}

// FindServerBinary locates the whisper.cpp server executable.
func FindServerBinary(explicit string) (string, error) {
	if explicit != "" {
		p, err := exec.LookPath(explicit)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrBackendMissing, explicit, err)
		}
		return p, nil
	}
	for _, name := range serverBinaryNames {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	home, _ := os.UserHomeDir()
	for _, dir := range []string{"/usr/local/bin", "/opt/whisper.cpp/build/bin", filepath.Join(home, ".local", "bin")} {
		for _, name := range serverBinaryNames {
			p := filepath.Join(dir, name)
			if st, err := os.Stat(p); err == nil && !st.IsDir() && st.Mode()&0o111 != 0 {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("%w: whisper-server not found in PATH (build whisper.cpp or set transcription.binary)", ErrBackendMissing)
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Start spawns the server and blocks until it answers or StartupTimeout
// elapses.
func (w *WhisperServer) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cfg.URL != "" {
		w.baseURL = strings.TrimRight(w.cfg.URL, "/")
		return w.waitReady(ctx, nil)
	}

	bin, err := FindServerBinary(w.cfg.Binary)
	if err != nil {
		return err
	}
	model, err := ResolveModel(w.cfg.Model, w.cfg.ModelDir, w.cfg.ModelPath)
	if err != nil {
		return err
	}
	port, err := freePort()
	if err != nil {
		return fmt.Errorf("pick port: %w", err)
	}

	args := []string{"-m", model, "--host", "127.0.0.1", "--port", strconv.Itoa(port)}
	if w.cfg.Language != "" {
		args = append(args, "-l", w.cfg.Language)
	}
	if w.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.cfg.Threads))
	}

	// Not tied to ctx: the server must outlive startup.
	cmd := exec.Command(bin, args...)
	stderr := &tailBuffer{max: 4096}
	cmd.Stdout = io.Discard
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", bin, err)
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	w.cmd = cmd
	w.exited = exited
	w.stderr = stderr
	w.baseURL = "http://127.0.0.1:" + strconv.Itoa(port)
	w.log.Info("whisper-server starting", "binary", bin, "model", model, "port", port)

	if err := w.waitReady(ctx, exited); err != nil {
		w.stopLocked()
		return err
	}
	w.log.Info("whisper-server ready", "url", w.baseURL)
	return nil
}

func (w *WhisperServer) waitReady(ctx context.Context, exited <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, w.cfg.StartupTimeout)
	defer cancel()

	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/", nil)
		if err != nil {
			return err
		}
		if resp, err := w.http.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode < 500 {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("whisper-server at %s not ready: %w", w.baseURL, ctx.Err())
		case <-exited:
			return fmt.Errorf("whisper-server exited during startup: %s", strings.TrimSpace(w.stderr.String()))
		case <-tick.C:
		}
	}
}

type inferenceResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Error    string `json:"error"`
}

// Transcribe posts the audio to /inference.
func (w *WhisperServer) Transcribe(ctx context.Context, req Request) (Result, error) {
	w.mu.Lock()
	base, exited := w.baseURL, w.exited
	w.mu.Unlock()

	fail := func(op string, err error) (Result, error) {
		return Result{}, &Error{Backend: w.Name(), Op: op, Err: err}
	}
	if base == "" {
		return fail("request", errors.New("server not started"))
	}
	if exited != nil {
		select {
		case <-exited:
			return fail("request", errors.New("server process has exited"))
		default:
		}
	}

	wavFile, err := writeWAV(req)
	if err != nil {
		return fail("encode", err)
	}
	defer os.Remove(wavFile.Name())
	defer wavFile.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return fail("encode", err)
	}
	if _, err := io.Copy(part, wavFile); err != nil {
		return fail("encode", err)
	}
	fields := map[string]string{"response_format": "json", "temperature": "0.0"}
	if lang := req.Language; lang != "" {
		fields["language"] = lang
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return fail("encode", err)
		}
	}
	if err := mw.Close(); err != nil {
		return fail("encode", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/inference", &body)
	if err != nil {
		return fail("request", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.http.Do(httpReq)
	if err != nil {
		return fail("request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail("read", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fail("request", fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var out inferenceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return fail("decode", err)
	}
	if out.Error != "" {
		return fail("inference", errors.New(out.Error))
	}

	lang := out.Language
	if lang == "" {
		lang = req.Language
	}
	return Result{
		SessionID:  req.SessionID,
		Text:       cleanText(out.Text),
		Language:   lang,
		Confidence: -1,
		Duration:   pcmDuration(req),
	}, nil
}

// Close stops the child process if one was spawned.
func (w *WhisperServer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked()
	return nil
}

func (w *WhisperServer) stopLocked() {
	if w.cmd == nil || w.cmd.Process == nil {
		return
	}
	_ = w.cmd.Process.Signal(os.Interrupt)
	select {
	case <-w.exited:
	case <-time.After(2 * time.Second):
		_ = w.cmd.Process.Kill()
		<-w.exited
	}
	w.cmd = nil
	w.baseURL = ""
}

// tailBuffer keeps the last max bytes written to it; the server logs every
// request to stderr for as long as the daemon runs.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
