package daemon

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dictd/internal/audio"
	"dictd/internal/feedback"
	"dictd/internal/hotkey"
	"dictd/internal/inject"
	"dictd/internal/journal"
	"dictd/internal/metrics"
	"dictd/internal/transcribe"
)

// fakeCapture serves scripted PCM and counts open handles.
type fakeCapture struct {
	data     []byte
	readErr  error
	startErr error

	// hold, when set, keeps Start blocked until it is closed. entered is
	// closed once Start is waiting on hold.
	hold    chan struct{}
	entered chan struct{}

	opened atomic.Int32
	closed atomic.Int32
}

func (c *fakeCapture) Probe() error { return nil }

func (c *fakeCapture) Start(ctx context.Context, f audio.Format) (audio.Stream, error) {
	if c.hold != nil {
		close(c.entered)
		<-c.hold
	}
	if c.startErr != nil {
		return nil, c.startErr
	}
	c.opened.Add(1)
	return &fakeStream{data: append([]byte(nil), c.data...), err: c.readErr, stopped: make(chan struct{}), owner: c}, nil
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

// pcm renders ms of a 440 Hz tone, or silence when amplitude is 0, at 16 kHz.
func pcm(ms int, amplitude float64) []byte {
	n := 16 * ms
	out := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return transcribe.Result{}, &transcribe.Error{Backend: "fake", Op: "inference", Err: f.err}
	}
	return transcribe.Result{SessionID: req.SessionID, Text: f.text, Confidence: -1, Duration: 50 * time.Millisecond}, nil
}

func (f *fakeTranscriber) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeInjector fails the methods in fail, in order.
type fakeInjector struct {
	mu      sync.Mutex
	methods []inject.Method
	fail    map[inject.Method]bool
	texts   []string
}

func (f *fakeInjector) Inject(ctx context.Context, text string) (inject.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)

	var report inject.Report
	for _, m := range f.methods {
		if f.fail[m] {
			report.Attempts = append(report.Attempts, inject.Attempt{Method: m, Outcome: inject.Failure, Reason: "tool exited 1"})
			continue
		}
		report.Attempts = append(report.Attempts, inject.Attempt{Method: m, Outcome: inject.Success})
		report.Delivered = m
		return report, nil
	}
	return report, errors.Join(inject.ErrInjectionFailed, errors.New("all methods failed"))
}

func (f *fakeInjector) injected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type recordedSession struct {
	session  journal.Session
	attempts []journal.Attempt
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []recordedSession
}

func (f *fakeJournal) Record(ctx context.Context, s journal.Session, attempts []journal.Attempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, recordedSession{s, attempts})
	return nil
}

func (f *fakeJournal) all() []recordedSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedSession(nil), f.entries...)
}

// harness runs an orchestrator over a real audio.Manager and fake ports.
type harness struct {
	orch        *Orchestrator
	capture     *fakeCapture
	manager     *audio.Manager
	transcriber *fakeTranscriber
	injector    *fakeInjector
	notes       *feedback.Recorder
	journal     *fakeJournal
	metrics     *metrics.DictationMetrics

	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, mode hotkey.Mode, capture *fakeCapture) *harness {
	t.Helper()

	cfg := audio.DefaultConfig()
	cfg.MaxDuration = 10 * time.Second
	h := &harness{
		capture:     capture,
		manager:     audio.NewManager(capture, cfg, nil),
		transcriber: &fakeTranscriber{text: "hello world"},
		injector:    &fakeInjector{methods: []inject.Method{inject.MethodKernel, inject.MethodDisplay, inject.MethodClipboard}},
		notes:       &feedback.Recorder{},
		journal:     &fakeJournal{},
		metrics:     metrics.NewDictationMetrics(metrics.NewRegistry("test", "")),
		done:        make(chan error, 1),
	}
	h.orch = NewOrchestrator(Options{Mode: mode, Language: "en", TrailingSpace: true},
		h.manager, h.transcriber, h.injector, h.notes, h.journal, h.metrics, nil)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.orch.Run(ctx) }()
	t.Cleanup(h.stop)
}

func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	h.cancel = nil
	<-h.done
	h.manager.Wait()
}

func (h *harness) emit(sig hotkey.Signal) {
	h.orch.Emit(hotkey.Event{Signal: sig, Time: time.Now()})
}

func (h *harness) waitState(t *testing.T, s State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.orch.State() == s }, 2*time.Second, 5*time.Millisecond,
		"state %s never reached, at %s", s, h.orch.State())
}

// waitSessions blocks until n sessions are in the journal.
func (h *harness) waitSessions(t *testing.T, n int) []recordedSession {
	t.Helper()
	require.Eventually(t, func() bool { return len(h.journal.all()) >= n }, 2*time.Second, 5*time.Millisecond)
	h.waitState(t, Idle)
	return h.journal.all()
}
