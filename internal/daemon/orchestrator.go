package daemon

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"dictd/internal/audio"
	"dictd/internal/feedback"
	"dictd/internal/hotkey"
	"dictd/internal/inject"
	"dictd/internal/journal"
	"dictd/internal/logging"
	"dictd/internal/metrics"
	"dictd/internal/transcribe"
)

var (
	// ErrNoSession is returned by Cancel when nothing is recording.
	ErrNoSession = errors.New("no session in progress")
	// ErrSignalQueueFull is returned when control requests arrive faster
	// than the orchestrator drains them.
	ErrSignalQueueFull = errors.New("signal queue full")
)

// Recorder opens recording sessions. *audio.Manager implements it.
type Recorder interface {
	Start(ctx context.Context, mode hotkey.Mode) (*audio.Session, error)
	Sealed() <-chan audio.Sealed
}

// Transcriber turns one utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

// Injector delivers text to the focused window. *inject.Chain implements it.
type Injector interface {
	Inject(ctx context.Context, text string) (inject.Report, error)
}

// SessionLog persists finished sessions. *journal.Journal implements it.
type SessionLog interface {
	Record(ctx context.Context, s journal.Session, attempts []journal.Attempt) error
}

// Options tunes the orchestrator.
type Options struct {
	Mode          hotkey.Mode
	Language      string
	TrailingSpace bool
	// TranscribeTimeout and InjectTimeout bound each stage. Zero disables
	// the bound.
	TranscribeTimeout time.Duration
	InjectTimeout     time.Duration
	// ShutdownGrace is how long Run waits for an aborted session to seal.
	ShutdownGrace time.Duration
}

// Signal is one request for the orchestrator, stamped with the time of the
// input that caused it.
type Signal struct {
	Kind SignalKind
	Time time.Time
}

// Orchestrator runs the Idle → Recording → Transcribing → Injecting cycle.
// All transitions happen on the goroutine running Run; other goroutines
// only enqueue signals and read the published state.
type Orchestrator struct {
	opts        Options
	recorder    Recorder
	transcriber Transcriber
	injector    Injector
	notifier    feedback.Notifier
	journal     SessionLog
	metrics     *metrics.DictationMetrics
	log         *logging.Logger

	signals chan Signal

	state     atomic.Int32
	idleSince atomic.Int64

	mu        sync.Mutex
	current   *audio.Session
	sessionID string
}

// NewOrchestrator wires the session pipeline. notifier, journal and m may
// be nil.
func NewOrchestrator(opts Options, rec Recorder, tr Transcriber, inj Injector, notifier feedback.Notifier, sessions SessionLog, m *metrics.DictationMetrics, log *logging.Logger) *Orchestrator {
	if notifier == nil {
		notifier = feedback.Nop{}
	}
	if m == nil {
		m = metrics.NewDictationMetrics(metrics.NewRegistry("dictd", ""))
	}
	if log == nil {
		log = logging.Nop()
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 2 * time.Second
	}
	o := &Orchestrator{
		opts:        opts,
		recorder:    rec,
		transcriber: tr,
		injector:    inj,
		notifier:    notifier,
		journal:     sessions,
		metrics:     m,
		log:         log.WithComponent("daemon"),
		signals:     make(chan Signal, 16),
	}
	o.idleSince.Store(time.Now().UnixNano())
	return o
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// SessionID returns the id of the session in flight, if any.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// Busy implements hotkey.Gate.
func (o *Orchestrator) Busy() bool {
	return o.State() != Idle
}

// Recording implements hotkey.Gate.
func (o *Orchestrator) Recording() bool {
	return o.State() == Recording
}

// Emit forwards a matcher event. It never blocks.
func (o *Orchestrator) Emit(ev hotkey.Event) {
	kind := SignalEngage
	if ev.Signal == hotkey.Disengage {
		kind = SignalDisengage
	}
	if !o.enqueue(Signal{Kind: kind, Time: ev.Time}) {
		o.log.Warn("signal dropped, queue full", "signal", kind.String())
	}
}

// Toggle asks the orchestrator to start a session when idle, or to stop
// the one recording.
func (o *Orchestrator) Toggle() error {
	if !o.enqueue(Signal{Kind: SignalToggle, Time: time.Now()}) {
		return ErrSignalQueueFull
	}
	return nil
}

// Cancel aborts the recording session and discards its audio.
func (o *Orchestrator) Cancel() error {
	if o.State() != Recording {
		return ErrNoSession
	}
	if !o.enqueue(Signal{Kind: SignalCancel, Time: time.Now()}) {
		return ErrSignalQueueFull
	}
	return nil
}

func (o *Orchestrator) enqueue(sig Signal) bool {
	if sig.Time.IsZero() {
		sig.Time = time.Now()
	}
	select {
	case o.signals <- sig:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) setState(s State) {
	prev := State(o.state.Swap(int32(s)))
	if prev != s {
		o.log.Debug("state", "from", prev.String(), "to", s.String())
	}
	o.metrics.State.Set(int64(s))
	if s == Idle {
		o.idleSince.Store(time.Now().UnixNano())
	}
}

// Run processes signals and sealed sessions until ctx is cancelled. An open
// session is aborted on the way out.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.state.Store(int32(Idle))
	o.metrics.State.Set(int64(Idle))
	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case sig := <-o.signals:
			o.handleSignal(ctx, sig)
		case sealed := <-o.recorder.Sealed():
			o.handleSealed(ctx, sealed)
		}
	}
}

func (o *Orchestrator) handleSignal(ctx context.Context, sig Signal) {
	if sig.Time.UnixNano() < o.idleSince.Load() {
		o.log.Debug("stale signal discarded", "signal", sig.Kind.String())
		return
	}

	kind := sig.Kind
	if kind == SignalToggle {
		kind = SignalEngage
		if o.State() == Recording {
			kind = SignalDisengage
		}
	}

	switch kind {
	case SignalEngage:
		if o.State() != Idle {
			o.metrics.EngagesIgnored.Inc()
			o.log.Debug("engage ignored", "state", o.State().String())
			return
		}
		o.startSession(ctx)

	case SignalDisengage:
		if s := o.recording(); s != nil {
			s.Stop()
		}

	case SignalCancel:
		if s := o.recording(); s != nil {
			o.log.Info("session cancelled", "session_id", s.ID)
			s.Abort()
		}
	}
}

func (o *Orchestrator) recording() *audio.Session {
	if o.State() != Recording {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// startSession publishes Recording before the device opens so a toggle
// press during device startup resolves to Disengage. That signal queues
// behind this call and stops the session once it exists.
func (o *Orchestrator) startSession(ctx context.Context) {
	o.setState(Recording)
	s, err := o.recorder.Start(ctx, o.opts.Mode)
	if err != nil {
		o.setState(Aborted)
		o.metrics.AudioErrors.Inc()
		o.log.Error("could not open microphone", "error", err)
		o.notifier.Notify(feedback.Event{Kind: feedback.Failed, Error: "audio", Detail: err.Error()})
		o.setState(Idle)
		return
	}

	o.mu.Lock()
	o.current = s
	o.sessionID = s.ID
	o.mu.Unlock()

	o.metrics.SessionsStarted.Inc()
	o.log.Info("recording", "session_id", s.ID, "mode", s.Mode.String())
	o.notifier.Notify(feedback.Event{Kind: feedback.Started, SessionID: s.ID})
}

// handleSealed carries a finished recording through transcription and
// injection. Every path ends in Idle with the session released.
func (o *Orchestrator) handleSealed(ctx context.Context, sealed audio.Sealed) {
	s := sealed.Session

	o.mu.Lock()
	if s == nil || s != o.current {
		o.mu.Unlock()
		if s != nil {
			s.Release()
		}
		o.log.Warn("sealed session not in flight, dropped")
		return
	}
	o.current = nil
	o.mu.Unlock()

	defer func() {
		s.Release()
		o.mu.Lock()
		o.sessionID = ""
		o.mu.Unlock()
		o.setState(Idle)
	}()

	entry := journal.Session{
		ID:        s.ID,
		StartedAt: s.StartedAt,
		Mode:      s.Mode.String(),
		Duration:  s.Duration(),
		Reason:    sealed.Reason.String(),
	}
	o.metrics.AudioDuration.ObserveDuration(entry.Duration)

	switch {
	case sealed.Err != nil:
		o.setState(Aborted)
		o.metrics.AudioErrors.Inc()
		o.log.Error("recording failed", "session_id", s.ID, "error", sealed.Err)
		o.notifier.Notify(feedback.Event{Kind: feedback.Failed, SessionID: s.ID, Error: "audio", Detail: sealed.Err.Error()})
		entry.Outcome = journal.OutcomeFailed
		entry.Error = sealed.Err.Error()
		o.record(entry, nil)
		return

	case sealed.Reason == audio.SealAborted:
		o.metrics.SessionsAborted.Inc()
		o.notifier.Notify(feedback.Event{Kind: feedback.Discarded, SessionID: s.ID, Detail: "cancelled"})
		entry.Outcome = journal.OutcomeAborted
		o.record(entry, nil)
		return
	}

	o.notifier.Notify(feedback.Event{Kind: feedback.Stopped, SessionID: s.ID})

	if !s.HasSpeech() {
		o.metrics.SessionsDiscarded.Inc()
		o.log.Info("no speech, session discarded", "session_id", s.ID, "duration", entry.Duration)
		o.notifier.Notify(feedback.Event{Kind: feedback.Discarded, SessionID: s.ID, Detail: "no speech"})
		entry.Outcome = journal.OutcomeDiscarded
		entry.Reason = "no-speech"
		o.record(entry, nil)
		return
	}

	o.setState(Transcribing)
	res, err := o.transcribe(ctx, s)
	entry.TranscriptionTime = res.Duration
	if err != nil {
		o.setState(Aborted)
		o.metrics.TranscriptionErrors.Inc()
		o.log.Error("transcription failed", "session_id", s.ID, "error", err)
		o.notifier.Notify(feedback.Event{Kind: feedback.Failed, SessionID: s.ID, Error: "transcription", Detail: err.Error()})
		entry.Outcome = journal.OutcomeFailed
		entry.Reason = "transcription"
		entry.Error = err.Error()
		o.record(entry, nil)
		return
	}

	text := inject.PrepareText(res.Text, o.opts.TrailingSpace)
	entry.TextLen = len([]rune(text))
	entry.Text = text
	if text == "" {
		o.metrics.TranscriptionsEmpty.Inc()
		o.metrics.SessionsDiscarded.Inc()
		o.log.Info("empty transcription, nothing to type", "session_id", s.ID)
		o.notifier.Notify(feedback.Event{Kind: feedback.Discarded, SessionID: s.ID, Detail: "empty transcription"})
		entry.Outcome = journal.OutcomeDiscarded
		entry.Reason = "empty-transcription"
		o.record(entry, nil)
		return
	}

	o.setState(Injecting)
	report, err := o.inject(ctx, text)
	attempts := make([]journal.Attempt, len(report.Attempts))
	for i, a := range report.Attempts {
		o.metrics.InjectionAttempt(string(a.Method), a.Outcome == inject.Success)
		attempts[i] = journal.Attempt{
			Method:   string(a.Method),
			Success:  a.Outcome == inject.Success,
			Reason:   a.Reason,
			Duration: a.Duration,
		}
	}
	if err != nil {
		o.setState(Aborted)
		o.metrics.InjectionFailures.Inc()
		o.log.Error("text could not be delivered", "session_id", s.ID, "attempts", len(report.Attempts), "error", err)
		o.notifier.Notify(feedback.Event{Kind: feedback.Failed, SessionID: s.ID, Error: "injection", Detail: err.Error(), Text: text})
		entry.Outcome = journal.OutcomeFailed
		entry.Reason = "injection"
		entry.Error = err.Error()
		o.record(entry, attempts)
		return
	}

	o.metrics.SessionsDelivered.Inc()
	o.log.Info("text delivered", "session_id", s.ID, "method", string(report.Delivered), "chars", entry.TextLen)
	o.notifier.Notify(feedback.Event{Kind: feedback.Delivered, SessionID: s.ID, Detail: string(report.Delivered)})
	entry.Outcome = journal.OutcomeDelivered
	entry.Method = string(report.Delivered)
	o.record(entry, attempts)
}

func (o *Orchestrator) transcribe(ctx context.Context, s *audio.Session) (transcribe.Result, error) {
	if o.opts.TranscribeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.TranscribeTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := o.transcriber.Transcribe(ctx, transcribe.Request{
		SessionID:  s.ID,
		PCM:        s.PCM(),
		SampleRate: s.SampleRate(),
		Language:   o.opts.Language,
	})
	elapsed := time.Since(start)
	o.metrics.TranscriptionDuration.ObserveDuration(elapsed)
	if res.Duration == 0 {
		res.Duration = elapsed
	}
	return res, err
}

func (o *Orchestrator) inject(ctx context.Context, text string) (inject.Report, error) {
	if o.opts.InjectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.InjectTimeout)
		defer cancel()
	}
	timer := o.metrics.InjectionDuration.Timer()
	defer timer.Stop()
	return o.injector.Inject(ctx, text)
}

// record writes the journal entry. Journal failures are logged only.
func (o *Orchestrator) record(s journal.Session, attempts []journal.Attempt) {
	if o.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.journal.Record(ctx, s, attempts); err != nil {
		o.log.Warn("journal write failed", "session_id", s.ID, "error", err)
	}
}

// shutdown aborts the open session and waits briefly for it to seal so the
// device is closed before the process exits.
func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	s := o.current
	o.mu.Unlock()
	if s == nil {
		o.setState(Idle)
		return
	}

	o.log.Info("aborting session for shutdown", "session_id", s.ID)
	s.Abort()

	timeout := time.NewTimer(o.opts.ShutdownGrace)
	defer timeout.Stop()
	for {
		select {
		case sealed := <-o.recorder.Sealed():
			if sealed.Session != s {
				if sealed.Session != nil {
					sealed.Session.Release()
				}
				continue
			}
			o.handleSealed(context.Background(), audio.Sealed{Session: s, Reason: audio.SealAborted, Err: sealed.Err})
			return
		case <-timeout.C:
			o.log.Warn("session did not seal before shutdown", "session_id", s.ID)
			s.Release()
			o.mu.Lock()
			o.current = nil
			o.sessionID = ""
			o.mu.Unlock()
			o.setState(Idle)
			return
		}
	}
}
