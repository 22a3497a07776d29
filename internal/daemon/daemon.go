// Package daemon runs the dictation pipeline: hotkey chord in, microphone
// session, speech-to-text, text out through the injection chain.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"dictd/internal/audio"
	"dictd/internal/config"
	"dictd/internal/feedback"
	"dictd/internal/hotkey"
	"dictd/internal/inject"
	"dictd/internal/input"
	"dictd/internal/ipc"
	"dictd/internal/journal"
	"dictd/internal/logging"
	"dictd/internal/metrics"
	"dictd/internal/transcribe"
)

// Daemon owns every long-lived component. Build it with New and start it
// with Run.
type Daemon struct {
	cfg     *config.Config
	root    *logging.Logger
	log     *logging.Logger
	version string
	started time.Time
	chord   hotkey.Chord
	backoff Backoff

	audio    *audio.Manager
	gateway  transcribe.Gateway
	chain    *inject.Chain
	notifier feedback.Notifier
	metrics  *metrics.DictationMetrics
	orch     *Orchestrator

	mu      sync.Mutex
	source  *input.Source
	journal *journal.Journal
	server  *ipc.Server
}

// New builds the daemon from cfg. Nothing is opened yet: devices, the
// speech engine and the control socket are started by Run.
func New(cfg *config.Config, log *logging.Logger, version string) (*Daemon, error) {
	if log == nil {
		log = logging.Default()
	}

	chord, err := cfg.Chord()
	if err != nil {
		return nil, fmt.Errorf("hotkey: %w", err)
	}

	capture, err := audio.NewCapture(cfg.Audio.Backend, cfg.Audio.Command)
	if err != nil {
		return nil, err
	}

	gateway, err := transcribe.New(transcribeConfig(cfg), log)
	if err != nil {
		return nil, err
	}

	injectOpts, err := injectOptions(cfg)
	if err != nil {
		return nil, err
	}
	chain, err := inject.Build(injectOpts, inject.ProbeEnvironment(), log)
	if err != nil {
		return nil, fmt.Errorf("injection: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		root:     log,
		log:      log.WithComponent("daemon"),
		version:  version,
		chord:    chord,
		backoff:  DefaultBackoff(),
		audio:    audio.NewManager(capture, audioConfig(cfg), log),
		gateway:  gateway,
		chain:    chain,
		notifier: buildNotifier(cfg, log),
		metrics:  metrics.NewDictationMetrics(metrics.NewRegistry("dictd", "")),
	}
	if cfg.Transcription.StartupAttempts > 0 {
		d.backoff.Attempts = cfg.Transcription.StartupAttempts
	}

	d.orch = NewOrchestrator(Options{
		Mode:              cfg.Mode(),
		Language:          cfg.Language,
		TrailingSpace:     cfg.Injection.TrailingSpace,
		TranscribeTimeout: cfg.Transcription.RequestTimeout.Duration,
	}, d.audio, gateway, chain, d.notifier, nil, d.metrics, log)

	return d, nil
}

func audioConfig(cfg *config.Config) audio.Config {
	ac := audio.DefaultConfig()
	ac.Format.SampleRate = cfg.Audio.SampleRate
	ac.Format.InputFormat = cfg.Audio.InputFormat
	ac.Format.InputDevice = cfg.Audio.InputDevice
	ac.FrameDuration = time.Duration(cfg.Audio.FrameMs) * time.Millisecond
	ac.VAD = audio.VADConfig{
		Threshold: cfg.Audio.VADThreshold,
		MinSpeech: cfg.Audio.MinSpeech.Duration,
		Silence:   cfg.Audio.SilenceTimeout.Duration,
	}
	ac.MaxDuration = cfg.Audio.MaxDuration.Duration
	ac.AutoStopPushToTalk = cfg.Audio.AutoStopPushToTalk
	ac.AutoStopToggle = cfg.Audio.AutoStopToggle
	return ac
}

func transcribeConfig(cfg *config.Config) transcribe.Config {
	t := cfg.Transcription
	return transcribe.Config{
		Backend:        t.Backend,
		URL:            t.URL,
		Binary:         t.Binary,
		Model:          cfg.Model,
		ModelDir:       t.ModelDir,
		ModelPath:      t.ModelPath,
		Language:       cfg.Language,
		Threads:        t.Threads,
		APIKey:         t.APIKey,
		StartupTimeout: t.StartupTimeout.Duration,
		RequestTimeout: t.RequestTimeout.Duration,
	}
}

func injectOptions(cfg *config.Config) (inject.Options, error) {
	order := make([]inject.Method, 0, len(cfg.Injection.Order))
	for _, name := range cfg.Injection.Order {
		m, err := inject.ParseMethod(name)
		if err != nil {
			return inject.Options{}, fmt.Errorf("injection.order: %w", err)
		}
		order = append(order, m)
	}
	return inject.Options{
		InputMethod:      cfg.InputMethod,
		Order:            order,
		PasteKeys:        cfg.Injection.PasteKeys,
		RestoreClipboard: cfg.Injection.RestoreClipboard,
		RestoreDelay:     cfg.Injection.RestoreDelay.Duration,
		KeyDelayMs:       cfg.Injection.TypeDelayMs,
		CommandTimeout:   cfg.Injection.CommandTimeout.Duration,
	}, nil
}

func buildNotifier(cfg *config.Config, log *logging.Logger) feedback.Notifier {
	if log == nil {
		log = logging.Nop()
	}
	var out feedback.Multi
	if cfg.SoundFeedback {
		out = append(out, feedback.NewSoundNotifier(feedback.Sounds{
			Start: cfg.Feedback.StartSound,
			Stop:  cfg.Feedback.StopSound,
			Error: cfg.Feedback.ErrorSound,
		}, log.WithComponent("feedback")))
	}
	if cfg.Feedback.DesktopNotifications {
		out = append(out, feedback.NewDesktopNotifier(log.WithComponent("feedback")))
	}
	if len(out) == 0 {
		return feedback.Nop{}
	}
	return out
}

// Run starts every component and blocks until ctx is cancelled. Errors
// wrapping input.ErrDeviceUnavailable or audio.ErrDeviceUnavailable are
// structural: restarting will not help until the system is fixed.
func (d *Daemon) Run(ctx context.Context) error {
	d.started = time.Now()

	if err := d.audio.Probe(); err != nil {
		return err
	}

	source, err := input.Open(input.Options{
		Devices: d.cfg.Input.Devices,
		Hotplug: d.cfg.Input.Hotplug,
		Logger:  d.root,
	})
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.source = source
	d.mu.Unlock()
	defer source.Close()

	err = Retry(ctx, d.backoff, "load speech model", d.log, isPermanent, d.gateway.Start)
	if err != nil {
		return err
	}
	defer d.gateway.Close()

	if d.cfg.Journal.Enabled {
		j, err := journal.Open(d.cfg.Journal.Path, journal.Options{StoreText: d.cfg.Journal.StoreText})
		if err != nil {
			d.log.Warn("session journal disabled", "path", d.cfg.Journal.Path, "error", err)
		} else {
			d.mu.Lock()
			d.journal = j
			d.mu.Unlock()
			d.orch.journal = j
			defer j.Close()
		}
	}

	srvCfg := ipc.DefaultServerConfig(config.RuntimeDir())
	srvCfg.SocketPath = d.cfg.IPC.SocketPath
	server := ipc.NewServer(srvCfg, ipc.NewDaemonHandler(d), d.root)
	if err := server.Start(); err != nil {
		d.log.Warn("control socket unavailable", "error", err)
	} else {
		d.mu.Lock()
		d.server = server
		d.mu.Unlock()
		defer server.Stop()
	}

	matcher := hotkey.NewMatcher(d.chord, d.cfg.Mode(), d.orch, d.root)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		matcher.Run(ctx, source.Events(), d.orch.Emit)
	}()

	d.log.Info("dictd ready",
		"version", d.version,
		"chord", d.chord.String(),
		"mode", d.cfg.Mode().String(),
		"keyboards", len(source.Devices()),
		"transcriber", d.gateway.Name(),
		"methods", fmt.Sprint(d.chain.Methods()),
	)

	err = d.orch.Run(ctx)
	wg.Wait()
	d.audio.Wait()
	d.log.Info("dictd stopped")
	return err
}

// isPermanent reports startup errors that retrying cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, transcribe.ErrBackendMissing) || errors.Is(err, context.Canceled)
}

// IsStructural reports whether err means the host is missing a device or
// permission, as opposed to a transient failure.
func IsStructural(err error) bool {
	return errors.Is(err, input.ErrDeviceUnavailable) || errors.Is(err, audio.ErrDeviceUnavailable)
}

// Status implements ipc.Controller.
func (d *Daemon) Status() ipc.Status {
	methods := make([]string, 0)
	for _, m := range d.chain.Methods() {
		methods = append(methods, string(m))
	}

	d.mu.Lock()
	var devices []string
	if d.source != nil {
		devices = d.source.Devices()
	}
	d.mu.Unlock()

	snap := d.metrics.Snapshot()
	counters := make(map[string]uint64, len(snap))
	for k, v := range snap {
		if n, ok := v.(uint64); ok {
			counters[k] = n
		}
	}

	var uptime int64
	if !d.started.IsZero() {
		uptime = int64(time.Since(d.started).Seconds())
	}

	return ipc.Status{
		PID:           os.Getpid(),
		Version:       d.version,
		State:         d.orch.State().String(),
		SessionID:     d.orch.SessionID(),
		Mode:          d.cfg.Mode().String(),
		Chord:         d.chord.String(),
		Methods:       methods,
		Transcriber:   d.gateway.Name(),
		Devices:       devices,
		UptimeSeconds: uptime,
		Counters:      counters,
	}
}

// Toggle implements ipc.Controller.
func (d *Daemon) Toggle() error {
	return d.orch.Toggle()
}

// Cancel implements ipc.Controller.
func (d *Daemon) Cancel() error {
	return d.orch.Cancel()
}

// WriteMetrics implements ipc.Controller.
func (d *Daemon) WriteMetrics(w io.Writer) error {
	d.metrics.UpdateUptime()
	return d.metrics.Registry().WritePrometheus(w)
}
