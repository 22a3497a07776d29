package metrics

import (
	"time"
)

// DictationMetrics holds the daemon's metrics.
type DictationMetrics struct {
	registry *Registry
	started  time.Time

	// Counters
	SessionsStarted     *Counter
	SessionsDelivered   *Counter
	SessionsDiscarded   *Counter
	SessionsAborted     *Counter
	AudioErrors         *Counter
	TranscriptionErrors *Counter
	TranscriptionsEmpty *Counter
	InjectionFailures   *Counter
	EngagesIgnored      *Counter

	// Gauges
	State         *Gauge
	UptimeSeconds *Gauge

	// Histograms
	TranscriptionDuration *Histogram
	InjectionDuration     *Histogram
	AudioDuration         *Histogram
}

// AudioBuckets are buckets for utterance lengths in seconds.
var AudioBuckets = []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120}

// NewDictationMetrics creates and registers all dictation metrics.
func NewDictationMetrics(registry *Registry) *DictationMetrics {
	if registry == nil {
		registry = Default()
	}

	return &DictationMetrics{
		registry: registry,
		started:  time.Now(),

		SessionsStarted: registry.RegisterCounter(
			"sessions_started_total",
			"Recording sessions opened",
			nil,
		),
		SessionsDelivered: registry.RegisterCounter(
			"sessions_delivered_total",
			"Sessions whose text reached the focused window",
			nil,
		),
		SessionsDiscarded: registry.RegisterCounter(
			"sessions_discarded_total",
			"Sessions discarded because they held no speech",
			nil,
		),
		SessionsAborted: registry.RegisterCounter(
			"sessions_aborted_total",
			"Sessions cancelled or aborted at shutdown",
			nil,
		),
		AudioErrors: registry.RegisterCounter(
			"audio_errors_total",
			"Microphone failures while opening or recording",
			nil,
		),
		TranscriptionErrors: registry.RegisterCounter(
			"transcription_errors_total",
			"Failed transcription calls",
			nil,
		),
		TranscriptionsEmpty: registry.RegisterCounter(
			"transcriptions_empty_total",
			"Transcriptions that produced no text",
			nil,
		),
		InjectionFailures: registry.RegisterCounter(
			"injection_failures_total",
			"Sessions where every injection method failed",
			nil,
		),
		EngagesIgnored: registry.RegisterCounter(
			"engages_ignored_total",
			"Hotkey presses dropped because a session was in progress",
			nil,
		),

		State: registry.RegisterGauge(
			"state",
			"Orchestrator state (0 idle, 1 recording, 2 transcribing, 3 injecting)",
			nil,
		),
		UptimeSeconds: registry.RegisterGauge(
			"uptime_seconds",
			"Seconds since the daemon started",
			nil,
		),

		TranscriptionDuration: registry.RegisterHistogram(
			"transcription_duration_seconds",
			"Time spent in the speech-to-text engine per session",
			nil,
			DurationBuckets,
		),
		InjectionDuration: registry.RegisterHistogram(
			"injection_duration_seconds",
			"Time from text ready to delivery",
			nil,
			DurationBuckets,
		),
		AudioDuration: registry.RegisterHistogram(
			"audio_duration_seconds",
			"Length of captured utterances",
			nil,
			AudioBuckets,
		),
	}
}

// InjectionAttempt counts one try of method.
func (m *DictationMetrics) InjectionAttempt(method string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.registry.RegisterCounter(
		"injection_attempts_total",
		"Injection attempts by method and outcome",
		Labels{"method": method, "outcome": outcome},
	).Inc()
}

// InjectionAttempts returns the attempt count for method and outcome.
func (m *DictationMetrics) InjectionAttempts(method string, success bool) uint64 {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c := m.registry.GetCounter("injection_attempts_total", Labels{"method": method, "outcome": outcome})
	if c == nil {
		return 0
	}
	return c.Value()
}

// Registry returns the underlying registry.
func (m *DictationMetrics) Registry() *Registry {
	return m.registry
}

// UpdateUptime updates the uptime metric.
func (m *DictationMetrics) UpdateUptime() {
	m.UptimeSeconds.Set(int64(time.Since(m.started).Seconds()))
}

// Snapshot returns a snapshot of key metrics.
func (m *DictationMetrics) Snapshot() map[string]interface{} {
	m.UpdateUptime()
	return map[string]interface{}{
		"sessions_started":          m.SessionsStarted.Value(),
		"sessions_delivered":        m.SessionsDelivered.Value(),
		"sessions_discarded":        m.SessionsDiscarded.Value(),
		"sessions_aborted":          m.SessionsAborted.Value(),
		"audio_errors":              m.AudioErrors.Value(),
		"transcription_errors":      m.TranscriptionErrors.Value(),
		"transcriptions_empty":      m.TranscriptionsEmpty.Value(),
		"injection_failures":        m.InjectionFailures.Value(),
		"engages_ignored":           m.EngagesIgnored.Value(),
		"uptime_seconds":            m.UptimeSeconds.Value(),
		"transcription_avg_seconds": m.TranscriptionDuration.Mean(),
		"transcription_p95_seconds": m.TranscriptionDuration.Percentile(95),
	}
}
