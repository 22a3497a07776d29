// Package config handles configuration loading, validation, and management for dictd.
package config

import (
	"fmt"
	"strings"
	"time"

	"dictd/internal/hotkey"
)

// Config holds the complete daemon configuration. It is loaded once at
// startup and treated as read-only afterwards.
type Config struct {
	// Hotkey is the chord that starts and stops dictation.
	Hotkey string `toml:"hotkey" json:"hotkey" yaml:"hotkey"`

	// Model is the speech model tier, e.g. "base.en" or "large-v3".
	Model string `toml:"model" json:"model" yaml:"model"`

	// Language is the spoken language code passed to the engine.
	Language string `toml:"language" json:"language" yaml:"language"`

	// InputMethod is "auto" or the injection method to try first.
	InputMethod string `toml:"input_method" json:"input_method" yaml:"input_method"`

	// SoundFeedback plays a sound when recording starts and stops.
	SoundFeedback bool `toml:"sound_feedback" json:"sound_feedback" yaml:"sound_feedback"`

	// ContinuousMode selects toggle activation instead of push-to-talk.
	ContinuousMode bool `toml:"continuous_mode" json:"continuous_mode" yaml:"continuous_mode"`

	Input         InputConfig         `toml:"input" json:"input" yaml:"input"`
	Audio         AudioConfig         `toml:"audio" json:"audio" yaml:"audio"`
	Transcription TranscriptionConfig `toml:"transcription" json:"transcription" yaml:"transcription"`
	Injection     InjectionConfig     `toml:"injection" json:"injection" yaml:"injection"`
	Feedback      FeedbackConfig      `toml:"feedback" json:"feedback" yaml:"feedback"`
	Logging       LoggingConfig       `toml:"logging" json:"logging" yaml:"logging"`
	Journal       JournalConfig       `toml:"journal" json:"journal" yaml:"journal"`
	IPC           IPCConfig           `toml:"ipc" json:"ipc" yaml:"ipc"`
}

// InputConfig selects the keyboards to listen on.
type InputConfig struct {
	// Devices lists event nodes to open. Empty means every keyboard.
	Devices []string `toml:"devices" json:"devices" yaml:"devices"`

	// Hotplug adds keyboards plugged in after startup.
	Hotplug bool `toml:"hotplug" json:"hotplug" yaml:"hotplug"`
}

// AudioConfig holds microphone capture and end-of-utterance settings.
type AudioConfig struct {
	// Backend is "ffmpeg" or "portaudio".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// Command is the ffmpeg binary.
	Command string `toml:"command" json:"command" yaml:"command"`

	// InputFormat is the ffmpeg input device format: pulse, alsa or pipewire.
	InputFormat string `toml:"input_format" json:"input_format" yaml:"input_format"`

	InputDevice string `toml:"input_device" json:"input_device" yaml:"input_device"`
	SampleRate  int    `toml:"sample_rate" json:"sample_rate" yaml:"sample_rate"`
	FrameMs     int    `toml:"frame_ms" json:"frame_ms" yaml:"frame_ms"`

	// VADThreshold is the RMS level, 0..1, above which a frame counts as speech.
	VADThreshold float64 `toml:"vad_threshold" json:"vad_threshold" yaml:"vad_threshold"`

	// MinSpeech is how much speech must accumulate before trailing silence
	// can end the utterance.
	MinSpeech Duration `toml:"min_speech" json:"min_speech" yaml:"min_speech"`

	SilenceTimeout Duration `toml:"silence_timeout" json:"silence_timeout" yaml:"silence_timeout"`
	MaxDuration    Duration `toml:"max_duration" json:"max_duration" yaml:"max_duration"`

	AutoStopPushToTalk bool `toml:"auto_stop_push_to_talk" json:"auto_stop_push_to_talk" yaml:"auto_stop_push_to_talk"`
	AutoStopToggle     bool `toml:"auto_stop_toggle" json:"auto_stop_toggle" yaml:"auto_stop_toggle"`
}

// TranscriptionConfig selects the speech-to-text engine.
type TranscriptionConfig struct {
	// Backend is "whisper-server" or "openai".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// URL points at an already running server. For whisper-server an empty
	// URL means dictd starts its own child process.
	URL string `toml:"url,omitempty" json:"url,omitempty" yaml:"url,omitempty"`

	// APIKey is sent to OpenAI-compatible servers that require one.
	APIKey string `toml:"api_key,omitempty" json:"api_key,omitempty" yaml:"api_key,omitempty"`

	Binary    string `toml:"binary,omitempty" json:"binary,omitempty" yaml:"binary,omitempty"`
	ModelDir  string `toml:"model_dir" json:"model_dir" yaml:"model_dir"`
	ModelPath string `toml:"model_path,omitempty" json:"model_path,omitempty" yaml:"model_path,omitempty"`
	Threads   int    `toml:"threads" json:"threads" yaml:"threads"`

	StartupTimeout  Duration `toml:"startup_timeout" json:"startup_timeout" yaml:"startup_timeout"`
	RequestTimeout  Duration `toml:"request_timeout" json:"request_timeout" yaml:"request_timeout"`
	StartupAttempts int      `toml:"startup_attempts" json:"startup_attempts" yaml:"startup_attempts"`
}

// InjectionConfig controls how text reaches the focused window.
type InjectionConfig struct {
	// Order overrides the detected method order.
	Order []string `toml:"order" json:"order" yaml:"order"`

	PasteKeys        string   `toml:"paste_keys" json:"paste_keys" yaml:"paste_keys"`
	RestoreClipboard bool     `toml:"restore_clipboard" json:"restore_clipboard" yaml:"restore_clipboard"`
	RestoreDelay     Duration `toml:"restore_delay" json:"restore_delay" yaml:"restore_delay"`
	TrailingSpace    bool     `toml:"trailing_space" json:"trailing_space" yaml:"trailing_space"`
	TypeDelayMs      int      `toml:"type_delay_ms" json:"type_delay_ms" yaml:"type_delay_ms"`
	CommandTimeout   Duration `toml:"command_timeout" json:"command_timeout" yaml:"command_timeout"`
}

// FeedbackConfig holds sound and notification settings.
type FeedbackConfig struct {
	DesktopNotifications bool   `toml:"desktop_notifications" json:"desktop_notifications" yaml:"desktop_notifications"`
	StartSound           string `toml:"start_sound" json:"start_sound" yaml:"start_sound"`
	StopSound            string `toml:"stop_sound" json:"stop_sound" yaml:"stop_sound"`
	ErrorSound           string `toml:"error_sound" json:"error_sound" yaml:"error_sound"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log destination: "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// JournalConfig controls the session history database.
type JournalConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`

	// StoreText keeps transcribed text in the journal. Off by default.
	StoreText bool `toml:"store_text" json:"store_text" yaml:"store_text"`
}

// IPCConfig holds control socket configuration.
type IPCConfig struct {
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`
}

// Duration is a time.Duration written as a string such as "600ms".
type Duration struct {
	time.Duration
}

// D is shorthand for building a Duration.
func D(d time.Duration) Duration { return Duration{d} }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(b), err)
	}
	d.Duration = v
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Hotkey:         "<ctrl>+<alt>+space",
		Model:          "base.en",
		Language:       "en",
		InputMethod:    "auto",
		SoundFeedback:  true,
		ContinuousMode: false,
		Input: InputConfig{
			Devices: []string{},
			Hotplug: true,
		},
		Audio: AudioConfig{
			Backend:            "ffmpeg",
			Command:            "ffmpeg",
			InputFormat:        "pulse",
			InputDevice:        "default",
			SampleRate:         16000,
			FrameMs:            30,
			VADThreshold:       0.015,
			MinSpeech:          D(150 * time.Millisecond),
			SilenceTimeout:     D(600 * time.Millisecond),
			MaxDuration:        D(2 * time.Minute),
			AutoStopPushToTalk: true,
			AutoStopToggle:     true,
		},
		Transcription: TranscriptionConfig{
			Backend:         "whisper-server",
			ModelDir:        DefaultModelDir(),
			Threads:         0,
			StartupTimeout:  D(60 * time.Second),
			RequestTimeout:  D(60 * time.Second),
			StartupAttempts: 3,
		},
		Injection: InjectionConfig{
			Order:            []string{},
			PasteKeys:        "ctrl+v",
			RestoreClipboard: false,
			RestoreDelay:     D(300 * time.Millisecond),
			TrailingSpace:    true,
			TypeDelayMs:      0,
			CommandTimeout:   D(10 * time.Second),
		},
		Feedback: FeedbackConfig{
			DesktopNotifications: true,
			StartSound:           soundDir + "message.oga",
			StopSound:            soundDir + "complete.oga",
			ErrorSound:           soundDir + "dialog-error.oga",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   DefaultLogPath(),
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Journal: JournalConfig{
			Enabled:   true,
			Path:      DefaultJournalPath(),
			StoreText: false,
		},
		IPC: IPCConfig{
			SocketPath: DefaultSocketPath(),
		},
	}
}

const soundDir = "/usr/share/sounds/freedesktop/stereo/"

// Mode returns the activation mode selected by continuous_mode.
func (c *Config) Mode() hotkey.Mode {
	return hotkey.ModeFor(c.ContinuousMode)
}

// Chord parses the configured hotkey.
func (c *Config) Chord() (hotkey.Chord, error) {
	return hotkey.ParseChord(c.Hotkey)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Input.Devices = append([]string{}, c.Input.Devices...)
	clone.Injection.Order = append([]string{}, c.Injection.Order...)
	return &clone
}
