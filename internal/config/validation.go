package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dictd/internal/hotkey"
	"dictd/internal/inject"
	"dictd/internal/logging"
)

// ErrInvalidConfig is matched by every ValidationErrors value.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// Has reports whether any error concerns field.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if _, err := hotkey.ParseChord(c.Hotkey); err != nil {
		errs = append(errs, ValidationError{Field: "hotkey", Message: err.Error()})
	}
	if strings.TrimSpace(c.Model) == "" && c.Transcription.ModelPath == "" {
		errs = append(errs, *RequiredFieldError("model"))
	}
	if c.Language == "" {
		errs = append(errs, *RequiredFieldError("language"))
	}
	if c.InputMethod != "" && c.InputMethod != "auto" {
		if _, err := inject.ParseMethod(c.InputMethod); err != nil {
			errs = append(errs, ValidationError{
				Field:   "input_method",
				Message: fmt.Sprintf("%v (valid: auto, kernel-injection, display-injection, clipboard)", err),
			})
		}
	}

	errs = append(errs, validateInput(&c.Input)...)
	errs = append(errs, validateAudio(&c.Audio)...)
	errs = append(errs, validateTranscription(&c.Transcription)...)
	errs = append(errs, validateInjection(&c.Injection)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateJournal(&c.Journal)...)

	if c.IPC.SocketPath == "" {
		errs = append(errs, *RequiredFieldError("ipc.socket_path"))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateInput(in *InputConfig) ValidationErrors {
	var errs ValidationErrors
	for i, dev := range in.Devices {
		if !strings.HasPrefix(dev, "/dev/input/") {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("input.devices[%d]", i),
				Message: fmt.Sprintf("%q is not an input event device", dev),
			})
		}
	}
	return errs
}

func validateAudio(a *AudioConfig) ValidationErrors {
	var errs ValidationErrors

	switch a.Backend {
	case "ffmpeg", "portaudio":
	default:
		errs = append(errs, ValidationError{
			Field:   "audio.backend",
			Message: fmt.Sprintf("invalid backend: %s (valid: ffmpeg, portaudio)", a.Backend),
		})
	}
	if a.Backend == "ffmpeg" && a.Command == "" {
		errs = append(errs, *RequiredFieldError("audio.command"))
	}
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		errs = append(errs, *RangeError("audio.sample_rate", 8000, 48000))
	}
	if a.FrameMs < 10 || a.FrameMs > 100 {
		errs = append(errs, *RangeError("audio.frame_ms", 10, 100))
	}
	if a.VADThreshold <= 0 || a.VADThreshold >= 1 {
		errs = append(errs, *RangeError("audio.vad_threshold", 0, 1))
	}
	if a.MinSpeech.Duration < 0 {
		errs = append(errs, ValidationError{Field: "audio.min_speech", Message: "cannot be negative"})
	}
	if a.SilenceTimeout.Duration < 100*time.Millisecond {
		errs = append(errs, ValidationError{Field: "audio.silence_timeout", Message: "must be at least 100ms"})
	}
	if a.MaxDuration.Duration <= 0 || a.MaxDuration.Duration > 30*time.Minute {
		errs = append(errs, *RangeError("audio.max_duration", "1ms", "30m"))
	}
	return errs
}

func validateTranscription(t *TranscriptionConfig) ValidationErrors {
	var errs ValidationErrors

	switch t.Backend {
	case "whisper-server":
	case "openai":
		if t.URL == "" {
			errs = append(errs, ValidationError{
				Field:   "transcription.url",
				Message: "url is required for the openai backend (a local OpenAI-compatible server)",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "transcription.backend",
			Message: fmt.Sprintf("invalid backend: %s (valid: whisper-server, openai)", t.Backend),
		})
	}
	if t.URL != "" && !isValidURL(t.URL) {
		errs = append(errs, ValidationError{Field: "transcription.url", Message: fmt.Sprintf("invalid URL: %s", t.URL)})
	}
	if t.Threads < 0 {
		errs = append(errs, ValidationError{Field: "transcription.threads", Message: "cannot be negative"})
	}
	if t.StartupTimeout.Duration <= 0 {
		errs = append(errs, ValidationError{Field: "transcription.startup_timeout", Message: "must be positive"})
	}
	if t.RequestTimeout.Duration <= 0 {
		errs = append(errs, ValidationError{Field: "transcription.request_timeout", Message: "must be positive"})
	}
	if t.StartupAttempts < 1 {
		errs = append(errs, ValidationError{Field: "transcription.startup_attempts", Message: "must be at least 1"})
	}
	return errs
}

func validateInjection(in *InjectionConfig) ValidationErrors {
	var errs ValidationErrors

	for i, m := range in.Order {
		if _, err := inject.ParseMethod(m); err != nil {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("injection.order[%d]", i), Message: err.Error()})
		}
	}
	if _, err := hotkey.ParseChord(in.PasteKeys); err != nil {
		errs = append(errs, ValidationError{Field: "injection.paste_keys", Message: err.Error()})
	}
	if in.RestoreDelay.Duration < 0 {
		errs = append(errs, ValidationError{Field: "injection.restore_delay", Message: "cannot be negative"})
	}
	if in.TypeDelayMs < 0 {
		errs = append(errs, ValidationError{Field: "injection.type_delay_ms", Message: "cannot be negative"})
	}
	if in.CommandTimeout.Duration <= 0 {
		errs = append(errs, ValidationError{Field: "injection.command_timeout", Message: "must be positive"})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	if _, err := logging.ParseLevel(l.Level); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}
	if _, err := logging.ParseFormat(l.Format); err != nil {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{Field: "logging.max_size_mb", Message: "max size must be at least 1 MB"})
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_backups", Message: "max backups cannot be negative"})
	}
	return errs
}

func validateJournal(j *JournalConfig) ValidationErrors {
	if j.Enabled && j.Path == "" {
		return ValidationErrors{{Field: "journal.path", Message: "path is required when the journal is enabled"}}
	}
	return nil
}

// expandPaths resolves a leading ~/ in path options.
func (c *Config) expandPaths() {
	for _, p := range []*string{
		&c.Transcription.ModelDir,
		&c.Transcription.ModelPath,
		&c.Transcription.Binary,
		&c.Logging.FilePath,
		&c.Journal.Path,
		&c.IPC.SocketPath,
		&c.Feedback.StartSound,
		&c.Feedback.StopSound,
		&c.Feedback.ErrorSound,
	} {
		*p = expandPath(*p)
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

func isValidURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
