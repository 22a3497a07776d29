package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dictd/internal/hotkey"
)

// isolate points every XDG directory into a temp dir and clears overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(dir, "run"))
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, EnvPrefix) {
			name := kv[:strings.IndexByte(kv, '=')]
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
	return dir
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	dir := isolate(t)
	cfg := DefaultConfig()

	assert.Equal(t, "<ctrl>+<alt>+space", cfg.Hotkey)
	assert.Equal(t, "base.en", cfg.Model)
	assert.Equal(t, "en", cfg.Language)
	assert.Equal(t, "auto", cfg.InputMethod)
	assert.True(t, cfg.SoundFeedback)
	assert.False(t, cfg.ContinuousMode)
	assert.Equal(t, hotkey.PushToTalk, cfg.Mode())

	assert.Equal(t, 600*time.Millisecond, cfg.Audio.SilenceTimeout.Duration)
	assert.Equal(t, filepath.Join(dir, "state", "dictd", "journal.db"), cfg.Journal.Path)
	assert.Equal(t, filepath.Join(dir, "run", "dictd", "dictd.sock"), cfg.IPC.SocketPath)
	assert.Equal(t, filepath.Join(dir, "data", "dictd", "models"), cfg.Transcription.ModelDir)

	require.NoError(t, cfg.Validate())
}

func TestConfigPath(t *testing.T) {
	dir := isolate(t)
	assert.Equal(t, filepath.Join(dir, "config", "dictd", "config.toml"), ConfigPath())
	assert.Equal(t, filepath.Join(dir, "config", "dictd", "env"), EnvFilePath())
	assert.Equal(t, filepath.Join(dir, "run", "dictd", "dictd.pid"), DefaultPIDPath())
}

func TestLoadNonexistent(t *testing.T) {
	dir := isolate(t)
	cfg, err := Load(filepath.Join(dir, "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadTOML(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, filepath.Join(dir, "dictd.toml"), `
hotkey = "super+F9"
continuous_mode = true

[audio]
silence_timeout = "1.5s"
vad_threshold = 0.02

[injection]
order = ["clipboard", "kernel-injection"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "super+F9", cfg.Hotkey)
	assert.Equal(t, hotkey.Toggle, cfg.Mode())
	assert.Equal(t, 1500*time.Millisecond, cfg.Audio.SilenceTimeout.Duration)
	assert.Equal(t, 0.02, cfg.Audio.VADThreshold)
	assert.Equal(t, []string{"clipboard", "kernel-injection"}, cfg.Injection.Order)
	// Unset options keep their defaults.
	assert.Equal(t, 16000, cfg.Audio.SampleRate)
	assert.Equal(t, "base.en", cfg.Model)
}

func TestLoadLegacyJSON(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, filepath.Join(dir, "config.json"), `{
  "hotkey": "<ctrl>+<alt>+space",
  "model": "small.en",
  "language": "en",
  "input_method": "xdotool",
  "sound_feedback": false,
  "continuous_mode": false
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "small.en", cfg.Model)
	assert.Equal(t, "xdotool", cfg.InputMethod)
	assert.False(t, cfg.SoundFeedback)
}

func TestLoadYAML(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, filepath.Join(dir, "config.yaml"), `
model: tiny.en
transcription:
  backend: openai
  url: http://127.0.0.1:8000/v1
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tiny.en", cfg.Model)
	assert.Equal(t, "openai", cfg.Transcription.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadAutoDetect(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, filepath.Join(dir, "dictdrc"), `{"model": "medium.en"}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "medium.en", cfg.Model)
}

func TestSchemaRejectsUnknownAndMistyped(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, filepath.Join(dir, "config.toml"), `
hotkee = "ctrl+space"

[audio]
frame_ms = "thirty"
silence_timeout = "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.True(t, verrs.Has("audio.frame_ms"), verrs.Error())
	assert.True(t, verrs.Has("audio.silence_timeout"), verrs.Error())
}

func TestValidateRejectsBadChord(t *testing.T) {
	isolate(t)
	tests := []struct {
		name  string
		setup func(*Config)
		field string
	}{
		{"modifiers only", func(c *Config) { c.Hotkey = "ctrl+alt" }, "hotkey"},
		{"two keys", func(c *Config) { c.Hotkey = "a+b" }, "hotkey"},
		{"unknown method", func(c *Config) { c.InputMethod = "telepathy" }, "input_method"},
		{"bad order", func(c *Config) { c.Injection.Order = []string{"fax"} }, "injection.order[0]"},
		{"openai without url", func(c *Config) { c.Transcription.Backend = "openai" }, "transcription.url"},
		{"short silence", func(c *Config) { c.Audio.SilenceTimeout = D(10 * time.Millisecond) }, "audio.silence_timeout"},
		{"log file missing", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, "logging.file_path"},
		{"journal without path", func(c *Config) { c.Journal.Path = "" }, "journal.path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.setup(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.True(t, verrs.Has(tt.field), "expected error on %s, got %v", tt.field, verrs)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := isolate(t)
	t.Setenv("DICTD_HOTKEY", "ctrl+space")
	t.Setenv("DICTD_CONTINUOUS_MODE", "true")
	t.Setenv("DICTD_API_KEY", "sk-local")

	cfg, err := Load(filepath.Join(dir, "none.toml"))
	require.NoError(t, err)
	assert.Equal(t, "ctrl+space", cfg.Hotkey)
	assert.True(t, cfg.ContinuousMode)
	assert.Equal(t, "sk-local", cfg.Transcription.APIKey)

	t.Setenv("DICTD_SOUND_FEEDBACK", "loud")
	_, err = Load(filepath.Join(dir, "none.toml"))
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestEnvFile(t *testing.T) {
	dir := isolate(t)
	envFile := writeFile(t, filepath.Join(dir, "env"), "DICTD_MODEL=large-v3\nDICTD_LOG_LEVEL=debug\n")
	t.Cleanup(func() {
		os.Unsetenv("DICTD_MODEL")
		os.Unsetenv("DICTD_LOG_LEVEL")
	})

	cfg, err := NewLoader(filepath.Join(dir, "none.toml")).WithEnvFile(envFile).Load()
	require.NoError(t, err)
	assert.Equal(t, "large-v3", cfg.Model)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestExpandHome(t *testing.T) {
	dir := isolate(t)
	t.Setenv("HOME", dir)
	path := writeFile(t, filepath.Join(dir, "config.toml"), "[transcription]\nmodel_dir = \"~/models\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "models"), cfg.Transcription.ModelDir)
}

func TestLoadOrCreate(t *testing.T) {
	dir := isolate(t)
	for _, name := range []string{"config.toml", "config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "new", name)

			cfg, created, err := LoadOrCreate(path)
			require.NoError(t, err)
			assert.True(t, created)
			assert.Equal(t, DefaultConfig(), cfg)

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			again, created, err := LoadOrCreate(path)
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, cfg, again)
		})
	}
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte(" 250ms ")))
	assert.Equal(t, 250*time.Millisecond, d.Duration)

	b, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "250ms", string(b))

	assert.Error(t, d.UnmarshalText([]byte("later")))
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Injection.Order = []string{"clipboard"}
	clone := cfg.Clone()
	clone.Injection.Order[0] = "kernel-injection"
	assert.Equal(t, "clipboard", cfg.Injection.Order[0])
}
