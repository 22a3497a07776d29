package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "DICTD_"

// Loader reads a configuration file, an optional dotenv file and the
// environment, in that order.
type Loader struct {
	path    string
	envFile string
}

// NewLoader creates a loader for path. An empty path means $DICTD_CONFIG,
// then the first config.<ext> in the config directory, then ConfigPath().
func NewLoader(path string) *Loader {
	return &Loader{path: path, envFile: EnvFilePath()}
}

// WithEnvFile replaces the dotenv file. An empty name disables it.
func (l *Loader) WithEnvFile(name string) *Loader {
	l.envFile = name
	return l
}

// Path returns the file the loader reads.
func (l *Loader) Path() string {
	return resolvePath(l.path)
}

func resolvePath(path string) string {
	if path != "" {
		return path
	}
	if v := os.Getenv(EnvPrefix + "CONFIG"); v != "" {
		return v
	}
	if found := FindConfigFile(); found != "" {
		return found
	}
	return ConfigPath()
}

// Load reads, overrides and validates the configuration. A missing file
// yields the defaults.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read env file %s: %w", l.envFile, err)
		}
	}

	cfg, err := loadConfigFromFile(l.Path())
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.expandPaths()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// Load reads configuration from path with the default env file.
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// loadConfigFromFile reads and parses a config file based on its extension.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	format := formatOf(path)
	if format == "" {
		format = detectFormat(data)
		if format == "" {
			return nil, fmt.Errorf("parse config %s: unable to parse config file (tried TOML, JSON, YAML)", path)
		}
	}

	doc, err := decodeDocument(format, data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validateSchema(doc); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := decodeInto(format, data, cfg); err != nil {
		return nil, fmt.Errorf("decode %s config %s: %w", strings.ToUpper(format), path, err)
	}
	return cfg, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	}
	return ""
}

// detectFormat tries TOML first, then JSON, then YAML.
func detectFormat(data []byte) string {
	for _, f := range []string{"toml", "json", "yaml"} {
		var m map[string]any
		if decodeInto(f, data, &m) == nil && m != nil {
			return f
		}
	}
	return ""
}

func decodeInto(format string, data []byte, v any) error {
	switch format {
	case "toml":
		_, err := toml.Decode(string(data), v)
		return err
	case "json":
		return json.Unmarshal(data, v)
	case "yaml":
		return yaml.Unmarshal(data, v)
	}
	return fmt.Errorf("unsupported config format %q", format)
}

// decodeDocument parses data into plain JSON values for schema validation.
func decodeDocument(format string, data []byte) (any, error) {
	var raw map[string]any
	if err := decodeInto(format, data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(buf))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// ApplyEnvOverrides applies DICTD_* environment variables.
func (c *Config) ApplyEnvOverrides() error {
	var errs ValidationErrors

	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, ValidationError{Field: EnvPrefix + name, Message: "must be true or false"})
			return
		}
		*dst = b
	}

	str("HOTKEY", &c.Hotkey)
	str("MODEL", &c.Model)
	str("LANGUAGE", &c.Language)
	str("INPUT_METHOD", &c.InputMethod)
	boolean("SOUND_FEEDBACK", &c.SoundFeedback)
	boolean("CONTINUOUS_MODE", &c.ContinuousMode)

	str("AUDIO_BACKEND", &c.Audio.Backend)
	str("AUDIO_DEVICE", &c.Audio.InputDevice)

	str("TRANSCRIPTION_BACKEND", &c.Transcription.Backend)
	str("TRANSCRIPTION_URL", &c.Transcription.URL)
	str("API_KEY", &c.Transcription.APIKey)
	str("MODEL_DIR", &c.Transcription.ModelDir)
	str("MODEL_PATH", &c.Transcription.ModelPath)

	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	str("LOG_PATH", &c.Logging.FilePath)

	str("JOURNAL_PATH", &c.Journal.Path)
	str("SOCKET_PATH", &c.IPC.SocketPath)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// LoadOrCreate loads the configuration from path, writing the defaults
// there first if the file does not exist. The bool reports creation.
func LoadOrCreate(path string) (*Config, bool, error) {
	path = resolvePath(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := SaveConfig(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		return cfg, true, nil
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}

// SaveConfig writes cfg to path in the format its extension names.
func SaveConfig(cfg *Config, path string) error {
	var buf bytes.Buffer
	switch formatOf(path) {
	case "json":
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode JSON: %w", err)
		}
	case "yaml":
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
		enc.Close()
	default:
		buf.WriteString("# dictd configuration\n\n")
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encode TOML: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
