package config

import (
	"os"
	"path/filepath"
	"strconv"
)

const appName = "dictd"

// ConfigDir returns $XDG_CONFIG_HOME/dictd, or ~/.config/dictd.
func ConfigDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// StateDir returns $XDG_STATE_HOME/dictd, or ~/.local/state/dictd. Logs
// and the journal live here.
func StateDir() string {
	return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

// DataDir returns $XDG_DATA_HOME/dictd, or ~/.local/share/dictd.
func DataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// RuntimeDir returns $XDG_RUNTIME_DIR/dictd, falling back to
// /tmp/dictd-$UID when no runtime directory is set.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(os.TempDir(), appName+"-"+strconv.Itoa(os.Getuid()))
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, fallback, appName)
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// EnvFilePath is the optional dotenv file read before environment overrides.
func EnvFilePath() string {
	return filepath.Join(ConfigDir(), "env")
}

func DefaultModelDir() string    { return filepath.Join(DataDir(), "models") }
func DefaultLogPath() string     { return filepath.Join(StateDir(), "dictd.log") }
func DefaultJournalPath() string { return filepath.Join(StateDir(), "journal.db") }
func DefaultSocketPath() string  { return filepath.Join(RuntimeDir(), "dictd.sock") }
func DefaultPIDPath() string     { return filepath.Join(RuntimeDir(), "dictd.pid") }

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches the config directory for config.<ext>. Returns
// the empty string if none is found.
func FindConfigFile() string {
	dir := ConfigDir()
	for _, ext := range SupportedConfigFormats() {
		path := filepath.Join(dir, "config."+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
