// Package config handles TOML-based configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration.
type Config struct {
	Engine     string  `toml:"engine"`
	MPVPath    string  `toml:"mpv_path"`
	VideoOut   string  `toml:"video_out"`
	AudioOnly  bool    `toml:"audio_only"`
	Autoplay   bool    `toml:"autoplay"`
	SeekStep   float64 `toml:"seek_step"`
	VolumeStep float64 `toml:"volume_step"`
	RateStep   float64 `toml:"rate_step"`
	History    bool    `toml:"history"`
	LogFile    string  `toml:"log_file"`
	Debug      bool    `toml:"debug"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Engine:     "mpv",
		MPVPath:    "mpv",
		Autoplay:   true,
		SeekStep:   10,
		VolumeStep: 0.1,
		RateStep:   0.25,
		History:    true,
		Debug:      false,
	}
}

// configDir returns the XDG-compliant config directory.
func configDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dashplay"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, ".config", "dashplay"), nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the config file and merges with defaults.
// If the config file doesn't exist, defaults are returned.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks config values are within acceptable bounds.
func (c *Config) Validate() error {
	validEngines := map[string]bool{
		"mpv": true, "virtual": true,
	}
	if !validEngines[strings.ToLower(c.Engine)] {
		return fmt.Errorf("unsupported engine %q (valid: mpv, virtual)", c.Engine)
	}

	if strings.EqualFold(c.Engine, "mpv") && c.MPVPath == "" {
		return fmt.Errorf("mpv_path cannot be empty")
	}

	if c.SeekStep <= 0 || c.SeekStep > 600 {
		return fmt.Errorf("seek_step %v out of range (0, 600]", c.SeekStep)
	}

	if c.VolumeStep <= 0 || c.VolumeStep > 1 {
		return fmt.Errorf("volume_step %v out of range (0, 1]", c.VolumeStep)
	}

	if c.RateStep <= 0 || c.RateStep > 4 {
		return fmt.Errorf("rate_step %v out of range (0, 4]", c.RateStep)
	}

	return nil
}

// dataDir returns the XDG data directory for dashplay.
func dataDir() (string, error) {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "dashplay"), nil
}

// HistoryPath returns the path to the resume history database.
func HistoryPath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// LogPath returns the log file used while the terminal UI owns the screen.
// An explicit log_file wins over the XDG state location.
func (c *Config) LogPath() (string, error) {
	if c.LogFile != "" {
		return expandHome(c.LogFile)
	}
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "dashplay", "dashplay.log"), nil
}

// expandHome resolves a leading ~ in a path.
func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expanding home dir: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Abs(path)
}
