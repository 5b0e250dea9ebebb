// Package config loads filevault settings from defaults, an optional YAML
// file and FILEVAULT_* environment variables, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/illarion/filevault/internal/registry"
)

const (
	EnvPrefix      = "FILEVAULT"
	ConfigFileName = "config.yaml"
	DefaultHomeDir = ".filevault"
)

// Config holds all application configuration.
type Config struct {
	Home    string        `mapstructure:"home"`
	Log     LogConfig     `mapstructure:"log"`
	Extract ExtractConfig `mapstructure:"extract"`
	Lock    LockConfig    `mapstructure:"lock"`
	Keyring KeyringConfig `mapstructure:"keyring"`
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
	File   string `mapstructure:"file"`   // Log file path (empty = stderr)
}

// ExtractConfig for extraction defaults.
type ExtractConfig struct {
	Workers  int    `mapstructure:"workers"`
	Conflict string `mapstructure:"conflict"` // overwrite, skip, keep-both
}

// LockConfig for per-vault locking.
type LockConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// KeyringConfig controls the OS keyring password cache.
type KeyringConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	home := DefaultHomeDir
	if userHome, err := os.UserHomeDir(); err == nil {
		home = filepath.Join(userHome, DefaultHomeDir)
	}

	return &Config{
		Home: home,
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
		Extract: ExtractConfig{
			Workers:  runtime.NumCPU(),
			Conflict: "overwrite",
		},
		Lock: LockConfig{
			Timeout: 10 * time.Second,
		},
		Keyring: KeyringConfig{
			Enabled: true,
		},
	}
}

// Load reads configuration. A non-empty home overrides every other source
// and is where config.yaml is looked up. An explicit configPath must exist;
// otherwise config.yaml in the home directory is used when present.
func Load(configPath, home string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if home != "" {
		v.Set("home", home)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	} else {
		v.SetConfigFile(filepath.Join(v.GetString("home"), ConfigFileName))
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	cfg.Extract.Conflict = strings.ToLower(cfg.Extract.Conflict)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("home", cfg.Home)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("extract.workers", cfg.Extract.Workers)
	v.SetDefault("extract.conflict", cfg.Extract.Conflict)
	v.SetDefault("lock.timeout", cfg.Lock.Timeout)
	v.SetDefault("keyring.enabled", cfg.Keyring.Enabled)
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Home == "" {
		return errors.New("home is required")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	if c.Extract.Workers <= 0 {
		return errors.New("extract.workers must be positive")
	}

	validConflicts := map[string]bool{"overwrite": true, "skip": true, "keep-both": true}
	if !validConflicts[c.Extract.Conflict] {
		return fmt.Errorf("invalid extract conflict strategy: %s", c.Extract.Conflict)
	}

	if c.Lock.Timeout <= 0 {
		return errors.New("lock.timeout must be positive")
	}

	return nil
}

// RegistryPath returns the location of the vault registry database
func (c *Config) RegistryPath() string {
	return filepath.Join(c.Home, registry.DefaultFile)
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Home}
	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
