package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment override, e.g. GRAM_LOG_LEVEL.
const EnvPrefix = "GRAM"

// Config represents the global ~/.gram/config.toml.
type Config struct {
	DefaultSession     string   `toml:"default_session" envconfig:"DEFAULT_SESSION" validate:"omitempty,max=64"`
	LogLevel           string   `toml:"log_level" envconfig:"LOG_LEVEL" validate:"oneof=debug info warn error"`
	FeedBuffer         int      `toml:"feed_buffer" envconfig:"FEED_BUFFER" validate:"gte=1"`
	FetchLimit         int      `toml:"fetch_limit" envconfig:"FETCH_LIMIT" validate:"gte=1,lte=1000"`
	BatchTimeout       Duration `toml:"batch_timeout" envconfig:"BATCH_TIMEOUT" validate:"gte=0"`
	PreviewLength      int      `toml:"preview_length" envconfig:"PREVIEW_LENGTH" validate:"gte=1"`
	ResubscribeBackoff Duration `toml:"resubscribe_backoff" envconfig:"RESUBSCRIBE_BACKOFF" validate:"gt=0"`
}

// Duration is a time.Duration written as "5s" in TOML and the environment.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:           "info",
		FeedBuffer:         256,
		FetchLimit:         100,
		BatchTimeout:       Duration(5 * time.Second),
		PreviewLength:      50,
		ResubscribeBackoff: Duration(500 * time.Millisecond),
	}
}

// Load reads config from the given path on top of the defaults. Returns
// error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve builds the effective config: defaults, then the file at path if it
// exists, then GRAM_* environment overrides. The result is validated.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
