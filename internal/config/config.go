// Package config implements C11 — the immutable run configuration, layered
// flags > environment > .env file > documented defaults, using
// github.com/joho/godotenv to load the .env file and
// github.com/kelseyhightower/envconfig to bind the TELEAUDIO_-prefixed
// environment into a typed struct, the same pairing the retrieved pack's
// service repos use for twelve-factor configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/teleaudio/teleaudio/internal/core"
)

// Config is the immutable value passed to Coordinator construction. Every
// field here mirrors one of the recognized run options.
type Config struct {
	AppID       int    `envconfig:"APP_ID"`
	AppHash     string `envconfig:"APP_HASH"`
	SessionPath string `envconfig:"SESSION_PATH" default:"session.json"`

	MaxWorkers           int           `envconfig:"MAX_WORKERS" default:"3"`
	RateCapacity          int           `envconfig:"RATE_CAPACITY" default:"10"`
	RateRefillPerSecond   float64       `envconfig:"RATE_REFILL_PER_SECOND" default:"1.0"`
	ChunkSizeBytes        int64         `envconfig:"CHUNK_SIZE_BYTES" default:"1048576"`
	ChunkTimeoutSeconds   int           `envconfig:"CHUNK_TIMEOUT_SECONDS" default:"30"`
	MaxAttempts           int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	RetryBaseDelaySeconds float64       `envconfig:"RETRY_BASE_DELAY_SECONDS" default:"1.0"`
	RetryMaxDelaySeconds  float64       `envconfig:"RETRY_MAX_DELAY_SECONDS" default:"60"`
	GlobalLimit           int64         `envconfig:"GLOBAL_LIMIT" default:"0"`
	DownloadDir           string        `envconfig:"DOWNLOAD_DIR" default:"./downloads"`
	ForceReemitFailed     bool          `envconfig:"FORCE_REEMIT_FAILED" default:"false"`
	Direction             string        `envconfig:"DIRECTION" default:"NewestFirst"`
	CancelGraceSeconds    int           `envconfig:"CANCEL_GRACE_SECONDS" default:"10"`

	DatabasePath string `envconfig:"DATABASE_PATH" default:"teleaudio.db"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFilePath  string `envconfig:"LOG_FILE_PATH"`
}

// envPrefix matches the TELEAUDIO_ prefix used for every
// environment-sourced option.
const envPrefix = "teleaudio"

// Load reads .env (if present, via godotenv — missing is not an error),
// then binds the TELEAUDIO_-prefixed environment into defaults via
// envconfig. Flags are applied afterward by the CLI layer, which has the
// highest priority in the documented order.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the accepted bounds for each tunable (e.g. max_workers
// must be 1-10). It returns an error classified as a config error by the
// CLI layer (exit code 2).
func (c Config) Validate() error {
	if c.MaxWorkers < 1 || c.MaxWorkers > 10 {
		return fmt.Errorf("config: max_workers must be 1-10, got %d", c.MaxWorkers)
	}
	if c.RateCapacity < 1 {
		return fmt.Errorf("config: rate_capacity must be >=1, got %d", c.RateCapacity)
	}
	if c.RateRefillPerSecond <= 0 {
		return fmt.Errorf("config: rate_refill_per_second must be >0, got %f", c.RateRefillPerSecond)
	}
	if c.ChunkSizeBytes < 64*1024 {
		return fmt.Errorf("config: chunk_size_bytes must be >=64KiB, got %d", c.ChunkSizeBytes)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("config: max_attempts must be >=1, got %d", c.MaxAttempts)
	}
	if c.Direction != string(core.DirectionNewestFirst) && c.Direction != string(core.DirectionOldestFirst) {
		return fmt.Errorf("config: direction must be NewestFirst or OldestFirst, got %q", c.Direction)
	}
	return nil
}

// DirectionValue parses Direction into the core.Direction enum.
func (c Config) DirectionValue() core.Direction { return core.Direction(c.Direction) }

func (c Config) ChunkTimeout() time.Duration {
	return time.Duration(c.ChunkTimeoutSeconds) * time.Second
}

func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelaySeconds * float64(time.Second))
}

func (c Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelaySeconds * float64(time.Second))
}

func (c Config) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceSeconds) * time.Second
}
