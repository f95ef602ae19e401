// Package config loads the kvrouter YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-yaml"

	"github.com/codewandler/kvrouter/core/cluster"
)

// EnvPath names the environment variable holding the config file path.
const EnvPath = "KVROUTER_CONFIG"

type Config struct {
	Name        string               `yaml:"name"`
	Driver      string               `yaml:"driver" validate:"required,oneof=memory redis nats"`
	Backoff     string               `yaml:"backoff" validate:"omitempty"`
	DialTimeout string               `yaml:"dial_timeout" validate:"omitempty"`
	Log         LogConfig            `yaml:"log"`
	Metrics     MetricsConfig        `yaml:"metrics"`
	Nats        NatsConfig           `yaml:"nats"`
	Regions     [][]cluster.Endpoint `yaml:"regions" validate:"required,min=1,dive,required,min=1"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

type NatsConfig struct {
	Bucket string `yaml:"bucket"`
}

// Default is a single local memory-backed region.
func Default() Config {
	return Config{
		Driver:      "memory",
		Backoff:     cluster.DefaultBackoff.String(),
		DialTimeout: "2s",
		Log:         LogConfig{Level: "info"},
		Regions:     [][]cluster.Endpoint{{{Host: "127.0.0.1", Port: 6379}}},
	}
}

// Load reads the config at path, or at $KVROUTER_CONFIG when path is empty.
// A missing file yields Default.
func Load(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Info("config file not found, using default config", slog.String("path", path))
			return Default(), nil
		}
		return Config{}, err
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	cfg.Regions = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := c.BackoffDuration(); err != nil {
		return err
	}
	if _, err := c.DialTimeoutDuration(); err != nil {
		return err
	}
	return c.Topology().Validate()
}

func (c Config) Topology() cluster.Topology {
	return cluster.Topology(c.Regions)
}

func (c Config) BackoffDuration() (time.Duration, error) {
	return parseDuration("backoff", c.Backoff)
}

func (c Config) DialTimeoutDuration() (time.Duration, error) {
	return parseDuration("dial_timeout", c.DialTimeout)
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s: negative duration %s", field, s)
	}
	return d, nil
}

// NewLogger builds a text or JSON logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Level))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.JSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
