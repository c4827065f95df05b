// Package config loads the optional attractor.yaml file discovered next
// to a graph file (or passed via --config), following the teacher's
// strict-decode-then-default-then-validate pattern.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RetryConfig mirrors the engine's backoff knobs (internal/engine.BackoffConfig).
type RetryConfig struct {
	InitialDelayMS int     `yaml:"initial_delay_ms,omitempty"`
	BackoffFactor  float64 `yaml:"backoff_factor,omitempty"`
	MaxDelayMS     int     `yaml:"max_delay_ms,omitempty"`
	Jitter         *bool   `yaml:"jitter,omitempty"`
}

// LLMConfig picks a default provider/model pair applied to nodes that
// leave llm_provider/llm_model unset after the stylesheet cascade.
type LLMConfig struct {
	Provider string `yaml:"provider,omitempty"`
	Model    string `yaml:"model,omitempty"`
}

// ServerConfig configures the optional HTTP facade.
type ServerConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Config is the top-level attractor.yaml document, per spec §6.2.
type Config struct {
	LogsRoot        string       `yaml:"logs_root,omitempty"`
	DefaultMaxRetry int          `yaml:"default_max_retry,omitempty"`
	Retry           RetryConfig  `yaml:"retry,omitempty"`
	LLM             LLMConfig    `yaml:"llm,omitempty"`
	Server          ServerConfig `yaml:"server,omitempty"`
}

// defaults mirror the engine's own built-in defaults so a missing or
// partial attractor.yaml behaves identically to no config at all.
func defaults() Config {
	jitter := true
	return Config{
		LogsRoot:        "./logs",
		DefaultMaxRetry: 50,
		Retry: RetryConfig{
			InitialDelayMS: 200,
			BackoffFactor:  2.0,
			MaxDelayMS:     60000,
			Jitter:         &jitter,
		},
		LLM: LLMConfig{Provider: "anthropic"},
		Server: ServerConfig{Addr: ":8080"},
	}
}

// Load reads and strictly decodes the YAML file at path, filling any
// field the file leaves unset with the built-in default.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := defaults()
	if err := decodeStrict(b, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if cfg.Retry.Jitter == nil {
		j := true
		cfg.Retry.Jitter = &j
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Discover looks for attractor.yaml next to graphPath, returning nil (no
// error) if it doesn't exist — a missing config file just means defaults.
func Discover(graphPath string) (*Config, error) {
	candidate := filepath.Join(filepath.Dir(graphPath), "attractor.yaml")
	if _, err := os.Stat(candidate); err != nil {
		if os.IsNotExist(err) {
			d := defaults()
			return &d, nil
		}
		return nil, err
	}
	return Load(candidate)
}

func decodeStrict(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("multiple YAML documents are not allowed")
		}
		return err
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.DefaultMaxRetry < 0 {
		return fmt.Errorf("default_max_retry must be >= 0")
	}
	if cfg.Retry.InitialDelayMS < 0 || cfg.Retry.MaxDelayMS < 0 {
		return fmt.Errorf("retry delays must be >= 0")
	}
	if cfg.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be >= 1")
	}
	switch cfg.LLM.Provider {
	case "", "anthropic", "openai":
	default:
		return fmt.Errorf("llm.provider must be anthropic or openai, got %q", cfg.LLM.Provider)
	}
	return nil
}
