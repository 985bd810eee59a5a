// Package config loads Teleclerk configuration from a YAML file with
// environment variable overrides. Confidence thresholds are hot-readable:
// Reload() re-reads the file in place without restarting the process.
package config

import (
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from "5s"-style strings in
// both YAML and environment variables.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(raw))
}

// UnmarshalText implements encoding.TextUnmarshaler (used by env parsing).
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// TelegramConfig configures the platform connection and delivery mode.
type TelegramConfig struct {
	Token string `yaml:"token" env:"TELECLERK_TELEGRAM_TOKEN"`

	// WebhookURL, when set and valid, selects push delivery. Absent means
	// long polling.
	WebhookURL    string `yaml:"webhook_url" env:"TELECLERK_WEBHOOK_URL"`
	WebhookSecret string `yaml:"webhook_secret" env:"TELECLERK_WEBHOOK_SECRET"`

	// PollTimeoutSeconds is the long-poll wait passed to the platform.
	PollTimeoutSeconds int `yaml:"poll_timeout_seconds" env:"TELECLERK_POLL_TIMEOUT"`
}

// ProviderConfig selects and configures the LLM backend.
type ProviderConfig struct {
	// Type is "openai" or "anthropic".
	Type    string `yaml:"type" env:"TELECLERK_PROVIDER"`
	APIKey  string `yaml:"api_key" env:"TELECLERK_PROVIDER_API_KEY"`
	BaseURL string `yaml:"base_url" env:"TELECLERK_PROVIDER_BASE_URL"`
	Model   string `yaml:"model" env:"TELECLERK_PROVIDER_MODEL"`
}

// PipelineConfig tunes the intake pipeline.
type PipelineConfig struct {
	// RoutingThreshold gates which intent candidates reach extraction.
	RoutingThreshold float64 `yaml:"routing_threshold" env:"TELECLERK_ROUTING_THRESHOLD"`
	// ExtractionThreshold is the extraction-local confidence re-check,
	// tunable independently of routing.
	ExtractionThreshold float64 `yaml:"extraction_threshold" env:"TELECLERK_EXTRACTION_THRESHOLD"`

	ContextWindow   int      `yaml:"context_window" env:"TELECLERK_CONTEXT_WINDOW"`
	ClassifyTimeout Duration `yaml:"classify_timeout" env:"TELECLERK_CLASSIFY_TIMEOUT"`
	UpdateBudget    Duration `yaml:"update_budget" env:"TELECLERK_UPDATE_BUDGET"`
	DedupWindow     int      `yaml:"dedup_window" env:"TELECLERK_DEDUP_WINDOW"`
}

// StorageConfig configures the SQLite database.
type StorageConfig struct {
	Path string `yaml:"path" env:"TELECLERK_DB_PATH"`
}

// GatewayConfig configures the HTTP surface.
type GatewayConfig struct {
	Host   string `yaml:"host" env:"TELECLERK_HOST"`
	Port   int    `yaml:"port" env:"TELECLERK_PORT"`
	APIKey string `yaml:"api_key" env:"TELECLERK_API_KEY"`
}

// RemindersConfig configures the due-task reminder sweep.
type RemindersConfig struct {
	Enabled bool `yaml:"enabled" env:"TELECLERK_REMINDERS_ENABLED"`
	// Cron is a standard cron expression gating each sweep tick.
	Cron string `yaml:"cron" env:"TELECLERK_REMINDERS_CRON"`
}

// Config is the root configuration object.
type Config struct {
	LogLevel  string          `yaml:"log_level" env:"TELECLERK_LOG_LEVEL"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Provider  ProviderConfig  `yaml:"provider"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Storage   StorageConfig   `yaml:"storage"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Reminders RemindersConfig `yaml:"reminders"`

	// path the config was loaded from, for Reload.
	path string

	routingBits    atomic.Uint64
	extractionBits atomic.Uint64
}

// Defaults returns a Config populated with documented defaults.
func Defaults() *Config {
	cfg := &Config{
		LogLevel: "info",
		Telegram: TelegramConfig{PollTimeoutSeconds: 30},
		Provider: ProviderConfig{Type: "openai", Model: "gpt-4o-mini"},
		Pipeline: PipelineConfig{
			RoutingThreshold:    0.7,
			ExtractionThreshold: 0.7,
			ContextWindow:       6,
			ClassifyTimeout:     Duration(5 * time.Second),
			UpdateBudget:        Duration(45 * time.Second),
			DedupWindow:         1024,
		},
		Storage:   StorageConfig{Path: "teleclerk.db"},
		Gateway:   GatewayConfig{Host: "127.0.0.1", Port: 8787},
		Reminders: RemindersConfig{Enabled: true, Cron: "* * * * *"},
	}
	cfg.publishThresholds()
	return cfg
}

// Load reads the YAML file at path (if it exists), applies env overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	cfg.path = path

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing file is fine: env-only configuration.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.publishThresholds()
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Pipeline.RoutingThreshold < 0 || c.Pipeline.RoutingThreshold > 1 {
		return fmt.Errorf("routing_threshold %v out of [0,1]", c.Pipeline.RoutingThreshold)
	}
	if c.Pipeline.ExtractionThreshold < 0 || c.Pipeline.ExtractionThreshold > 1 {
		return fmt.Errorf("extraction_threshold %v out of [0,1]", c.Pipeline.ExtractionThreshold)
	}
	if c.Pipeline.ContextWindow <= 0 {
		return fmt.Errorf("context_window must be positive, got %d", c.Pipeline.ContextWindow)
	}
	if c.Pipeline.DedupWindow <= 0 {
		return fmt.Errorf("dedup_window must be positive, got %d", c.Pipeline.DedupWindow)
	}
	return nil
}

func (c *Config) publishThresholds() {
	c.routingBits.Store(math.Float64bits(c.Pipeline.RoutingThreshold))
	c.extractionBits.Store(math.Float64bits(c.Pipeline.ExtractionThreshold))
}

// RoutingThreshold returns the current routing confidence threshold.
// Safe for concurrent readers; updated by Reload.
func (c *Config) RoutingThreshold() float64 {
	return math.Float64frombits(c.routingBits.Load())
}

// ExtractionThreshold returns the current extraction-local threshold.
func (c *Config) ExtractionThreshold() float64 {
	return math.Float64frombits(c.extractionBits.Load())
}

// Reload re-reads threshold values from the config file in place. Other
// fields require a restart; thresholds alone are hot.
func (c *Config) Reload() error {
	if c.path == "" {
		return nil
	}
	fresh, err := Load(c.path)
	if err != nil {
		return err
	}
	c.routingBits.Store(math.Float64bits(fresh.Pipeline.RoutingThreshold))
	c.extractionBits.Store(math.Float64bits(fresh.Pipeline.ExtractionThreshold))
	return nil
}
