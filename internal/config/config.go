// Package config holds all configuration types and loading logic for the
// contactrelay agent. Config structure never shrinks — fields are only
// added, never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a contactrelay agent instance.
type Config struct {
	Agent        AgentConfig        `yaml:"agent"`
	Endpoint     EndpointConfig     `yaml:"endpoint"`
	Outbox       OutboxConfig       `yaml:"outbox"`
	Flush        FlushConfig        `yaml:"flush"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Activity     ActivityConfig     `yaml:"activity"`
	Auth         AuthConfig         `yaml:"auth"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

// AgentConfig holds identity and network settings for this agent.
type AgentConfig struct {
	// ID is a ULID string. Use "auto" to generate and persist one on first start.
	ID      string `yaml:"id"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// EndpointConfig describes the remote integration endpoint.
// An empty URL is a valid state: submissions accumulate in the outbox until
// an endpoint is configured.
type EndpointConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// Storage backends for the outbox.
const (
	StorageBolt   = "bolt"   // durable, default
	StorageMemory = "memory" // ephemeral, dev/test only
)

// OutboxConfig controls the durable delivery queue.
type OutboxConfig struct {
	// MaxTries is how many failed delivery attempts an item survives
	// before it is abandoned.
	MaxTries int `yaml:"max_tries"`

	// Storage selects the store backend: "bolt" or "memory".
	Storage string `yaml:"storage"`
}

// FlushConfig controls when flush passes are triggered automatically.
// A manual POST /flush works regardless of these settings.
type FlushConfig struct {
	// OnStart triggers a flush when the agent starts.
	OnStart bool `yaml:"on_start"`

	// OnOnline triggers a flush on every offline→online transition.
	OnOnline bool `yaml:"on_online"`

	// Interval triggers a periodic flush ("5m", "1h"). Empty or "0"
	// disables the timer.
	Interval string `yaml:"interval"`
}

// IntervalDuration parses Interval. Zero means disabled.
func (f FlushConfig) IntervalDuration() (time.Duration, error) {
	if f.Interval == "" || f.Interval == "0" {
		return 0, nil
	}
	return time.ParseDuration(f.Interval)
}

// ConnectivityConfig controls the network probe.
type ConnectivityConfig struct {
	// ProbeAddr is the TCP address dialed to decide whether the network is
	// up. Point it at the integration endpoint's host when outbound 53/tcp
	// is filtered.
	ProbeAddr       string `yaml:"probe_addr"`
	ProbeIntervalMs int    `yaml:"probe_interval_ms"`
	ProbeTimeoutMs  int    `yaml:"probe_timeout_ms"`
}

// ActivityConfig controls the in-memory outcome event log.
type ActivityConfig struct {
	// History is how many recent events are retained.
	History int `yaml:"history"`
}

// AuthConfig controls API key authentication on the agent API.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			ID:      "auto",
			Host:    "127.0.0.1",
			Port:    8384,
			DataDir: "./data",
		},
		Endpoint: EndpointConfig{
			URL:       "",
			TimeoutMs: 10_000,
		},
		Outbox: OutboxConfig{
			MaxTries: 5,
			Storage:  StorageBolt,
		},
		Flush: FlushConfig{
			OnStart:  true,
			OnOnline: true,
			Interval: "0",
		},
		Connectivity: ConnectivityConfig{
			ProbeAddr:       "1.1.1.1:53",
			ProbeIntervalMs: 15_000,
			ProbeTimeoutMs:  3_000,
		},
		Activity: ActivityConfig{
			History: 256,
		},
		Auth: AuthConfig{
			Enabled: false,
			APIKey:  "",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9384,
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error,
// making it easy to run the agent with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	RELAY_ENDPOINT_URL — sets endpoint.url
//	RELAY_API_KEY      — sets auth.api_key and enables auth (auth.enabled = true)
//	RELAY_DATA_DIR     — sets agent.data_dir
//	RELAY_PORT         — sets agent.port
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RELAY_ENDPOINT_URL"); v != "" {
		cfg.Endpoint.URL = v
	}
	if v := os.Getenv("RELAY_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
		cfg.Auth.Enabled = true
	}
	if v := os.Getenv("RELAY_DATA_DIR"); v != "" {
		cfg.Agent.DataDir = v
	}
	if v := os.Getenv("RELAY_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			cfg.Agent.Port = p
		}
	}
}

// Validate checks that the config values are consistent and within
// acceptable ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Agent.Port < 1 || c.Agent.Port > 65535 {
		return errors.New("agent.port must be between 1 and 65535")
	}
	if c.Agent.DataDir == "" {
		return errors.New("agent.data_dir must not be empty")
	}
	if c.Endpoint.TimeoutMs < 1 {
		return errors.New("endpoint.timeout_ms must be at least 1")
	}
	if c.Outbox.MaxTries < 1 {
		return errors.New("outbox.max_tries must be at least 1")
	}
	switch c.Outbox.Storage {
	case StorageBolt, StorageMemory:
		// valid
	default:
		return errors.New(`outbox.storage must be one of "bolt", "memory"`)
	}
	if _, err := c.Flush.IntervalDuration(); err != nil {
		return fmt.Errorf("flush.interval: %w", err)
	}
	if c.Connectivity.ProbeAddr == "" {
		return errors.New("connectivity.probe_addr must not be empty")
	}
	if c.Connectivity.ProbeIntervalMs < 1 {
		return errors.New("connectivity.probe_interval_ms must be at least 1")
	}
	if c.Connectivity.ProbeTimeoutMs < 1 {
		return errors.New("connectivity.probe_timeout_ms must be at least 1")
	}
	if c.Activity.History < 1 {
		return errors.New("activity.history must be at least 1")
	}
	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	return nil
}
