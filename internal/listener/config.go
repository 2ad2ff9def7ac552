// Package listener implements the device-side consumer of the core reverb
// client: it subscribes to a device's presence channel, runs capture
// scripts in response to client-capture events, and reports results back
// to the controlling application over HTTP. It is a thin, replaceable
// example of the kind of external collaborator the core is designed for —
// spec.md's Non-goals explicitly exclude this surface from the core
// package itself.
package listener

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFileName is the config filename the CLI defaults to when
// --config is not given.
const DefaultConfigFileName = "reverb-device.yaml"

// Config holds the device listener's settings, loaded from a YAML file the
// same way the teacher's internal/config package loads .chief/config.yaml,
// with environment variables overriding individual fields for deployment
// flexibility (container orchestration, systemd units).
type Config struct {
	AppKey    string `yaml:"app_key"`
	AppSecret string `yaml:"app_secret"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port,omitempty"`
	Scheme    string `yaml:"scheme,omitempty"`

	DeviceID string `yaml:"device_id"`

	ScriptsDir     string        `yaml:"scripts_dir,omitempty"`
	CallbackURL    string        `yaml:"callback_url"`
	CaptureTimeout time.Duration `yaml:"capture_timeout,omitempty"`

	CallbackBatchSize     int           `yaml:"callback_batch_size,omitempty"`
	CallbackFlushInterval time.Duration `yaml:"callback_flush_interval,omitempty"`
}

// Default returns a Config with zero-value fields; callers should layer
// Load and ApplyEnv on top before calling withDefaults.
func Default() *Config {
	return &Config{}
}

// Load reads the config from path, returning Default() when the file does
// not exist, matching the teacher's config.Load tolerance for a missing
// project config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides individual fields from environment variables, letting
// secrets stay out of the checked-in YAML file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("REVERB_APP_KEY"); v != "" {
		c.AppKey = v
	}
	if v := os.Getenv("REVERB_APP_SECRET"); v != "" {
		c.AppSecret = v
	}
	if v := os.Getenv("REVERB_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("REVERB_DEVICE_ID"); v != "" {
		c.DeviceID = v
	}
	if v := os.Getenv("REVERB_CALLBACK_URL"); v != "" {
		c.CallbackURL = v
	}
}

// withDefaults fills in the listener's own defaults (distinct from the
// core reverb.Config's — a capture timeout and callback batching policy
// have no equivalent in the protocol client).
func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.ScriptsDir == "" {
		cfg.ScriptsDir = "./scripts"
	}
	if cfg.CaptureTimeout == 0 {
		cfg.CaptureTimeout = 30 * time.Second
	}
	if cfg.CallbackBatchSize == 0 {
		cfg.CallbackBatchSize = 10
	}
	if cfg.CallbackFlushInterval == 0 {
		cfg.CallbackFlushInterval = 5 * time.Second
	}
	return &cfg
}

// DeviceChannel is the presence channel this device subscribes to, keyed
// by its device_id so each device gets its own roster and command stream.
func (c *Config) DeviceChannel() string {
	return "presence-device." + c.DeviceID
}
