// Package config loads the collector's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration, following the nested-struct
// yaml-tag convention of the teacher's cmd/telemetry-agent config.
type Config struct {
	SFlow struct {
		ListenPort int `yaml:"listen_port"`
		BufferSize int `yaml:"buffer_size"`
	} `yaml:"sflow"`

	Flow struct {
		SamplingRate     int `yaml:"sampling_rate"`
		TickIntervalSecs int `yaml:"tick_interval_seconds"`
	} `yaml:"flow"`

	Topology struct {
		ControllerURLs struct {
			Switches string `yaml:"switches"`
			Hosts    string `yaml:"hosts"`
			Links    string `yaml:"links"`
		} `yaml:"controller_urls"`
		PollIntervalSecs int `yaml:"poll_interval_seconds"`
		HTTPTimeoutSecs  int `yaml:"http_timeout_seconds"`
	} `yaml:"topology"`
}

// TickInterval returns the configured flow aggregation period as a
// time.Duration.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Flow.TickIntervalSecs) * time.Second
}

// PollInterval returns the configured topology poll period as a
// time.Duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Topology.PollIntervalSecs) * time.Second
}

// HTTPTimeout returns the configured controller HTTP timeout as a
// time.Duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Topology.HTTPTimeoutSecs) * time.Second
}

// Load reads and parses the YAML file at path, then fills in documented
// defaults for any zero-valued field — the same load-then-default shape
// as the teacher's loadConfig.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.SFlow.ListenPort == 0 {
		cfg.SFlow.ListenPort = 6343
	}
	if cfg.SFlow.BufferSize == 0 {
		cfg.SFlow.BufferSize = 65535
	}
	if cfg.Flow.SamplingRate == 0 {
		cfg.Flow.SamplingRate = 256
	}
	if cfg.Flow.TickIntervalSecs == 0 {
		cfg.Flow.TickIntervalSecs = 1
	}
	if cfg.Topology.PollIntervalSecs == 0 {
		cfg.Topology.PollIntervalSecs = 1
	}
	if cfg.Topology.HTTPTimeoutSecs == 0 {
		cfg.Topology.HTTPTimeoutSecs = 5
	}
}
