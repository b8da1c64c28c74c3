// Package config provides configuration management for the rpma commands.
//
// Configuration is loaded from multiple sources with the following
// precedence:
//  1. Environment variables (RPMA_* prefix)
//  2. Configuration file (YAML)
//  3. Default values
//
// The package uses Viper for configuration binding.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the settings shared by the rpma commands.
type Config struct {
	// Addr is the local numeric IP address the device is resolved from and,
	// for the server, the listen address.
	Addr string `mapstructure:"addr"`

	// Service is the service identifier (port) used for listening and
	// dialing.
	Service string `mapstructure:"service"`

	// MetricsAddr is the HTTP listen address for the /metrics endpoint.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// LogLevel selects the zerolog level: debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	// RegionSize is the size in bytes of the memory region the server
	// exposes.
	RegionSize int `mapstructure:"region_size"`

	// Persistent marks the served region as persistent-memory placed.
	Persistent bool `mapstructure:"persistent"`

	Queue QueueConfig `mapstructure:"queue"`
}

// QueueConfig tunes per-connection queue depths.
type QueueConfig struct {
	SendDepth       int `mapstructure:"send_depth"`
	RecvDepth       int `mapstructure:"recv_depth"`
	CompletionDepth int `mapstructure:"completion_depth"`
}

// Load reads configuration from the optional file at path, applying
// defaults and RPMA_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("addr", "127.0.0.1")
	v.SetDefault("service", "7204")
	v.SetDefault("metrics_addr", ":9204")
	v.SetDefault("log_level", "info")
	v.SetDefault("region_size", 1<<20)
	v.SetDefault("persistent", true)
	v.SetDefault("queue.send_depth", 128)
	v.SetDefault("queue.recv_depth", 128)
	v.SetDefault("queue.completion_depth", 256)

	v.SetEnvPrefix("RPMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.RegionSize <= 0 {
		return nil, fmt.Errorf("region_size must be positive, got %d", cfg.RegionSize)
	}

	return &cfg, nil
}
