// Copyright 2025 Arion Yau
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the iris configuration file structure.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Pool    PoolConfig    `yaml:"pool"`
	Broker  BrokerConfig  `yaml:"broker"`
	Journal JournalConfig `yaml:"journal"`
	Status  StatusConfig  `yaml:"status"`
}

// ServerConfig holds processing-server settings.
type ServerConfig struct {
	Listen         string `yaml:"listen"`
	MaxFrameMB     int    `yaml:"max_frame_mb"`
	RequestTimeout string `yaml:"request_timeout"` // e.g. "30s", empty disables
	Compress       bool   `yaml:"compress"`
}

// ClientConfig holds processing-client settings.
type ClientConfig struct {
	Address       string `yaml:"address"`
	Timeout       string `yaml:"timeout"`
	AutoReconnect bool   `yaml:"auto_reconnect"`
	Compress      bool   `yaml:"compress"`
}

// PoolConfig holds process-pool settings.
type PoolConfig struct {
	Size int `yaml:"size"`
}

// BrokerConfig holds broker connection settings.
type BrokerConfig struct {
	URL          string `yaml:"url"`
	Namespace    string `yaml:"namespace"`
	ReconnectMin string `yaml:"reconnect_min"`
	ReconnectMax string `yaml:"reconnect_max"`
	BufferSize   int    `yaml:"buffer_size"`
}

// JournalConfig holds the optional request journal settings.
type JournalConfig struct {
	Path string `yaml:"path"` // empty disables the journal
}

// StatusConfig holds the optional HTTP status endpoint settings.
type StatusConfig struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
}

// NewDefaultConfig returns the defaults written on first run.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:         ":7214",
			MaxFrameMB:     64,
			RequestTimeout: "30s",
		},
		Client: ClientConfig{
			Address:       "127.0.0.1:7214",
			Timeout:       "30s",
			AutoReconnect: true,
		},
		Pool: PoolConfig{
			Size: 4,
		},
		Broker: BrokerConfig{
			URL:          "nats://127.0.0.1:4222",
			Namespace:    "iris",
			ReconnectMin: "100ms",
			ReconnectMax: "30s",
			BufferSize:   256,
		},
	}
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// SaveConfig writes configuration to a YAML file.
func SaveConfig(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// LoadOrCreate loads the config at path, writing the defaults first if
// no file exists yet.
func LoadOrCreate(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := NewDefaultConfig()
		if err := SaveConfig(config, path); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return config, nil
	}
	return LoadConfig(path)
}

// Validate checks field consistency, including duration strings.
func (c *Config) Validate() error {
	if c.Server.MaxFrameMB < 0 {
		return fmt.Errorf("server.max_frame_mb must not be negative")
	}
	// The byte count must fit in the frame prefix's 32 bits.
	if c.Server.MaxFrameMB >= 4096 {
		return fmt.Errorf("server.max_frame_mb must be below 4096")
	}
	if c.Pool.Size < 0 {
		return fmt.Errorf("pool.size must not be negative")
	}
	if c.Broker.BufferSize < 0 {
		return fmt.Errorf("broker.buffer_size must not be negative")
	}
	for name, value := range map[string]string{
		"server.request_timeout": c.Server.RequestTimeout,
		"client.timeout":         c.Client.Timeout,
		"broker.reconnect_min":   c.Broker.ReconnectMin,
		"broker.reconnect_max":   c.Broker.ReconnectMax,
	} {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// RequestDeadline returns the parsed server request deadline.
func (c *ServerConfig) RequestDeadline() time.Duration {
	d, _ := parseDuration(c.RequestTimeout)
	return d
}

// MaxFrameSize returns the frame limit in bytes, zero for the default.
func (c *ServerConfig) MaxFrameSize() uint32 {
	return uint32(c.MaxFrameMB) << 20
}

// CallTimeout returns the parsed client call timeout.
func (c *ClientConfig) CallTimeout() time.Duration {
	d, _ := parseDuration(c.Timeout)
	return d
}

// Backoff returns the parsed reconnect bounds.
func (c *BrokerConfig) Backoff() (min, max time.Duration) {
	min, _ = parseDuration(c.ReconnectMin)
	max, _ = parseDuration(c.ReconnectMax)
	return min, max
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must not be negative", s)
	}
	return d, nil
}
