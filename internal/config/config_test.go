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
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iris.yaml")

	original := NewDefaultConfig()
	original.Server.Listen = ":9000"
	original.Broker.Namespace = "imaging"

	if err := SaveConfig(original, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Server.Listen != ":9000" {
		t.Errorf("Expected listen :9000, got %s", loaded.Server.Listen)
	}
	if loaded.Broker.Namespace != "imaging" {
		t.Errorf("Expected namespace imaging, got %s", loaded.Broker.Namespace)
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iris.yaml")

	cfg, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.Server.Listen != ":7214" {
		t.Errorf("Expected default listen :7214, got %s", cfg.Server.Listen)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected default config file to be written: %v", err)
	}

	// Second call must read the file, not rewrite defaults.
	cfg.Server.Listen = ":9999"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	again, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if again.Server.Listen != ":9999" {
		t.Errorf("Expected persisted listen :9999, got %s", again.Server.Listen)
	}
}

func TestLoadConfigRejectsBadFile(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("Expected error for missing file")
		}
	})

	t.Run("InvalidYAML", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		os.WriteFile(path, []byte("server: [not: a mapping"), 0600)
		if _, err := LoadConfig(path); err == nil {
			t.Error("Expected error for invalid YAML")
		}
	})

	t.Run("InvalidDuration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		os.WriteFile(path, []byte("client:\n  timeout: soon\n"), 0600)
		if _, err := LoadConfig(path); err == nil {
			t.Error("Expected error for unparseable duration")
		}
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"NegativeFrameMB", func(c *Config) { c.Server.MaxFrameMB = -1 }},
		{"OversizeFrameMB", func(c *Config) { c.Server.MaxFrameMB = 4096 }},
		{"NegativePoolSize", func(c *Config) { c.Pool.Size = -2 }},
		{"NegativeBufferSize", func(c *Config) { c.Broker.BufferSize = -1 }},
		{"NegativeDuration", func(c *Config) { c.Client.Timeout = "-5s" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}

	if err := NewDefaultConfig().Validate(); err != nil {
		t.Errorf("Default config must validate: %v", err)
	}
}

func TestAccessors(t *testing.T) {
	cfg := NewDefaultConfig()

	if got := cfg.Server.RequestDeadline(); got != 30*time.Second {
		t.Errorf("Expected 30s request deadline, got %v", got)
	}
	if got := cfg.Server.MaxFrameSize(); got != 64<<20 {
		t.Errorf("Expected 64 MiB frame limit, got %d", got)
	}
	if got := cfg.Client.CallTimeout(); got != 30*time.Second {
		t.Errorf("Expected 30s call timeout, got %v", got)
	}
	min, max := cfg.Broker.Backoff()
	if min != 100*time.Millisecond || max != 30*time.Second {
		t.Errorf("Expected 100ms/30s backoff, got %v/%v", min, max)
	}

	// Empty strings disable the corresponding deadline.
	empty := &ServerConfig{}
	if got := empty.RequestDeadline(); got != 0 {
		t.Errorf("Expected zero deadline for empty string, got %v", got)
	}
}
