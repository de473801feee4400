package config

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Expected sqlite default, got %s", cfg.Storage.Backend)
	}
	if cfg.Engine.LinkThreshold != 0.3 {
		t.Errorf("Expected link threshold 0.3, got %f", cfg.Engine.LinkThreshold)
	}
	if cfg.Engine.EvolveMinInterval != time.Second {
		t.Errorf("Expected 1s evolve interval, got %v", cfg.Engine.EvolveMinInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"BadBackend", func(c *Config) { c.Storage.Backend = "oracle" }},
		{"EmptyDir", func(c *Config) { c.Storage.Dir = "" }},
		{"LinkThresholdOutOfRange", func(c *Config) { c.Engine.LinkThreshold = 1.5 }},
		{"ZeroMaxMemories", func(c *Config) { c.Engine.MaxMemories = 0 }},
		{"InvertedThresholds", func(c *Config) {
			c.Engine.DeleteThreshold = 0.5
			c.Engine.ArchiveThreshold = 0.1
		}},
		{"BadLogLevel", func(c *Config) { c.Logging.Level = "verbose" }},
		{"BadLogFormat", func(c *Config) { c.Logging.Format = "xml" }},
		{"OllamaWithoutURL", func(c *Config) { c.Ollama.BaseURL = "" }},
		{"BadPort", func(c *Config) {
			c.RestAPI.Enabled = true
			c.RestAPI.Port = 99999
		}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := DefaultConfig()
			c.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestDataDirOverride(t *testing.T) {
	t.Setenv("ENGRAM_DATA_DIR", "/tmp/engram-test")
	if got := DataDir(); got != "/tmp/engram-test" {
		t.Errorf("Expected env override, got %s", got)
	}
}
