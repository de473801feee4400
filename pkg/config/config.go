// Package config loads the engram configuration from YAML with viper,
// falling back to defaults when no file is present.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete application configuration.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Logging LoggingConfig `mapstructure:"logging"`
	Ollama  OllamaConfig  `mapstructure:"ollama"`
	Qdrant  QdrantConfig  `mapstructure:"qdrant"`
	RestAPI RestAPIConfig `mapstructure:"rest_api"`
	Journal JournalConfig `mapstructure:"journal"`
}

// StorageConfig selects and locates the storage backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // sqlite or json
	Dir     string `mapstructure:"dir"`
}

// EngineConfig holds the memory graph tuning knobs.
type EngineConfig struct {
	LinkThreshold     float64 `mapstructure:"link_threshold"`
	MaxLinksPerMemory int     `mapstructure:"max_links_per_memory"`
	MaxMemories       int     `mapstructure:"max_memories"`

	HalfLifeDays     float64 `mapstructure:"half_life_days"`
	ArchiveThreshold float64 `mapstructure:"archive_threshold"`
	DeleteThreshold  float64 `mapstructure:"delete_threshold"`

	DedupThreshold       float64 `mapstructure:"dedup_threshold"`
	CompressAgeDays      float64 `mapstructure:"compress_age_days"`
	PruneAgeDays         float64 `mapstructure:"prune_age_days"`
	QuarantineMaxAgeDays float64 `mapstructure:"quarantine_max_age_days"`
	PruneQuarantined     bool    `mapstructure:"prune_quarantined"`

	EvolveMinInterval time.Duration `mapstructure:"evolve_min_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console, json
}

// OllamaConfig holds the Ollama adapter configuration.
type OllamaConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BaseURL        string `mapstructure:"base_url"`
	EmbeddingModel string `mapstructure:"embedding_model"`
	ChatModel      string `mapstructure:"chat_model"`
}

// QdrantConfig holds the Qdrant vector search configuration.
type QdrantConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	Collection string `mapstructure:"collection"`
	Dimension  int    `mapstructure:"dimension"`
}

// RestAPIConfig holds the REST server configuration.
type RestAPIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	CORS    bool   `mapstructure:"cors"`
}

// JournalConfig holds the markdown write-through sink configuration.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: "sqlite",
			Dir:     DataDir(),
		},
		Engine: EngineConfig{
			LinkThreshold:        0.3,
			MaxLinksPerMemory:    5,
			MaxMemories:          10000,
			HalfLifeDays:         30,
			ArchiveThreshold:     0.15,
			DeleteThreshold:      0.05,
			DedupThreshold:       0.95,
			CompressAgeDays:      30,
			PruneAgeDays:         30,
			QuarantineMaxAgeDays: 14,
			EvolveMinInterval:    time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Ollama: OllamaConfig{
			Enabled:        true,
			BaseURL:        "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
			ChatModel:      "qwen2.5:3b",
		},
		Qdrant: QdrantConfig{
			Enabled:    false,
			URL:        "http://localhost:6333",
			Collection: "engram-memories",
			Dimension:  768,
		},
		RestAPI: RestAPIConfig{
			Enabled: false,
			Host:    "localhost",
			Port:    3002,
			CORS:    true,
		},
		Journal: JournalConfig{
			Enabled: false,
			Path:    filepath.Join(DataDir(), "journal.md"),
		},
	}
}

// Load loads configuration from a YAML file with fallback to defaults.
// Searches ./config.yaml, ~/.engram/config.yaml and /etc/engram/config.yaml.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	homeDir, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(homeDir, ".engram"))
	v.AddConfigPath("/etc/engram")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("storage.backend", d.Storage.Backend)
	v.SetDefault("storage.dir", d.Storage.Dir)

	v.SetDefault("engine.link_threshold", d.Engine.LinkThreshold)
	v.SetDefault("engine.max_links_per_memory", d.Engine.MaxLinksPerMemory)
	v.SetDefault("engine.max_memories", d.Engine.MaxMemories)
	v.SetDefault("engine.half_life_days", d.Engine.HalfLifeDays)
	v.SetDefault("engine.archive_threshold", d.Engine.ArchiveThreshold)
	v.SetDefault("engine.delete_threshold", d.Engine.DeleteThreshold)
	v.SetDefault("engine.dedup_threshold", d.Engine.DedupThreshold)
	v.SetDefault("engine.compress_age_days", d.Engine.CompressAgeDays)
	v.SetDefault("engine.prune_age_days", d.Engine.PruneAgeDays)
	v.SetDefault("engine.quarantine_max_age_days", d.Engine.QuarantineMaxAgeDays)
	v.SetDefault("engine.prune_quarantined", d.Engine.PruneQuarantined)
	v.SetDefault("engine.evolve_min_interval", "1s")

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("ollama.enabled", d.Ollama.Enabled)
	v.SetDefault("ollama.base_url", d.Ollama.BaseURL)
	v.SetDefault("ollama.embedding_model", d.Ollama.EmbeddingModel)
	v.SetDefault("ollama.chat_model", d.Ollama.ChatModel)

	v.SetDefault("qdrant.enabled", d.Qdrant.Enabled)
	v.SetDefault("qdrant.url", d.Qdrant.URL)
	v.SetDefault("qdrant.collection", d.Qdrant.Collection)
	v.SetDefault("qdrant.dimension", d.Qdrant.Dimension)

	v.SetDefault("rest_api.enabled", d.RestAPI.Enabled)
	v.SetDefault("rest_api.host", d.RestAPI.Host)
	v.SetDefault("rest_api.port", d.RestAPI.Port)
	v.SetDefault("rest_api.cors", d.RestAPI.CORS)

	v.SetDefault("journal.enabled", d.Journal.Enabled)
	v.SetDefault("journal.path", d.Journal.Path)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Storage.Backend != "sqlite" && c.Storage.Backend != "json" {
		return fmt.Errorf("storage.backend must be 'sqlite' or 'json'")
	}
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}

	if c.Engine.LinkThreshold < 0 || c.Engine.LinkThreshold > 1 {
		return fmt.Errorf("engine.link_threshold must be in [0,1]")
	}
	if c.Engine.MaxLinksPerMemory < 0 {
		return fmt.Errorf("engine.max_links_per_memory must be >= 0")
	}
	if c.Engine.MaxMemories < 1 {
		return fmt.Errorf("engine.max_memories must be >= 1")
	}
	if c.Engine.DeleteThreshold > c.Engine.ArchiveThreshold {
		return fmt.Errorf("engine.delete_threshold must not exceed engine.archive_threshold")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: console, json")
	}

	if c.Ollama.Enabled && c.Ollama.BaseURL == "" {
		return fmt.Errorf("ollama.base_url is required when Ollama is enabled")
	}
	if c.Qdrant.Enabled && c.Qdrant.URL == "" {
		return fmt.Errorf("qdrant.url is required when Qdrant is enabled")
	}
	if c.RestAPI.Enabled {
		if c.RestAPI.Port < 1 || c.RestAPI.Port > 65535 {
			return fmt.Errorf("rest_api.port must be between 1 and 65535")
		}
		if c.RestAPI.Host == "" {
			return fmt.Errorf("rest_api.host is required when the REST API is enabled")
		}
	}
	return nil
}

// DataDir returns the default data directory, honoring ENGRAM_DATA_DIR.
func DataDir() string {
	if dir := os.Getenv("ENGRAM_DATA_DIR"); dir != "" {
		return dir
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".engram")
}
