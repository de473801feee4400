package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/engramkit/engram/internal/ai"
	"github.com/engramkit/engram/internal/engine"
	"github.com/engramkit/engram/internal/logging"
	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/sink"
	"github.com/engramkit/engram/internal/storage"
	"github.com/engramkit/engram/internal/storage/jsonfile"
	"github.com/engramkit/engram/internal/storage/sqlite"
	"github.com/engramkit/engram/internal/vector"
	"github.com/engramkit/engram/pkg/config"
)

var (
	// Version is set during build
	Version = "0.3.0"

	flagAgent    string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "engram",
	Short: "Graph-native memory store for AI agents",
	Long: `Engram turns a stream of short textual memories into a typed, weighted
graph with provenance, trust, structural conflict detection, biological
decay, and budget-aware retrieval.

Examples:
  engram store "Timezone is UTC" --subject user --predicate timezone --value UTC
  engram search "timezone"
  engram context "project deadlines" --max-tokens 500
  engram links <memory-id>
  engram decay --dry-run
  engram health`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAgent, "agent", "default", "agent tag for stored and queried memories")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log_level", "", "log level (debug, info, warn, error)")
}

// setup loads .env and the YAML config, initializes logging and builds the
// engine with its configured adapters.
func setup() (*engine.Engine, *config.Config, error) {
	// .env keys feed both viper defaults and adapter endpoints.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("error loading config: %w", err)
	}

	level := cfg.Logging.Level
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	logging.Init(logging.Config{Level: level, Format: cfg.Logging.Format})

	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	var qdrant *vector.QdrantClient
	if cfg.Qdrant.Enabled {
		qdrant = vector.NewQdrantClient(vector.QdrantConfig{
			URL:        envOr("QDRANT_URL", cfg.Qdrant.URL),
			Collection: cfg.Qdrant.Collection,
			Dimension:  cfg.Qdrant.Dimension,
			Enabled:    true,
		})
		if qdrant.IsAvailable() {
			store = storage.WithVectorSearch(store, qdrant)
		} else {
			qdrant = nil
		}
	}

	eng, err := engine.New(store, engine.Options{
		LinkThreshold:        cfg.Engine.LinkThreshold,
		MaxLinksPerMemory:    cfg.Engine.MaxLinksPerMemory,
		MaxMemories:          cfg.Engine.MaxMemories,
		HalfLifeDays:         cfg.Engine.HalfLifeDays,
		ArchiveThreshold:     cfg.Engine.ArchiveThreshold,
		DeleteThreshold:      cfg.Engine.DeleteThreshold,
		DedupThreshold:       cfg.Engine.DedupThreshold,
		CompressAgeDays:      cfg.Engine.CompressAgeDays,
		PruneAgeDays:         cfg.Engine.PruneAgeDays,
		QuarantineMaxAgeDays: cfg.Engine.QuarantineMaxAgeDays,
		PruneQuarantined:     cfg.Engine.PruneQuarantined,
		EvolveMinInterval:    cfg.Engine.EvolveMinInterval,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("error loading engine: %w", err)
	}

	if cfg.Ollama.Enabled {
		ollama := ai.NewOllamaClient(ai.OllamaConfig{
			BaseURL:        envOr("OLLAMA_BASE_URL", cfg.Ollama.BaseURL),
			EmbeddingModel: cfg.Ollama.EmbeddingModel,
			ChatModel:      cfg.Ollama.ChatModel,
			Enabled:        true,
		})
		if ollama.IsAvailable() {
			eng.SetEmbedder(ollama)
			eng.SetChatter(ollama)
		}
	}

	if cfg.Journal.Enabled {
		journal := sink.NewMarkdownSink(cfg.Journal.Path)
		eng.On("*", journal.Handle)
	}

	if qdrant != nil {
		// Mirror embeddings into Qdrant as memories land.
		eng.On(engine.EventStore, func(_ string, payload any) {
			m, ok := payload.(*memory.Memory)
			if !ok || len(m.Embedding) == 0 {
				return
			}
			ctx, cancel := qdrantTimeout()
			defer cancel()
			_ = qdrant.UpsertPoint(ctx, m.ID, m.Embedding, map[string]any{
				"agent":    m.Agent,
				"category": m.Category,
			})
		})
	}

	return eng, cfg, nil
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "json":
		return jsonfile.Open(cfg.Storage.Dir)
	default:
		return sqlite.Open(filepath.Join(cfg.Storage.Dir, "engram.db"))
	}
}

func qdrantTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// fail prints a validation error and exits with code 1.
func fail(err error) {
	fmt.Fprintf(os.Stderr, "❌ %v\n", err)
	os.Exit(1)
}
