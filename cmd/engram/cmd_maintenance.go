package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/engramkit/engram/internal/ai"
	"github.com/engramkit/engram/internal/api"
	"github.com/engramkit/engram/internal/engine"
	"github.com/engramkit/engram/internal/vector"
	"github.com/engramkit/engram/pkg/config"
)

var decayDryRun bool

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Archive and delete weak memories",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		report, err := eng.Decay(decayDryRun)
		if err != nil {
			fail(err)
		}
		mode := ""
		if decayDryRun {
			mode = " (dry run)"
		}
		fmt.Printf("Decay%s: %d total, %d healthy, %d weakening, %d archived, %d deleted\n",
			mode, report.Total, report.Healthy, report.Weakening, report.Archived, report.Deleted)
	},
}

var reinforceBoost float64

var reinforceCmd = &cobra.Command{
	Use:   "reinforce <id>",
	Short: "Reinforce a memory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		if err := eng.Reinforce(args[0], reinforceBoost); err != nil {
			fail(err)
		}
		fmt.Printf("✅ Reinforced: %s\n", args[0])
	},
}

var disputeReason string

var disputeCmd = &cobra.Command{
	Use:   "dispute <id>",
	Short: "Dispute a memory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		if err := eng.Dispute(args[0], disputeReason); err != nil {
			fail(err)
		}
		fmt.Printf("✅ Disputed: %s\n", args[0])
	},
}

var corroborateCmd = &cobra.Command{
	Use:   "corroborate <id>",
	Short: "Corroborate a memory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		if err := eng.Corroborate(args[0]); err != nil {
			fail(err)
		}
		fmt.Printf("✅ Corroborated: %s\n", args[0])
	},
}

var (
	conflictsAll       bool
	conflictsSubject   string
	conflictsPredicate string
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List pending conflicts",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		conflicts := eng.Conflicts(engine.ConflictFilter{
			Subject:    conflictsSubject,
			Predicate:  conflictsPredicate,
			IncludeAll: conflictsAll,
		})
		if len(conflicts) == 0 {
			fmt.Println("No conflicts.")
			return
		}
		for _, p := range conflicts {
			state := "open"
			if !p.Open() {
				state = "resolved: " + p.Resolution
			}
			key := ""
			if p.NewClaim != nil {
				key = fmt.Sprintf(" (%s/%s)", p.NewClaim.Subject, p.NewClaim.Predicate)
			}
			fmt.Printf("%s%s new=%s (%.2f) vs existing=%s (%.2f) [%s]\n",
				p.ID, key, p.NewID, p.NewTrust, p.ExistingID, p.ExistingTrust, state)
		}
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <conflict-id> <supersede|reject|keep_both>",
	Short: "Resolve a pending conflict",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		if err := eng.ResolveConflict(args[0], args[1]); err != nil {
			fail(err)
		}
		fmt.Printf("✅ Resolved %s as %s\n", args[0], args[1])
	},
}

var (
	quarantineReason  string
	quarantineDetails string
)

var quarantineCmd = &cobra.Command{
	Use:   "quarantine <id>",
	Short: "Quarantine a memory for review",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		if err := eng.QuarantineMemory(args[0], quarantineReason, quarantineDetails); err != nil {
			fail(err)
		}
		fmt.Printf("✅ Quarantined: %s\n", args[0])
	},
}

var quarantinedCmd = &cobra.Command{
	Use:   "quarantined",
	Short: "List quarantined memories",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		for _, m := range eng.ListQuarantined("", 0) {
			reason := ""
			if m.Quarantine != nil {
				reason = m.Quarantine.Reason
			}
			fmt.Printf("%s (%s, %s): %s\n", m.ID, m.Agent, reason, m.Text)
		}
	},
}

var reviewReason string

var reviewCmd = &cobra.Command{
	Use:   "review <id> <activate|reject>",
	Short: "Review a quarantined memory",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		if err := eng.ReviewQuarantine(args[0], args[1], reviewReason); err != nil {
			fail(err)
		}
		fmt.Printf("✅ Review applied: %s %s\n", args[0], args[1])
	},
}

var consolidateDryRun bool

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run the full maintenance pass",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		report, err := eng.Consolidate(context.Background(), consolidateDryRun)
		if err != nil {
			fail(err)
		}
		mode := ""
		if consolidateDryRun {
			mode = " (dry run)"
		}
		fmt.Printf("Consolidation%s in %dms\n", mode, report.DurationMS)
		fmt.Printf("  deduplicated: %d\n", report.Deduplicated)
		fmt.Printf("  contradictions: %d resolved, %d pending\n",
			report.Contradictions.Resolved, report.Contradictions.Pending)
		fmt.Printf("  corroborated: %d\n", report.Corroborated)
		fmt.Printf("  compressed: %d clusters (%d memories)\n",
			report.Compressed.Clusters, report.Compressed.SourceMemories)
		fmt.Printf("  pruned: %d superseded, %d decayed, %d disputed, %d quarantined\n",
			report.Pruned.Superseded, report.Pruned.Decayed, report.Pruned.Disputed, report.Pruned.Quarantined)
		fmt.Printf("  before: %d total / %d active, after: %d total / %d active\n",
			report.Before.Total, report.Before.Active, report.After.Total, report.After.Active)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check every subsystem and show graph health",
	Long:  `Run a comprehensive system check (config, storage, adapters), then print the memory graph's health statistics.`,
	Run: func(cmd *cobra.Command, args []string) {
		runHealth()
	},
}

func runHealth() {
	fmt.Println("Engram System Check")
	fmt.Println("===================")
	fmt.Println()

	allOk := true
	hasWarnings := false

	// Check configuration
	fmt.Print("Configuration... ")
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		allOk = false
	} else {
		fmt.Println("OK")
	}

	// Check storage
	var eng *engine.Engine
	fmt.Print("Storage... ")
	if cfg != nil {
		store, err := openStore(cfg)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			allOk = false
		} else {
			eng, err = engine.New(store, engine.Options{
				HalfLifeDays:     cfg.Engine.HalfLifeDays,
				ArchiveThreshold: cfg.Engine.ArchiveThreshold,
				DeleteThreshold:  cfg.Engine.DeleteThreshold,
			})
			if err != nil {
				fmt.Printf("ERROR: %v\n", err)
				allOk = false
			} else {
				fmt.Printf("OK (%s backend, %d memories)\n", cfg.Storage.Backend, eng.Count())
			}
		}
		fmt.Printf("  Dir: %s\n", cfg.Storage.Dir)
	} else {
		fmt.Println("SKIPPED (no configuration)")
	}
	fmt.Println()

	// Check optional adapters (Ollama and Qdrant)
	ollamaUp := false
	qdrantUp := false
	if cfg != nil {
		fmt.Print("Ollama... ")
		if !cfg.Ollama.Enabled {
			fmt.Println("disabled")
		} else {
			ollama := ai.NewOllamaClient(ai.OllamaConfig{
				BaseURL:        envOr("OLLAMA_BASE_URL", cfg.Ollama.BaseURL),
				EmbeddingModel: cfg.Ollama.EmbeddingModel,
				ChatModel:      cfg.Ollama.ChatModel,
				Enabled:        true,
			})
			if ollama.IsAvailable() {
				fmt.Printf("OK (embed: %s, chat: %s)\n", ollama.EmbeddingModel(), ollama.ChatModel())
				ollamaUp = true
			} else {
				fmt.Printf("UNAVAILABLE at %s\n", envOr("OLLAMA_BASE_URL", cfg.Ollama.BaseURL))
				hasWarnings = true
			}
		}

		fmt.Print("Qdrant... ")
		if !cfg.Qdrant.Enabled {
			fmt.Println("disabled")
		} else {
			qdrant := vector.NewQdrantClient(vector.QdrantConfig{
				URL:        envOr("QDRANT_URL", cfg.Qdrant.URL),
				Collection: cfg.Qdrant.Collection,
				Dimension:  cfg.Qdrant.Dimension,
				Enabled:    true,
			})
			if qdrant.IsAvailable() {
				fmt.Printf("OK (collection: %s)\n", cfg.Qdrant.Collection)
				qdrantUp = true
			} else {
				fmt.Printf("UNAVAILABLE at %s\n", envOr("QDRANT_URL", cfg.Qdrant.URL))
				hasWarnings = true
			}
		}
	}
	fmt.Println()

	// Summary
	if allOk && !hasWarnings {
		fmt.Println("✅ All systems operational!")
	} else if allOk && hasWarnings {
		fmt.Println("⚠️  Core systems operational with optional features unavailable.")
		fmt.Println("   Engram will work but semantic and LLM features are disabled.")
	} else {
		fmt.Println("❌ Some issues detected. Please review the errors above.")
	}

	if cfg != nil {
		fmt.Println()
		fmt.Println("Configuration:")
		fmt.Printf("  Data Dir: %s\n", cfg.Storage.Dir)
		fmt.Printf("  REST API: %s:%d (enabled: %v)\n", cfg.RestAPI.Host, cfg.RestAPI.Port, cfg.RestAPI.Enabled)

		fmt.Println()
		fmt.Println("Feature Availability:")
		if ollamaUp {
			fmt.Println("  ✅ Semantic Search (embedding similarity)")
			fmt.Println("  ✅ LLM Features (evolve detection, summarize, auto-label)")
		} else {
			fmt.Println("  ❌ Semantic Search - requires Ollama")
			fmt.Println("  ❌ LLM Features (evolve detection, summarize, auto-label) - requires Ollama")
		}
		if ollamaUp && qdrantUp {
			fmt.Println("  ✅ Server-Side Vector Search (Qdrant)")
		} else {
			fmt.Println("  ❌ Server-Side Vector Search - requires Ollama + Qdrant")
		}
		fmt.Println("  ✅ Keyword Search (token matching)")
		fmt.Println("  ✅ Memory Storage (store, search, context)")
	}

	if eng != nil {
		fmt.Println()
		printGraphHealth(eng)
	}
}

func printGraphHealth(eng *engine.Engine) {
	r, err := eng.Health()
	if err != nil {
		fmt.Printf("Graph health unavailable: %v\n", err)
		return
	}
	fmt.Println("Graph Health:")
	fmt.Printf("  Memories: %d (archive: %d)\n", r.Total, r.ArchiveCount)
	fmt.Printf("  Status: %v\n", r.ByStatus)
	fmt.Printf("  Agents: %v\n", r.ByAgent)
	fmt.Printf("  Categories: %v\n", r.ByCategory)
	fmt.Printf("  Links: %d (%d cross-agent), orphans: %d\n", r.Links, r.CrossAgentLinks, r.Orphans)
	fmt.Printf("  Strength: %d strong, %d healthy, %d weakening, %d critical, %d dead (avg %.3f)\n",
		r.Strength.Strong, r.Strength.Healthy, r.Strength.Weakening,
		r.Strength.Critical, r.Strength.Dead, r.AverageStrength)
	fmt.Printf("  Age: avg %.1fd, max %.1fd\n", r.AverageAgeDays, r.MaxAgeDays)
	if r.StabilityCount > 0 {
		fmt.Printf("  Stability: %.2f avg across %d reviewed memories\n", r.AverageStability, r.StabilityCount)
	}
	fmt.Printf("  Pending conflicts: %d, episodes: %d, labeled clusters: %d\n",
		r.PendingConflicts, r.Episodes, r.LabeledClusters)
}

var (
	timelineDays  int
	timelineField string
)

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Show recent memories grouped by date",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		days, err := eng.Timeline(flagAgent, timelineDays, timelineField)
		if err != nil {
			fail(err)
		}
		for _, day := range days {
			fmt.Printf("%s\n", day.Date)
			for _, entry := range day.Entries {
				fmt.Printf("  [%s] %s: %s\n", entry.At.Format("15:04"), entry.Category, entry.Text)
			}
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API server",
	Run: func(cmd *cobra.Command, args []string) {
		eng, cfg, err := setup()
		if err != nil {
			fail(err)
		}
		cfg.RestAPI.Enabled = true

		server := api.NewServer(eng, cfg)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigChan
			cancel()
		}()

		if err := server.Run(ctx); err != nil {
			fail(err)
		}
	},
}

func init() {
	decayCmd.Flags().BoolVar(&decayDryRun, "dry-run", false, "report buckets without mutating")
	reinforceCmd.Flags().Float64Var(&reinforceBoost, "boost", 0.1, "importance boost")
	disputeCmd.Flags().StringVar(&disputeReason, "reason", "", "dispute reason")
	conflictsCmd.Flags().BoolVar(&conflictsAll, "all", false, "include resolved conflicts")
	conflictsCmd.Flags().StringVar(&conflictsSubject, "subject", "", "filter by claim subject")
	conflictsCmd.Flags().StringVar(&conflictsPredicate, "predicate", "", "filter by claim predicate")
	quarantineCmd.Flags().StringVar(&quarantineReason, "reason", "manual", "quarantine reason")
	quarantineCmd.Flags().StringVar(&quarantineDetails, "details", "", "quarantine details")
	reviewCmd.Flags().StringVar(&reviewReason, "reason", "", "review note")
	consolidateCmd.Flags().BoolVar(&consolidateDryRun, "dry-run", false, "report without mutating")
	timelineCmd.Flags().IntVar(&timelineDays, "days", 7, "days to include")
	timelineCmd.Flags().StringVar(&timelineField, "time-field", "auto", "time field (auto, event, created)")

	rootCmd.AddCommand(decayCmd, reinforceCmd, disputeCmd, corroborateCmd,
		conflictsCmd, resolveCmd, quarantineCmd, quarantinedCmd, reviewCmd,
		consolidateCmd, healthCmd, timelineCmd, serveCmd)
}
