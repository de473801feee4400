package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramkit/engram/internal/engine"
	"github.com/engramkit/engram/internal/memory"
)

var (
	storeCategory   string
	storeImportance float64
	storeTags       []string
	storeEventTime  string
	storeSubject    string
	storePredicate  string
	storeValue      string
	storeScope      string
	storeSession    string
	storeShared     bool
	storeSource     string
	storeQuarantine bool
	storeOnConflict string
)

var storeCmd = &cobra.Command{
	Use:   "store <text>",
	Short: "Store a new memory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}

		opts := &engine.StoreOptions{
			Category:   storeCategory,
			Tags:       storeTags,
			EventTime:  storeEventTime,
			Quarantine: storeQuarantine,
			OnConflict: storeOnConflict,
		}
		if cmd.Flags().Changed("importance") {
			opts.Importance = &storeImportance
		}
		if storeSubject != "" || storePredicate != "" || storeValue != "" {
			claim := &memory.Claim{
				Subject:   storeSubject,
				Predicate: storePredicate,
				Value:     storeValue,
				Scope:     storeScope,
				SessionID: storeSession,
			}
			if storeShared {
				exclusive := false
				claim.Exclusive = &exclusive
			}
			opts.Claim = claim
		}
		if storeSource != "" {
			opts.Provenance = &memory.Provenance{Source: storeSource}
		}

		result, err := eng.Store(context.Background(), flagAgent, args[0], opts)
		if err != nil {
			fail(err)
		}
		if result.Deduplicated {
			fmt.Printf("✅ Corroborated: %s\n", result.ID)
			return
		}
		fmt.Printf("✅ Stored: %s (links: %d, top: %s)\n", result.ID, result.Links, result.TopLink)
		if result.Quarantined {
			fmt.Printf("   quarantined pending review (conflict: %s)\n", result.PendingConflictID)
		}
	},
}

var (
	searchLimit       int
	searchMinSim      float64
	searchSession     string
	searchExplain     bool
	searchNoRerank    bool
	searchAll         bool
	searchSuperseded  bool
	searchDisputed    bool
	searchQuarantined bool
	searchBefore      string
	searchAfter       string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}

		opts := &engine.SearchOptions{
			Limit:              searchLimit,
			MinSimilarity:      searchMinSim,
			SessionID:          searchSession,
			Explain:            searchExplain,
			IncludeAll:         searchAll,
			IncludeSuperseded:  searchSuperseded,
			IncludeDisputed:    searchDisputed,
			IncludeQuarantined: searchQuarantined,
		}
		if searchNoRerank {
			rerank := false
			opts.Rerank = &rerank
		}
		if t, ok := parseTimeFlag(searchBefore); ok {
			opts.Before = t
		}
		if t, ok := parseTimeFlag(searchAfter); ok {
			opts.After = t
		}

		resp, err := eng.Search(context.Background(), flagAgent, args[0], opts)
		if err != nil {
			fail(err)
		}
		printHits(resp.Hits)
		if resp.Meta != nil {
			fmt.Printf("\n%d candidates, %d returned, excluded: %v\n",
				resp.Meta.Candidates, resp.Meta.Returned, resp.Meta.Excluded)
		}
	},
}

var searchAllCmd = &cobra.Command{
	Use:   "search-all <query>",
	Short: "Search across every agent",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		resp, err := eng.Search(context.Background(), "", args[0], &engine.SearchOptions{Limit: searchLimit})
		if err != nil {
			fail(err)
		}
		printHits(resp.Hits)
	},
}

var evolveCmd = &cobra.Command{
	Use:   "evolve <text>",
	Short: "Store with LLM-backed conflict detection",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		result, err := eng.Evolve(context.Background(), flagAgent, args[0], nil)
		if err != nil {
			fail(err)
		}
		switch result.Action {
		case "updated":
			fmt.Printf("✅ Updated: %s\n", result.ID)
		default:
			fmt.Printf("✅ Stored: %s\n", result.ID)
		}
		if len(result.Archived) > 0 {
			fmt.Printf("   archived %d conflicting memories\n", len(result.Archived))
		}
		if result.Error != "" {
			fmt.Printf("   detection degraded: %s\n", result.Error)
		}
	},
}

var (
	contextMaxMemories int
	contextMaxTokens   int
	contextExplain     bool
)

var contextCmd = &cobra.Command{
	Use:   "context <query>",
	Short: "Assemble a Markdown memory context",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		result, err := eng.Context(context.Background(), flagAgent, args[0], &engine.ContextOptions{
			MaxMemories: contextMaxMemories,
			MaxTokens:   contextMaxTokens,
			Explain:     contextExplain,
		})
		if err != nil {
			fail(err)
		}
		fmt.Println(result.Context)
		if contextMaxTokens > 0 {
			fmt.Printf("\n(%d memories, ~%d tokens, %d excluded)\n",
				result.Included, result.TokenEstimate, result.Excluded)
		}
	},
}

func printHits(hits []*engine.SearchHit) {
	if len(hits) == 0 {
		fmt.Println("No results.")
		return
	}
	for _, h := range hits {
		fmt.Printf("[%.3f] %s (%s/%s) %s\n", h.Score, h.Memory.Text, h.Memory.Agent, h.Memory.Category, h.Memory.ID)
	}
}

func parseTimeFlag(v string) (*time.Time, bool) {
	if v == "" {
		return nil, false
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		fail(fmt.Errorf("invalid timestamp %q: %w", v, err))
	}
	utc := t.UTC()
	return &utc, true
}

func init() {
	storeCmd.Flags().StringVar(&storeCategory, "category", "", "memory category (fact, decision, preference, ...)")
	storeCmd.Flags().Float64Var(&storeImportance, "importance", 0.5, "importance in [0,1]")
	storeCmd.Flags().StringSliceVar(&storeTags, "tags", nil, "tags")
	storeCmd.Flags().StringVar(&storeEventTime, "event-time", "", "real-world event time (ISO-8601)")
	storeCmd.Flags().StringVar(&storeSubject, "subject", "", "claim subject")
	storeCmd.Flags().StringVar(&storePredicate, "predicate", "", "claim predicate")
	storeCmd.Flags().StringVar(&storeValue, "value", "", "claim value")
	storeCmd.Flags().StringVar(&storeScope, "scope", "", "claim scope (global, session, temporal)")
	storeCmd.Flags().StringVar(&storeSession, "session", "", "session id for session-scoped claims")
	storeCmd.Flags().BoolVar(&storeShared, "non-exclusive", false, "claim tolerates other values")
	storeCmd.Flags().StringVar(&storeSource, "source", "", "provenance source")
	storeCmd.Flags().BoolVar(&storeQuarantine, "quarantine", false, "store directly into quarantine")
	storeCmd.Flags().StringVar(&storeOnConflict, "on-conflict", "", "losing-conflict behavior (quarantine, keep_active)")

	for _, cmd := range []*cobra.Command{searchCmd, searchAllCmd} {
		cmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	}
	searchCmd.Flags().Float64Var(&searchMinSim, "min-similarity", 0, "similarity floor")
	searchCmd.Flags().StringVar(&searchSession, "session", "", "session id for scope overrides")
	searchCmd.Flags().BoolVar(&searchExplain, "explain", false, "attach retrieval explanations")
	searchCmd.Flags().BoolVar(&searchNoRerank, "no-rerank", false, "order by raw similarity")
	searchCmd.Flags().BoolVar(&searchAll, "include-all", false, "ignore status filters")
	searchCmd.Flags().BoolVar(&searchSuperseded, "include-superseded", false, "include superseded memories")
	searchCmd.Flags().BoolVar(&searchDisputed, "include-disputed", false, "include disputed memories")
	searchCmd.Flags().BoolVar(&searchQuarantined, "include-quarantined", false, "include quarantined memories")
	searchCmd.Flags().StringVar(&searchBefore, "before", "", "only memories before this time")
	searchCmd.Flags().StringVar(&searchAfter, "after", "", "only memories after this time")

	contextCmd.Flags().IntVar(&contextMaxMemories, "max-memories", 15, "maximum memories")
	contextCmd.Flags().IntVar(&contextMaxTokens, "max-tokens", 0, "token budget (0 disables)")
	contextCmd.Flags().BoolVar(&contextExplain, "explain", false, "attach packing explanation")

	rootCmd.AddCommand(storeCmd, searchCmd, searchAllCmd, evolveCmd, contextCmd)
}
