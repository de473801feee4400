package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/engramkit/engram/internal/engine"
)

var episodeCmd = &cobra.Command{
	Use:   "episode",
	Short: "Manage episodes (named, time-ranged memory groups)",
}

var (
	episodeName string
	episodeIDs  []string
	episodeTags []string
)

var episodeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an episode from memory ids",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		ep, err := eng.CreateEpisode(episodeName, episodeIDs, episodeTags, nil)
		if err != nil {
			fail(err)
		}
		fmt.Printf("✅ Episode created: %s (%d memories)\n", ep.ID, len(ep.MemoryIDs))
	},
}

var (
	captureStart string
	captureEnd   string
	captureMin   int
)

var episodeCaptureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture an episode from a time window",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		start, err := time.Parse(time.RFC3339, captureStart)
		if err != nil {
			fail(fmt.Errorf("invalid start: %w", err))
		}
		end, err := time.Parse(time.RFC3339, captureEnd)
		if err != nil {
			fail(fmt.Errorf("invalid end: %w", err))
		}
		ep, err := eng.CaptureEpisode(flagAgent, episodeName, start.UTC(), end.UTC(), captureMin)
		if err != nil {
			fail(err)
		}
		fmt.Printf("✅ Episode captured: %s (%d memories)\n", ep.ID, len(ep.MemoryIDs))
	},
}

var episodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List episodes",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		episodes := eng.ListEpisodes(engine.EpisodeFilter{Agent: flagAgent})
		if len(episodes) == 0 {
			fmt.Println("No episodes.")
			return
		}
		for _, ep := range episodes {
			fmt.Printf("%s %q: %d memories, %s .. %s\n", ep.ID, ep.Name, len(ep.MemoryIDs),
				ep.TimeRange.Start.Format("2006-01-02"), ep.TimeRange.End.Format("2006-01-02"))
			if ep.Summary != "" {
				fmt.Printf("  %s\n", ep.Summary)
			}
		}
	},
}

var episodeSummarizeCmd = &cobra.Command{
	Use:   "summarize <id>",
	Short: "Summarize an episode with the chat adapter",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		summary, err := eng.SummarizeEpisode(context.Background(), args[0])
		if err != nil {
			fail(err)
		}
		fmt.Println(summary)
	},
}

var episodeDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete an episode",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		if err := eng.DeleteEpisode(args[0]); err != nil {
			fail(err)
		}
		fmt.Printf("✅ Episode deleted: %s\n", args[0])
	},
}

var (
	compressIDs      []string
	compressEpisode  string
	compressMethod   string
	compressArchive  bool
	compressAuto     bool
	compressMinSize  int
	compressMaxCount int
)

var compressCmd = &cobra.Command{
	Use:   "compress",
	Short: "Compress memories into a digest",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		ctx := context.Background()
		opts := &engine.CompressOptions{Method: compressMethod, ArchiveOriginals: compressArchive}

		switch {
		case compressAuto:
			results, err := eng.AutoCompress(ctx, &engine.AutoCompressOptions{
				MaxDigests:       compressMaxCount,
				MinClusterSize:   compressMinSize,
				ArchiveOriginals: compressArchive,
			})
			if err != nil {
				fail(err)
			}
			for _, r := range results {
				fmt.Printf("✅ Digest: %s (%d sources)\n", r.DigestID, r.SourceCount)
			}
			if len(results) == 0 {
				fmt.Println("Nothing to compress.")
			}
		case compressEpisode != "":
			r, err := eng.CompressEpisode(ctx, compressEpisode, opts)
			if err != nil {
				fail(err)
			}
			fmt.Printf("✅ Digest: %s (%d sources)\n", r.DigestID, r.SourceCount)
		default:
			r, err := eng.Compress(ctx, compressIDs, opts)
			if err != nil {
				fail(err)
			}
			fmt.Printf("✅ Digest: %s (%d sources)\n", r.DigestID, r.SourceCount)
		}
	},
}

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage labeled clusters",
}

var (
	clusterLabel       string
	clusterDescription string
	clusterIDs         []string
	clusterIndex       int
)

var clusterCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a labeled cluster from memory ids",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		lc, err := eng.CreateCluster(clusterLabel, clusterDescription, clusterIDs)
		if err != nil {
			fail(err)
		}
		fmt.Printf("✅ Cluster created: %s %q\n", lc.ID, lc.Label)
	},
}

var clusterLabelCmd = &cobra.Command{
	Use:   "label",
	Short: "Label the nth auto-detected cluster",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		lc, err := eng.LabelCluster(clusterIndex, clusterLabel, clusterDescription)
		if err != nil {
			fail(err)
		}
		fmt.Printf("✅ Cluster labeled: %s %q (%d memories)\n", lc.ID, lc.Label, len(lc.MemoryIDs))
	},
}

var clusterAutoLabelCmd = &cobra.Command{
	Use:   "auto-label",
	Short: "Ask the chat adapter to label detected clusters",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		labeled, err := eng.AutoLabelClusters(context.Background(), compressMinSize, compressMaxCount)
		if err != nil {
			fail(err)
		}
		for _, lc := range labeled {
			fmt.Printf("✅ %s %q: %s\n", lc.ID, lc.Label, lc.Description)
		}
		if len(labeled) == 0 {
			fmt.Println("No clusters labeled.")
		}
	},
}

var clusterRefreshCmd = &cobra.Command{
	Use:   "refresh <id>",
	Short: "Expand a cluster to its connected component",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		lc, err := eng.RefreshCluster(args[0])
		if err != nil {
			fail(err)
		}
		fmt.Printf("✅ Cluster refreshed: %s (%d memories)\n", lc.ID, len(lc.MemoryIDs))
	},
}

var clusterDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a labeled cluster",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		if err := eng.DeleteCluster(args[0]); err != nil {
			fail(err)
		}
		fmt.Printf("✅ Cluster deleted: %s\n", args[0])
	},
}

func init() {
	episodeCreateCmd.Flags().StringVar(&episodeName, "name", "", "episode name")
	episodeCreateCmd.Flags().StringSliceVar(&episodeIDs, "ids", nil, "memory ids")
	episodeCreateCmd.Flags().StringSliceVar(&episodeTags, "tags", nil, "episode tags")
	episodeCaptureCmd.Flags().StringVar(&episodeName, "name", "", "episode name")
	episodeCaptureCmd.Flags().StringVar(&captureStart, "start", "", "window start (ISO-8601)")
	episodeCaptureCmd.Flags().StringVar(&captureEnd, "end", "", "window end (ISO-8601)")
	episodeCaptureCmd.Flags().IntVar(&captureMin, "min-memories", 1, "minimum memories required")
	episodeCmd.AddCommand(episodeCreateCmd, episodeCaptureCmd, episodeListCmd,
		episodeSummarizeCmd, episodeDeleteCmd)

	compressCmd.Flags().StringSliceVar(&compressIDs, "ids", nil, "memory ids to compress")
	compressCmd.Flags().StringVar(&compressEpisode, "episode", "", "episode id to compress")
	compressCmd.Flags().StringVar(&compressMethod, "method", "extractive", "compression method (extractive, llm)")
	compressCmd.Flags().BoolVar(&compressArchive, "archive-originals", false, "archive and remove the sources")
	compressCmd.Flags().BoolVar(&compressAuto, "auto", false, "compress auto-detected clusters")
	compressCmd.Flags().IntVar(&compressMinSize, "min-cluster-size", 3, "minimum cluster size")
	compressCmd.Flags().IntVar(&compressMaxCount, "max-digests", 3, "maximum digests to create")

	clusterCreateCmd.Flags().StringVar(&clusterLabel, "label", "", "cluster label")
	clusterCreateCmd.Flags().StringVar(&clusterDescription, "description", "", "cluster description")
	clusterCreateCmd.Flags().StringSliceVar(&clusterIDs, "ids", nil, "memory ids")
	clusterLabelCmd.Flags().StringVar(&clusterLabel, "label", "", "cluster label")
	clusterLabelCmd.Flags().StringVar(&clusterDescription, "description", "", "cluster description")
	clusterLabelCmd.Flags().IntVar(&clusterIndex, "index", 0, "auto-detected cluster index")
	clusterCmd.AddCommand(clusterCreateCmd, clusterLabelCmd, clusterAutoLabelCmd,
		clusterRefreshCmd, clusterDeleteCmd)

	rootCmd.AddCommand(episodeCmd, compressCmd, clusterCmd)
}
