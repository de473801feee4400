package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var linksCmd = &cobra.Command{
	Use:   "links <id>",
	Short: "Show a memory and its neighbors",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		result, err := eng.Links(args[0])
		if err != nil {
			fail(err)
		}
		fmt.Printf("%s (%s/%s): %s\n", result.ID, result.Agent, result.Category, result.Memory)
		for _, l := range result.Links {
			fmt.Printf("  -[%s %.0f%%]-> %s: %s\n", l.Type, l.Similarity*100, l.ID, l.Memory)
		}
	},
}

var (
	linkType       string
	linkSimilarity float64
)

var linkCmd = &cobra.Command{
	Use:   "link <src> <dst>",
	Short: "Create a bidirectional link",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		if err := eng.Link(args[0], args[1], linkType, linkSimilarity); err != nil {
			fail(err)
		}
		fmt.Printf("✅ Linked: %s <-> %s (%s)\n", args[0], args[1], linkType)
	},
}

var unlinkCmd = &cobra.Command{
	Use:   "unlink <src> <dst>",
	Short: "Remove a link in both directions",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		removed, err := eng.Unlink(args[0], args[1])
		if err != nil {
			fail(err)
		}
		if removed {
			fmt.Println("✅ Unlinked.")
		} else {
			fmt.Println("No link to remove.")
		}
	},
}

var (
	traverseMaxHops int
	traverseTypes   []string
)

var traverseCmd = &cobra.Command{
	Use:   "traverse <id>",
	Short: "Walk the graph breadth-first from a memory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		nodes, err := eng.Traverse(args[0], traverseMaxHops, traverseTypes)
		if err != nil {
			fail(err)
		}
		for _, n := range nodes {
			fmt.Printf("%s[hop %d, %.0f%%] %s: %s\n",
				strings.Repeat("  ", n.Hop), n.Hop, n.Similarity*100, n.ID, n.Memory)
		}
	},
}

var pathTypes []string

var pathCmd = &cobra.Command{
	Use:   "path <a> <b>",
	Short: "Find the shortest link path between two memories",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		result, err := eng.Path(args[0], args[1], pathTypes)
		if err != nil {
			fail(err)
		}
		if !result.Found {
			fmt.Println("No path found.")
			return
		}
		fmt.Printf("Found in %d hops:\n  %s\n", result.Hops, strings.Join(result.Path, " -> "))
	},
}

var clustersMinSize int

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "List connected components of the graph",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		clusters := eng.Clusters(clustersMinSize)
		if len(clusters) == 0 {
			fmt.Println("No clusters.")
			return
		}
		for i, c := range clusters {
			label := c.Label
			if label == "" {
				label = "(unlabeled)"
			}
			fmt.Printf("%d. %s — %d memories, agents: %v", i, label, c.Size, c.AgentCounts)
			if len(c.TopTags) > 0 {
				fmt.Printf(", tags:")
				for _, t := range c.TopTags {
					fmt.Printf(" %s(%d)", t.Tag, t.Count)
				}
			}
			fmt.Println()
		}
	},
}

var orphansMaxLinks int

var orphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "List weakly connected memories, weakest first",
	Run: func(cmd *cobra.Command, args []string) {
		eng, _, err := setup()
		if err != nil {
			fail(err)
		}
		orphans := eng.Orphans(flagAgent, orphansMaxLinks)
		for _, o := range orphans {
			fmt.Printf("[%.3f] %s (%d links, %.0fd old): %s\n", o.Strength, o.ID, o.Links, o.AgeDays, o.Memory)
		}
	},
}

func init() {
	linkCmd.Flags().StringVar(&linkType, "type", "related", "link type")
	linkCmd.Flags().Float64Var(&linkSimilarity, "similarity", 1.0, "link similarity")
	traverseCmd.Flags().IntVar(&traverseMaxHops, "max-hops", 2, "maximum hops")
	traverseCmd.Flags().StringSliceVar(&traverseTypes, "type", nil, "allowed link types")
	pathCmd.Flags().StringSliceVar(&pathTypes, "type", nil, "allowed link types")
	clustersCmd.Flags().IntVar(&clustersMinSize, "min-size", 2, "minimum cluster size")
	orphansCmd.Flags().IntVar(&orphansMaxLinks, "max-links", 0, "maximum links to count as orphan")

	rootCmd.AddCommand(linksCmd, linkCmd, unlinkCmd, traverseCmd, pathCmd, clustersCmd, orphansCmd)
}
