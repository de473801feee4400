package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/scoring"
)

const contextTitle = "## Relevant Memory Context"

// contextSections is the fixed render order of the assembled context.
var contextSections = []struct {
	category string
	heading  string
}{
	{"decision", "Decisions"},
	{"finding", "Findings"},
	{"preference", "Preferences"},
	{"insight", "Insights"},
	{"fact", "Facts"},
	{"event", "Events"},
	{"task", "Tasks"},
}

// ContextOptions shape a context assembly call.
type ContextOptions struct {
	MaxMemories int // default 15
	Before      *time.Time
	After       *time.Time
	MaxTokens   int // 0 disables the token budget
	Explain     bool
}

// ContextMemory is one memory included in (or excluded from) the context.
type ContextMemory struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Agent  string  `json:"agent"`
	Score  float64 `json:"score"`
	Source string  `json:"source"` // search or linked
	Tokens int     `json:"tokens"`
}

// ContextExcluded records why a candidate memory was left out.
type ContextExcluded struct {
	ID     string  `json:"id"`
	Reason string  `json:"reason"`
	Value  float64 `json:"value"`
}

// ContextExplain carries the search metadata and packing trace when explain
// is on.
type ContextExplain struct {
	SearchMeta *SearchMeta `json:"search_meta,omitempty"`
	Packing    []string    `json:"packing,omitempty"`
}

// ContextResult is the assembled context.
type ContextResult struct {
	Query           string            `json:"query"`
	Context         string            `json:"context"`
	Count           int               `json:"count"`
	Memories        []*ContextMemory  `json:"memories"`
	TokenEstimate   int               `json:"token_estimate,omitempty"`
	Included        int               `json:"included,omitempty"`
	Excluded        int               `json:"excluded,omitempty"`
	ExcludedReasons []ContextExcluded `json:"excluded_reasons,omitempty"`
	Explain         *ContextExplain   `json:"explain,omitempty"`
}

// Context assembles a Markdown memory context for a query: search hits plus
// their strongest linked neighbors, packed greedily by score-per-token when
// a token budget is set.
func (e *Engine) Context(ctx context.Context, agent, query string, opts *ContextOptions) (*ContextResult, error) {
	if opts == nil {
		opts = &ContextOptions{}
	}
	maxMemories := opts.MaxMemories
	if maxMemories <= 0 {
		maxMemories = 15
	}

	searchLimit := 8
	if opts.MaxTokens > 0 {
		searchLimit = 2 * maxMemories
		if searchLimit < 1 {
			searchLimit = 1
		}
	}

	resp, err := e.Search(ctx, agent, query, &SearchOptions{
		Limit:   searchLimit,
		Before:  opts.Before,
		After:   opts.After,
		Explain: opts.Explain,
	})
	if err != nil {
		return nil, err
	}

	// Pull in up to 3 linked neighbors per hit, scored by the link
	// similarity discounted by the hit's own score.
	e.mu.RLock()
	type candidate struct {
		mem    *memory.Memory
		score  float64
		source string
	}
	seen := make(map[string]struct{})
	var candidates []candidate
	for _, h := range resp.Hits {
		if _, dup := seen[h.Memory.ID]; dup {
			continue
		}
		seen[h.Memory.ID] = struct{}{}
		candidates = append(candidates, candidate{mem: h.Memory, score: h.Score, source: "search"})

		linked := 0
		for _, l := range h.Memory.Links {
			if linked >= 3 {
				break
			}
			target, ok := e.byID[l.TargetID]
			if !ok || target.Status != memory.StatusActive {
				continue
			}
			if _, dup := seen[target.ID]; dup {
				continue
			}
			seen[target.ID] = struct{}{}
			candidates = append(candidates, candidate{mem: target, score: l.Similarity * h.Score, source: "linked"})
			linked++
		}
	}
	e.mu.RUnlock()

	result := &ContextResult{Query: query}
	var included []*ContextMemory
	var packing []string

	if opts.MaxTokens > 0 {
		// Fixed render overhead, then greedy inclusion by score density.
		overhead := 10 * scoring.EstimateTokens(contextTitle+"\n### Category\n- ")
		budget := opts.MaxTokens - overhead
		sort.SliceStable(candidates, func(i, j int) bool {
			di := candidates[i].score / float64(maxInt(1, scoring.EstimateTokens(candidates[i].mem.Text)))
			dj := candidates[j].score / float64(maxInt(1, scoring.EstimateTokens(candidates[j].mem.Text)))
			return di > dj
		})
		for _, c := range candidates {
			tokens := scoring.EstimateTokens(c.mem.Text)
			if tokens > budget || len(included) >= maxMemories {
				result.ExcludedReasons = append(result.ExcludedReasons, ContextExcluded{
					ID: c.mem.ID, Reason: "budget", Value: float64(tokens),
				})
				continue
			}
			budget -= tokens
			included = append(included, &ContextMemory{
				ID: c.mem.ID, Text: c.mem.Text, Agent: c.mem.Agent,
				Score: c.score, Source: c.source, Tokens: tokens,
			})
			if opts.Explain {
				packing = append(packing, fmt.Sprintf("%s: %d tokens, %d remaining", c.mem.ID, tokens, budget))
			}
		}
		result.Included = len(included)
		result.Excluded = len(result.ExcludedReasons)
	} else {
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
		if len(candidates) > maxMemories {
			candidates = candidates[:maxMemories]
		}
		for _, c := range candidates {
			included = append(included, &ContextMemory{
				ID: c.mem.ID, Text: c.mem.Text, Agent: c.mem.Agent,
				Score: c.score, Source: c.source,
				Tokens: scoring.EstimateTokens(c.mem.Text),
			})
		}
	}

	result.Memories = included
	result.Count = len(included)
	result.Context = renderContext(agent, included, e.categoryOf)
	if opts.MaxTokens > 0 {
		result.TokenEstimate = scoring.EstimateTokens(result.Context)
	}
	if opts.Explain {
		result.Explain = &ContextExplain{SearchMeta: resp.Meta, Packing: packing}
	}
	return result, nil
}

// categoryOf resolves a context memory back to its category.
func (e *Engine) categoryOf(id string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if m, ok := e.byID[id]; ok {
		return m.Category
	}
	return "fact"
}

// renderContext produces the Markdown document: title, then the fixed
// section order, each entry tagged with its agent unless it matches the
// focus agent.
func renderContext(focusAgent string, memories []*ContextMemory, categoryOf func(string) string) string {
	byCategory := make(map[string][]*ContextMemory)
	for _, cm := range memories {
		cat := categoryOf(cm.ID)
		byCategory[cat] = append(byCategory[cat], cm)
	}

	var b strings.Builder
	b.WriteString(contextTitle)
	b.WriteString("\n")
	rendered := make(map[string]bool)
	for _, section := range contextSections {
		entries := byCategory[section.category]
		rendered[section.category] = true
		if len(entries) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n### %s\n", section.heading)
		for _, cm := range entries {
			writeEntry(&b, cm, focusAgent)
		}
	}
	// Categories outside the fixed order (digests, snapshots) trail behind.
	var restCats []string
	for cat := range byCategory {
		if !rendered[cat] {
			restCats = append(restCats, cat)
		}
	}
	sort.Strings(restCats)
	for _, cat := range restCats {
		fmt.Fprintf(&b, "\n### %s\n", capitalize(cat))
		for _, cm := range byCategory[cat] {
			writeEntry(&b, cm, focusAgent)
		}
	}
	return b.String()
}

func writeEntry(b *strings.Builder, cm *ContextMemory, focusAgent string) {
	if cm.Agent != "" && cm.Agent != focusAgent {
		fmt.Fprintf(b, "- %s (%s)\n", cm.Text, cm.Agent)
	} else {
		fmt.Fprintf(b, "- %s\n", cm.Text)
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
