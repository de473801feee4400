package engine

import (
	"sort"
	"time"

	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/scoring"
)

// LinkedMemory is one neighbor in a Links result. Deleted targets render
// with "(deleted)" in place of the memory text.
type LinkedMemory struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
	Type       string  `json:"type"`
	Memory     string  `json:"memory"`
	Agent      string  `json:"agent,omitempty"`
	Category   string  `json:"category,omitempty"`
}

// LinksResult describes a memory and its neighbors.
type LinksResult struct {
	ID       string         `json:"id"`
	Memory   string         `json:"memory"`
	Agent    string         `json:"agent"`
	Category string         `json:"category"`
	Links    []LinkedMemory `json:"links"`
}

// Links returns a memory's neighborhood.
func (e *Engine) Links(id string) (*LinksResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	m, ok := e.byID[id]
	if !ok {
		return nil, notFoundf("memory %s", id)
	}

	out := &LinksResult{ID: m.ID, Memory: m.Text, Agent: m.Agent, Category: m.Category}
	for _, l := range m.Links {
		entry := LinkedMemory{ID: l.TargetID, Similarity: l.Similarity, Type: l.Type}
		if target, ok := e.byID[l.TargetID]; ok {
			entry.Memory = target.Text
			entry.Agent = target.Agent
			entry.Category = target.Category
		} else {
			entry.Memory = "(deleted)"
		}
		out.Links = append(out.Links, entry)
	}
	return out, nil
}

// Link upserts a bidirectional link between two memories, replacing any
// existing edge for the pair.
func (e *Engine) Link(src, dst, linkType string, sim float64) error {
	if src == dst {
		return invalidf("cannot link a memory to itself")
	}
	if linkType == "" {
		linkType = memory.LinkRelated
	}
	if sim <= 0 || sim > 1 {
		sim = 1.0
	}

	e.mu.Lock()
	a, ok := e.byID[src]
	if !ok {
		e.mu.Unlock()
		return notFoundf("memory %s", src)
	}
	b, ok := e.byID[dst]
	if !ok {
		e.mu.Unlock()
		return notFoundf("memory %s", dst)
	}

	now := e.now()
	upsertLink(a, dst, sim, linkType)
	upsertLink(b, src, sim, linkType)
	a.UpdatedAt = now
	b.UpdatedAt = now

	if err := e.persistMemories(a, b); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	e.emit(EventLink, map[string]any{"source": src, "target": dst, "type": linkType, "similarity": sim})
	return nil
}

// Unlink removes the edge between two memories in both directions. The
// returned flag reports whether anything was removed.
func (e *Engine) Unlink(src, dst string) (bool, error) {
	e.mu.Lock()
	a, ok := e.byID[src]
	if !ok {
		e.mu.Unlock()
		return false, notFoundf("memory %s", src)
	}
	b, ok := e.byID[dst]
	if !ok {
		e.mu.Unlock()
		return false, notFoundf("memory %s", dst)
	}

	removedA := removeLink(a, dst)
	removedB := removeLink(b, src)
	removed := removedA || removedB
	if removed {
		now := e.now()
		a.UpdatedAt = now
		b.UpdatedAt = now
		if err := e.persistMemories(a, b); err != nil {
			e.mu.Unlock()
			return false, err
		}
	}
	e.mu.Unlock()
	return removed, nil
}

// TraverseNode is one node of a BFS traversal, annotated with the minimum
// hop distance and the similarity of the incoming edge.
type TraverseNode struct {
	ID         string  `json:"id"`
	Memory     string  `json:"memory"`
	Agent      string  `json:"agent"`
	Category   string  `json:"category"`
	Hop        int     `json:"hop"`
	Similarity float64 `json:"similarity"`
}

// Traverse walks the graph breadth-first from start, following only links
// of the allowed types (all types when empty), up to maxHops. Nodes come
// back sorted by (hop asc, similarity desc).
func (e *Engine) Traverse(start string, maxHops int, types []string) ([]TraverseNode, error) {
	if maxHops <= 0 {
		maxHops = 2
	}
	allowed := typeSet(types)

	e.mu.RLock()
	defer e.mu.RUnlock()

	origin, ok := e.byID[start]
	if !ok {
		return nil, notFoundf("memory %s", start)
	}

	visited := map[string]*TraverseNode{
		origin.ID: {ID: origin.ID, Memory: origin.Text, Agent: origin.Agent, Category: origin.Category, Hop: 0, Similarity: 1.0},
	}
	queue := []*memory.Memory{origin}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		node := visited[current.ID]
		if node.Hop >= maxHops {
			continue
		}
		for _, l := range current.Links {
			if allowed != nil {
				if _, ok := allowed[l.Type]; !ok {
					continue
				}
			}
			if _, seen := visited[l.TargetID]; seen {
				continue
			}
			target, ok := e.byID[l.TargetID]
			if !ok {
				continue
			}
			visited[target.ID] = &TraverseNode{
				ID: target.ID, Memory: target.Text, Agent: target.Agent, Category: target.Category,
				Hop: node.Hop + 1, Similarity: l.Similarity,
			}
			queue = append(queue, target)
		}
	}

	nodes := make([]TraverseNode, 0, len(visited))
	for _, n := range visited {
		nodes = append(nodes, *n)
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Hop != nodes[j].Hop {
			return nodes[i].Hop < nodes[j].Hop
		}
		return nodes[i].Similarity > nodes[j].Similarity
	})
	return nodes, nil
}

// PathResult is the outcome of a shortest-path query.
type PathResult struct {
	Found bool     `json:"found"`
	Hops  int      `json:"hops"`
	Path  []string `json:"path,omitempty"`
}

// Path finds the shortest link path between two memories by BFS.
func (e *Engine) Path(a, b string, types []string) (*PathResult, error) {
	allowed := typeSet(types)

	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.byID[a]; !ok {
		return nil, notFoundf("memory %s", a)
	}
	if _, ok := e.byID[b]; !ok {
		return nil, notFoundf("memory %s", b)
	}

	if a == b {
		return &PathResult{Found: true, Hops: 0, Path: []string{a}}, nil
	}

	parent := map[string]string{a: ""}
	queue := []string{a}
	for len(queue) > 0 && parent[b] == "" {
		currentID := queue[0]
		queue = queue[1:]
		current := e.byID[currentID]
		if current == nil {
			continue
		}
		for _, l := range current.Links {
			if allowed != nil {
				if _, ok := allowed[l.Type]; !ok {
					continue
				}
			}
			if _, seen := parent[l.TargetID]; seen {
				continue
			}
			if _, ok := e.byID[l.TargetID]; !ok {
				continue
			}
			parent[l.TargetID] = currentID
			if l.TargetID == b {
				queue = nil
				break
			}
			queue = append(queue, l.TargetID)
		}
	}

	if _, reached := parent[b]; !reached {
		return &PathResult{Found: false, Hops: 0}, nil
	}

	var path []string
	for id := b; id != ""; id = parent[id] {
		path = append([]string{id}, path...)
	}
	return &PathResult{Found: true, Hops: len(path) - 1, Path: path}, nil
}

// Cluster is one connected component of the link graph.
type Cluster struct {
	Size        int            `json:"size"`
	MemoryIDs   []string       `json:"memory_ids"`
	AgentCounts map[string]int `json:"agent_counts"`
	TopTags     []TagCount     `json:"top_tags,omitempty"`
	Label       string         `json:"label,omitempty"`
}

// TagCount pairs a tag with its frequency inside a cluster.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// Clusters finds connected components by undirected traversal over all
// link types and returns those of at least minSize, largest first. A
// component overlapping a labeled cluster's ids by at least half carries
// that cluster's label.
func (e *Engine) Clusters(minSize int) []Cluster {
	if minSize <= 0 {
		minSize = 2
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	components := e.components()

	var out []Cluster
	for _, comp := range components {
		if len(comp) < minSize {
			continue
		}
		c := Cluster{Size: len(comp), AgentCounts: make(map[string]int)}
		tagCounts := make(map[string]int)
		for _, m := range comp {
			c.MemoryIDs = append(c.MemoryIDs, m.ID)
			c.AgentCounts[m.Agent]++
			for _, tag := range m.Tags {
				tagCounts[tag]++
			}
		}
		c.TopTags = topTags(tagCounts, 5)
		c.Label = e.matchLabel(c.MemoryIDs)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Size > out[j].Size })
	return out
}

// components returns the connected components of the link graph in
// canonical list order. Must be called with the mutex held.
func (e *Engine) components() [][]*memory.Memory {
	visited := make(map[string]bool, len(e.memories))
	var components [][]*memory.Memory

	for _, root := range e.memories {
		if visited[root.ID] {
			continue
		}
		var comp []*memory.Memory
		queue := []*memory.Memory{root}
		visited[root.ID] = true
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			comp = append(comp, current)
			for _, l := range current.Links {
				if visited[l.TargetID] {
					continue
				}
				target, ok := e.byID[l.TargetID]
				if !ok {
					continue
				}
				visited[target.ID] = true
				queue = append(queue, target)
			}
		}
		components = append(components, comp)
	}
	return components
}

// matchLabel returns the label of a labeled cluster whose ids overlap the
// component by at least 50%.
func (e *Engine) matchLabel(ids []string) string {
	idSet := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}
	for _, lc := range e.clusters {
		if len(lc.MemoryIDs) == 0 {
			continue
		}
		overlap := 0
		for _, id := range lc.MemoryIDs {
			if _, ok := idSet[id]; ok {
				overlap++
			}
		}
		if overlap*2 >= len(lc.MemoryIDs) {
			return lc.Label
		}
	}
	return ""
}

func topTags(counts map[string]int, n int) []TagCount {
	out := make([]TagCount, 0, len(counts))
	for tag, count := range counts {
		out = append(out, TagCount{Tag: tag, Count: count})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Orphan is a weakly-connected memory annotated with decay strength.
type Orphan struct {
	ID       string  `json:"id"`
	Memory   string  `json:"memory"`
	Agent    string  `json:"agent"`
	Links    int     `json:"links"`
	Strength float64 `json:"strength"`
	AgeDays  float64 `json:"age_days"`
}

// Orphans lists memories with at most maxLinks links, weakest first.
func (e *Engine) Orphans(agent string, maxLinks int) []Orphan {
	e.mu.RLock()
	defer e.mu.RUnlock()

	now := e.now()
	var out []Orphan
	for _, m := range e.memories {
		if agent != "" && m.Agent != agent {
			continue
		}
		if len(m.Links) > maxLinks {
			continue
		}
		age := now.Sub(m.CreatedAt).Hours() / 24
		out = append(out, Orphan{
			ID:       m.ID,
			Memory:   m.Text,
			Agent:    m.Agent,
			Links:    len(m.Links),
			Strength: e.strengthOf(m, now),
			AgeDays:  age,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Strength < out[j].Strength })
	return out
}

// strengthOf computes the decay strength of a memory at the given time.
func (e *Engine) strengthOf(m *memory.Memory, now time.Time) float64 {
	return scoring.Strength(scoring.DecayInput{
		Importance:  m.Importance,
		Category:    m.Category,
		Stability:   m.Stability,
		AgeDays:     now.Sub(m.CreatedAt).Hours() / 24,
		TouchDays:   now.Sub(m.UpdatedAt).Hours() / 24,
		AccessCount: m.AccessCount,
		LinkCount:   len(m.Links),
	}, e.opts.HalfLifeDays)
}

func typeSet(types []string) map[string]struct{} {
	if len(types) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}
