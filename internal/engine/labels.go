package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/engramkit/engram/internal/memory"
)

// CreateCluster stores a user-named group of memory ids.
func (e *Engine) CreateCluster(label, description string, ids []string) (*memory.LabeledCluster, error) {
	if strings.TrimSpace(label) == "" {
		return nil, invalidf("cluster label is required")
	}
	if len(ids) == 0 {
		return nil, invalidf("cluster requires at least one memory id")
	}

	e.mu.Lock()
	if _, err := e.resolveMembers(ids); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	now := e.now()
	lc := &memory.LabeledCluster{
		ID:          e.store.GenClusterID(),
		Label:       label,
		Description: description,
		MemoryIDs:   append([]string(nil), ids...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	e.clusters = append(e.clusters, lc)
	if err := e.persistClusters(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	e.emit(EventClusterCreate, lc)
	return lc, nil
}

// ListClusters returns all labeled clusters.
func (e *Engine) ListClusters() []*memory.LabeledCluster {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*memory.LabeledCluster(nil), e.clusters...)
}

// GetCluster returns a labeled cluster by id.
func (e *Engine) GetCluster(id string) (*memory.LabeledCluster, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, lc := range e.clusters {
		if lc.ID == id {
			return lc, nil
		}
	}
	return nil, notFoundf("cluster %s", id)
}

// DeleteCluster removes a labeled cluster. Member memories are untouched.
func (e *Engine) DeleteCluster(id string) error {
	e.mu.Lock()
	idx := -1
	for i, lc := range e.clusters {
		if lc.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return notFoundf("cluster %s", id)
	}
	lc := e.clusters[idx]
	e.clusters = append(e.clusters[:idx], e.clusters[idx+1:]...)
	if err := e.persistClusters(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	e.emit(EventClusterDelete, lc)
	return nil
}

// RefreshCluster expands a labeled cluster to every memory transitively
// connected to its current members.
func (e *Engine) RefreshCluster(id string) (*memory.LabeledCluster, error) {
	e.mu.Lock()
	var lc *memory.LabeledCluster
	for _, cand := range e.clusters {
		if cand.ID == id {
			lc = cand
			break
		}
	}
	if lc == nil {
		e.mu.Unlock()
		return nil, notFoundf("cluster %s", id)
	}

	visited := make(map[string]bool)
	var queue []*memory.Memory
	for _, mid := range lc.MemoryIDs {
		if m, ok := e.byID[mid]; ok && !visited[m.ID] {
			visited[m.ID] = true
			queue = append(queue, m)
		}
	}
	var expanded []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		expanded = append(expanded, current.ID)
		for _, l := range current.Links {
			if visited[l.TargetID] {
				continue
			}
			if target, ok := e.byID[l.TargetID]; ok {
				visited[target.ID] = true
				queue = append(queue, target)
			}
		}
	}

	lc.MemoryIDs = expanded
	lc.UpdatedAt = e.now()
	if err := e.persistClusters(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()
	return lc, nil
}

// LabelCluster creates a labeled cluster from the nth auto-detected
// cluster (largest first).
func (e *Engine) LabelCluster(index int, label, description string) (*memory.LabeledCluster, error) {
	clusters := e.Clusters(2)
	if index < 0 || index >= len(clusters) {
		return nil, notFoundf("cluster index %d (have %d)", index, len(clusters))
	}
	return e.CreateCluster(label, description, clusters[index].MemoryIDs)
}

// clusterLabel is the JSON shape the auto-labeler expects back from the
// chat adapter.
type clusterLabel struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// AutoLabelClusters asks the chat adapter to name auto-detected clusters
// from a sample of their member texts and creates a labeled cluster for
// each conforming answer.
func (e *Engine) AutoLabelClusters(ctx context.Context, minSize, maxClusters int) ([]*memory.LabeledCluster, error) {
	e.mu.RLock()
	chatter := e.chatter
	e.mu.RUnlock()
	if chatter == nil {
		return nil, fmt.Errorf("%w: auto-labeling requires a chat adapter", ErrAdapterMissing)
	}
	if minSize <= 0 {
		minSize = 3
	}
	if maxClusters <= 0 {
		maxClusters = 5
	}

	clusters := e.Clusters(minSize)
	if len(clusters) > maxClusters {
		clusters = clusters[:maxClusters]
	}

	var out []*memory.LabeledCluster
	for _, c := range clusters {
		if c.Label != "" {
			continue // already covered by a labeled cluster
		}
		sample := e.sampleTexts(c.MemoryIDs, 5)
		prompt := fmt.Sprintf(`Name this group of related memories. Respond with JSON only: {"label": "...", "description": "..."}.

Memories:
%s`, strings.Join(sample, "\n"))

		answer, err := chatter.Chat(ctx, prompt)
		if err != nil {
			log.Warn("cluster labeling chat failed", "error", err)
			continue
		}
		var parsed clusterLabel
		if err := json.Unmarshal([]byte(extractJSON(answer)), &parsed); err != nil || parsed.Label == "" {
			log.Warn("cluster label response did not parse", "error", err)
			continue
		}
		lc, err := e.CreateCluster(parsed.Label, parsed.Description, c.MemoryIDs)
		if err != nil {
			return out, err
		}
		out = append(out, lc)
	}
	return out, nil
}

func (e *Engine) sampleTexts(ids []string, n int) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []string
	for _, id := range ids {
		if m, ok := e.byID[id]; ok {
			out = append(out, "- "+m.Text)
			if len(out) >= n {
				break
			}
		}
	}
	return out
}

// extractJSON trims chat noise around the first top-level JSON object.
func extractJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	end := strings.LastIndexAny(s, "}]")
	if end < start {
		return s
	}
	return s[start : end+1]
}
