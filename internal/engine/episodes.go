package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/similarity"
)

// CreateEpisode groups existing memory ids under a name. Agents and the
// time range are computed from the members.
func (e *Engine) CreateEpisode(name string, ids []string, tags []string, metadata map[string]string) (*memory.Episode, error) {
	if strings.TrimSpace(name) == "" {
		return nil, invalidf("episode name is required")
	}
	if len(ids) == 0 {
		return nil, invalidf("episode requires at least one memory id")
	}

	e.mu.Lock()
	members, err := e.resolveMembers(ids)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	now := e.now()
	ep := &memory.Episode{
		ID:        e.store.GenEpisodeID(),
		Name:      name,
		MemoryIDs: append([]string(nil), ids...),
		Tags:      normalizeTags(tags),
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	recomputeEpisode(ep, members)

	e.episodes = append(e.episodes, ep)
	if err := e.persistEpisodes(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	e.emit(EventEpisodeCreate, ep)
	return ep, nil
}

// CaptureEpisode creates an episode from every memory of an agent whose
// effective time falls inside [start, end]. Fails when fewer than
// minMemories match.
func (e *Engine) CaptureEpisode(agent, name string, start, end time.Time, minMemories int) (*memory.Episode, error) {
	if minMemories <= 0 {
		minMemories = 1
	}

	e.mu.Lock()
	var ids []string
	for _, m := range e.memories {
		if agent != "" && m.Agent != agent {
			continue
		}
		when := m.EffectiveTime()
		if when.Before(start) || when.After(end) {
			continue
		}
		ids = append(ids, m.ID)
	}
	e.mu.Unlock()

	if len(ids) < minMemories {
		return nil, invalidf("only %d memories in range, need %d", len(ids), minMemories)
	}
	if name == "" {
		name = fmt.Sprintf("%s %s", agent, start.Format("2006-01-02"))
	}
	return e.CreateEpisode(name, ids, nil, nil)
}

// AddToEpisode appends memory ids to an episode, recomputing its agents
// and time range.
func (e *Engine) AddToEpisode(epID string, ids []string) (*memory.Episode, error) {
	return e.updateEpisodeMembers(epID, func(ep *memory.Episode) {
		have := make(map[string]struct{}, len(ep.MemoryIDs))
		for _, id := range ep.MemoryIDs {
			have[id] = struct{}{}
		}
		for _, id := range ids {
			if _, ok := have[id]; !ok {
				ep.MemoryIDs = append(ep.MemoryIDs, id)
			}
		}
	})
}

// RemoveFromEpisode drops memory ids from an episode.
func (e *Engine) RemoveFromEpisode(epID string, ids []string) (*memory.Episode, error) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	return e.updateEpisodeMembers(epID, func(ep *memory.Episode) {
		kept := ep.MemoryIDs[:0]
		for _, id := range ep.MemoryIDs {
			if _, gone := drop[id]; !gone {
				kept = append(kept, id)
			}
		}
		ep.MemoryIDs = kept
	})
}

func (e *Engine) updateEpisodeMembers(epID string, mutate func(*memory.Episode)) (*memory.Episode, error) {
	e.mu.Lock()
	ep := e.findEpisode(epID)
	if ep == nil {
		e.mu.Unlock()
		return nil, notFoundf("episode %s", epID)
	}

	mutate(ep)
	members := e.presentMembers(ep.MemoryIDs)
	recomputeEpisode(ep, members)
	ep.UpdatedAt = e.now()

	if err := e.persistEpisodes(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	e.emit(EventEpisodeUpdate, ep)
	return ep, nil
}

// EpisodeFilter narrows a ListEpisodes call.
type EpisodeFilter struct {
	Agent string
	Tag   string
	Since *time.Time
	Limit int
}

// ListEpisodes returns episodes newest first, optionally filtered.
func (e *Engine) ListEpisodes(f EpisodeFilter) []*memory.Episode {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []*memory.Episode
	for _, ep := range e.episodes {
		if f.Agent != "" && !containsString(ep.Agents, f.Agent) {
			continue
		}
		if f.Tag != "" && !containsString(ep.Tags, f.Tag) {
			continue
		}
		if f.Since != nil && ep.TimeRange.End.Before(*f.Since) {
			continue
		}
		out = append(out, ep)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// GetEpisode returns an episode by id.
func (e *Engine) GetEpisode(id string) (*memory.Episode, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ep := e.findEpisode(id)
	if ep == nil {
		return nil, notFoundf("episode %s", id)
	}
	return ep, nil
}

// SearchEpisode searches within an episode's members: semantically when an
// embedding is available, by substring otherwise.
func (e *Engine) SearchEpisode(ctx context.Context, epID, query string, limit int) ([]*SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, invalidf("query is required")
	}
	if limit <= 0 {
		limit = 10
	}

	queryVec := e.embedQuery(ctx, []string{query})[0]

	e.mu.RLock()
	ep := e.findEpisode(epID)
	if ep == nil {
		e.mu.RUnlock()
		return nil, notFoundf("episode %s", epID)
	}
	members := e.presentMembers(ep.MemoryIDs)

	var hits []*SearchHit
	if len(queryVec) > 0 {
		for _, m := range members {
			if len(m.Embedding) == 0 {
				continue
			}
			sim, err := similarity.Cosine(queryVec, m.Embedding)
			if err != nil {
				continue
			}
			hits = append(hits, &SearchHit{Memory: m, Relevance: sim, Score: sim})
		}
	}
	if len(hits) == 0 {
		needle := strings.ToLower(query)
		for _, m := range members {
			if strings.Contains(strings.ToLower(m.Text), needle) {
				hits = append(hits, &SearchHit{Memory: m, Relevance: 1, Score: 1})
			}
		}
	}
	e.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// SummarizeEpisode asks the chat adapter for a summary of the episode's
// member texts and stores it on the episode.
func (e *Engine) SummarizeEpisode(ctx context.Context, epID string) (string, error) {
	e.mu.RLock()
	chatter := e.chatter
	ep := e.findEpisode(epID)
	if ep == nil {
		e.mu.RUnlock()
		return "", notFoundf("episode %s", epID)
	}
	if chatter == nil {
		e.mu.RUnlock()
		return "", fmt.Errorf("%w: episode summarization requires a chat adapter", ErrAdapterMissing)
	}
	members := e.presentMembers(ep.MemoryIDs)
	var texts []string
	for _, m := range members {
		texts = append(texts, "- "+m.Text)
	}
	e.mu.RUnlock()

	prompt := fmt.Sprintf("Summarize the following %d memories from the episode %q in one short paragraph. Preserve concrete facts and decisions.\n\n%s",
		len(texts), ep.Name, strings.Join(texts, "\n"))
	summary, err := chatter.Chat(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("episode summarization failed: %w", err)
	}
	summary = strings.TrimSpace(summary)

	e.mu.Lock()
	ep.Summary = summary
	ep.UpdatedAt = e.now()
	if err := e.persistEpisodes(); err != nil {
		e.mu.Unlock()
		return "", err
	}
	e.mu.Unlock()

	e.emit(EventEpisodeSummarize, ep)
	return summary, nil
}

// DeleteEpisode removes an episode. Member memories are untouched.
func (e *Engine) DeleteEpisode(id string) error {
	e.mu.Lock()
	idx := -1
	for i, ep := range e.episodes {
		if ep.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		e.mu.Unlock()
		return notFoundf("episode %s", id)
	}
	ep := e.episodes[idx]
	e.episodes = append(e.episodes[:idx], e.episodes[idx+1:]...)
	if err := e.persistEpisodes(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	e.emit(EventEpisodeDelete, ep)
	return nil
}

func (e *Engine) findEpisode(id string) *memory.Episode {
	for _, ep := range e.episodes {
		if ep.ID == id {
			return ep
		}
	}
	return nil
}

// resolveMembers maps ids to memories, failing on the first unknown id.
func (e *Engine) resolveMembers(ids []string) ([]*memory.Memory, error) {
	members := make([]*memory.Memory, 0, len(ids))
	for _, id := range ids {
		m, ok := e.byID[id]
		if !ok {
			return nil, notFoundf("memory %s", id)
		}
		members = append(members, m)
	}
	return members, nil
}

// presentMembers maps ids to memories, skipping ones that no longer exist.
func (e *Engine) presentMembers(ids []string) []*memory.Memory {
	members := make([]*memory.Memory, 0, len(ids))
	for _, id := range ids {
		if m, ok := e.byID[id]; ok {
			members = append(members, m)
		}
	}
	return members
}

// recomputeEpisode refreshes the derived agents list and time range from
// the member memories.
func recomputeEpisode(ep *memory.Episode, members []*memory.Memory) {
	agentSet := make(map[string]struct{})
	ep.Agents = ep.Agents[:0]
	var start, end time.Time
	for _, m := range members {
		if _, ok := agentSet[m.Agent]; !ok {
			agentSet[m.Agent] = struct{}{}
			ep.Agents = append(ep.Agents, m.Agent)
		}
		when := m.EffectiveTime()
		if start.IsZero() || when.Before(start) {
			start = when
		}
		if end.IsZero() || when.After(end) {
			end = when
		}
	}
	ep.TimeRange = memory.TimeRange{Start: start, End: end}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
