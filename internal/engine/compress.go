package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/similarity"
)

// CompressOptions shape a compression run.
type CompressOptions struct {
	Method           string // extractive (default) or llm
	ArchiveOriginals bool
	Agent            string // digest owner; defaults to the first source's agent
	episodeID        string
}

// CompressResult reports a produced digest.
type CompressResult struct {
	DigestID    string `json:"digest_id"`
	SourceCount int    `json:"source_count"`
	Summary     string `json:"summary"`
	Archived    int    `json:"archived,omitempty"`
}

// Compress folds two or more memories into a digest memory linked to its
// sources by digest_of / digested_into edges. The digest inherits the
// maximum source importance and the union of source tags.
func (e *Engine) Compress(ctx context.Context, ids []string, opts *CompressOptions) (*CompressResult, error) {
	if opts == nil {
		opts = &CompressOptions{}
	}
	if len(ids) < 2 {
		return nil, invalidf("compression requires at least 2 memory ids")
	}
	method := opts.Method
	if method == "" {
		method = memory.CompressExtractive
	}
	if method != memory.CompressExtractive && method != memory.CompressLLM {
		return nil, invalidf("unknown compression method: %s", method)
	}

	e.mu.RLock()
	sources, err := e.resolveMembers(ids)
	if err != nil {
		e.mu.RUnlock()
		return nil, err
	}
	chatter := e.chatter
	e.mu.RUnlock()

	var summary string
	switch method {
	case memory.CompressExtractive:
		summary = extractiveSummary(sources)
	case memory.CompressLLM:
		if chatter == nil {
			return nil, fmt.Errorf("%w: llm compression requires a chat adapter", ErrAdapterMissing)
		}
		var texts []string
		for _, m := range sources {
			texts = append(texts, "- "+m.Text)
		}
		prompt := fmt.Sprintf("Compress the following %d memories into one paragraph. Preserve every concrete fact and decision; drop redundancy.\n\n%s",
			len(sources), strings.Join(texts, "\n"))
		summary, err = chatter.Chat(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("llm compression failed: %w", err)
		}
		summary = strings.TrimSpace(summary)
	}

	embedding := e.embedOne(ctx, summary)

	e.mu.Lock()
	// Re-resolve under the write lock; a source may have been pruned since.
	sources, err = e.resolveMembers(ids)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	now := e.now()
	maxImportance := 0.0
	tagSet := make(map[string]struct{})
	var tags []string
	agent := opts.Agent
	for _, m := range sources {
		if m.Importance > maxImportance {
			maxImportance = m.Importance
		}
		for _, tag := range m.Tags {
			if _, ok := tagSet[tag]; !ok {
				tagSet[tag] = struct{}{}
				tags = append(tags, tag)
			}
		}
		if agent == "" {
			agent = m.Agent
		}
	}

	digest := &memory.Memory{
		ID:         e.store.GenID(),
		Agent:      agent,
		Text:       summary,
		Category:   "digest",
		Importance: maxImportance,
		Tags:       tags,
		Embedding:  embedding,
		CreatedAt:  now,
		UpdatedAt:  now,
		Provenance: memory.Provenance{Source: memory.SourceSystem, Corroboration: 1},
		Status:     memory.StatusActive,
		Compressed: &memory.Compressed{
			SourceIDs:    append([]string(nil), ids...),
			SourceCount:  len(ids),
			Method:       method,
			CompressedAt: now,
			EpisodeID:    opts.episodeID,
		},
	}
	refreshTrust(digest, now)

	touched := []*memory.Memory{digest}
	for _, m := range sources {
		upsertLink(digest, m.ID, 1.0, memory.LinkDigestOf)
		upsertLink(m, digest.ID, 1.0, memory.LinkDigestedInto)
		m.UpdatedAt = now
		touched = append(touched, m)
	}

	e.memories = append(e.memories, digest)
	e.indexMemory(digest)

	result := &CompressResult{DigestID: digest.ID, SourceCount: len(ids), Summary: summary}

	if opts.ArchiveOriginals {
		if err := e.appendArchive(sources, "compressed"); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		removed := make(map[string]struct{}, len(sources))
		var removedIDs []string
		for _, m := range sources {
			removed[m.ID] = struct{}{}
			removedIDs = append(removedIDs, m.ID)
		}
		e.removeFromList(removed)
		result.Archived = len(sources)
		if err := e.persistRemovals(removedIDs); err != nil {
			e.mu.Unlock()
			return nil, err
		}
		touched = []*memory.Memory{digest}
	}

	if err := e.persistMemories(touched...); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	e.emit(EventCompress, result)
	return result, nil
}

// CompressEpisode compresses an episode's members and stamps the digest
// with the episode id.
func (e *Engine) CompressEpisode(ctx context.Context, epID string, opts *CompressOptions) (*CompressResult, error) {
	e.mu.RLock()
	ep := e.findEpisode(epID)
	e.mu.RUnlock()
	if ep == nil {
		return nil, notFoundf("episode %s", epID)
	}
	if opts == nil {
		opts = &CompressOptions{}
	}
	opts.episodeID = epID
	return e.Compress(ctx, ep.MemoryIDs, opts)
}

// CompressCluster compresses the nth auto-detected cluster (largest first).
func (e *Engine) CompressCluster(ctx context.Context, index int, opts *CompressOptions) (*CompressResult, error) {
	clusters := e.Clusters(2)
	if index < 0 || index >= len(clusters) {
		return nil, notFoundf("cluster index %d (have %d)", index, len(clusters))
	}
	return e.Compress(ctx, clusters[index].MemoryIDs, opts)
}

// AutoCompressOptions tune an auto-compression sweep.
type AutoCompressOptions struct {
	MaxDigests       int
	MinClusterSize   int
	ArchiveOriginals bool
	Agent            string
}

// AutoCompress compresses auto-detected clusters, skipping any that
// already contain a digest.
func (e *Engine) AutoCompress(ctx context.Context, opts *AutoCompressOptions) ([]*CompressResult, error) {
	if opts == nil {
		opts = &AutoCompressOptions{}
	}
	maxDigests := opts.MaxDigests
	if maxDigests <= 0 {
		maxDigests = 3
	}
	minSize := opts.MinClusterSize
	if minSize <= 0 {
		minSize = 3
	}

	clusters := e.Clusters(minSize)

	var results []*CompressResult
	for _, c := range clusters {
		if len(results) >= maxDigests {
			break
		}
		if e.clusterHasDigest(c.MemoryIDs) {
			continue
		}
		r, err := e.Compress(ctx, c.MemoryIDs, &CompressOptions{
			ArchiveOriginals: opts.ArchiveOriginals,
			Agent:            opts.Agent,
		})
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

func (e *Engine) clusterHasDigest(ids []string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, id := range ids {
		if m, ok := e.byID[id]; ok && (m.Category == "digest" || m.Compressed != nil) {
			return true
		}
	}
	return false
}

// extractiveSummary orders sources by importance and concatenates each text
// that contributes at least one new token.
func extractiveSummary(sources []*memory.Memory) string {
	ordered := append([]*memory.Memory(nil), sources...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Importance > ordered[j].Importance })

	seen := make(map[string]struct{})
	var parts []string
	for _, m := range ordered {
		tokens := similarity.Tokenize(m.Text)
		contributes := len(parts) == 0
		for _, tok := range tokens {
			if _, ok := seen[tok]; !ok {
				contributes = true
				break
			}
		}
		if !contributes {
			continue
		}
		parts = append(parts, m.Text)
		for _, tok := range tokens {
			seen[tok] = struct{}{}
		}
	}
	return strings.Join(parts, " ")
}
