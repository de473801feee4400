package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/engramkit/engram/internal/ai"
	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/similarity"
)

// evolveCandidateFloor is the similarity a memory needs to be considered by
// the evolve classifier.
const evolveCandidateFloor = 0.6

// evolveClassification is the strict JSON shape the chat adapter must
// return: candidate indices that conflict with or are updated by the new
// text.
type evolveClassification struct {
	Conflicts []int `json:"conflicts"`
	Updates   []int `json:"updates"`
	Novel     bool  `json:"novel"`
}

// EvolveResult reports what the evolve path did with the new text.
type EvolveResult struct {
	Action   string       `json:"action"` // updated, stored
	ID       string       `json:"id"`
	Archived []string     `json:"archived,omitempty"`
	Store    *StoreResult `json:"store,omitempty"`
	Error    string       `json:"error,omitempty"` // LLM failures surface here, never fatal
}

// Evolve is the legacy LLM-backed conflict resolution path. It classifies
// the new text against the most similar existing memories: conflicting
// memories are archived, the first update edits the existing memory's text
// in place, and otherwise the text falls through to the normal store path
// with supersedes links to anything just archived.
//
// Calls faster than the configured minimum interval sleep the difference.
func (e *Engine) Evolve(ctx context.Context, agent, text string, opts *StoreOptions) (*EvolveResult, error) {
	if opts == nil {
		opts = &StoreOptions{}
	}
	if err := e.validateStore(agent, text, opts); err != nil {
		return nil, err
	}

	e.throttleEvolve()

	embedding := e.embedOne(ctx, text)

	candidates := e.evolveCandidates(embedding)

	result := &EvolveResult{}
	var classification evolveClassification
	classification.Novel = true

	e.mu.RLock()
	chatter := e.chatter
	e.mu.RUnlock()

	if chatter != nil && len(candidates) > 0 {
		parsed, err := e.classifyEvolve(ctx, chatter, text, candidates)
		if err != nil {
			// Detection errors are isolated; the text still gets stored.
			result.Error = err.Error()
		} else {
			classification = parsed
		}
	}

	// Archive conflicting memories first.
	if len(classification.Conflicts) > 0 {
		archived, err := e.archiveConflicts(classification.Conflicts, candidates)
		if err != nil {
			return nil, err
		}
		result.Archived = archived
	}

	// The first update edits the existing memory's text in place.
	if len(classification.Updates) > 0 {
		idx := classification.Updates[0]
		target := candidates[idx].mem
		if err := e.applyTextUpdate(ctx, target, text, opts); err != nil {
			return nil, err
		}
		result.Action = "updated"
		result.ID = target.ID
		return result, nil
	}

	// Novel: normal store path, then supersedes links to the archived
	// conflicts.
	stored, err := e.Store(ctx, agent, text, opts)
	if err != nil {
		return nil, err
	}
	result.Action = "stored"
	result.ID = stored.ID
	result.Store = stored

	if len(result.Archived) > 0 {
		e.mu.Lock()
		if m, ok := e.byID[stored.ID]; ok {
			now := e.now()
			for _, archivedID := range result.Archived {
				m.Supersedes = append(m.Supersedes, archivedID)
				upsertLink(m, archivedID, 1.0, memory.LinkSupersedes)
			}
			m.UpdatedAt = now
			if err := e.persistMemories(m); err != nil {
				e.mu.Unlock()
				return nil, err
			}
		}
		e.mu.Unlock()
	}
	return result, nil
}

// throttleEvolve sleeps whatever remains of the minimum interval since the
// last call.
func (e *Engine) throttleEvolve() {
	e.mu.Lock()
	now := e.now()
	var wait = e.opts.EvolveMinInterval - now.Sub(e.lastEvolve)
	e.lastEvolve = now
	e.mu.Unlock()

	if wait > 0 && wait <= e.opts.EvolveMinInterval {
		e.sleep(wait)
	}
}

// evolveCandidates returns the top 10 most similar embedded memories above
// the candidate floor.
func (e *Engine) evolveCandidates(embedding []float64) []relatedMemory {
	if len(embedding) == 0 {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out []relatedMemory
	for _, m := range e.memories {
		if m.Status != memory.StatusActive || len(m.Embedding) == 0 {
			continue
		}
		sim, err := similarity.Cosine(embedding, m.Embedding)
		if err != nil || sim <= evolveCandidateFloor {
			continue
		}
		out = append(out, relatedMemory{mem: m, sim: sim})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].sim > out[j].sim })
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

// classifyEvolve asks the chat adapter to bucket candidates and validates
// the answer strictly: JSON only, every index in bounds.
func (e *Engine) classifyEvolve(ctx context.Context, chatter ai.Chatter, text string, candidates []relatedMemory) (evolveClassification, error) {
	var lines []string
	for i, c := range candidates {
		lines = append(lines, fmt.Sprintf("%d: %s", i, c.mem.Text))
	}
	prompt := fmt.Sprintf(`A new memory arrives:
%q

Existing similar memories, numbered:
%s

Classify the relationship. Respond with JSON only:
{"conflicts": [indices the new memory contradicts], "updates": [indices it is a newer version of], "novel": true|false}`,
		text, strings.Join(lines, "\n"))

	answer, err := chatter.Chat(ctx, prompt)
	if err != nil {
		return evolveClassification{}, fmt.Errorf("evolve detection failed: %w", err)
	}

	var parsed evolveClassification
	if err := json.Unmarshal([]byte(extractJSON(answer)), &parsed); err != nil {
		return evolveClassification{}, fmt.Errorf("%w: %v", ErrLLMParse, err)
	}
	for _, idx := range append(append([]int(nil), parsed.Conflicts...), parsed.Updates...) {
		if idx < 0 || idx >= len(candidates) {
			return evolveClassification{}, fmt.Errorf("%w: index %d out of range", ErrLLMParse, idx)
		}
	}
	return parsed, nil
}

// archiveConflicts archives and removes the memories at the given
// candidate indices, stamping archived_reason.
func (e *Engine) archiveConflicts(indices []int, candidates []relatedMemory) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var toArchive []*memory.Memory
	var ids []string
	seen := make(map[int]struct{})
	for _, idx := range indices {
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		m := candidates[idx].mem
		if _, ok := e.byID[m.ID]; !ok {
			continue
		}
		toArchive = append(toArchive, m)
		ids = append(ids, m.ID)
	}
	if len(toArchive) == 0 {
		return nil, nil
	}

	if err := e.appendArchive(toArchive, "evolve_conflict"); err != nil {
		return nil, err
	}
	removed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		removed[id] = struct{}{}
	}
	e.removeFromList(removed)
	if err := e.persistRemovals(ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// applyTextUpdate edits an existing memory's text in place: deindex the old
// tokens, swap the text, raise importance, recompute the embedding, append
// an evolution entry, reindex, persist.
//
// Claim index entries are intentionally left untouched when the memory has
// no claim; existing claims keep their index key because subject and
// predicate do not change here.
func (e *Engine) applyTextUpdate(ctx context.Context, target *memory.Memory, text string, opts *StoreOptions) error {
	newEmbedding := e.embedOne(ctx, text)

	e.mu.Lock()
	if _, ok := e.byID[target.ID]; !ok {
		e.mu.Unlock()
		return notFoundf("memory %s", target.ID)
	}

	now := e.now()
	old := target.Text

	e.deindexText(target)
	target.Text = text
	if opts.Importance != nil && *opts.Importance > target.Importance {
		target.Importance = *opts.Importance
	}
	if len(newEmbedding) > 0 {
		target.Embedding = newEmbedding
	}
	target.Evolution = append(target.Evolution, memory.Evolution{
		From: old, To: text, Reason: "evolve_update", At: now,
	})
	target.UpdatedAt = now
	e.reindexText(target)

	err := e.persistMemories(target)
	e.mu.Unlock()
	return err
}
