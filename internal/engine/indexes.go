package engine

import (
	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/similarity"
)

// claimKey builds the (subject, predicate) index key. NUL never appears in
// validated claim fields.
func claimKey(subject, predicate string) string {
	return subject + "\x00" + predicate
}

// indexMemory adds a memory to the id, token and claim indexes.
// Must be called with the mutex held.
func (e *Engine) indexMemory(m *memory.Memory) {
	e.byID[m.ID] = m

	for _, tok := range similarity.Tokenize(m.Text) {
		set, ok := e.tokenIndex[tok]
		if !ok {
			set = make(map[string]struct{})
			e.tokenIndex[tok] = set
		}
		set[m.ID] = struct{}{}
	}

	if m.Claim != nil && m.Claim.Subject != "" && m.Claim.Predicate != "" {
		key := claimKey(m.Claim.Subject, m.Claim.Predicate)
		set, ok := e.claimIndex[key]
		if !ok {
			set = make(map[string]struct{})
			e.claimIndex[key] = set
		}
		set[m.ID] = struct{}{}
	}
}

// deindexMemory removes a memory from all indexes.
// Must be called with the mutex held.
func (e *Engine) deindexMemory(m *memory.Memory) {
	delete(e.byID, m.ID)
	e.deindexText(m)

	if m.Claim != nil && m.Claim.Subject != "" && m.Claim.Predicate != "" {
		key := claimKey(m.Claim.Subject, m.Claim.Predicate)
		if set, ok := e.claimIndex[key]; ok {
			delete(set, m.ID)
			if len(set) == 0 {
				delete(e.claimIndex, key)
			}
		}
	}
}

// deindexText removes only the token index entries for a memory's current
// text. Used by the evolve path before an in-place edit.
func (e *Engine) deindexText(m *memory.Memory) {
	for _, tok := range similarity.Tokenize(m.Text) {
		if set, ok := e.tokenIndex[tok]; ok {
			delete(set, m.ID)
			if len(set) == 0 {
				delete(e.tokenIndex, tok)
			}
		}
	}
}

// reindexText adds token index entries for a memory's current text.
func (e *Engine) reindexText(m *memory.Memory) {
	for _, tok := range similarity.Tokenize(m.Text) {
		set, ok := e.tokenIndex[tok]
		if !ok {
			set = make(map[string]struct{})
			e.tokenIndex[tok] = set
		}
		set[m.ID] = struct{}{}
	}
}

// claimHolders returns the memories indexed under (subject, predicate).
func (e *Engine) claimHolders(subject, predicate string) []*memory.Memory {
	set, ok := e.claimIndex[claimKey(subject, predicate)]
	if !ok {
		return nil
	}
	out := make([]*memory.Memory, 0, len(set))
	// Walk the canonical list to keep ordering deterministic.
	for _, m := range e.memories {
		if _, hit := set[m.ID]; hit {
			out = append(out, m)
		}
	}
	return out
}

// removeFromList deletes ids from the canonical list and all indexes, and
// prunes broken links on the survivors. Returns the survivors whose links
// changed. Must be called with the mutex held.
func (e *Engine) removeFromList(ids map[string]struct{}) []*memory.Memory {
	if len(ids) == 0 {
		return nil
	}
	kept := e.memories[:0]
	for _, m := range e.memories {
		if _, gone := ids[m.ID]; gone {
			e.deindexMemory(m)
			continue
		}
		kept = append(kept, m)
	}
	e.memories = kept
	return e.pruneBrokenLinks()
}

// pruneBrokenLinks drops link halves whose target no longer exists and
// returns the memories that changed.
func (e *Engine) pruneBrokenLinks() []*memory.Memory {
	var changed []*memory.Memory
	for _, m := range e.memories {
		kept := m.Links[:0]
		for _, l := range m.Links {
			if _, ok := e.byID[l.TargetID]; ok {
				kept = append(kept, l)
			}
		}
		if len(kept) != len(m.Links) {
			changed = append(changed, m)
		}
		m.Links = kept
	}
	return changed
}

// upsertLink replaces or adds the forward link on src toward dst.
func upsertLink(src *memory.Memory, dst string, sim float64, linkType string) {
	for i, l := range src.Links {
		if l.TargetID == dst {
			src.Links[i] = memory.Link{TargetID: dst, Similarity: sim, Type: linkType}
			return
		}
	}
	src.Links = append(src.Links, memory.Link{TargetID: dst, Similarity: sim, Type: linkType})
}

// removeLink drops any link on src toward dst. Returns true when one was
// removed.
func removeLink(src *memory.Memory, dst string) bool {
	for i, l := range src.Links {
		if l.TargetID == dst {
			src.Links = append(src.Links[:i], src.Links[i+1:]...)
			return true
		}
	}
	return false
}
