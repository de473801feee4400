package engine

import (
	"context"
	"time"

	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/predicate"
	"github.com/engramkit/engram/internal/similarity"
)

// ContradictionCounts splits structural contradictions by outcome.
type ContradictionCounts struct {
	Resolved int `json:"resolved"`
	Pending  int `json:"pending"`
}

// CompressionCounts reports the stale-cluster compression phase.
type CompressionCounts struct {
	Clusters       int `json:"clusters"`
	SourceMemories int `json:"sourceMemories"`
}

// PruneCounts splits pruned memories by cause.
type PruneCounts struct {
	Superseded  int `json:"superseded"`
	Decayed     int `json:"decayed"`
	Disputed    int `json:"disputed"`
	Quarantined int `json:"quarantined"`
}

// GraphCounts is a total/active snapshot.
type GraphCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

// ConsolidateReport is the single report of a consolidation pass.
type ConsolidateReport struct {
	Deduplicated   int                 `json:"deduplicated"`
	Contradictions ContradictionCounts `json:"contradictions"`
	Corroborated   int                 `json:"corroborated"`
	Compressed     CompressionCounts   `json:"compressed"`
	Pruned         PruneCounts         `json:"pruned"`
	Before         GraphCounts         `json:"before"`
	After          GraphCounts         `json:"after"`
	DurationMS     int64               `json:"duration_ms"`
}

// Consolidate runs the full maintenance pass: embedding dedup, structural
// contradiction resolution, cross-source corroboration, stale-cluster
// compression, and pruning. A dry run produces the same report without
// mutating anything.
func (e *Engine) Consolidate(ctx context.Context, dryRun bool) (*ConsolidateReport, error) {
	started := time.Now()
	report := &ConsolidateReport{}

	e.mu.Lock()
	report.Before = e.countsLocked()

	// Phase 1: dedup near-identical embeddings, keeping the higher-trust
	// member active.
	dedupTouched, err := e.consolidateDedup(report, dryRun)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	// Phase 2: structural contradictions among active claims.
	contraTouched := e.consolidateContradictions(report, dryRun)

	// Phase 3: cross-source corroboration of near-duplicates below the
	// dedup threshold.
	corrTouched := e.consolidateCorroboration(report, dryRun)

	if !dryRun {
		touched := append(append(dedupTouched, contraTouched...), corrTouched...)
		if len(touched) > 0 {
			if err := e.persistMemories(touched...); err != nil {
				e.mu.Unlock()
				return nil, err
			}
		}
	}

	// Phase 4 runs through the public compression path, so gather the
	// eligible components before releasing the lock.
	staleClusters := e.staleClustersLocked()
	e.mu.Unlock()

	for i, ids := range staleClusters {
		if i >= 5 {
			break
		}
		report.Compressed.Clusters++
		report.Compressed.SourceMemories += len(ids)
		if dryRun {
			continue
		}
		if _, err := e.Compress(ctx, ids, &CompressOptions{ArchiveOriginals: true}); err != nil {
			return nil, err
		}
	}

	// Phase 5: prune.
	e.mu.Lock()
	if err := e.consolidatePrune(report, dryRun); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	report.After = e.countsLocked()
	e.mu.Unlock()

	report.DurationMS = time.Since(started).Milliseconds()
	if !dryRun {
		e.emit(EventConsolidate, report)
	}
	return report, nil
}

func (e *Engine) countsLocked() GraphCounts {
	c := GraphCounts{Total: len(e.memories)}
	for _, m := range e.memories {
		if m.Status == memory.StatusActive {
			c.Active++
		}
	}
	return c
}

// consolidateDedup pair-scans embeddings and supersedes the lower-trust
// member of every pair at or above the dedup threshold, unioning its tags
// and links onto the winner and corroborating the winner.
func (e *Engine) consolidateDedup(report *ConsolidateReport, dryRun bool) ([]*memory.Memory, error) {
	now := e.now()
	gone := make(map[string]struct{})
	var touched []*memory.Memory

	for i := 0; i < len(e.memories); i++ {
		a := e.memories[i]
		if a.Status != memory.StatusActive || len(a.Embedding) == 0 {
			continue
		}
		if _, dead := gone[a.ID]; dead {
			continue
		}
		for j := i + 1; j < len(e.memories); j++ {
			b := e.memories[j]
			if b.Status != memory.StatusActive || len(b.Embedding) == 0 {
				continue
			}
			if _, dead := gone[b.ID]; dead {
				continue
			}
			sim, err := similarity.Cosine(a.Embedding, b.Embedding)
			if err != nil || sim < e.opts.DedupThreshold {
				continue
			}

			winner, loser := a, b
			if b.Provenance.Trust > a.Provenance.Trust {
				winner, loser = b, a
			}
			report.Deduplicated++
			gone[loser.ID] = struct{}{}
			if dryRun {
				continue
			}

			// Union tags and links onto the winner.
			for _, tag := range loser.Tags {
				if !containsString(winner.Tags, tag) {
					winner.Tags = append(winner.Tags, tag)
				}
			}
			for _, l := range loser.Links {
				if l.TargetID == winner.ID {
					continue
				}
				if target, ok := e.byID[l.TargetID]; ok && !winner.HasLink(l.TargetID, l.Type) {
					upsertLink(winner, l.TargetID, l.Similarity, l.Type)
					upsertLink(target, winner.ID, l.Similarity, l.Type)
					touched = append(touched, target)
				}
			}

			e.supersede(loser, winner, now)
			winner.Provenance.Corroboration++
			refreshTrust(winner, now)
			touched = append(touched, winner, loser)

			if _, dead := gone[a.ID]; dead {
				break
			}
		}
	}
	return touched, nil
}

// consolidateContradictions resolves exclusive single-cardinality claim
// contradictions by trust-gated supersession; contradictions on predicates
// whose policy forbids automatic supersession count as pending.
func (e *Engine) consolidateContradictions(report *ConsolidateReport, dryRun bool) []*memory.Memory {
	now := e.now()
	var touched []*memory.Memory

	seenKeys := make(map[string]struct{})
	for _, m := range e.memories {
		c := m.Claim
		if c == nil || c.Subject == "" || c.Predicate == "" {
			continue
		}
		key := claimKey(c.Subject, c.Predicate)
		if _, done := seenKeys[key]; done {
			continue
		}
		seenKeys[key] = struct{}{}

		schema := e.registry.Lookup(c.Predicate)
		if schema.Cardinality != predicate.CardinalitySingle {
			continue
		}

		// Collect active exclusive holders with distinct values.
		var holders []*memory.Memory
		values := make(map[string]struct{})
		for _, h := range e.claimHolders(c.Subject, c.Predicate) {
			if h.Status != memory.StatusActive || h.Claim == nil || !h.Claim.IsExclusive() {
				continue
			}
			holders = append(holders, h)
			values[h.Claim.ComparableValue()] = struct{}{}
		}
		if len(holders) < 2 || len(values) < 2 {
			continue
		}

		if schema.ConflictPolicy != predicate.PolicySupersede {
			report.Contradictions.Pending += len(holders) - 1
			continue
		}

		winner := holders[0]
		for _, h := range holders[1:] {
			if h.Provenance.Trust > winner.Provenance.Trust {
				winner = h
			}
		}
		for _, h := range holders {
			if h == winner || h.Claim.ComparableValue() == winner.Claim.ComparableValue() {
				continue
			}
			report.Contradictions.Resolved++
			if dryRun {
				continue
			}
			e.supersede(h, winner, now)
			touched = append(touched, h, winner)
		}
	}
	return touched
}

// consolidateCorroboration treats near-duplicates from different
// provenance sources as independent confirmation of the higher-trust
// member. Whether system and tool_output count as distinct sources is a
// plain string comparison here: they do.
func (e *Engine) consolidateCorroboration(report *ConsolidateReport, dryRun bool) []*memory.Memory {
	now := e.now()
	var touched []*memory.Memory

	for i := 0; i < len(e.memories); i++ {
		a := e.memories[i]
		if a.Status != memory.StatusActive || len(a.Embedding) == 0 {
			continue
		}
		for j := i + 1; j < len(e.memories); j++ {
			b := e.memories[j]
			if b.Status != memory.StatusActive || len(b.Embedding) == 0 {
				continue
			}
			if a.Provenance.Source == b.Provenance.Source {
				continue
			}
			sim, err := similarity.Cosine(a.Embedding, b.Embedding)
			if err != nil || sim <= e.opts.CorroborateThreshold || sim >= e.opts.DedupThreshold {
				continue
			}

			report.Corroborated++
			if dryRun {
				continue
			}
			winner := a
			if b.Provenance.Trust > a.Provenance.Trust {
				winner = b
			}
			winner.Provenance.Corroboration++
			refreshTrust(winner, now)
			winner.UpdatedAt = now
			touched = append(touched, winner)
		}
	}
	return touched
}

// staleClustersLocked returns the member id lists of components where every
// member is older than the compression age and none is already a digest.
func (e *Engine) staleClustersLocked() [][]string {
	now := e.now()
	var out [][]string
	for _, comp := range e.components() {
		if len(comp) < 2 {
			continue
		}
		eligible := true
		for _, m := range comp {
			ageDays := now.Sub(m.CreatedAt).Hours() / 24
			if ageDays <= e.opts.CompressAgeDays || m.Category == "digest" || m.Compressed != nil {
				eligible = false
				break
			}
		}
		if !eligible {
			continue
		}
		ids := make([]string, len(comp))
		for i, m := range comp {
			ids[i] = m.ID
		}
		out = append(out, ids)
	}
	return out
}

// consolidatePrune archives and removes aged superseded, low-trust
// disputed, stale quarantined and fully decayed memories.
func (e *Engine) consolidatePrune(report *ConsolidateReport, dryRun bool) error {
	now := e.now()
	toRemove := make(map[string]struct{})
	var archiveBucket []*memory.Memory

	mark := func(m *memory.Memory, bucket *int) {
		*bucket++
		toRemove[m.ID] = struct{}{}
		archiveBucket = append(archiveBucket, m)
	}

	for _, m := range e.memories {
		switch m.Status {
		case memory.StatusSuperseded:
			if now.Sub(m.UpdatedAt).Hours()/24 > e.opts.PruneAgeDays {
				mark(m, &report.Pruned.Superseded)
			}
		case memory.StatusDisputed:
			if m.Provenance.Trust < 0.2 {
				mark(m, &report.Pruned.Disputed)
			}
		case memory.StatusQuarantined:
			if !e.opts.PruneQuarantined || m.AccessCount > 0 || m.Quarantine == nil {
				continue
			}
			if now.Sub(m.Quarantine.CreatedAt).Hours()/24 > e.opts.QuarantineMaxAgeDays {
				mark(m, &report.Pruned.Quarantined)
			}
		case memory.StatusActive:
			if e.strengthOf(m, now) < e.opts.DeleteThreshold {
				mark(m, &report.Pruned.Decayed)
			}
		}
	}

	if dryRun || len(toRemove) == 0 {
		return nil
	}

	if err := e.appendArchive(archiveBucket, "consolidated"); err != nil {
		return err
	}
	changed := e.removeFromList(toRemove)

	ids := make([]string, 0, len(toRemove))
	for id := range toRemove {
		ids = append(ids, id)
	}
	if err := e.persistRemovals(ids); err != nil {
		return err
	}
	if len(changed) > 0 {
		if err := e.persistMemories(changed...); err != nil {
			return err
		}
	}
	return nil
}
