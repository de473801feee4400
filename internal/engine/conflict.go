package engine

import (
	"time"

	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/predicate"
)

// conflictOutcome collects the side effects of a structural conflict check.
type conflictOutcome struct {
	superseded []*memory.Memory
	pendings   []*memory.PendingConflict
}

// checkStructuralConflicts runs the exclusive-claim contradiction check for
// an incoming memory and applies the predicate's conflict policy. It may
// quarantine the incoming memory, supersede existing ones, and append
// pending conflict records. Must be called with the mutex held.
func (e *Engine) checkStructuralConflicts(m *memory.Memory, onConflict string, now time.Time) conflictOutcome {
	var out conflictOutcome

	c := m.Claim
	if c == nil || !c.IsExclusive() {
		return out
	}
	schema := e.registry.Lookup(c.Predicate)
	if schema.Cardinality != predicate.CardinalitySingle {
		return out
	}

	for _, existing := range e.claimHolders(c.Subject, c.Predicate) {
		if existing.ID == m.ID {
			continue
		}
		if existing.Status == memory.StatusSuperseded || existing.Status == memory.StatusQuarantined {
			continue
		}
		ec := existing.Claim
		if ec == nil || !ec.IsExclusive() {
			continue
		}
		if ec.ComparableValue() == c.ComparableValue() {
			continue
		}
		// A session-scoped value never contradicts a global one; it shadows
		// it during search instead.
		if c.Scope == memory.ScopeSession && ec.Scope == memory.ScopeGlobal {
			continue
		}
		if !validityOverlaps(c, ec) {
			continue
		}

		switch schema.ConflictPolicy {
		case predicate.PolicySupersede:
			if m.Provenance.Trust >= existing.Provenance.Trust {
				e.supersede(existing, m, now)
				out.superseded = append(out.superseded, existing)
			} else {
				if onConflict != OnConflictKeepActive {
					m.Status = memory.StatusQuarantined
					m.Quarantine = &memory.Quarantine{
						Reason:    memory.QuarantineTrustInsufficient,
						CreatedAt: now,
					}
				}
				p := e.appendPending(m, existing, now, "")
				out.pendings = append(out.pendings, p)
			}
		case predicate.PolicyRequireReview:
			if onConflict != OnConflictKeepActive {
				m.Status = memory.StatusQuarantined
				m.Quarantine = &memory.Quarantine{
					Reason:    memory.QuarantinePredicateRequiresReview,
					CreatedAt: now,
				}
			}
			p := e.appendPending(m, existing, now, "")
			out.pendings = append(out.pendings, p)
		case predicate.PolicyKeepBoth:
			// Pre-resolved audit record; both stay active.
			p := e.appendPending(m, existing, now, "keep_both")
			out.pendings = append(out.pendings, p)
		}
	}

	return out
}

// validityOverlaps reports whether two claims' [valid_from, valid_until]
// windows intersect. Absent bounds are open.
func validityOverlaps(a, b *memory.Claim) bool {
	if a.ValidFrom != nil && b.ValidUntil != nil && a.ValidFrom.After(*b.ValidUntil) {
		return false
	}
	if b.ValidFrom != nil && a.ValidUntil != nil && b.ValidFrom.After(*a.ValidUntil) {
		return false
	}
	return true
}

// supersede marks old as superseded by winner and records the supersedes
// link on both sides. Must be called with the mutex held.
func (e *Engine) supersede(old, winner *memory.Memory, now time.Time) {
	old.Status = memory.StatusSuperseded
	old.SupersededBy = winner.ID
	old.UpdatedAt = now
	winner.Supersedes = append(winner.Supersedes, old.ID)
	upsertLink(winner, old.ID, 1.0, memory.LinkSupersedes)
	upsertLink(old, winner.ID, 1.0, memory.LinkSupersedes)
	winner.UpdatedAt = now
}

// appendPending records a pending conflict. A non-empty resolution marks it
// pre-resolved for auditability.
func (e *Engine) appendPending(newMem, existing *memory.Memory, now time.Time, resolution string) *memory.PendingConflict {
	p := &memory.PendingConflict{
		ID:            e.store.GenID(),
		NewID:         newMem.ID,
		ExistingID:    existing.ID,
		NewTrust:      newMem.Provenance.Trust,
		ExistingTrust: existing.Provenance.Trust,
		NewClaim:      newMem.Claim,
		ExistingClaim: existing.Claim,
		CreatedAt:     now,
	}
	if resolution != "" {
		p.ResolvedAt = &now
		p.Resolution = resolution
	}
	e.pending = append(e.pending, p)
	return p
}

// PendingConflicts returns the open pending conflicts.
func (e *Engine) PendingConflicts() []*memory.PendingConflict {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*memory.PendingConflict
	for _, p := range e.pending {
		if p.Open() {
			out = append(out, p)
		}
	}
	return out
}

// ConflictFilter narrows a Conflicts listing.
type ConflictFilter struct {
	Subject    string
	Predicate  string
	IncludeAll bool // include resolved entries
}

// Conflicts lists pending conflicts, optionally filtered by claim subject
// or predicate.
func (e *Engine) Conflicts(f ConflictFilter) []*memory.PendingConflict {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*memory.PendingConflict
	for _, p := range e.pending {
		if !f.IncludeAll && !p.Open() {
			continue
		}
		if f.Subject != "" && (p.NewClaim == nil || p.NewClaim.Subject != f.Subject) {
			continue
		}
		if f.Predicate != "" && (p.NewClaim == nil || p.NewClaim.Predicate != f.Predicate) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Resolution actions for ResolveConflict.
const (
	ResolveSupersede = "supersede"
	ResolveReject    = "reject"
	ResolveKeepBoth  = "keep_both"
)

// ResolveConflict applies an operator decision to an open pending conflict.
func (e *Engine) ResolveConflict(id, action string) error {
	switch action {
	case ResolveSupersede, ResolveReject, ResolveKeepBoth:
	default:
		return invalidf("unknown resolution action: %s", action)
	}

	e.mu.Lock()

	var p *memory.PendingConflict
	for _, cand := range e.pending {
		if cand.ID == id {
			p = cand
			break
		}
	}
	if p == nil {
		e.mu.Unlock()
		return notFoundf("pending conflict %s", id)
	}
	if !p.Open() {
		e.mu.Unlock()
		return conflictf("conflict %s already resolved as %s", id, p.Resolution)
	}

	now := e.now()
	newMem := e.byID[p.NewID]
	existing := e.byID[p.ExistingID]

	var events []stagedEvent
	var removed []string
	var touched []*memory.Memory

	switch action {
	case ResolveSupersede:
		if newMem == nil {
			e.mu.Unlock()
			return notFoundf("memory %s", p.NewID)
		}
		liftQuarantine(newMem, "superseded_existing", now)
		newMem.Status = memory.StatusActive
		newMem.UpdatedAt = now
		touched = append(touched, newMem)
		if existing != nil {
			e.supersede(existing, newMem, now)
			touched = append(touched, existing)
			events = append(events, stagedEvent{EventSupersede, map[string]any{"superseded": existing.ID, "by": newMem.ID}})
		}
	case ResolveReject:
		if newMem != nil {
			liftQuarantine(newMem, "rejected", now)
			if err := e.appendArchive([]*memory.Memory{newMem}, "conflict_rejected"); err != nil {
				e.mu.Unlock()
				return err
			}
			e.removeFromList(map[string]struct{}{newMem.ID: {}})
			removed = append(removed, newMem.ID)
		}
	case ResolveKeepBoth:
		if newMem != nil {
			liftQuarantine(newMem, "keep_both", now)
			newMem.Status = memory.StatusActive
			newMem.UpdatedAt = now
			touched = append(touched, newMem)
		}
		if existing != nil && existing.Status != memory.StatusActive {
			existing.Status = memory.StatusActive
			existing.UpdatedAt = now
			touched = append(touched, existing)
		}
	}

	p.ResolvedAt = &now
	p.Resolution = action

	if len(removed) > 0 {
		if err := e.persistRemovals(removed); err != nil {
			e.mu.Unlock()
			return err
		}
	}
	if len(touched) > 0 {
		if err := e.persistMemories(touched...); err != nil {
			e.mu.Unlock()
			return err
		}
	}
	if err := e.persistPending(); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	for _, ev := range events {
		e.emit(ev.name, ev.payload)
	}
	e.emit(EventConflictResolved, p)
	return nil
}

func liftQuarantine(m *memory.Memory, resolution string, now time.Time) {
	if m.Quarantine != nil && m.Quarantine.ResolvedAt == nil {
		m.Quarantine.ResolvedAt = &now
		m.Quarantine.Resolution = resolution
	}
}

// QuarantineMemory places an active memory under operator review.
func (e *Engine) QuarantineMemory(id, reason, details string) error {
	switch reason {
	case memory.QuarantineTrustInsufficient, memory.QuarantinePredicateRequiresReview,
		memory.QuarantineSuspiciousInput, memory.QuarantineManual:
	default:
		return invalidf("unknown quarantine reason: %s", reason)
	}

	e.mu.Lock()
	m, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return notFoundf("memory %s", id)
	}
	if m.Status != memory.StatusActive {
		e.mu.Unlock()
		return conflictf("memory %s is %s, only active memories can be quarantined", id, m.Status)
	}
	now := e.now()
	m.Status = memory.StatusQuarantined
	m.Quarantine = &memory.Quarantine{Reason: reason, Details: details, CreatedAt: now}
	m.UpdatedAt = now
	err := e.persistMemories(m)
	e.mu.Unlock()
	return err
}

// ListQuarantined returns quarantined memories, optionally filtered by
// agent and capped at limit.
func (e *Engine) ListQuarantined(agent string, limit int) []*memory.Memory {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*memory.Memory
	for _, m := range e.memories {
		if m.Status != memory.StatusQuarantined {
			continue
		}
		if agent != "" && m.Agent != agent {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Review actions for ReviewQuarantine.
const (
	ReviewActivate = "activate"
	ReviewReject   = "reject"
)

// ReviewQuarantine applies an operator decision to a quarantined memory.
// Activation re-runs the structural conflict check against the current
// graph with the same policy tree as the store path.
func (e *Engine) ReviewQuarantine(id, action, reason string) error {
	switch action {
	case ReviewActivate, ReviewReject:
	default:
		return invalidf("unknown review action: %s", action)
	}

	e.mu.Lock()
	m, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return notFoundf("memory %s", id)
	}
	if m.Status != memory.StatusQuarantined {
		e.mu.Unlock()
		return conflictf("memory %s is not quarantined", id)
	}

	now := e.now()
	var events []stagedEvent
	touched := []*memory.Memory{m}

	switch action {
	case ReviewActivate:
		liftQuarantine(m, "activated", now)
		m.Status = memory.StatusActive
		m.UpdatedAt = now
		if m.Claim != nil {
			outcome := e.checkStructuralConflicts(m, OnConflictQuarantine, now)
			touched = append(touched, outcome.superseded...)
			for _, s := range outcome.superseded {
				events = append(events, stagedEvent{EventSupersede, map[string]any{"superseded": s.ID, "by": m.ID}})
			}
			for _, p := range outcome.pendings {
				events = append(events, stagedEvent{EventConflictPending, p})
			}
			if len(outcome.pendings) > 0 {
				if err := e.persistPending(); err != nil {
					e.mu.Unlock()
					return err
				}
			}
		}
	case ReviewReject:
		liftQuarantine(m, "rejected", now)
		if reason != "" && m.Quarantine != nil {
			m.Quarantine.Resolution = reason
		}
		if err := e.appendArchive([]*memory.Memory{m}, "quarantine_rejected"); err != nil {
			e.mu.Unlock()
			return err
		}
		e.removeFromList(map[string]struct{}{m.ID: {}})
		if err := e.persistRemovals([]string{m.ID}); err != nil {
			e.mu.Unlock()
			return err
		}
		e.mu.Unlock()
		return nil
	}

	if err := e.persistMemories(touched...); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	for _, ev := range events {
		e.emit(ev.name, ev.payload)
	}
	return nil
}
