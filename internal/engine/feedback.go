package engine

import "github.com/engramkit/engram/internal/memory"

// Dispute counts a contradiction report against a memory. A memory whose
// trust falls below 0.3 moves from active to disputed.
func (e *Engine) Dispute(id, reason string) error {
	e.mu.Lock()
	m, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return notFoundf("memory %s", id)
	}

	now := e.now()
	m.Disputes++
	refreshTrust(m, now)
	if m.Provenance.Trust < 0.3 && m.Status == memory.StatusActive {
		m.Status = memory.StatusDisputed
	}
	m.UpdatedAt = now

	if err := e.persistMemories(m); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	e.emit(EventDispute, map[string]any{"id": id, "reason": reason, "trust": m.Provenance.Trust})
	return nil
}

// Corroborate counts an independent confirmation of a memory, raising its
// trust.
func (e *Engine) Corroborate(id string) error {
	e.mu.Lock()
	m, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return notFoundf("memory %s", id)
	}

	now := e.now()
	if m.Provenance.Corroboration < 1 {
		m.Provenance.Corroboration = 1
	}
	m.Provenance.Corroboration++
	refreshTrust(m, now)
	m.UpdatedAt = now

	if err := e.persistMemories(m); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	e.emit(EventCorroborate, m)
	return nil
}
