package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/scoring"
	"github.com/engramkit/engram/internal/similarity"
)

const (
	maxAgentLen    = 64
	maxTextLen     = 10000
	maxCategoryLen = 32
	maxTagLen      = 64
	maxTags        = 32
)

// OnConflict selects what happens to the incoming memory when it loses a
// trust comparison in the structural conflict check.
const (
	OnConflictQuarantine = "quarantine"
	OnConflictKeepActive = "keep_active"
)

// StoreOptions carries the optional fields of a store call.
type StoreOptions struct {
	Category   string
	Importance *float64
	Tags       []string
	EventTime  string // ISO-8601; empty means no event time
	Claim      *memory.Claim
	Provenance *memory.Provenance
	Quarantine bool
	OnConflict string // quarantine (default) or keep_active
}

// StoreResult is the outcome of a store call.
type StoreResult struct {
	ID                string `json:"id"`
	Deduplicated      bool   `json:"deduplicated,omitempty"`
	Links             int    `json:"links"`
	TopLink           string `json:"top_link"`
	Quarantined       bool   `json:"quarantined,omitempty"`
	PendingConflictID string `json:"pending_conflict_id,omitempty"`
}

// stagedEvent defers an emit until the engine mutex is released.
type stagedEvent struct {
	name    string
	payload any
}

// Store validates and appends a new memory, auto-linking it to similar
// memories and running the structural conflict check when it carries a
// claim.
func (e *Engine) Store(ctx context.Context, agent, text string, opts *StoreOptions) (*StoreResult, error) {
	if opts == nil {
		opts = &StoreOptions{}
	}
	if err := e.validateStore(agent, text, opts); err != nil {
		return nil, err
	}

	embedding := e.embedOne(ctx, text)

	e.mu.Lock()
	result, touched, events, err := e.storeOne(agent, text, opts, embedding)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}

	if err := e.persistMemories(touched...); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if result.PendingConflictID != "" || hasEvent(events, EventConflictPending) {
		if err := e.persistPending(); err != nil {
			e.mu.Unlock()
			return nil, err
		}
	}
	e.mu.Unlock()

	for _, ev := range events {
		e.emit(ev.name, ev.payload)
	}
	return result, nil
}

// BatchItem is one entry of a StoreMany call.
type BatchItem struct {
	Text    string
	Options *StoreOptions
}

// StoreMany stores a batch of memories in one pass: all texts are embedded
// in a single adapter call, every new memory and back-link is staged, and
// the staged in-memory mutations are rolled back when persistence fails.
func (e *Engine) StoreMany(ctx context.Context, agent string, items []BatchItem) ([]*StoreResult, error) {
	if len(items) == 0 {
		return nil, invalidf("empty batch")
	}
	if len(items) > e.opts.MaxBatchSize {
		return nil, fmt.Errorf("%w: batch size %d exceeds %d", ErrCapacityExceeded, len(items), e.opts.MaxBatchSize)
	}
	for i := range items {
		if items[i].Options == nil {
			items[i].Options = &StoreOptions{}
		}
		if err := e.validateStore(agent, items[i].Text, items[i].Options); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
	}

	texts := make([]string, len(items))
	for i, it := range items {
		texts[i] = it.Text
	}
	embeddings := e.embedMany(ctx, texts)

	e.mu.Lock()

	// Snapshot for rollback: shallow copies are enough because storeOne
	// only appends to slices on existing memories or replaces fields.
	snapshot := snapshotMemories(e.memories)
	pendingSnapshot := append([]*memory.PendingConflict(nil), e.pending...)

	results := make([]*StoreResult, 0, len(items))
	var allTouched []*memory.Memory
	var allEvents []stagedEvent
	for i, it := range items {
		result, touched, events, err := e.storeOne(agent, it.Text, it.Options, embeddings[i])
		if err != nil {
			e.restoreMemories(snapshot, pendingSnapshot)
			e.mu.Unlock()
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		results = append(results, result)
		allTouched = append(allTouched, touched...)
		allEvents = append(allEvents, events...)
	}

	if err := e.persistMemories(allTouched...); err != nil {
		e.restoreMemories(snapshot, pendingSnapshot)
		e.mu.Unlock()
		return nil, err
	}
	if err := e.persistPending(); err != nil {
		e.restoreMemories(snapshot, pendingSnapshot)
		e.mu.Unlock()
		return nil, err
	}
	e.mu.Unlock()

	for _, ev := range allEvents {
		e.emit(ev.name, ev.payload)
	}
	return results, nil
}

// storeOne runs the full write path against in-memory state only.
// Must be called with the mutex held; persistence is the caller's job.
func (e *Engine) storeOne(agent, text string, opts *StoreOptions, embedding []float64) (*StoreResult, []*memory.Memory, []stagedEvent, error) {
	if len(e.memories) >= e.opts.MaxMemories {
		return nil, nil, nil, fmt.Errorf("%w: memory limit %d reached", ErrCapacityExceeded, e.opts.MaxMemories)
	}

	now := e.now()

	// Claim normalization and dedup-by-corroboration.
	var claim *memory.Claim
	if opts.Claim != nil {
		c := *opts.Claim
		if c.Scope == "" {
			c.Scope = memory.ScopeGlobal
		}
		schema := e.registry.Lookup(c.Predicate)
		c.NormalizedValue = schema.Apply(c.Value)
		claim = &c

		if existing := e.findDuplicateClaim(&c); existing != nil {
			existing.Provenance.Corroboration++
			refreshTrust(existing, now)
			existing.UpdatedAt = now
			return &StoreResult{ID: existing.ID, Deduplicated: true, TopLink: "none"},
				[]*memory.Memory{existing},
				[]stagedEvent{{EventCorroborate, existing}}, nil
		}
	}

	// A-MEM linking: related memories above the threshold, best first.
	related := e.findRelated(embedding)

	prov := memory.Provenance{Source: memory.SourceInference, Corroboration: 1}
	if opts.Provenance != nil {
		prov = *opts.Provenance
		if prov.Source == "" {
			prov.Source = memory.SourceInference
		}
		if prov.Corroboration < 1 {
			prov.Corroboration = 1
		}
	}
	prov.Trust = scoring.Trust(prov.Source, prov.Corroboration, 0, 0, 0)

	category := opts.Category
	if category == "" {
		category = "fact"
	}
	importance := 0.5
	if opts.Importance != nil {
		importance = *opts.Importance
	}

	m := &memory.Memory{
		ID:         e.store.GenID(),
		Agent:      agent,
		Text:       text,
		Category:   category,
		Importance: importance,
		Tags:       normalizeTags(opts.Tags),
		Embedding:  embedding,
		CreatedAt:  now,
		UpdatedAt:  now,
		Provenance: prov,
		Confidence: scoring.Confidence(prov.Trust),
		Status:     memory.StatusActive,
		Claim:      claim,
	}
	if opts.EventTime != "" {
		t, _ := time.Parse(time.RFC3339, opts.EventTime)
		utc := t.UTC()
		m.EventAt = &utc
	}
	for _, r := range related {
		m.Links = append(m.Links, memory.Link{TargetID: r.mem.ID, Similarity: r.sim, Type: memory.LinkSimilar})
	}

	var events []stagedEvent
	touched := []*memory.Memory{m}

	// Structural conflict check for claims.
	if claim != nil {
		outcome := e.checkStructuralConflicts(m, opts.OnConflict, now)
		touched = append(touched, outcome.superseded...)
		for _, s := range outcome.superseded {
			events = append(events, stagedEvent{EventSupersede, map[string]any{"superseded": s.ID, "by": m.ID}})
		}
		for _, p := range outcome.pendings {
			events = append(events, stagedEvent{EventConflictPending, p})
		}
	}

	if opts.Quarantine && m.Status == memory.StatusActive {
		m.Status = memory.StatusQuarantined
		m.Quarantine = &memory.Quarantine{Reason: memory.QuarantineManual, CreatedAt: now}
	}

	e.memories = append(e.memories, m)
	e.indexMemory(m)

	// Symmetric back-links on every auto-link target.
	for _, r := range related {
		upsertLink(r.mem, m.ID, r.sim, memory.LinkSimilar)
		r.mem.UpdatedAt = now
		touched = append(touched, r.mem)
		events = append(events, stagedEvent{EventLink, map[string]any{"source": m.ID, "target": r.mem.ID, "similarity": r.sim}})
	}

	result := &StoreResult{
		ID:      m.ID,
		Links:   len(related),
		TopLink: "none",
	}
	if len(related) > 0 {
		top := related[0]
		result.TopLink = fmt.Sprintf("%s (%.0f%%, %s)", top.mem.ID, top.sim*100, top.mem.Agent)
	}
	if m.Status == memory.StatusQuarantined {
		result.Quarantined = true
	}
	for i := len(e.pending) - 1; i >= 0; i-- {
		if e.pending[i].NewID == m.ID && e.pending[i].Open() {
			result.PendingConflictID = e.pending[i].ID
			break
		}
	}

	events = append([]stagedEvent{{EventStore, m}}, events...)
	return result, touched, events, nil
}

type relatedMemory struct {
	mem *memory.Memory
	sim float64
}

// findRelated scans every embedded memory and keeps the closest matches
// above the link threshold, capped at MaxLinksPerMemory.
func (e *Engine) findRelated(embedding []float64) []relatedMemory {
	if len(embedding) == 0 {
		return nil
	}
	var related []relatedMemory
	for _, m := range e.memories {
		if len(m.Embedding) == 0 {
			continue
		}
		sim, err := similarity.Cosine(embedding, m.Embedding)
		if err != nil || sim < e.opts.LinkThreshold {
			continue
		}
		related = append(related, relatedMemory{mem: m, sim: sim})
	}
	sort.SliceStable(related, func(i, j int) bool { return related[i].sim > related[j].sim })
	if len(related) > e.opts.MaxLinksPerMemory {
		related = related[:e.opts.MaxLinksPerMemory]
	}
	return related
}

// findDuplicateClaim returns an active memory holding the same
// (subject, predicate, normalized value) when the predicate schema dedups
// by corroboration.
func (e *Engine) findDuplicateClaim(c *memory.Claim) *memory.Memory {
	schema := e.registry.Lookup(c.Predicate)
	if schema.Cardinality != "single" && schema.DedupPolicy != "corroborate" {
		return nil
	}
	for _, existing := range e.claimHolders(c.Subject, c.Predicate) {
		if existing.Status != memory.StatusActive || existing.Claim == nil {
			continue
		}
		if existing.Claim.ComparableValue() == c.ComparableValue() {
			return existing
		}
	}
	return nil
}

func (e *Engine) validateStore(agent, text string, opts *StoreOptions) error {
	if err := validateAgent(agent); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return invalidf("text is required")
	}
	if len(text) > maxTextLen {
		return invalidf("text exceeds %d characters", maxTextLen)
	}
	if len(opts.Category) > maxCategoryLen {
		return invalidf("category exceeds %d characters", maxCategoryLen)
	}
	if opts.Importance != nil && (*opts.Importance < 0 || *opts.Importance > 1) {
		return invalidf("importance must be in [0,1]")
	}
	if len(opts.Tags) > maxTags {
		return invalidf("too many tags (max %d)", maxTags)
	}
	for _, tag := range opts.Tags {
		if len(tag) > maxTagLen {
			return invalidf("tag exceeds %d characters", maxTagLen)
		}
	}
	if opts.EventTime != "" {
		if _, err := time.Parse(time.RFC3339, opts.EventTime); err != nil {
			return invalidf("event_time is not a valid ISO-8601 timestamp: %v", err)
		}
	}
	if opts.Claim != nil {
		if err := validateClaim(opts.Claim); err != nil {
			return err
		}
	}
	if opts.Provenance != nil && opts.Provenance.Source != "" {
		switch opts.Provenance.Source {
		case memory.SourceUserExplicit, memory.SourceSystem, memory.SourceToolOutput,
			memory.SourceUserImplicit, memory.SourceDocument, memory.SourceInference:
		default:
			return invalidf("unknown provenance source: %s", opts.Provenance.Source)
		}
	}
	switch opts.OnConflict {
	case "", OnConflictQuarantine, OnConflictKeepActive:
	default:
		return invalidf("unknown on_conflict: %s", opts.OnConflict)
	}
	return nil
}

func validateAgent(agent string) error {
	if agent == "" {
		return invalidf("agent is required")
	}
	if len(agent) > maxAgentLen {
		return invalidf("agent exceeds %d characters", maxAgentLen)
	}
	for _, r := range agent {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.' {
			continue
		}
		return invalidf("agent contains invalid character %q", r)
	}
	return nil
}

func validateClaim(c *memory.Claim) error {
	if c.Subject == "" || c.Predicate == "" || c.Value == "" {
		return invalidf("claim requires subject, predicate and value")
	}
	switch c.Scope {
	case "", memory.ScopeGlobal, memory.ScopeSession, memory.ScopeTemporal:
	default:
		return invalidf("unknown claim scope: %s", c.Scope)
	}
	if c.Scope == memory.ScopeSession && c.SessionID == "" {
		return invalidf("session-scoped claim requires session_id")
	}
	if c.ValidFrom != nil && c.ValidUntil != nil && c.ValidUntil.Before(*c.ValidFrom) {
		return invalidf("claim valid_until precedes valid_from")
	}
	return nil
}

// normalizeTags trims whitespace and drops empty entries, preserving order.
func normalizeTags(tags []string) []string {
	var out []string
	for _, tag := range tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// refreshTrust recomputes trust and confidence from current provenance and
// feedback counters.
func refreshTrust(m *memory.Memory, now time.Time) {
	age := now.Sub(m.CreatedAt)
	if age < 0 {
		age = 0
	}
	m.Provenance.Trust = scoring.Trust(m.Provenance.Source, m.Provenance.Corroboration,
		m.Reinforcements, m.Disputes, age)
	m.Confidence = scoring.Confidence(m.Provenance.Trust)
}

// embedOne returns the embedding for a single text, or nil when no adapter
// is attached or the adapter declines.
func (e *Engine) embedOne(ctx context.Context, text string) []float64 {
	vecs := e.embedMany(ctx, []string{text})
	return vecs[0]
}

// embedMany embeds all texts in one adapter call. Adapter errors degrade to
// the keyword path rather than failing the write.
func (e *Engine) embedMany(ctx context.Context, texts []string) [][]float64 {
	out := make([][]float64, len(texts))
	e.mu.RLock()
	em := e.embedder
	e.mu.RUnlock()
	if em == nil {
		return out
	}
	vecs, err := em.Embed(ctx, texts)
	if err != nil {
		log.Warn("embedding failed, falling back to keyword path", "error", err)
		return out
	}
	for i := range out {
		if i < len(vecs) {
			out[i] = vecs[i]
		}
	}
	return out
}

// snapshotMemories copies the list and each memory record so a failed batch
// can be rolled back.
func snapshotMemories(ms []*memory.Memory) []*memory.Memory {
	out := make([]*memory.Memory, len(ms))
	for i, m := range ms {
		cp := *m
		cp.Links = append([]memory.Link(nil), m.Links...)
		cp.Supersedes = append([]string(nil), m.Supersedes...)
		out[i] = &cp
	}
	return out
}

func (e *Engine) restoreMemories(snapshot []*memory.Memory, pending []*memory.PendingConflict) {
	e.memories = snapshot
	e.pending = pending
	e.rebuildIndexes()
}

func hasEvent(events []stagedEvent, name string) bool {
	for _, ev := range events {
		if ev.name == name {
			return true
		}
	}
	return false
}
