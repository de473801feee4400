// Package memory defines the persisted data model of the engram graph:
// memories and their links, episodes, labeled clusters, and pending
// conflicts. The engine owns all instances of these types; storage adapters
// only serialize them.
package memory

import "time"

// Status values for a memory node.
const (
	StatusActive      = "active"
	StatusSuperseded  = "superseded"
	StatusQuarantined = "quarantined"
	StatusDisputed    = "disputed"
	StatusArchived    = "archived"
)

// Link types connecting memory nodes.
const (
	LinkSimilar      = "similar"
	LinkSupersedes   = "supersedes"
	LinkDigestOf     = "digest_of"
	LinkDigestedInto = "digested_into"
	LinkRelated      = "related"
)

// Provenance sources, ordered by descending base trust.
const (
	SourceUserExplicit = "user_explicit"
	SourceSystem       = "system"
	SourceToolOutput   = "tool_output"
	SourceUserImplicit = "user_implicit"
	SourceDocument     = "document"
	SourceInference    = "inference"
)

// Quarantine reasons.
const (
	QuarantineTrustInsufficient      = "trust_insufficient"
	QuarantinePredicateRequiresReview = "predicate_requires_review"
	QuarantineSuspiciousInput        = "suspicious_input"
	QuarantineManual                 = "manual"
)

// Claim scopes.
const (
	ScopeGlobal   = "global"
	ScopeSession  = "session"
	ScopeTemporal = "temporal"
)

// Compression methods.
const (
	CompressExtractive = "extractive"
	CompressLLM        = "llm"
)

// Link is one directed half of a bidirectional edge. The engine always
// maintains the reverse half on the target.
type Link struct {
	TargetID   string  `json:"target_id"`
	Similarity float64 `json:"similarity"`
	Type       string  `json:"type"`
}

// Provenance records where a memory came from and how trusted it is.
type Provenance struct {
	Source        string  `json:"source"`
	SourceID      string  `json:"source_id,omitempty"`
	Corroboration int     `json:"corroboration"`
	Trust         float64 `json:"trust"`
}

// Quarantine is the review-hold record attached to a quarantined memory.
type Quarantine struct {
	Reason     string     `json:"reason"`
	Details    string     `json:"details,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Resolution string     `json:"resolution,omitempty"`
}

// Claim is a structured (subject, predicate, value) triple used for
// structural conflict detection. Exclusive defaults to true when nil.
type Claim struct {
	Subject         string     `json:"subject"`
	Predicate       string     `json:"predicate"`
	Value           string     `json:"value"`
	NormalizedValue string     `json:"normalized_value,omitempty"`
	Scope           string     `json:"scope,omitempty"`
	SessionID       string     `json:"session_id,omitempty"`
	ValidFrom       *time.Time `json:"valid_from,omitempty"`
	ValidUntil      *time.Time `json:"valid_until,omitempty"`
	Exclusive       *bool      `json:"exclusive,omitempty"`
}

// IsExclusive reports whether the claim participates in single-value
// conflict detection.
func (c *Claim) IsExclusive() bool {
	return c.Exclusive == nil || *c.Exclusive
}

// ComparableValue returns the normalized value when present, the raw value
// otherwise.
func (c *Claim) ComparableValue() string {
	if c.NormalizedValue != "" {
		return c.NormalizedValue
	}
	return c.Value
}

// Compressed marks a digest memory and records its sources.
type Compressed struct {
	SourceIDs    []string  `json:"source_ids"`
	SourceCount  int       `json:"source_count"`
	Method       string    `json:"method"`
	CompressedAt time.Time `json:"compressed_at"`
	EpisodeID    string    `json:"episode_id,omitempty"`
}

// Evolution is one in-place text edit applied by the evolve path.
type Evolution struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Memory is the primary node of the graph.
type Memory struct {
	ID         string    `json:"id"`
	Agent      string    `json:"agent"`
	Text       string    `json:"text"`
	Category   string    `json:"category"`
	Importance float64   `json:"importance"`
	Tags       []string  `json:"tags,omitempty"`
	Embedding  []float64 `json:"embedding,omitempty"`
	Links      []Link    `json:"links,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EventAt   *time.Time `json:"event_at,omitempty"`

	AccessCount    int `json:"access_count"`
	Reinforcements int `json:"reinforcements"`
	Disputes       int `json:"disputes"`

	// SM-2 state, set by reinforce.
	Stability          float64 `json:"stability,omitempty"`
	LastReviewInterval float64 `json:"last_review_interval,omitempty"`

	Provenance Provenance `json:"provenance"`
	Confidence float64    `json:"confidence"`

	Status       string      `json:"status"`
	Quarantine   *Quarantine `json:"quarantine,omitempty"`
	SupersededBy string      `json:"superseded_by,omitempty"`
	Supersedes   []string    `json:"supersedes,omitempty"`

	Claim      *Claim      `json:"claim,omitempty"`
	Compressed *Compressed `json:"compressed,omitempty"`
	Evolution  []Evolution `json:"evolution,omitempty"`

	// Archive-only fields, stamped when a memory is copied to the archive.
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
	ArchivedReason string     `json:"archived_reason,omitempty"`
}

// EffectiveTime is the bi-temporal timestamp used by temporal filters and
// episode ranges: the real-world event time when known, creation time
// otherwise.
func (m *Memory) EffectiveTime() time.Time {
	if m.EventAt != nil {
		return *m.EventAt
	}
	return m.CreatedAt
}

// HasLink reports whether a link to targetID of the given type exists.
func (m *Memory) HasLink(targetID, linkType string) bool {
	for _, l := range m.Links {
		if l.TargetID == targetID && l.Type == linkType {
			return true
		}
	}
	return false
}

// TimeRange is an inclusive [start, end] window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Episode is a named, time-ranged grouping of memory ids.
type Episode struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Summary   string            `json:"summary,omitempty"`
	Agents    []string          `json:"agents,omitempty"`
	MemoryIDs []string          `json:"memory_ids"`
	Tags      []string          `json:"tags,omitempty"`
	TimeRange TimeRange         `json:"time_range"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// LabeledCluster is a user-named group of memory ids.
type LabeledCluster struct {
	ID          string    `json:"id"`
	Label       string    `json:"label"`
	Description string    `json:"description,omitempty"`
	MemoryIDs   []string  `json:"memory_ids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// PendingConflict is an audit record of a structural contradiction awaiting
// resolution. Entries with no ResolvedAt are open.
type PendingConflict struct {
	ID            string     `json:"id"`
	NewID         string     `json:"new_id"`
	ExistingID    string     `json:"existing_id"`
	NewTrust      float64    `json:"new_trust"`
	ExistingTrust float64    `json:"existing_trust"`
	NewClaim      *Claim     `json:"new_claim,omitempty"`
	ExistingClaim *Claim     `json:"existing_claim,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	Resolution    string     `json:"resolution,omitempty"`
}

// Open reports whether the conflict still awaits resolution.
func (p *PendingConflict) Open() bool {
	return p.ResolvedAt == nil
}
