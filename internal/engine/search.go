package engine

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/engramkit/engram/internal/ai"
	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/scoring"
	"github.com/engramkit/engram/internal/similarity"
	"github.com/engramkit/engram/internal/storage"
)

// narrowingFloor is the candidate count above which the token index narrows
// the vector scan.
const narrowingFloor = 500

// SearchOptions narrow and shape a search.
type SearchOptions struct {
	Limit         int
	MinSimilarity float64
	Before        *time.Time
	After         *time.Time

	Rerank  *bool    // nil means true
	Weights *Weights // nil means engine defaults

	IncludeAll         bool
	IncludeSuperseded  bool
	IncludeDisputed    bool
	IncludeQuarantined bool

	SessionID string
	Explain   bool
}

func (o *SearchOptions) rerank() bool {
	return o.Rerank == nil || *o.Rerank
}

// RetrievedExplain records how a hit was retrieved.
type RetrievedExplain struct {
	VectorSimilarity *float64 `json:"vectorSimilarity,omitempty"`
	KeywordScore     *float64 `json:"keywordScore,omitempty"`
	KeywordHits      []string `json:"keywordHits,omitempty"`
}

// RerankExplain records the composite scoring of a hit.
type RerankExplain struct {
	Weights        Weights            `json:"weights"`
	Signals        map[string]float64 `json:"signals"`
	CompositeScore float64            `json:"compositeScore"`
}

// StatusExplain records the lifecycle state of a hit.
type StatusExplain struct {
	Status       string             `json:"status"`
	SupersededBy string             `json:"superseded_by,omitempty"`
	Quarantine   *memory.Quarantine `json:"quarantine,omitempty"`
}

// HitExplain is the per-result explanation attached when explain is on.
type HitExplain struct {
	Retrieved RetrievedExplain `json:"retrieved"`
	Rerank    *RerankExplain   `json:"rerank,omitempty"`
	Status    StatusExplain    `json:"status"`
}

// SearchHit is one search result.
type SearchHit struct {
	Memory    *memory.Memory `json:"memory"`
	Score     float64        `json:"score"`
	Relevance float64        `json:"relevance"`
	Explain   *HitExplain    `json:"explain,omitempty"`
}

// SearchMeta is the aggregate explanation attached when explain is on.
type SearchMeta struct {
	Query      string         `json:"query"`
	Agent      string         `json:"agent,omitempty"`
	Options    map[string]any `json:"options"`
	Candidates int            `json:"candidates"`
	Returned   int            `json:"returned"`
	Excluded   map[string]int `json:"excluded"`
}

// SearchResponse is the result of a search.
type SearchResponse struct {
	Hits []*SearchHit `json:"hits"`
	Meta *SearchMeta  `json:"meta,omitempty"`
}

// Search retrieves memories for a query, optionally narrowed to one agent.
// Vector similarity is used when a query embedding is available (delegating
// to the storage adapter's server-side search when offered); otherwise
// keyword scoring applies.
func (e *Engine) Search(ctx context.Context, agent, query string, opts *SearchOptions) (*SearchResponse, error) {
	if opts == nil {
		opts = &SearchOptions{}
	}
	if strings.TrimSpace(query) == "" {
		return nil, invalidf("query is required")
	}

	queryVec := e.embedQuery(ctx, []string{query})[0]

	resp := e.searchWithEmbedding(agent, query, queryVec, opts)
	e.emit(EventSearch, map[string]any{"query": query, "agent": agent, "results": len(resp.Hits)})
	return resp, nil
}

// SearchMany embeds all queries in one adapter call and runs the same
// search per query.
func (e *Engine) SearchMany(ctx context.Context, agent string, queries []string, opts *SearchOptions) ([]*SearchResponse, error) {
	if len(queries) == 0 {
		return nil, invalidf("empty query batch")
	}
	if len(queries) > e.opts.MaxQueryBatch {
		return nil, fmt.Errorf("%w: query batch %d exceeds %d", ErrCapacityExceeded, len(queries), e.opts.MaxQueryBatch)
	}
	for i, q := range queries {
		if strings.TrimSpace(q) == "" {
			return nil, invalidf("query %d is empty", i)
		}
	}
	if opts == nil {
		opts = &SearchOptions{}
	}

	vecs := e.embedQuery(ctx, queries)
	out := make([]*SearchResponse, len(queries))
	for i, q := range queries {
		out[i] = e.searchWithEmbedding(agent, q, vecs[i], opts)
	}
	e.emit(EventSearch, map[string]any{"queries": len(queries), "agent": agent})
	return out, nil
}

func (e *Engine) searchWithEmbedding(agent, query string, queryVec []float64, opts *SearchOptions) *SearchResponse {
	e.mu.RLock()
	defer e.mu.RUnlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	excluded := map[string]int{}

	candidates := e.collectCandidates(agent, opts, excluded)

	var hits []*SearchHit
	serverSide := false
	if len(queryVec) > 0 {
		if vs, ok := e.store.(storage.VectorSearcher); ok {
			rows, err := vs.SearchVectors(queryVec, storage.SearchOptions{
				Agent:         agent,
				Limit:         limit * 2,
				MinSimilarity: opts.MinSimilarity,
				Status:        statusFilter(opts),
			})
			if err != nil {
				log.Warn("server-side vector search failed, falling back", "error", err)
			} else if rows != nil {
				serverSide = true
				for _, row := range rows {
					m, ok := e.byID[row.ID]
					if !ok {
						continue
					}
					sim := row.Similarity
					hits = append(hits, &SearchHit{Memory: m, Relevance: sim, Score: sim})
				}
			}
		}
	}

	if !serverSide {
		if len(queryVec) > 0 {
			hits = e.vectorScan(candidates, queryVec, query, opts, limit, excluded)
		} else {
			hits = e.keywordScan(candidates, query)
		}
	}

	hits = e.applySessionOverride(hits, opts.SessionID, excluded)

	for _, h := range hits {
		if h.Memory.Confidence == 0 {
			h.Memory.Confidence = scoring.Confidence(h.Memory.Provenance.Trust)
		}
	}

	weights := e.opts.RerankWeights
	if opts.Weights != nil {
		weights = *opts.Weights
	}
	now := e.now()
	if opts.rerank() {
		for _, h := range hits {
			days := now.Sub(h.Memory.UpdatedAt).Hours() / 24
			recency := math.Exp(-0.01 * days)
			composite := weights.Relevance*h.Relevance +
				weights.Confidence*h.Memory.Confidence +
				weights.Recency*recency +
				weights.Importance*h.Memory.Importance
			h.Score = composite
			if opts.Explain {
				ensureExplain(h).Rerank = &RerankExplain{
					Weights: weights,
					Signals: map[string]float64{
						"relevance":  h.Relevance,
						"confidence": h.Memory.Confidence,
						"recency":    recency,
						"importance": h.Memory.Importance,
					},
					CompositeScore: composite,
				}
			}
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}

	resp := &SearchResponse{Hits: hits}
	if opts.Explain {
		for _, h := range hits {
			ex := ensureExplain(h)
			ex.Status = StatusExplain{
				Status:       h.Memory.Status,
				SupersededBy: h.Memory.SupersededBy,
				Quarantine:   h.Memory.Quarantine,
			}
		}
		resp.Meta = &SearchMeta{
			Query:      query,
			Agent:      agent,
			Options:    sanitizeOptions(opts, limit),
			Candidates: len(candidates),
			Returned:   len(hits),
			Excluded:   excluded,
		}
	}
	return resp
}

// collectCandidates applies the agent, status and temporal filters, then
// unions in session-scoped claim holders when a session id is supplied.
func (e *Engine) collectCandidates(agent string, opts *SearchOptions, excluded map[string]int) []*memory.Memory {
	seen := make(map[string]struct{})
	var out []*memory.Memory

	admit := func(m *memory.Memory) {
		if _, dup := seen[m.ID]; dup {
			return
		}
		if agent != "" && m.Agent != agent {
			return
		}
		if !opts.IncludeAll {
			switch m.Status {
			case memory.StatusActive:
			case memory.StatusSuperseded:
				if !opts.IncludeSuperseded {
					excluded["superseded"]++
					return
				}
			case memory.StatusDisputed:
				if !opts.IncludeDisputed {
					excluded["disputed"]++
					return
				}
			case memory.StatusQuarantined:
				if !opts.IncludeQuarantined {
					excluded["quarantined"]++
					return
				}
			case memory.StatusArchived:
				excluded["archived"]++
				return
			}
		}
		when := m.EffectiveTime()
		if opts.Before != nil && !when.Before(*opts.Before) {
			excluded["validityMismatch"]++
			return
		}
		if opts.After != nil && !when.After(*opts.After) {
			excluded["validityMismatch"]++
			return
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}

	for _, m := range e.memories {
		admit(m)
	}

	if opts.SessionID != "" {
		for _, m := range e.memories {
			if m.Claim != nil && m.Claim.Scope == memory.ScopeSession && m.Claim.SessionID == opts.SessionID {
				admit(m)
			}
		}
	}
	return out
}

// vectorScan scores embedded candidates by cosine similarity, narrowing
// large candidate sets through the token index with a deterministic
// evenly-spaced sample of the remainder to preserve recall.
func (e *Engine) vectorScan(candidates []*memory.Memory, queryVec []float64, query string, opts *SearchOptions, limit int, excluded map[string]int) []*SearchHit {
	scan := candidates
	if len(candidates) > narrowingFloor {
		scan = e.narrowCandidates(candidates, query, limit)
	}

	var hits []*SearchHit
	for _, m := range scan {
		if len(m.Embedding) == 0 {
			continue
		}
		sim, err := similarity.Cosine(queryVec, m.Embedding)
		if err != nil {
			continue
		}
		if sim < opts.MinSimilarity {
			excluded["belowMinSimilarity"]++
			continue
		}
		h := &SearchHit{Memory: m, Relevance: sim, Score: sim}
		if opts.Explain {
			s := sim
			ensureExplain(h).Retrieved.VectorSimilarity = &s
		}
		hits = append(hits, h)
	}
	return hits
}

// narrowCandidates keeps every token-matched candidate plus a stride-based
// sample of size max(100, 5*limit) from the remainder. The stride sampling
// is deterministic by construction, which keeps recall stable across runs.
func (e *Engine) narrowCandidates(candidates []*memory.Memory, query string, limit int) []*memory.Memory {
	matched := make(map[string]struct{})
	for _, tok := range similarity.Tokenize(query) {
		for id := range e.tokenIndex[tok] {
			matched[id] = struct{}{}
		}
	}

	var keep, rest []*memory.Memory
	for _, m := range candidates {
		if _, ok := matched[m.ID]; ok {
			keep = append(keep, m)
		} else {
			rest = append(rest, m)
		}
	}

	sampleSize := 5 * limit
	if sampleSize < 100 {
		sampleSize = 100
	}
	if len(rest) <= sampleSize {
		return append(keep, rest...)
	}

	step := len(rest) / sampleSize
	if step < 1 {
		step = 1
	}
	for i, count := 0, 0; i < len(rest) && count < sampleSize; i, count = i+step, count+1 {
		keep = append(keep, rest[i])
	}
	return keep
}

// keywordScan scores candidates by the fraction of query tokens they match,
// tie-breaking on importance. An all-stop-word query degrades to substring
// matching with score 1.
func (e *Engine) keywordScan(candidates []*memory.Memory, query string) []*SearchHit {
	queryTokens := similarity.Tokenize(query)

	if len(queryTokens) == 0 {
		needle := strings.ToLower(strings.TrimSpace(query))
		var hits []*SearchHit
		for _, m := range candidates {
			if needle != "" && strings.Contains(strings.ToLower(m.Text), needle) {
				h := &SearchHit{Memory: m, Relevance: 1, Score: 1}
				hits = append(hits, h)
			}
		}
		return hits
	}

	var hits []*SearchHit
	for _, m := range candidates {
		var matchedTokens []string
		for _, tok := range queryTokens {
			if ids, ok := e.tokenIndex[tok]; ok {
				if _, hit := ids[m.ID]; hit {
					matchedTokens = append(matchedTokens, tok)
				}
			}
		}
		if len(matchedTokens) == 0 {
			continue
		}
		score := float64(len(matchedTokens)) / float64(len(queryTokens))
		h := &SearchHit{Memory: m, Relevance: score, Score: score}
		hits = append(hits, h)
	}
	// Tie-break equal keyword scores by importance.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Memory.Importance > hits[j].Memory.Importance
	})
	return hits
}

// applySessionOverride suppresses non-session memories for every
// (subject, predicate) key that has a session-scoped hit for the supplied
// session.
func (e *Engine) applySessionOverride(hits []*SearchHit, sessionID string, excluded map[string]int) []*SearchHit {
	if sessionID == "" {
		return hits
	}
	sessionKeys := make(map[string]struct{})
	for _, h := range hits {
		c := h.Memory.Claim
		if c != nil && c.Scope == memory.ScopeSession && c.SessionID == sessionID {
			sessionKeys[claimKey(c.Subject, c.Predicate)] = struct{}{}
		}
	}
	if len(sessionKeys) == 0 {
		return hits
	}
	kept := hits[:0]
	for _, h := range hits {
		c := h.Memory.Claim
		if c != nil && c.Scope != memory.ScopeSession {
			if _, shadowed := sessionKeys[claimKey(c.Subject, c.Predicate)]; shadowed {
				excluded["scopeMismatch"]++
				continue
			}
		}
		kept = append(kept, h)
	}
	return kept
}

// embedQuery embeds query texts through the adapter's query-side model when
// it has one, the document model otherwise.
func (e *Engine) embedQuery(ctx context.Context, queries []string) [][]float64 {
	out := make([][]float64, len(queries))
	e.mu.RLock()
	em := e.embedder
	e.mu.RUnlock()
	if em == nil {
		return out
	}

	var vecs [][]float64
	var err error
	if qe, ok := em.(ai.QueryEmbedder); ok {
		vecs, err = qe.EmbedQuery(ctx, queries)
	} else {
		vecs, err = em.Embed(ctx, queries)
	}
	if err != nil {
		log.Warn("query embedding failed, using keyword path", "error", err)
		return out
	}
	for i := range out {
		if i < len(vecs) {
			out[i] = vecs[i]
		}
	}
	return out
}

func statusFilter(opts *SearchOptions) []string {
	statuses := []string{memory.StatusActive}
	if opts.IncludeSuperseded {
		statuses = append(statuses, memory.StatusSuperseded)
	}
	if opts.IncludeDisputed {
		statuses = append(statuses, memory.StatusDisputed)
	}
	if opts.IncludeQuarantined {
		statuses = append(statuses, memory.StatusQuarantined)
	}
	return statuses
}

func ensureExplain(h *SearchHit) *HitExplain {
	if h.Explain == nil {
		h.Explain = &HitExplain{}
	}
	return h.Explain
}

func sanitizeOptions(opts *SearchOptions, limit int) map[string]any {
	out := map[string]any{
		"limit":          limit,
		"min_similarity": opts.MinSimilarity,
		"rerank":         opts.rerank(),
	}
	if opts.SessionID != "" {
		out["session_id"] = opts.SessionID
	}
	if opts.Before != nil {
		out["before"] = opts.Before.Format(time.RFC3339)
	}
	if opts.After != nil {
		out["after"] = opts.After.Format(time.RFC3339)
	}
	return out
}
