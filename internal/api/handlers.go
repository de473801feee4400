package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/engramkit/engram/internal/engine"
	"github.com/engramkit/engram/internal/memory"
)

// storeRequest is the POST /memories body.
type storeRequest struct {
	Agent      string             `json:"agent"`
	Text       string             `json:"text"`
	Category   string             `json:"category,omitempty"`
	Importance *float64           `json:"importance,omitempty"`
	Tags       []string           `json:"tags,omitempty"`
	EventTime  string             `json:"event_time,omitempty"`
	Claim      *memory.Claim      `json:"claim,omitempty"`
	Provenance *memory.Provenance `json:"provenance,omitempty"`
	Quarantine bool               `json:"quarantine,omitempty"`
	OnConflict string             `json:"on_conflict,omitempty"`
}

func (s *Server) handleStore(c *gin.Context) {
	var req storeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := s.engine.Store(c.Request.Context(), req.Agent, req.Text, &engine.StoreOptions{
		Category:   req.Category,
		Importance: req.Importance,
		Tags:       req.Tags,
		EventTime:  req.EventTime,
		Claim:      req.Claim,
		Provenance: req.Provenance,
		Quarantine: req.Quarantine,
		OnConflict: req.OnConflict,
	})
	if err != nil {
		EngineError(c, err)
		return
	}
	CreatedResponse(c, "memory stored", result)
}

func (s *Server) handleGet(c *gin.Context) {
	m, err := s.engine.Get(c.Param("id"))
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "memory", m)
}

func (s *Server) handleLinks(c *gin.Context) {
	result, err := s.engine.Links(c.Param("id"))
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "links", result)
}

func (s *Server) handleSearch(c *gin.Context) {
	opts := &engine.SearchOptions{
		Limit:              queryInt(c, "limit", 0),
		MinSimilarity:      queryFloat(c, "min_similarity", 0),
		SessionID:          c.Query("session_id"),
		Explain:            c.Query("explain") == "true",
		IncludeAll:         c.Query("include_all") == "true",
		IncludeSuperseded:  c.Query("include_superseded") == "true",
		IncludeDisputed:    c.Query("include_disputed") == "true",
		IncludeQuarantined: c.Query("include_quarantined") == "true",
	}
	if c.Query("rerank") == "false" {
		rerank := false
		opts.Rerank = &rerank
	}
	if t, ok := queryTime(c, "before"); ok {
		opts.Before = t
	}
	if t, ok := queryTime(c, "after"); ok {
		opts.After = t
	}

	resp, err := s.engine.Search(c.Request.Context(), c.Query("agent"), c.Query("q"), opts)
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "search results", resp)
}

func (s *Server) handleContext(c *gin.Context) {
	opts := &engine.ContextOptions{
		MaxMemories: queryInt(c, "max_memories", 0),
		MaxTokens:   queryInt(c, "max_tokens", 0),
		Explain:     c.Query("explain") == "true",
	}
	if t, ok := queryTime(c, "before"); ok {
		opts.Before = t
	}
	if t, ok := queryTime(c, "after"); ok {
		opts.After = t
	}

	result, err := s.engine.Context(c.Request.Context(), c.Query("agent"), c.Query("q"), opts)
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "context", result)
}

func (s *Server) handleTraverse(c *gin.Context) {
	nodes, err := s.engine.Traverse(c.Param("id"), queryInt(c, "max_hops", 2), c.QueryArray("type"))
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "traversal", nodes)
}

func (s *Server) handleClusters(c *gin.Context) {
	SuccessResponse(c, "clusters", s.engine.Clusters(queryInt(c, "min_size", 2)))
}

func (s *Server) handleConflicts(c *gin.Context) {
	conflicts := s.engine.Conflicts(engine.ConflictFilter{
		Subject:    c.Query("subject"),
		Predicate:  c.Query("predicate"),
		IncludeAll: c.Query("include_all") == "true",
	})
	SuccessResponse(c, "conflicts", conflicts)
}

type resolveRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleResolveConflict(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.engine.ResolveConflict(c.Param("id"), req.Action); err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "conflict resolved", nil)
}

func (s *Server) handleHealth(c *gin.Context) {
	report, err := s.engine.Health()
	if err != nil {
		EngineError(c, err)
		return
	}
	SuccessResponse(c, "health", report)
}

func queryInt(c *gin.Context, name string, fallback int) int {
	if v := c.Query(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func queryFloat(c *gin.Context, name string, fallback float64) float64 {
	if v := c.Query(name); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func queryTime(c *gin.Context, name string) (*time.Time, bool) {
	if v := c.Query(name); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			utc := t.UTC()
			return &utc, true
		}
	}
	return nil, false
}
