// Package engine implements the in-process memory graph: the canonical
// ordered memory list, its indexes, typed weighted linking with provenance
// and trust, structural conflict detection, biological decay, compression,
// consolidation, and budget-aware retrieval. Storage, embedding and chat
// backends plug in through the narrow adapter interfaces in
// internal/storage and internal/ai.
package engine

import (
	"sync"
	"time"

	"github.com/engramkit/engram/internal/ai"
	"github.com/engramkit/engram/internal/logging"
	"github.com/engramkit/engram/internal/memory"
	"github.com/engramkit/engram/internal/predicate"
	"github.com/engramkit/engram/internal/storage"
)

var log = logging.GetLogger("engine")

// Engine owns the canonical in-memory state. All mutations go through its
// methods; indexes and link back-references are kept in lockstep with every
// mutation.
type Engine struct {
	mu    sync.RWMutex
	opts  Options
	store storage.Store

	embedder ai.Embedder
	chatter  ai.Chatter

	registry *predicate.Registry

	memories []*memory.Memory
	episodes []*memory.Episode
	clusters []*memory.LabeledCluster
	pending  []*memory.PendingConflict

	byID       map[string]*memory.Memory
	tokenIndex map[string]map[string]struct{}
	claimIndex map[string]map[string]struct{}

	listeners map[string][]Listener

	lastEvolve time.Time

	// Injectable for tests.
	now   func() time.Time
	sleep func(time.Duration)
}

// New loads persisted state from the store and rebuilds all indexes.
func New(store storage.Store, opts Options) (*Engine, error) {
	e := &Engine{
		opts:       opts.withDefaults(),
		store:      store,
		registry:   predicate.NewRegistry(),
		byID:       make(map[string]*memory.Memory),
		tokenIndex: make(map[string]map[string]struct{}),
		claimIndex: make(map[string]map[string]struct{}),
		listeners:  make(map[string][]Listener),
		now:        func() time.Time { return time.Now().UTC() },
		sleep:      time.Sleep,
	}

	if err := e.load(); err != nil {
		return nil, err
	}

	log.Info("engine loaded", "memories", len(e.memories), "episodes", len(e.episodes),
		"clusters", len(e.clusters), "pending_conflicts", len(e.pending))
	return e, nil
}

// SetEmbedder attaches an embedding adapter. A nil embedder keeps the
// engine on the keyword path.
func (e *Engine) SetEmbedder(em ai.Embedder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.embedder = em
}

// SetChatter attaches a chat adapter used by conflict detection,
// summarization and auto-labeling.
func (e *Engine) SetChatter(c ai.Chatter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.chatter = c
}

// Registry exposes the predicate schema registry.
func (e *Engine) Registry() *predicate.Registry {
	return e.registry
}

// load pulls every collection from the store and rebuilds the indexes.
// The loader is tolerant: missing optional fields take their zero defaults,
// an empty status becomes active, and corroboration floors at 1.
func (e *Engine) load() error {
	memories, err := e.store.Load()
	if err != nil {
		return storageErr(err)
	}
	episodes, err := e.store.LoadEpisodes()
	if err != nil {
		return storageErr(err)
	}
	clusters, err := e.store.LoadClusters()
	if err != nil {
		return storageErr(err)
	}
	pending, err := e.store.LoadPendingConflicts()
	if err != nil {
		return storageErr(err)
	}

	e.memories = memories
	e.episodes = episodes
	e.clusters = clusters
	e.pending = pending

	for _, m := range e.memories {
		if m.Status == "" {
			m.Status = memory.StatusActive
		}
		if m.Provenance.Corroboration < 1 {
			m.Provenance.Corroboration = 1
		}
	}

	e.rebuildIndexes()
	return nil
}

// rebuildIndexes recomputes the id, token and claim indexes from the
// memory list.
func (e *Engine) rebuildIndexes() {
	e.byID = make(map[string]*memory.Memory, len(e.memories))
	e.tokenIndex = make(map[string]map[string]struct{})
	e.claimIndex = make(map[string]map[string]struct{})

	for _, m := range e.memories {
		e.indexMemory(m)
	}
}

// persistMemories saves the whole memory list, or upserts just the listed
// memories when the store is incremental.
func (e *Engine) persistMemories(touched ...*memory.Memory) error {
	if inc, ok := e.store.(storage.Incremental); ok && len(touched) > 0 {
		for _, m := range touched {
			if err := inc.Upsert(m); err != nil {
				return storageErr(err)
			}
		}
		return nil
	}
	return storageErr(e.store.Save(e.memories))
}

// persistRemovals removes the given ids incrementally, or falls back to a
// full save.
func (e *Engine) persistRemovals(ids []string) error {
	if inc, ok := e.store.(storage.Incremental); ok {
		for _, id := range ids {
			if err := inc.Remove(id); err != nil {
				return storageErr(err)
			}
		}
		return nil
	}
	return storageErr(e.store.Save(e.memories))
}

func (e *Engine) persistPending() error {
	return storageErr(e.store.SavePendingConflicts(e.pending))
}

func (e *Engine) persistEpisodes() error {
	return storageErr(e.store.SaveEpisodes(e.episodes))
}

func (e *Engine) persistClusters() error {
	return storageErr(e.store.SaveClusters(e.clusters))
}

// appendArchive copies the given memories onto the archive, stripping
// embeddings and stamping archived_at.
func (e *Engine) appendArchive(ms []*memory.Memory, reason string) error {
	if len(ms) == 0 {
		return nil
	}
	archive, err := e.store.LoadArchive()
	if err != nil {
		return storageErr(err)
	}
	now := e.now()
	for _, m := range ms {
		cp := *m
		cp.Embedding = nil
		cp.ArchivedAt = &now
		if reason != "" {
			cp.ArchivedReason = reason
		}
		archive = append(archive, &cp)
	}
	return storageErr(e.store.SaveArchive(archive))
}

// Get returns a memory by id.
func (e *Engine) Get(id string) (*memory.Memory, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.byID[id]
	if !ok {
		return nil, notFoundf("memory %s", id)
	}
	return m, nil
}

// Count returns the number of memories in the graph.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.memories)
}

// Memories returns the canonical ordered memory list. Callers must treat
// the result as read-only.
func (e *Engine) Memories() []*memory.Memory {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*memory.Memory(nil), e.memories...)
}
