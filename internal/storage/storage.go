// Package storage defines the persistence contract the memory graph engine
// talks to. Adapters implement Store; optional capabilities (incremental
// writes, server-side vector search) are separate interfaces the engine
// detects with type assertions.
package storage

import "github.com/engramkit/engram/internal/memory"

// Store is the required persistence surface: whole-document load/save for
// each entity collection plus id generation.
type Store interface {
	Load() ([]*memory.Memory, error)
	Save(memories []*memory.Memory) error

	LoadArchive() ([]*memory.Memory, error)
	SaveArchive(memories []*memory.Memory) error

	LoadEpisodes() ([]*memory.Episode, error)
	SaveEpisodes(episodes []*memory.Episode) error

	LoadClusters() ([]*memory.LabeledCluster, error)
	SaveClusters(clusters []*memory.LabeledCluster) error

	LoadPendingConflicts() ([]*memory.PendingConflict, error)
	SavePendingConflicts(conflicts []*memory.PendingConflict) error

	GenID() string
	GenEpisodeID() string
	GenClusterID() string
}

// Incremental is the optional fine-grained write capability. Adapters that
// implement it get per-memory upserts instead of whole-list saves.
type Incremental interface {
	Upsert(m *memory.Memory) error
	Remove(id string) error
	UpsertLinks(sourceID string, links []memory.Link) error
	RemoveLinks(id string) error
}

// SearchOptions narrows a server-side vector search.
type SearchOptions struct {
	Agent         string
	Limit         int
	MinSimilarity float64
	Status        []string
}

// SearchResult is one row of a server-side vector search.
type SearchResult struct {
	ID         string
	Similarity float64
}

// VectorSearcher is the optional server-side similarity search capability.
// A nil result with a nil error tells the engine to fall back to client-side
// search.
type VectorSearcher interface {
	SearchVectors(embedding []float64, opts SearchOptions) ([]SearchResult, error)
}
