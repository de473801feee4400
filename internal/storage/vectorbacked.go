package storage

import "github.com/engramkit/engram/internal/memory"

// WithVectorSearch composes a storage adapter with a server-side vector
// searcher. The wrapper keeps the underlying adapter's incremental
// capability visible to the engine's type assertions.
func WithVectorSearch(s Store, vs VectorSearcher) Store {
	if inc, ok := s.(Incremental); ok {
		return &incrementalVectorStore{Store: s, inc: inc, vs: vs}
	}
	return &vectorStore{Store: s, vs: vs}
}

type vectorStore struct {
	Store
	vs VectorSearcher
}

func (v *vectorStore) SearchVectors(embedding []float64, opts SearchOptions) ([]SearchResult, error) {
	return v.vs.SearchVectors(embedding, opts)
}

type incrementalVectorStore struct {
	Store
	inc Incremental
	vs  VectorSearcher
}

func (v *incrementalVectorStore) SearchVectors(embedding []float64, opts SearchOptions) ([]SearchResult, error) {
	return v.vs.SearchVectors(embedding, opts)
}

func (v *incrementalVectorStore) Upsert(m *memory.Memory) error { return v.inc.Upsert(m) }

func (v *incrementalVectorStore) Remove(id string) error { return v.inc.Remove(id) }

func (v *incrementalVectorStore) UpsertLinks(sourceID string, links []memory.Link) error {
	return v.inc.UpsertLinks(sourceID, links)
}

func (v *incrementalVectorStore) RemoveLinks(id string) error { return v.inc.RemoveLinks(id) }
