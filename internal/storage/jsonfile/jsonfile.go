// Package jsonfile persists the memory graph as JSON documents, one file
// per entity collection. Writes go to a temporary file first and rename
// into place so a crash never leaves a partial document.
package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/engramkit/engram/internal/logging"
	"github.com/engramkit/engram/internal/memory"
)

var log = logging.GetLogger("storage.jsonfile")

const (
	memoriesFile = "memories.json"
	archiveFile  = "archive.json"
	episodesFile = "episodes.json"
	clustersFile = "clusters.json"
	pendingFile  = "pending_conflicts.json"
)

// Store is a JSON-document storage adapter rooted at a directory.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates the directory if needed and returns a store.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	log.Info("json storage opened", "dir", dir)
	return &Store{dir: dir}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads the memory list. A missing file is an empty graph.
func (s *Store) Load() ([]*memory.Memory, error) {
	var out []*memory.Memory
	err := s.read(memoriesFile, &out)
	return out, err
}

// Save writes the whole memory list atomically.
func (s *Store) Save(memories []*memory.Memory) error {
	return s.write(memoriesFile, memories)
}

// LoadArchive reads the archive list.
func (s *Store) LoadArchive() ([]*memory.Memory, error) {
	var out []*memory.Memory
	err := s.read(archiveFile, &out)
	return out, err
}

// SaveArchive writes the archive list atomically.
func (s *Store) SaveArchive(memories []*memory.Memory) error {
	return s.write(archiveFile, memories)
}

// LoadEpisodes reads the episode list.
func (s *Store) LoadEpisodes() ([]*memory.Episode, error) {
	var out []*memory.Episode
	err := s.read(episodesFile, &out)
	return out, err
}

// SaveEpisodes writes the episode list atomically.
func (s *Store) SaveEpisodes(episodes []*memory.Episode) error {
	return s.write(episodesFile, episodes)
}

// LoadClusters reads the labeled cluster list.
func (s *Store) LoadClusters() ([]*memory.LabeledCluster, error) {
	var out []*memory.LabeledCluster
	err := s.read(clustersFile, &out)
	return out, err
}

// SaveClusters writes the labeled cluster list atomically.
func (s *Store) SaveClusters(clusters []*memory.LabeledCluster) error {
	return s.write(clustersFile, clusters)
}

// LoadPendingConflicts reads the pending conflict list.
func (s *Store) LoadPendingConflicts() ([]*memory.PendingConflict, error) {
	var out []*memory.PendingConflict
	err := s.read(pendingFile, &out)
	return out, err
}

// SavePendingConflicts writes the pending conflict list atomically.
func (s *Store) SavePendingConflicts(conflicts []*memory.PendingConflict) error {
	return s.write(pendingFile, conflicts)
}

// GenID returns a new memory id.
func (s *Store) GenID() string {
	return uuid.New().String()
}

// GenEpisodeID returns a new episode id.
func (s *Store) GenEpisodeID() string {
	return "ep-" + uuid.New().String()
}

// GenClusterID returns a new labeled cluster id.
func (s *Store) GenClusterID() string {
	return "cl-" + uuid.New().String()
}

func (s *Store) read(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return nil
}

// write marshals v and swaps it into place with a temp file + rename.
func (s *Store) write(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
