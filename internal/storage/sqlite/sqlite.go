// Package sqlite is the relational storage adapter: memories in a
// normalized table with UUID ids, links in a separate bidirectional links
// table, and the side collections as JSON documents. It implements the
// incremental write capability so the engine persists only what an
// operation touched.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/engramkit/engram/internal/logging"
	"github.com/engramkit/engram/internal/memory"
)

var log = logging.GetLogger("storage.sqlite")

// Store is the SQLite storage adapter.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens the database, creating the schema when missing.
func Open(path string) (*Store, error) {
	log.Info("opening database", "path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_version (version, applied_at)
		VALUES (?, CURRENT_TIMESTAMP)`, SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

const memoryColumns = `id, agent, text, category, importance, tags, embedding,
	created_at, updated_at, event_at, access_count, reinforcements, disputes,
	stability, last_review_interval, source, source_id, corroboration, trust,
	confidence, status, quarantine, superseded_by, supersedes,
	claim_subject, claim_predicate, claim, compressed, evolution`

// Load reads the memory list in insertion order, attaching each memory's
// links from the links table.
func (s *Store) Load() ([]*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ` + memoryColumns + ` FROM memories ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to load memories: %w", err)
	}
	defer rows.Close()

	var memories []*memory.Memory
	byID := make(map[string]*memory.Memory)
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, m)
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate memories: %w", err)
	}

	linkRows, err := s.db.Query(`SELECT source_id, target_id, similarity, type
		FROM memory_links ORDER BY source_id, position`)
	if err != nil {
		return nil, fmt.Errorf("failed to load links: %w", err)
	}
	defer linkRows.Close()

	for linkRows.Next() {
		var sourceID string
		var l memory.Link
		if err := linkRows.Scan(&sourceID, &l.TargetID, &l.Similarity, &l.Type); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		if m, ok := byID[sourceID]; ok {
			m.Links = append(m.Links, l)
		}
	}
	return memories, linkRows.Err()
}

// Save replaces the whole memory list in one transaction.
func (s *Store) Save(memories []*memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM memory_links`); err != nil {
		return fmt.Errorf("failed to clear links: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM memories`); err != nil {
		return fmt.Errorf("failed to clear memories: %w", err)
	}
	for _, m := range memories {
		if err := insertMemory(tx, m); err != nil {
			return err
		}
		if err := insertLinks(tx, m.ID, m.Links); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Upsert writes one memory and replaces its outgoing links.
func (s *Store) Upsert(m *memory.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertMemory(tx, m); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM memory_links WHERE source_id = ?`, m.ID); err != nil {
		return fmt.Errorf("failed to clear links for %s: %w", m.ID, err)
	}
	if err := insertLinks(tx, m.ID, m.Links); err != nil {
		return err
	}
	return tx.Commit()
}

// Remove deletes one memory and every link touching it.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM memory_links WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
		return fmt.Errorf("failed to remove links for %s: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove memory %s: %w", id, err)
	}
	return tx.Commit()
}

// UpsertLinks replaces the outgoing links of one memory.
func (s *Store) UpsertLinks(sourceID string, links []memory.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM memory_links WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("failed to clear links for %s: %w", sourceID, err)
	}
	if err := insertLinks(tx, sourceID, links); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveLinks deletes every link touching one memory.
func (s *Store) RemoveLinks(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`DELETE FROM memory_links WHERE source_id = ? OR target_id = ?`, id, id)
	if err != nil {
		return fmt.Errorf("failed to remove links for %s: %w", id, err)
	}
	return nil
}

// LoadArchive reads the archive documents in insertion order.
func (s *Store) LoadArchive() ([]*memory.Memory, error) {
	var out []*memory.Memory
	err := s.loadDocs("memory_archive", func(doc []byte) error {
		var m memory.Memory
		if err := json.Unmarshal(doc, &m); err != nil {
			return err
		}
		out = append(out, &m)
		return nil
	})
	return out, err
}

// SaveArchive replaces the archive documents.
func (s *Store) SaveArchive(memories []*memory.Memory) error {
	docs := make([]doc, 0, len(memories))
	for _, m := range memories {
		docs = append(docs, doc{id: m.ID, value: m})
	}
	return s.saveDocs("memory_archive", docs)
}

// LoadEpisodes reads the episode documents.
func (s *Store) LoadEpisodes() ([]*memory.Episode, error) {
	var out []*memory.Episode
	err := s.loadDocs("episodes", func(d []byte) error {
		var ep memory.Episode
		if err := json.Unmarshal(d, &ep); err != nil {
			return err
		}
		out = append(out, &ep)
		return nil
	})
	return out, err
}

// SaveEpisodes replaces the episode documents.
func (s *Store) SaveEpisodes(episodes []*memory.Episode) error {
	docs := make([]doc, 0, len(episodes))
	for _, ep := range episodes {
		docs = append(docs, doc{id: ep.ID, value: ep})
	}
	return s.saveDocs("episodes", docs)
}

// LoadClusters reads the labeled cluster documents.
func (s *Store) LoadClusters() ([]*memory.LabeledCluster, error) {
	var out []*memory.LabeledCluster
	err := s.loadDocs("labeled_clusters", func(d []byte) error {
		var lc memory.LabeledCluster
		if err := json.Unmarshal(d, &lc); err != nil {
			return err
		}
		out = append(out, &lc)
		return nil
	})
	return out, err
}

// SaveClusters replaces the labeled cluster documents.
func (s *Store) SaveClusters(clusters []*memory.LabeledCluster) error {
	docs := make([]doc, 0, len(clusters))
	for _, lc := range clusters {
		docs = append(docs, doc{id: lc.ID, value: lc})
	}
	return s.saveDocs("labeled_clusters", docs)
}

// LoadPendingConflicts reads the pending conflict documents.
func (s *Store) LoadPendingConflicts() ([]*memory.PendingConflict, error) {
	var out []*memory.PendingConflict
	err := s.loadDocs("pending_conflicts", func(d []byte) error {
		var p memory.PendingConflict
		if err := json.Unmarshal(d, &p); err != nil {
			return err
		}
		out = append(out, &p)
		return nil
	})
	return out, err
}

// SavePendingConflicts replaces the pending conflict documents.
func (s *Store) SavePendingConflicts(conflicts []*memory.PendingConflict) error {
	docs := make([]doc, 0, len(conflicts))
	for _, p := range conflicts {
		docs = append(docs, doc{id: p.ID, value: p})
	}
	return s.saveDocs("pending_conflicts", docs)
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

type doc struct {
	id    string
	value any
}

func (s *Store) loadDocs(table string, each func([]byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(fmt.Sprintf(`SELECT doc FROM %s ORDER BY seq`, table))
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return fmt.Errorf("failed to scan %s: %w", table, err)
		}
		if err := each([]byte(d)); err != nil {
			return fmt.Errorf("failed to parse %s document: %w", table, err)
		}
	}
	return rows.Err()
}

func (s *Store) saveDocs(table string, docs []doc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(fmt.Sprintf(`DELETE FROM %s`, table)); err != nil {
		return fmt.Errorf("failed to clear %s: %w", table, err)
	}
	for _, d := range docs {
		data, err := json.Marshal(d.value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s document: %w", table, err)
		}
		if _, err := tx.Exec(fmt.Sprintf(`INSERT INTO %s (id, doc) VALUES (?, ?)`, table), d.id, string(data)); err != nil {
			return fmt.Errorf("failed to insert into %s: %w", table, err)
		}
	}
	return tx.Commit()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertMemory(tx execer, m *memory.Memory) error {
	return writeMemory(tx, m, `INSERT INTO memories (`+memoryColumnsInsert+`) VALUES (`+memoryPlaceholders+`)`)
}

func upsertMemory(tx execer, m *memory.Memory) error {
	return writeMemory(tx, m, `INSERT INTO memories (`+memoryColumnsInsert+`) VALUES (`+memoryPlaceholders+`)
		ON CONFLICT(id) DO UPDATE SET
		agent=excluded.agent, text=excluded.text, category=excluded.category,
		importance=excluded.importance, tags=excluded.tags, embedding=excluded.embedding,
		created_at=excluded.created_at, updated_at=excluded.updated_at, event_at=excluded.event_at,
		access_count=excluded.access_count, reinforcements=excluded.reinforcements,
		disputes=excluded.disputes, stability=excluded.stability,
		last_review_interval=excluded.last_review_interval, source=excluded.source,
		source_id=excluded.source_id, corroboration=excluded.corroboration,
		trust=excluded.trust, confidence=excluded.confidence, status=excluded.status,
		quarantine=excluded.quarantine, superseded_by=excluded.superseded_by,
		supersedes=excluded.supersedes, claim_subject=excluded.claim_subject,
		claim_predicate=excluded.claim_predicate, claim=excluded.claim,
		compressed=excluded.compressed, evolution=excluded.evolution`)
}

const memoryColumnsInsert = `id, agent, text, category, importance, tags, embedding,
	created_at, updated_at, event_at, access_count, reinforcements, disputes,
	stability, last_review_interval, source, source_id, corroboration, trust,
	confidence, status, quarantine, superseded_by, supersedes,
	claim_subject, claim_predicate, claim, compressed, evolution`

const memoryPlaceholders = `?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`

func writeMemory(tx execer, m *memory.Memory, query string) error {
	var eventAt any
	if m.EventAt != nil {
		eventAt = *m.EventAt
	}
	var claimSubject, claimPredicate any
	if m.Claim != nil {
		claimSubject = m.Claim.Subject
		claimPredicate = m.Claim.Predicate
	}

	_, err := tx.Exec(query,
		m.ID, m.Agent, m.Text, m.Category, m.Importance,
		marshalJSON(m.Tags), marshalJSON(m.Embedding),
		m.CreatedAt, m.UpdatedAt, eventAt,
		m.AccessCount, m.Reinforcements, m.Disputes,
		m.Stability, m.LastReviewInterval,
		m.Provenance.Source, nullString(m.Provenance.SourceID),
		m.Provenance.Corroboration, m.Provenance.Trust,
		m.Confidence, m.Status,
		marshalJSON(m.Quarantine), nullString(m.SupersededBy), marshalJSON(m.Supersedes),
		claimSubject, claimPredicate, marshalJSON(m.Claim),
		marshalJSON(m.Compressed), marshalJSON(m.Evolution),
	)
	if err != nil {
		return fmt.Errorf("failed to write memory %s: %w", m.ID, err)
	}
	return nil
}

func insertLinks(tx execer, sourceID string, links []memory.Link) error {
	for i, l := range links {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO memory_links
			(source_id, target_id, similarity, type, position) VALUES (?, ?, ?, ?, ?)`,
			sourceID, l.TargetID, l.Similarity, l.Type, i); err != nil {
			return fmt.Errorf("failed to write link %s -> %s: %w", sourceID, l.TargetID, err)
		}
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMemory(rows scannable) (*memory.Memory, error) {
	var m memory.Memory
	var tags, embedding, quarantine, supersedes, claim, compressed, evolution sql.NullString
	var sourceID, supersededBy, claimSubject, claimPredicate sql.NullString
	var eventAt sql.NullTime

	err := rows.Scan(
		&m.ID, &m.Agent, &m.Text, &m.Category, &m.Importance,
		&tags, &embedding,
		&m.CreatedAt, &m.UpdatedAt, &eventAt,
		&m.AccessCount, &m.Reinforcements, &m.Disputes,
		&m.Stability, &m.LastReviewInterval,
		&m.Provenance.Source, &sourceID,
		&m.Provenance.Corroboration, &m.Provenance.Trust,
		&m.Confidence, &m.Status,
		&quarantine, &supersededBy, &supersedes,
		&claimSubject, &claimPredicate, &claim,
		&compressed, &evolution,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan memory: %w", err)
	}

	m.Provenance.SourceID = sourceID.String
	m.SupersededBy = supersededBy.String
	if eventAt.Valid {
		t := eventAt.Time.UTC()
		m.EventAt = &t
	}
	unmarshalJSON(tags, &m.Tags)
	unmarshalJSON(embedding, &m.Embedding)
	unmarshalJSON(quarantine, &m.Quarantine)
	unmarshalJSON(supersedes, &m.Supersedes)
	unmarshalJSON(claim, &m.Claim)
	unmarshalJSON(compressed, &m.Compressed)
	unmarshalJSON(evolution, &m.Evolution)

	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

// marshalJSON encodes v, returning NULL for nil values so optional fields
// stay absent.
func marshalJSON(v any) any {
	switch val := v.(type) {
	case []string:
		if val == nil {
			return nil
		}
	case []float64:
		if val == nil {
			return nil
		}
	case *memory.Quarantine:
		if val == nil {
			return nil
		}
	case *memory.Claim:
		if val == nil {
			return nil
		}
	case *memory.Compressed:
		if val == nil {
			return nil
		}
	case []memory.Evolution:
		if val == nil {
			return nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}

func unmarshalJSON(src sql.NullString, dst any) {
	if !src.Valid || src.String == "" {
		return
	}
	if err := json.Unmarshal([]byte(src.String), dst); err != nil {
		log.Warn("failed to parse stored JSON field", "error", err)
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
