package sqlite

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// Schema contains the relational layout: a normalized memories table, a
// separate bidirectional links table, and document tables for the side
// collections. Insertion order is preserved through the seq column so a
// save/load round trip keeps the canonical list order.
const Schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS memories (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	agent TEXT NOT NULL,
	text TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT 'fact',
	importance REAL NOT NULL DEFAULT 0.5,
	tags TEXT,
	embedding TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	event_at DATETIME,
	access_count INTEGER NOT NULL DEFAULT 0,
	reinforcements INTEGER NOT NULL DEFAULT 0,
	disputes INTEGER NOT NULL DEFAULT 0,
	stability REAL NOT NULL DEFAULT 0,
	last_review_interval REAL NOT NULL DEFAULT 0,
	source TEXT NOT NULL DEFAULT 'inference',
	source_id TEXT,
	corroboration INTEGER NOT NULL DEFAULT 1,
	trust REAL NOT NULL DEFAULT 0.5,
	confidence REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'active',
	quarantine TEXT,
	superseded_by TEXT,
	supersedes TEXT,
	claim_subject TEXT,
	claim_predicate TEXT,
	claim TEXT,
	compressed TEXT,
	evolution TEXT
);

CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent);
CREATE INDEX IF NOT EXISTS idx_memories_status ON memories(status);
CREATE INDEX IF NOT EXISTS idx_memories_category ON memories(category);
CREATE INDEX IF NOT EXISTS idx_memories_claim_key ON memories(claim_subject, claim_predicate);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);

CREATE TABLE IF NOT EXISTS memory_links (
	source_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	similarity REAL NOT NULL CHECK (similarity >= -1.0 AND similarity <= 1.0),
	type TEXT NOT NULL,
	position INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (source_id, target_id),
	FOREIGN KEY (source_id) REFERENCES memories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_links_source ON memory_links(source_id);
CREATE INDEX IF NOT EXISTS idx_links_target ON memory_links(target_id);

CREATE TABLE IF NOT EXISTS memory_archive (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	doc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS episodes (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	doc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS labeled_clusters (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	doc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_conflicts (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	doc TEXT NOT NULL
);
`
