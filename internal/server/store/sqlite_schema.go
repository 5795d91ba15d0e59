package store

// SQLite schema DDL constants

const schemaNodes = `
CREATE TABLE IF NOT EXISTS nodes (
    id INTEGER PRIMARY KEY
)`

const schemaProperties = `
CREATE TABLE IF NOT EXISTS properties (
    node_id INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    key TEXT NOT NULL,
    kind TEXT NOT NULL,
    value TEXT NOT NULL,
    PRIMARY KEY (node_id, key)
)`

const schemaRelationships = `
CREATE TABLE IF NOT EXISTS relationships (
    id INTEGER PRIMARY KEY,
    type TEXT NOT NULL,
    source_id INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    target_id INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE
)`

const schemaIndexEntries = `
CREATE TABLE IF NOT EXISTS index_entries (
    index_name TEXT NOT NULL,
    key TEXT NOT NULL,
    kind TEXT NOT NULL,
    value TEXT NOT NULL,
    node_id INTEGER NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    PRIMARY KEY (index_name, key, kind, value, node_id)
)`

const schemaMeta = `
CREATE TABLE IF NOT EXISTS meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
)`

const schemaSubscriptions = `
CREATE TABLE IF NOT EXISTS subscriptions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    pattern TEXT NOT NULL,
    webhook TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    fire_count INTEGER NOT NULL DEFAULT 0,
    last_fired DATETIME,
    created_at DATETIME NOT NULL,
    modified_at DATETIME NOT NULL
)`

// Index definitions
const indexRelationshipsSource = `CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_id)`
const indexRelationshipsTarget = `CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_id)`
const indexIndexEntriesNode = `CREATE INDEX IF NOT EXISTS idx_index_entries_node ON index_entries(node_id)`

// SQLite pragmas
const pragmaWAL = `PRAGMA journal_mode=WAL`
const pragmaFK = `PRAGMA foreign_keys=ON`
const pragmaBusyTimeout = `PRAGMA busy_timeout=5000`
const pragmaSynchronous = `PRAGMA synchronous=NORMAL`

// allSchemaStatements returns all schema DDL in order
func allSchemaStatements() []string {
	return []string{
		schemaNodes,
		schemaProperties,
		schemaRelationships,
		schemaIndexEntries,
		schemaMeta,
		schemaSubscriptions,
		indexRelationshipsSource,
		indexRelationshipsTarget,
		indexIndexEntriesNode,
	}
}

// allPragmas returns all pragma statements
func allPragmas() []string {
	return []string{
		pragmaWAL,
		pragmaFK,
		pragmaBusyTimeout,
		pragmaSynchronous,
	}
}
