package sqlite

// Schema is the base SQLite schema for the timeline store. All statements
// are idempotent so the schema can be applied on every open.
//
// The three entity maps are stored as JSON text columns; events are stored
// append-only in their own table, ordered by rowid, which preserves
// insertion order as the authoritative display order.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
    entity_type      TEXT NOT NULL,
    entity_id        TEXT NOT NULL,
    start_time       INTEGER NOT NULL DEFAULT 0,
    related_entities TEXT NOT NULL DEFAULT '{}',
    primary_filters  TEXT NOT NULL DEFAULT '{}',
    other_info       TEXT NOT NULL DEFAULT '{}',
    created_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (entity_type, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_entities_type_start
    ON entities(entity_type, start_time DESC);

CREATE TABLE IF NOT EXISTS events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    ts          INTEGER NOT NULL,
    event_type  TEXT NOT NULL,
    event_info  TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_events_entity
    ON events(entity_type, entity_id, id);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
