package postgres

// Schema is the base PostgreSQL schema for the timeline store. All
// statements are idempotent so the schema can be applied on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
    entity_type      TEXT NOT NULL,
    entity_id        TEXT NOT NULL,
    start_time       BIGINT NOT NULL DEFAULT 0,
    related_entities JSONB NOT NULL DEFAULT '{}'::jsonb,
    primary_filters  JSONB NOT NULL DEFAULT '{}'::jsonb,
    other_info       JSONB NOT NULL DEFAULT '{}'::jsonb,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (entity_type, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_entities_type_start
    ON entities(entity_type, start_time DESC);

CREATE INDEX IF NOT EXISTS idx_entities_primary_filters
    ON entities USING GIN (primary_filters);

CREATE TABLE IF NOT EXISTS events (
    id          BIGSERIAL PRIMARY KEY,
    entity_type TEXT NOT NULL,
    entity_id   TEXT NOT NULL,
    ts          BIGINT NOT NULL,
    event_type  TEXT NOT NULL,
    event_info  JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE INDEX IF NOT EXISTS idx_events_entity
    ON events(entity_type, entity_id, id);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
