// Package sqlite provides a SQLite implementation of the timeline store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/exec"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/tracklight/tracklight/internal/storage"
	"github.com/tracklight/tracklight/pkg/types"
)

// Ensure *TimelineStore implements storage.TimelineStore at compile time.
var _ storage.TimelineStore = (*TimelineStore)(nil)

// TimelineStore implements storage.TimelineStore using SQLite.
type TimelineStore struct {
	db *sql.DB
}

// NewTimelineStore creates a new SQLite timeline store with WAL self-healing.
// If the initial open fails due to stale WAL files (left behind by a crashed
// process), it verifies no other process holds them and retries once after
// removing the stale -shm/-wal files.
func NewTimelineStore(dsn string) (*TimelineStore, error) {
	store, err := openTimelineStore(dsn)
	if err == nil {
		return store, nil
	}

	if !isRecoverableWALError(err) {
		return nil, err
	}

	dbPath := dbPathFromDSN(dsn)
	if dbPath == "" || dbPath == ":memory:" {
		return nil, err
	}

	if !isWALStale(dbPath) {
		return nil, err
	}

	removeStaleWAL(dbPath)

	store, retryErr := openTimelineStore(dsn)
	if retryErr != nil {
		return nil, fmt.Errorf("failed after WAL recovery: %w (original: %v)", retryErr, err)
	}

	log.Printf("sqlite: recovered from stale WAL files for %s", dbPath)
	return store, nil
}

// openTimelineStore opens a SQLite database, configures WAL mode, and applies
// the schema.
func openTimelineStore(dsn string) (*TimelineStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Using a single open
	// connection serialises writes and avoids SQLITE_BUSY errors under
	// concurrent load. WAL mode lets readers proceed without blocking the
	// writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait instead of failing with SQLITE_BUSY when the connection is held
	// by another goroutine.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &TimelineStore{db: db}, nil
}

// GetDB exposes the underlying connection for config settings persistence.
func (s *TimelineStore) GetDB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *TimelineStore) Close() error {
	return s.db.Close()
}

// Put stores a batch of entities, merging each into any existing record with
// the same (entity_type, entity_id) key. The whole batch runs in a single
// transaction; per-entity validation failures are reported in the response
// without aborting the rest of the batch.
func (s *TimelineStore) Put(ctx context.Context, entities []*types.TimelineEntity) (*storage.PutResponse, error) {
	resp := &storage.PutResponse{Errors: []storage.PutError{}}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, entity := range entities {
		if entity == nil {
			continue
		}
		if code, ok := validatePut(entity); !ok {
			resp.Errors = append(resp.Errors, storage.PutError{
				EntityType: entity.EntityType(),
				EntityID:   entity.EntityID(),
				ErrorCode:  code,
			})
			continue
		}

		if err := s.putOne(ctx, tx, entity); err != nil {
			log.Printf("sqlite: failed to put entity %s/%s: %v",
				entity.EntityType(), entity.EntityID(), err)
			resp.Errors = append(resp.Errors, storage.PutError{
				EntityType: entity.EntityType(),
				EntityID:   entity.EntityID(),
				ErrorCode:  storage.PutErrorIOException,
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: failed to commit put batch: %w", err)
	}
	return resp, nil
}

// validatePut checks the identity key. Validation lives here, not in
// pkg/types: the record accepts anything, the store does not.
func validatePut(entity *types.TimelineEntity) (string, bool) {
	if entity.EntityID() == "" {
		return storage.PutErrorNoEntityID, false
	}
	if entity.EntityType() == "" {
		return storage.PutErrorNoEntityType, false
	}
	return "", true
}

// putOne merges one entity into its stored record inside tx.
func (s *TimelineStore) putOne(ctx context.Context, tx *sql.Tx, entity *types.TimelineEntity) error {
	var (
		startTime                          int64
		relatedJSON, filtersJSON, infoJSON string
	)

	err := tx.QueryRowContext(ctx, `
		SELECT start_time, related_entities, primary_filters, other_info
		FROM entities WHERE entity_type = ? AND entity_id = ?`,
		entity.EntityType(), entity.EntityID(),
	).Scan(&startTime, &relatedJSON, &filtersJSON, &infoJSON)

	switch {
	case err == sql.ErrNoRows:
		merged := types.NewTimelineEntity(entity.EntityType(), entity.EntityID())
		merged.Merge(entity)
		related, filters, info, encErr := encodeMaps(merged)
		if encErr != nil {
			return encErr
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entities (entity_type, entity_id, start_time, related_entities, primary_filters, other_info)
			VALUES (?, ?, ?, ?, ?, ?)`,
			merged.EntityType(), merged.EntityID(), merged.StartTime(), related, filters, info,
		); err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}
	case err != nil:
		return fmt.Errorf("load entity: %w", err)
	default:
		current, decErr := decodeEntity(entity.EntityType(), entity.EntityID(), startTime, relatedJSON, filtersJSON, infoJSON)
		if decErr != nil {
			return decErr
		}
		current.Merge(entity)
		related, filters, info, encErr := encodeMaps(current)
		if encErr != nil {
			return encErr
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE entities
			SET start_time = ?, related_entities = ?, primary_filters = ?, other_info = ?,
			    updated_at = CURRENT_TIMESTAMP
			WHERE entity_type = ? AND entity_id = ?`,
			current.StartTime(), related, filters, info,
			current.EntityType(), current.EntityID(),
		); err != nil {
			return fmt.Errorf("update entity: %w", err)
		}
	}

	// Events append-only: duplicates from resubmissions are retained, as
	// deduplication is explicitly not this layer's concern.
	for _, ev := range entity.Events() {
		infoJSON, err := json.Marshal(ev.EventInfo())
		if err != nil {
			return fmt.Errorf("marshal event info: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (entity_type, entity_id, ts, event_type, event_info)
			VALUES (?, ?, ?, ?, ?)`,
			entity.EntityType(), entity.EntityID(), ev.Timestamp(), ev.EventType(), string(infoJSON),
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	return nil
}

// encodeMaps marshals the three entity maps to their JSON column forms.
func encodeMaps(entity *types.TimelineEntity) (related, filters, info string, err error) {
	relatedBytes, err := json.Marshal(entity.RelatedEntities())
	if err != nil {
		return "", "", "", fmt.Errorf("marshal related entities: %w", err)
	}
	filtersBytes, err := json.Marshal(entity.PrimaryFilters())
	if err != nil {
		return "", "", "", fmt.Errorf("marshal primary filters: %w", err)
	}
	infoBytes, err := json.Marshal(entity.OtherInfo())
	if err != nil {
		return "", "", "", fmt.Errorf("marshal other info: %w", err)
	}
	return string(relatedBytes), string(filtersBytes), string(infoBytes), nil
}

// decodeEntity reconstructs an entity (without events) from its row columns.
func decodeEntity(entityType, entityID string, startTime int64, relatedJSON, filtersJSON, infoJSON string) (*types.TimelineEntity, error) {
	entity := types.NewTimelineEntity(entityType, entityID)
	entity.SetStartTime(startTime)

	var related map[string][]types.Value
	if err := json.Unmarshal([]byte(relatedJSON), &related); err != nil {
		return nil, fmt.Errorf("unmarshal related entities: %w", err)
	}
	entity.SetRelatedEntities(related)

	var filters map[string]types.Value
	if err := json.Unmarshal([]byte(filtersJSON), &filters); err != nil {
		return nil, fmt.Errorf("unmarshal primary filters: %w", err)
	}
	entity.SetPrimaryFilters(filters)

	var info map[string]types.Value
	if err := json.Unmarshal([]byte(infoJSON), &info); err != nil {
		return nil, fmt.Errorf("unmarshal other info: %w", err)
	}
	entity.SetOtherInfo(info)

	return entity, nil
}

// GetEntity retrieves a single entity with its stored events, capped at
// storage.MaxEventWindow events in submission order.
func (s *TimelineStore) GetEntity(ctx context.Context, entityType, entityID string) (*types.TimelineEntity, error) {
	if entityType == "" || entityID == "" {
		return nil, fmt.Errorf("%w: entity type and id are required", storage.ErrInvalidInput)
	}

	var (
		startTime                          int64
		relatedJSON, filtersJSON, infoJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT start_time, related_entities, primary_filters, other_info
		FROM entities WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID,
	).Scan(&startTime, &relatedJSON, &filtersJSON, &infoJSON)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load entity: %w", err)
	}

	entity, err := decodeEntity(entityType, entityID, startTime, relatedJSON, filtersJSON, infoJSON)
	if err != nil {
		return nil, err
	}

	events, err := s.loadEvents(ctx, entityType, entityID, storage.EventQuery{Limit: storage.MaxEventWindow})
	if err != nil {
		return nil, err
	}
	entity.AddEvents(events)

	return entity, nil
}

// GetEntities lists entities of one type, newest start time first. The
// primary-filter match is evaluated in Go because filter values live inside
// a JSON column.
func (s *TimelineStore) GetEntities(ctx context.Context, entityType string, q storage.EntityQuery) ([]*types.TimelineEntity, error) {
	if entityType == "" {
		return nil, fmt.Errorf("%w: entity type is required", storage.ErrInvalidInput)
	}
	q.Normalize()

	query := `
		SELECT entity_id, start_time, related_entities, primary_filters, other_info
		FROM entities WHERE entity_type = ?`
	args := []interface{}{entityType}
	if q.WindowStart > 0 {
		query += " AND start_time >= ?"
		args = append(args, q.WindowStart)
	}
	if q.WindowEnd > 0 {
		query += " AND start_time <= ?"
		args = append(args, q.WindowEnd)
	}
	query += " ORDER BY start_time DESC, entity_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list entities: %w", err)
	}
	defer rows.Close()

	entities := []*types.TimelineEntity{}
	for rows.Next() {
		if len(entities) >= q.Limit {
			break
		}
		var (
			entityID                           string
			startTime                          int64
			relatedJSON, filtersJSON, infoJSON string
		)
		if err := rows.Scan(&entityID, &startTime, &relatedJSON, &filtersJSON, &infoJSON); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan entity row: %w", err)
		}

		entity, err := decodeEntity(entityType, entityID, startTime, relatedJSON, filtersJSON, infoJSON)
		if err != nil {
			return nil, err
		}

		if q.PrimaryFilter != nil {
			got, ok := entity.PrimaryFilters()[q.PrimaryFilter.Name]
			if !ok || !got.Equal(q.PrimaryFilter.Value) {
				continue
			}
		}

		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: entity row iteration failed: %w", err)
	}

	if q.IncludeEvents {
		for _, entity := range entities {
			events, err := s.loadEvents(ctx, entityType, entity.EntityID(), storage.EventQuery{Limit: storage.MaxEventWindow})
			if err != nil {
				return nil, err
			}
			entity.AddEvents(events)
		}
	}

	return entities, nil
}

// GetEvents retrieves the event windows for the named entities of one type.
func (s *TimelineStore) GetEvents(ctx context.Context, entityType string, entityIDs []string, q storage.EventQuery) ([]storage.EntityEvents, error) {
	if entityType == "" {
		return nil, fmt.Errorf("%w: entity type is required", storage.ErrInvalidInput)
	}
	q.Normalize()

	results := []storage.EntityEvents{}
	for _, entityID := range entityIDs {
		var exists int
		err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM entities WHERE entity_type = ? AND entity_id = ?",
			entityType, entityID,
		).Scan(&exists)
		if err == sql.ErrNoRows {
			continue // unknown ids are skipped
		}
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to check entity: %w", err)
		}

		events, err := s.loadEvents(ctx, entityType, entityID, q)
		if err != nil {
			return nil, err
		}
		results = append(results, storage.EntityEvents{
			EntityType: entityType,
			EntityID:   entityID,
			Events:     events,
		})
	}
	return results, nil
}

// loadEvents reads one entity's events in insertion order, applying the
// query window and type filter.
func (s *TimelineStore) loadEvents(ctx context.Context, entityType, entityID string, q storage.EventQuery) ([]types.TimelineEvent, error) {
	q.Normalize()

	query := `
		SELECT ts, event_type, event_info
		FROM events WHERE entity_type = ? AND entity_id = ?`
	args := []interface{}{entityType, entityID}
	if q.WindowStart > 0 {
		query += " AND ts >= ?"
		args = append(args, q.WindowStart)
	}
	if q.WindowEnd > 0 {
		query += " AND ts <= ?"
		args = append(args, q.WindowEnd)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to load events: %w", err)
	}
	defer rows.Close()

	events := []types.TimelineEvent{}
	for rows.Next() {
		if len(events) >= q.Limit {
			break
		}
		var (
			ts        int64
			eventType string
			infoJSON  string
		)
		if err := rows.Scan(&ts, &eventType, &infoJSON); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan event row: %w", err)
		}
		if !q.MatchesEventType(eventType) {
			continue
		}

		ev := types.NewTimelineEvent(ts, eventType)
		var info map[string]types.Value
		if err := json.Unmarshal([]byte(infoJSON), &info); err != nil {
			return nil, fmt.Errorf("sqlite: failed to unmarshal event info: %w", err)
		}
		ev.SetEventInfo(info)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: event row iteration failed: %w", err)
	}

	return events, nil
}

// EntityTypeCounts returns the number of stored entities per entity type.
func (s *TimelineStore) EntityTypeCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT entity_type, COUNT(*) FROM entities GROUP BY entity_type")
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to count entities: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			entityType string
			count      int
		)
		if err := rows.Scan(&entityType, &count); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan count row: %w", err)
		}
		counts[entityType] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: count row iteration failed: %w", err)
	}
	return counts, nil
}

// dbPathFromDSN extracts the filesystem path from a SQLite DSN.
func dbPathFromDSN(dsn string) string {
	if dsn == ":memory:" || dsn == "" {
		return ""
	}

	if strings.HasPrefix(dsn, "file:") {
		u, err := url.Parse(dsn)
		if err != nil {
			return ""
		}
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == ":memory:" || path == "" {
			return ""
		}
		return path
	}

	return dsn
}

// isRecoverableWALError returns true if the error matches patterns caused by
// stale WAL files left behind after a crash (SIGKILL, OOM, etc.).
func isRecoverableWALError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "disk I/O error") ||
		strings.Contains(msg, "database is locked")
}

// isWALStale checks whether -shm/-wal files exist for the given database path
// AND no other process currently holds them open (via lsof).
// Returns false if lsof is unavailable (conservative: no deletion).
func isWALStale(dbPath string) bool {
	shmPath := dbPath + "-shm"
	walPath := dbPath + "-wal"

	if !fileExists(shmPath) && !fileExists(walPath) {
		return false
	}

	lsofPath, err := exec.LookPath("lsof")
	if err != nil {
		// lsof not available (e.g., Alpine Docker) — conservative fallback.
		return false
	}

	cmd := exec.Command(lsofPath, "-t", dbPath, shmPath, walPath)
	output, err := cmd.Output()
	if err != nil {
		// lsof returns exit code 1 when no files are open — that means stale.
		return true
	}

	return strings.TrimSpace(string(output)) == ""
}

// removeStaleWAL removes -shm and -wal files for the given database path.
func removeStaleWAL(dbPath string) {
	for _, suffix := range []string{"-shm", "-wal"} {
		path := dbPath + suffix
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("sqlite: failed to remove stale %s: %v", path, err)
		}
	}
}

// fileExists returns true if the path exists on disk.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
