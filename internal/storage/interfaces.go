// Package storage provides composable storage interfaces for the Tracklight
// timeline service.
//
// The storage layer is designed with a small, focused interface that can be
// implemented independently per backend. Every backend composes the merge
// operations of pkg/types when folding repeated submissions for the same
// (entity type, entity id) key into one persisted record.
package storage

import (
	"context"

	"github.com/tracklight/tracklight/pkg/types"
)

// TimelineStore persists timeline entities and their events.
//
// Put upserts keyed by (entity type, entity id): events append, related
// entities append per type, primary filters and other info upsert with the
// incoming value winning, and the start time converges to the earliest
// nonzero value seen. Resubmitted duplicate events are retained as-is.
type TimelineStore interface {
	// Put stores a batch of entities, merging each into any existing record
	// with the same identity key. Invalid entities (empty id or type) are
	// reported per entity in the response; they never fail the batch.
	Put(ctx context.Context, entities []*types.TimelineEntity) (*PutResponse, error)

	// GetEntity retrieves a single entity with its stored events, capped at
	// MaxEventWindow events in submission order. Returns ErrNotFound if no
	// entity exists for the key.
	GetEntity(ctx context.Context, entityType, entityID string) (*types.TimelineEntity, error)

	// GetEntities lists entities of one type, newest start time first,
	// restricted by the query's window and optional primary filter.
	GetEntities(ctx context.Context, entityType string, q EntityQuery) ([]*types.TimelineEntity, error)

	// GetEvents retrieves the event windows for the named entities of one
	// type. Entities without stored events yield an entry with an empty
	// event slice; unknown ids are skipped.
	GetEvents(ctx context.Context, entityType string, entityIDs []string, q EventQuery) ([]EntityEvents, error)

	// EntityTypeCounts returns the number of stored entities per entity
	// type, for operational stats.
	EntityTypeCounts(ctx context.Context) (map[string]int, error)

	// Close releases any resources held by the store.
	Close() error
}
