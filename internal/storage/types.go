package storage

import (
	"errors"

	"github.com/tracklight/tracklight/pkg/types"
)

var (
	// ErrNotFound indicates that the requested entity was not found.
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// MaxEventWindow is the largest number of events returned per entity by any
// retrieval operation. GetEntity loads up to this many; event queries asking
// for more are clamped to it.
const MaxEventWindow = 1000

// Put error codes reported per entity in a PutResponse. A batch is never
// rejected wholesale because one entity is invalid; each failure is recorded
// against the entity that caused it.
const (
	// PutErrorNoEntityID indicates the submitted entity had an empty id.
	PutErrorNoEntityID = "NO_ENTITY_ID"

	// PutErrorNoEntityType indicates the submitted entity had an empty type.
	PutErrorNoEntityType = "NO_ENTITY_TYPE"

	// PutErrorIOException indicates the backend failed while persisting
	// the entity.
	PutErrorIOException = "IO_EXCEPTION"
)

// PutError describes why one entity in a put batch was rejected.
type PutError struct {
	EntityType string `json:"entitytype"`
	EntityID   string `json:"entity"`
	ErrorCode  string `json:"errorcode"`
}

// PutResponse reports the outcome of a put batch. An empty Errors slice
// means every entity was accepted.
type PutResponse struct {
	Errors []PutError `json:"errors"`
}

// NameValue is a named primary-filter value used to restrict entity queries
// to entities that carry a matching filter entry.
type NameValue struct {
	Name  string
	Value types.Value
}

// EntityQuery provides windowing and filtering options for entity listing.
type EntityQuery struct {
	// Limit is the maximum number of entities to return (default: 100,
	// max: 1000).
	Limit int

	// WindowStart is the inclusive lower bound on entity start time in
	// epoch milliseconds. Zero means no lower bound.
	WindowStart int64

	// WindowEnd is the inclusive upper bound on entity start time in epoch
	// milliseconds. Zero means no upper bound.
	WindowEnd int64

	// PrimaryFilter restricts results to entities whose primary-filter map
	// contains this exact name/value pair. Nil means no filter.
	PrimaryFilter *NameValue

	// IncludeEvents controls whether the accumulated events are loaded for
	// each returned entity. Listing endpoints default to false to keep
	// result sets small; GetEntity always loads events.
	IncludeEvents bool
}

// Normalize applies default values and enforces limits on query options.
func (q *EntityQuery) Normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
}

// EventQuery provides windowing and filtering options for event retrieval.
type EventQuery struct {
	// Limit is the maximum number of events returned per entity
	// (default: 100, max: MaxEventWindow).
	Limit int

	// WindowStart is the inclusive lower bound on event timestamp in epoch
	// milliseconds. Zero means no lower bound.
	WindowStart int64

	// WindowEnd is the inclusive upper bound on event timestamp in epoch
	// milliseconds. Zero means no upper bound.
	WindowEnd int64

	// EventTypes restricts results to the named event types. Empty means
	// all event types.
	EventTypes []string
}

// Normalize applies default values and enforces limits on query options.
func (q *EventQuery) Normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > MaxEventWindow {
		q.Limit = MaxEventWindow
	}
}

// MatchesEventType reports whether eventType passes the query's type filter.
func (q *EventQuery) MatchesEventType(eventType string) bool {
	if len(q.EventTypes) == 0 {
		return true
	}
	for _, t := range q.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// EntityEvents groups the events retrieved for one entity, using the same
// wire field names as the entity document.
type EntityEvents struct {
	EntityType string                `json:"entitytype"`
	EntityID   string                `json:"entity"`
	Events     []types.TimelineEvent `json:"events"`
}
