// Package types defines the core data structures for the Tracklight
// timeline-tracking service. A TimelineEntity describes one tracked unit of
// work (an application, an attempt, a container, or any user-defined object)
// together with the events, related entities, and searchable or free-form
// attributes accumulated over its lifetime.
//
// Entities arrive at the service incrementally: a caller may create an entity
// with a subset of fields and later submit more events, related entities, or
// metadata for the same (entity type, entity id) pair. The merge operations on
// TimelineEntity are the building blocks the storage layer composes when it
// folds partial submissions into a single logical record.
package types

// Well-known entity types. Callers are free to define their own; these cover
// the common units of work the service was built for.
const (
	EntityTypeApplication = "APPLICATION"
	EntityTypeAttempt     = "ATTEMPT"
	EntityTypeContainer   = "CONTAINER"
)

// Well-known event types emitted by the standard producers.
const (
	EventTypeCreated   = "CREATED"
	EventTypeStarted   = "STARTED"
	EventTypeFinished  = "FINISHED"
	EventTypeStateSave = "STATE_SAVE"
)
