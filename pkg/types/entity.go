package types

import "encoding/json"

// TimelineEntity is the canonical in-memory record for one tracked entity.
// It is identified by the (entity type, entity id) pair and accumulates
// events, related entities, primary filters, and other info through merge
// operations that may be applied in any order.
//
// Merge semantics:
//
//   - Events are append-only and keep insertion order. Resubmitted duplicates
//     are retained; deduplication is a storage-layer concern.
//   - Related entity ids are append-only per related type; entries are never
//     dropped or replaced by a merge.
//   - Primary filters and other info are upserts: last write wins per key,
//     and keys are never removed by a merge.
//
// Containers are private. Accessors return copies, so callers cannot alias
// the record's internal state; the Set* methods perform a bulk replace of the
// whole container, which is distinct from the incremental Add* operations.
//
// The record is not safe for concurrent mutation; callers coordinate access
// or confine each instance to one goroutine.
type TimelineEntity struct {
	entityType      string
	entityID        string
	startTime       int64
	events          []TimelineEvent
	relatedEntities map[string][]Value
	primaryFilters  map[string]Value
	otherInfo       map[string]Value
}

// entityJSON is the wire shape of a TimelineEntity.
type entityJSON struct {
	EntityType      string             `json:"entitytype,omitempty"`
	EntityID        string             `json:"entity,omitempty"`
	StartTime       int64              `json:"starttime,omitempty"`
	Events          []TimelineEvent    `json:"events,omitempty"`
	RelatedEntities map[string][]Value `json:"relatedentities,omitempty"`
	PrimaryFilters  map[string]Value   `json:"primaryfilters,omitempty"`
	OtherInfo       map[string]Value   `json:"otherinfo,omitempty"`
}

// NewTimelineEntity creates an entity with the given identity and all
// containers initialized to their empty form. No validation is performed at
// this layer; empty ids are accepted and rejected by the store instead.
func NewTimelineEntity(entityType, entityID string) *TimelineEntity {
	return &TimelineEntity{
		entityType:      entityType,
		entityID:        entityID,
		events:          []TimelineEvent{},
		relatedEntities: map[string][]Value{},
		primaryFilters:  map[string]Value{},
		otherInfo:       map[string]Value{},
	}
}

// EntityType returns the caller-defined entity category.
func (t *TimelineEntity) EntityType() string { return t.entityType }

// SetEntityType sets the entity category. Identity is fixed after creation
// by convention of the surrounding system; the setter exists for
// construction-time use.
func (t *TimelineEntity) SetEntityType(entityType string) { t.entityType = entityType }

// EntityID returns the entity id, unique within its entity type.
func (t *TimelineEntity) EntityID() string { return t.entityID }

// SetEntityID sets the entity id. Construction-time use only, as with
// SetEntityType.
func (t *TimelineEntity) SetEntityID(entityID string) { t.entityID = entityID }

// StartTime returns the first-known timestamp for the entity in epoch
// milliseconds. Zero means unset.
func (t *TimelineEntity) StartTime() int64 { return t.startTime }

// SetStartTime sets the first-known timestamp in epoch milliseconds.
func (t *TimelineEntity) SetStartTime(ts int64) { t.startTime = ts }

// Events returns a copy of the event sequence in insertion order. The copy
// is never nil.
func (t *TimelineEntity) Events() []TimelineEvent {
	out := make([]TimelineEvent, len(t.events))
	for i := range t.events {
		out[i] = t.events[i].clone()
	}
	return out
}

// SetEvents replaces the whole event sequence with a copy of events,
// discarding prior contents.
func (t *TimelineEntity) SetEvents(events []TimelineEvent) {
	t.events = make([]TimelineEvent, 0, len(events))
	for _, e := range events {
		t.events = append(t.events, e.clone())
	}
}

// AddEvent appends a single event to the sequence.
func (t *TimelineEntity) AddEvent(event TimelineEvent) {
	t.events = append(t.events, event.clone())
}

// AddEvents appends every event in order after all previously present
// events. Equivalent to repeated AddEvent calls; a nil slice is a no-op.
func (t *TimelineEntity) AddEvents(events []TimelineEvent) {
	for _, e := range events {
		t.events = append(t.events, e.clone())
	}
}

// EventCount returns the number of accumulated events.
func (t *TimelineEntity) EventCount() int { return len(t.events) }

// RelatedEntities returns a copy of the related-entity map: related type to
// ordered ids. Inner slices are copied as well.
func (t *TimelineEntity) RelatedEntities() map[string][]Value {
	out := make(map[string][]Value, len(t.relatedEntities))
	for k, ids := range t.relatedEntities {
		c := make([]Value, len(ids))
		copy(c, ids)
		out[k] = c
	}
	return out
}

// SetRelatedEntities replaces the whole related-entity map with a copy of m,
// discarding prior contents.
func (t *TimelineEntity) SetRelatedEntities(m map[string][]Value) {
	t.relatedEntities = make(map[string][]Value, len(m))
	for k, ids := range m {
		c := make([]Value, len(ids))
		copy(c, ids)
		t.relatedEntities[k] = c
	}
}

// AddRelatedEntity appends ids to the existing sequence for relatedType,
// creating the sequence if absent. Existing entries are never dropped, and
// duplicate ids are retained; an empty ids slice is a no-op.
func (t *TimelineEntity) AddRelatedEntity(relatedType string, ids []Value) {
	if len(ids) == 0 {
		return
	}
	if t.relatedEntities == nil {
		t.relatedEntities = make(map[string][]Value)
	}
	t.relatedEntities[relatedType] = append(t.relatedEntities[relatedType], ids...)
}

// AddRelatedEntities applies AddRelatedEntity for every pair in m. Per-type
// merges are independent, so map iteration order does not affect the result.
func (t *TimelineEntity) AddRelatedEntities(m map[string][]Value) {
	for relatedType, ids := range m {
		t.AddRelatedEntity(relatedType, ids)
	}
}

// PrimaryFilters returns a copy of the primary-filter map. Primary filters
// are the attributes a downstream store indexes, so values should be scalars
// or small structured values; the contract is advisory and not enforced here.
func (t *TimelineEntity) PrimaryFilters() map[string]Value {
	out := make(map[string]Value, len(t.primaryFilters))
	for k, v := range t.primaryFilters {
		out[k] = v
	}
	return out
}

// SetPrimaryFilters replaces the whole primary-filter map with a copy of m,
// discarding prior contents.
func (t *TimelineEntity) SetPrimaryFilters(m map[string]Value) {
	t.primaryFilters = make(map[string]Value, len(m))
	for k, v := range m {
		t.primaryFilters[k] = v
	}
}

// AddPrimaryFilter upserts a single primary filter. Last write wins.
func (t *TimelineEntity) AddPrimaryFilter(key string, value Value) {
	if t.primaryFilters == nil {
		t.primaryFilters = make(map[string]Value)
	}
	t.primaryFilters[key] = value
}

// AddPrimaryFilters upserts every entry of m into the existing filters.
// Incoming values win on key collision; a nil map is a no-op.
func (t *TimelineEntity) AddPrimaryFilters(m map[string]Value) {
	if len(m) == 0 {
		return
	}
	if t.primaryFilters == nil {
		t.primaryFilters = make(map[string]Value, len(m))
	}
	for k, v := range m {
		t.primaryFilters[k] = v
	}
}

// OtherInfo returns a copy of the free-form, unindexed metadata map.
func (t *TimelineEntity) OtherInfo() map[string]Value {
	out := make(map[string]Value, len(t.otherInfo))
	for k, v := range t.otherInfo {
		out[k] = v
	}
	return out
}

// SetOtherInfo replaces the whole other-info map with a copy of m,
// discarding prior contents.
func (t *TimelineEntity) SetOtherInfo(m map[string]Value) {
	t.otherInfo = make(map[string]Value, len(m))
	for k, v := range m {
		t.otherInfo[k] = v
	}
}

// AddOtherInfo upserts a single other-info entry. Last write wins.
func (t *TimelineEntity) AddOtherInfo(key string, value Value) {
	if t.otherInfo == nil {
		t.otherInfo = make(map[string]Value)
	}
	t.otherInfo[key] = value
}

// AddOtherInfoMap upserts every entry of m into the existing other info.
// Incoming values win on key collision; a nil map is a no-op.
func (t *TimelineEntity) AddOtherInfoMap(m map[string]Value) {
	if len(m) == 0 {
		return
	}
	if t.otherInfo == nil {
		t.otherInfo = make(map[string]Value, len(m))
	}
	for k, v := range m {
		t.otherInfo[k] = v
	}
}

// Merge folds other into t: events are appended in order, related entities
// are appended per type, and primary filters and other info are upserted
// with other's values winning. The start time is taken from other when t has
// none, or lowered to other's when other knows an earlier one. Identity
// fields are not touched; callers are responsible for only merging records
// that share an identity key.
func (t *TimelineEntity) Merge(other *TimelineEntity) {
	if other == nil {
		return
	}
	if other.startTime != 0 && (t.startTime == 0 || other.startTime < t.startTime) {
		t.startTime = other.startTime
	}
	t.AddEvents(other.events)
	t.AddRelatedEntities(other.relatedEntities)
	t.AddPrimaryFilters(other.primaryFilters)
	t.AddOtherInfoMap(other.otherInfo)
}

// Equal reports whether two entities carry the same identity, start time,
// event sequence, related entities, primary filters, and other info.
func (t *TimelineEntity) Equal(o *TimelineEntity) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.entityType != o.entityType || t.entityID != o.entityID || t.startTime != o.startTime {
		return false
	}
	if len(t.events) != len(o.events) {
		return false
	}
	for i := range t.events {
		if !t.events[i].Equal(&o.events[i]) {
			return false
		}
	}
	if len(t.relatedEntities) != len(o.relatedEntities) {
		return false
	}
	for k, ids := range t.relatedEntities {
		oids, ok := o.relatedEntities[k]
		if !ok || len(ids) != len(oids) {
			return false
		}
		for i := range ids {
			if !ids[i].Equal(oids[i]) {
				return false
			}
		}
	}
	if !valueMapsEqual(t.primaryFilters, o.primaryFilters) {
		return false
	}
	return valueMapsEqual(t.otherInfo, o.otherInfo)
}

func valueMapsEqual(a, b map[string]Value) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || !v.Equal(bv) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the entity using the wire field names (entitytype,
// entity, starttime, events, relatedentities, primaryfilters, otherinfo).
// Empty containers are omitted from the document; on decode an absent field
// is equivalent to an empty container, never a distinct null state.
func (t TimelineEntity) MarshalJSON() ([]byte, error) {
	return json.Marshal(entityJSON{
		EntityType:      t.entityType,
		EntityID:        t.entityID,
		StartTime:       t.startTime,
		Events:          t.events,
		RelatedEntities: t.relatedEntities,
		PrimaryFilters:  t.primaryFilters,
		OtherInfo:       t.otherInfo,
	})
}

// UnmarshalJSON decodes the wire representation.
func (t *TimelineEntity) UnmarshalJSON(data []byte) error {
	var w entityJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.entityType = w.EntityType
	t.entityID = w.EntityID
	t.startTime = w.StartTime
	t.events = w.Events
	t.relatedEntities = w.RelatedEntities
	t.primaryFilters = w.PrimaryFilters
	t.otherInfo = w.OtherInfo
	return nil
}
