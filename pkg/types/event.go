package types

import "encoding/json"

// TimelineEvent is a timestamped, named occurrence associated with an entity.
// The timestamp is epoch milliseconds. Event info carries free-form,
// event-specific fields.
//
// Events hold their info map privately; callers read a copy and merge new
// entries through AddEventInfo, which keeps the record free of shared live
// references.
type TimelineEvent struct {
	timestamp int64
	eventType string
	eventInfo map[string]Value
}

// eventJSON is the wire shape of a TimelineEvent.
type eventJSON struct {
	Timestamp int64            `json:"timestamp,omitempty"`
	EventType string           `json:"eventtype,omitempty"`
	EventInfo map[string]Value `json:"eventinfo,omitempty"`
}

// NewTimelineEvent creates an event with the given epoch-millisecond
// timestamp and event type.
func NewTimelineEvent(timestamp int64, eventType string) TimelineEvent {
	return TimelineEvent{timestamp: timestamp, eventType: eventType}
}

// Timestamp returns the event time in epoch milliseconds.
func (e *TimelineEvent) Timestamp() int64 { return e.timestamp }

// SetTimestamp sets the event time in epoch milliseconds.
func (e *TimelineEvent) SetTimestamp(ts int64) { e.timestamp = ts }

// EventType returns the event type name.
func (e *TimelineEvent) EventType() string { return e.eventType }

// SetEventType sets the event type name.
func (e *TimelineEvent) SetEventType(t string) { e.eventType = t }

// EventInfo returns a copy of the event's info map. The copy is never nil.
func (e *TimelineEvent) EventInfo() map[string]Value {
	out := make(map[string]Value, len(e.eventInfo))
	for k, v := range e.eventInfo {
		out[k] = v
	}
	return out
}

// SetEventInfo replaces the whole info map with a copy of m.
func (e *TimelineEvent) SetEventInfo(m map[string]Value) {
	e.eventInfo = make(map[string]Value, len(m))
	for k, v := range m {
		e.eventInfo[k] = v
	}
}

// AddEventInfo upserts a single info entry. Last write wins.
func (e *TimelineEvent) AddEventInfo(key string, value Value) {
	if e.eventInfo == nil {
		e.eventInfo = make(map[string]Value)
	}
	e.eventInfo[key] = value
}

// AddEventInfoMap upserts every entry of m. Incoming values win on key
// collision. A nil map is a no-op.
func (e *TimelineEvent) AddEventInfoMap(m map[string]Value) {
	if len(m) == 0 {
		return
	}
	if e.eventInfo == nil {
		e.eventInfo = make(map[string]Value, len(m))
	}
	for k, v := range m {
		e.eventInfo[k] = v
	}
}

// clone returns a deep copy so event info maps are never shared between the
// record and its callers.
func (e TimelineEvent) clone() TimelineEvent {
	c := TimelineEvent{timestamp: e.timestamp, eventType: e.eventType}
	if e.eventInfo != nil {
		c.eventInfo = make(map[string]Value, len(e.eventInfo))
		for k, v := range e.eventInfo {
			c.eventInfo[k] = v
		}
	}
	return c
}

// Equal reports whether two events have the same timestamp, type, and info.
func (e *TimelineEvent) Equal(o *TimelineEvent) bool {
	if e.timestamp != o.timestamp || e.eventType != o.eventType {
		return false
	}
	if len(e.eventInfo) != len(o.eventInfo) {
		return false
	}
	for k, v := range e.eventInfo {
		ov, ok := o.eventInfo[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the event using the wire field names. An empty info
// map is omitted; on decode an absent field is equivalent to empty.
func (e TimelineEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventJSON{
		Timestamp: e.timestamp,
		EventType: e.eventType,
		EventInfo: e.eventInfo,
	})
}

// UnmarshalJSON decodes the wire representation.
func (e *TimelineEvent) UnmarshalJSON(data []byte) error {
	var w eventJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	e.timestamp = w.Timestamp
	e.eventType = w.EventType
	e.eventInfo = w.EventInfo
	return nil
}
