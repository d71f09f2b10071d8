package storage

import (
	"testing"

	"github.com/tracklight/tracklight/pkg/types"
)

// TestEntityQueryNormalize verifies defaults and caps.
func TestEntityQueryNormalize(t *testing.T) {
	q := EntityQuery{}
	q.Normalize()
	if q.Limit != 100 {
		t.Errorf("expected default limit 100, got %d", q.Limit)
	}

	q = EntityQuery{Limit: 5000}
	q.Normalize()
	if q.Limit != 1000 {
		t.Errorf("expected limit capped at 1000, got %d", q.Limit)
	}
}

// TestEventQueryMatchesEventType verifies the type filter semantics.
func TestEventQueryMatchesEventType(t *testing.T) {
	q := EventQuery{}
	if !q.MatchesEventType(types.EventTypeCreated) {
		t.Error("expected empty filter to match all event types")
	}

	q = EventQuery{EventTypes: []string{types.EventTypeCreated, types.EventTypeFinished}}
	if !q.MatchesEventType(types.EventTypeFinished) {
		t.Error("expected listed type to match")
	}
	if q.MatchesEventType(types.EventTypeStarted) {
		t.Error("expected unlisted type not to match")
	}
}
