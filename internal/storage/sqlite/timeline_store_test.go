package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/tracklight/tracklight/internal/storage"
	"github.com/tracklight/tracklight/pkg/types"
)

// newTestStore creates an in-memory SQLite store for testing. The full
// Schema is applied on open, so no additional DDL is required in tests.
func newTestStore(t *testing.T) *TimelineStore {
	t.Helper()
	store, err := NewTimelineStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// TestPutAndGetEntityRoundTrip verifies that a fully populated entity
// survives Put and GetEntity unchanged.
func TestPutAndGetEntityRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entity := types.NewTimelineEntity(types.EntityTypeApplication, "app_0001")
	entity.SetStartTime(1000)
	ev := types.NewTimelineEvent(1000, types.EventTypeCreated)
	ev.AddEventInfo("host", types.String("n1"))
	entity.AddEvent(ev)
	entity.AddRelatedEntity(types.EntityTypeContainer, []types.Value{types.String("c1")})
	entity.AddPrimaryFilter("user", types.String("etta"))
	entity.AddOtherInfo("queue", types.String("default"))

	resp, err := store.Put(ctx, []*types.TimelineEntity{entity})
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if len(resp.Errors) != 0 {
		t.Fatalf("expected no put errors, got %v", resp.Errors)
	}

	got, err := store.GetEntity(ctx, types.EntityTypeApplication, "app_0001")
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if !entity.Equal(got) {
		t.Errorf("round trip mismatch: stored entity differs from submitted entity")
	}
}

// TestPutMergesPartialSubmissions verifies that repeated puts for the same
// identity key fold into one record with the documented merge semantics.
func TestPutMergesPartialSubmissions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := types.NewTimelineEntity(types.EntityTypeApplication, "app_0002")
	first.SetStartTime(5000)
	first.AddEvent(types.NewTimelineEvent(5000, types.EventTypeCreated))
	first.AddPrimaryFilter("user", types.String("etta"))
	first.AddRelatedEntity(types.EntityTypeContainer, []types.Value{types.String("c1")})

	second := types.NewTimelineEntity(types.EntityTypeApplication, "app_0002")
	second.SetStartTime(4000)
	second.AddEvent(types.NewTimelineEvent(6000, types.EventTypeFinished))
	second.AddPrimaryFilter("user", types.String("james"))
	second.AddRelatedEntity(types.EntityTypeContainer, []types.Value{types.String("c2")})
	second.AddOtherInfo("exit", types.Int(0))

	for _, e := range []*types.TimelineEntity{first, second} {
		resp, err := store.Put(ctx, []*types.TimelineEntity{e})
		if err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
		if len(resp.Errors) != 0 {
			t.Fatalf("expected no put errors, got %v", resp.Errors)
		}
	}

	got, err := store.GetEntity(ctx, types.EntityTypeApplication, "app_0002")
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}

	if got.StartTime() != 4000 {
		t.Errorf("expected earliest start time 4000, got %d", got.StartTime())
	}

	events := got.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events after merge, got %d", len(events))
	}
	if events[0].EventType() != types.EventTypeCreated || events[1].EventType() != types.EventTypeFinished {
		t.Errorf("expected events in insertion order, got %s then %s",
			events[0].EventType(), events[1].EventType())
	}

	if !got.PrimaryFilters()["user"].Equal(types.String("james")) {
		t.Error("expected last write to win for primary filter")
	}

	related := got.RelatedEntities()[types.EntityTypeContainer]
	if len(related) != 2 {
		t.Fatalf("expected 2 related ids after merge, got %d", len(related))
	}
	if !related[0].Equal(types.String("c1")) || !related[1].Equal(types.String("c2")) {
		t.Errorf("expected related ids appended in order, got %v", related)
	}

	if !got.OtherInfo()["exit"].Equal(types.Int(0)) {
		t.Error("expected other info to survive merge")
	}
}

// TestPutRetainsDuplicateEvents verifies resubmitted events are appended,
// not deduplicated — dedup is explicitly a downstream concern.
func TestPutRetainsDuplicateEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	submit := func() {
		e := types.NewTimelineEntity(types.EntityTypeAttempt, "attempt_1")
		e.AddEvent(types.NewTimelineEvent(100, types.EventTypeStarted))
		if _, err := store.Put(ctx, []*types.TimelineEntity{e}); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}
	submit()
	submit()

	got, err := store.GetEntity(ctx, types.EntityTypeAttempt, "attempt_1")
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if got.EventCount() != 2 {
		t.Errorf("expected duplicate events to be retained, got %d events", got.EventCount())
	}
}

// TestPutReportsPerEntityErrors verifies invalid entities are reported per
// entity and never fail the rest of the batch.
func TestPutReportsPerEntityErrors(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	noID := types.NewTimelineEntity(types.EntityTypeApplication, "")
	noType := types.NewTimelineEntity("", "app_0003")
	valid := types.NewTimelineEntity(types.EntityTypeApplication, "app_0004")

	resp, err := store.Put(ctx, []*types.TimelineEntity{noID, noType, valid, nil})
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if len(resp.Errors) != 2 {
		t.Fatalf("expected 2 put errors, got %d: %v", len(resp.Errors), resp.Errors)
	}
	if resp.Errors[0].ErrorCode != storage.PutErrorNoEntityID {
		t.Errorf("expected %s, got %s", storage.PutErrorNoEntityID, resp.Errors[0].ErrorCode)
	}
	if resp.Errors[1].ErrorCode != storage.PutErrorNoEntityType {
		t.Errorf("expected %s, got %s", storage.PutErrorNoEntityType, resp.Errors[1].ErrorCode)
	}

	if _, err := store.GetEntity(ctx, types.EntityTypeApplication, "app_0004"); err != nil {
		t.Errorf("expected valid entity to be stored despite batch errors: %v", err)
	}
}

// TestGetEntityNotFound verifies the sentinel error for unknown keys.
func TestGetEntityNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetEntity(context.Background(), types.EntityTypeApplication, "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// TestGetEntitiesWindowAndFilter verifies windowing, ordering, and the
// primary-filter match on listing.
func TestGetEntitiesWindowAndFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, tc := range []struct {
		id    string
		start int64
		user  string
	}{
		{"app_a", 1000, "etta"},
		{"app_b", 2000, "james"},
		{"app_c", 3000, "etta"},
	} {
		e := types.NewTimelineEntity(types.EntityTypeApplication, tc.id)
		e.SetStartTime(tc.start)
		e.AddPrimaryFilter("user", types.String(tc.user))
		resp, err := store.Put(ctx, []*types.TimelineEntity{e})
		if err != nil || len(resp.Errors) != 0 {
			t.Fatalf("put %d failed: %v %v", i, err, resp)
		}
	}

	// Newest start time first.
	all, err := store.GetEntities(ctx, types.EntityTypeApplication, storage.EntityQuery{})
	if err != nil {
		t.Fatalf("GetEntities() failed: %v", err)
	}
	if len(all) != 3 || all[0].EntityID() != "app_c" || all[2].EntityID() != "app_a" {
		t.Errorf("unexpected ordering: %v", entityIDs(all))
	}

	// Window restricts by start time, inclusive.
	windowed, err := store.GetEntities(ctx, types.EntityTypeApplication, storage.EntityQuery{
		WindowStart: 2000,
		WindowEnd:   3000,
	})
	if err != nil {
		t.Fatalf("GetEntities() failed: %v", err)
	}
	if len(windowed) != 2 {
		t.Errorf("expected 2 entities in window, got %v", entityIDs(windowed))
	}

	// Primary filter matches exact name/value pairs.
	filtered, err := store.GetEntities(ctx, types.EntityTypeApplication, storage.EntityQuery{
		PrimaryFilter: &storage.NameValue{Name: "user", Value: types.String("etta")},
	})
	if err != nil {
		t.Fatalf("GetEntities() failed: %v", err)
	}
	if len(filtered) != 2 {
		t.Errorf("expected 2 filtered entities, got %v", entityIDs(filtered))
	}

	// Limit caps the result set after filtering.
	limited, err := store.GetEntities(ctx, types.EntityTypeApplication, storage.EntityQuery{Limit: 1})
	if err != nil {
		t.Fatalf("GetEntities() failed: %v", err)
	}
	if len(limited) != 1 || limited[0].EntityID() != "app_c" {
		t.Errorf("expected the newest entity only, got %v", entityIDs(limited))
	}
}

// TestGetEvents verifies event retrieval windows and type filters.
func TestGetEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := types.NewTimelineEntity(types.EntityTypeApplication, "app_ev")
	e.AddEvents([]types.TimelineEvent{
		types.NewTimelineEvent(100, types.EventTypeCreated),
		types.NewTimelineEvent(200, types.EventTypeStarted),
		types.NewTimelineEvent(300, types.EventTypeFinished),
	})
	if _, err := store.Put(ctx, []*types.TimelineEntity{e}); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	results, err := store.GetEvents(ctx, types.EntityTypeApplication,
		[]string{"app_ev", "unknown"}, storage.EventQuery{WindowStart: 150})
	if err != nil {
		t.Fatalf("GetEvents() failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 entity result (unknown ids skipped), got %d", len(results))
	}
	if len(results[0].Events) != 2 {
		t.Errorf("expected 2 events at or after window start, got %d", len(results[0].Events))
	}

	typed, err := store.GetEvents(ctx, types.EntityTypeApplication,
		[]string{"app_ev"}, storage.EventQuery{EventTypes: []string{types.EventTypeFinished}})
	if err != nil {
		t.Fatalf("GetEvents() failed: %v", err)
	}
	if len(typed[0].Events) != 1 || typed[0].Events[0].EventType() != types.EventTypeFinished {
		t.Errorf("expected only FINISHED events, got %v", typed[0].Events)
	}
}

// TestEntityTypeCounts verifies per-type counting for stats.
func TestEntityTypeCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []struct{ entityType, entityID string }{
		{types.EntityTypeApplication, "a1"},
		{types.EntityTypeApplication, "a2"},
		{types.EntityTypeContainer, "c1"},
	} {
		e := types.NewTimelineEntity(key.entityType, key.entityID)
		if _, err := store.Put(ctx, []*types.TimelineEntity{e}); err != nil {
			t.Fatalf("Put() failed: %v", err)
		}
	}

	counts, err := store.EntityTypeCounts(ctx)
	if err != nil {
		t.Fatalf("EntityTypeCounts() failed: %v", err)
	}
	if counts[types.EntityTypeApplication] != 2 || counts[types.EntityTypeContainer] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func entityIDs(entities []*types.TimelineEntity) []string {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.EntityID()
	}
	return ids
}

// TestGetEntityCapsEventWindow verifies GetEntity returns at most
// storage.MaxEventWindow events for an entity with a longer history, keeping
// submission order.
func TestGetEntityCapsEventWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entity := types.NewTimelineEntity(types.EntityTypeApplication, "app_long")
	entity.SetStartTime(1)
	total := storage.MaxEventWindow + 5
	for i := 0; i < total; i++ {
		entity.AddEvent(types.NewTimelineEvent(int64(i+1), types.EventTypeStarted))
	}

	resp, err := store.Put(ctx, []*types.TimelineEntity{entity})
	if err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if len(resp.Errors) != 0 {
		t.Fatalf("expected no put errors, got %v", resp.Errors)
	}

	got, err := store.GetEntity(ctx, types.EntityTypeApplication, "app_long")
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}

	events := got.Events()
	if len(events) != storage.MaxEventWindow {
		t.Fatalf("expected %d events, got %d", storage.MaxEventWindow, len(events))
	}
	if events[0].Timestamp() != 1 {
		t.Errorf("expected submission order from the first event, got ts %d", events[0].Timestamp())
	}
}
