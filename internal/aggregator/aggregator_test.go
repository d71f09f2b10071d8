package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tracklight/tracklight/internal/storage"
	"github.com/tracklight/tracklight/pkg/types"
)

// captureStore records put batches for assertions.
type captureStore struct {
	mu      sync.Mutex
	batches [][]*types.TimelineEntity
}

func (c *captureStore) Put(ctx context.Context, entities []*types.TimelineEntity) (*storage.PutResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := make([]*types.TimelineEntity, len(entities))
	copy(batch, entities)
	c.batches = append(c.batches, batch)
	return &storage.PutResponse{Errors: []storage.PutError{}}, nil
}

func (c *captureStore) GetEntity(ctx context.Context, entityType, entityID string) (*types.TimelineEntity, error) {
	return nil, storage.ErrNotFound
}

func (c *captureStore) GetEntities(ctx context.Context, entityType string, q storage.EntityQuery) ([]*types.TimelineEntity, error) {
	return nil, nil
}

func (c *captureStore) GetEvents(ctx context.Context, entityType string, entityIDs []string, q storage.EventQuery) ([]storage.EntityEvents, error) {
	return nil, nil
}

func (c *captureStore) EntityTypeCounts(ctx context.Context) (map[string]int, error) {
	return map[string]int{}, nil
}

func (c *captureStore) Close() error { return nil }

func (c *captureStore) all() []*types.TimelineEntity {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.TimelineEntity
	for _, b := range c.batches {
		out = append(out, b...)
	}
	return out
}

// TestAggregatorCoalescesSameKey verifies submissions for one identity key
// merge into a single stored record per flush.
func TestAggregatorCoalescesSameKey(t *testing.T) {
	store := &captureStore{}
	agg := New(store, Config{FlushInterval: time.Hour}) // flush only on Stop
	agg.Start()

	first := types.NewTimelineEntity(types.EntityTypeApplication, "app_1")
	first.AddEvent(types.NewTimelineEvent(100, types.EventTypeCreated))
	first.AddPrimaryFilter("user", types.String("etta"))

	second := types.NewTimelineEntity(types.EntityTypeApplication, "app_1")
	second.AddEvent(types.NewTimelineEvent(200, types.EventTypeStarted))
	second.AddPrimaryFilter("user", types.String("james"))

	if accepted := agg.Submit([]*types.TimelineEntity{first, second}); accepted != 2 {
		t.Fatalf("expected 2 accepted submissions, got %d", accepted)
	}

	agg.Stop()

	entities := store.all()
	if len(entities) != 1 {
		t.Fatalf("expected 1 merged entity, got %d", len(entities))
	}
	merged := entities[0]
	if merged.EventCount() != 2 {
		t.Errorf("expected 2 merged events, got %d", merged.EventCount())
	}
	if !merged.PrimaryFilters()["user"].Equal(types.String("james")) {
		t.Error("expected later submission's filter value to win")
	}
}

// TestAggregatorKeepsDistinctKeysApart verifies per-key independence and
// first-seen flush ordering.
func TestAggregatorKeepsDistinctKeysApart(t *testing.T) {
	store := &captureStore{}
	agg := New(store, Config{FlushInterval: time.Hour})
	agg.Start()

	a := types.NewTimelineEntity(types.EntityTypeApplication, "app_a")
	b := types.NewTimelineEntity(types.EntityTypeApplication, "app_b")
	agg.Submit([]*types.TimelineEntity{a, b})

	agg.Stop()

	entities := store.all()
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(entities))
	}
	if entities[0].EntityID() != "app_a" || entities[1].EntityID() != "app_b" {
		t.Errorf("expected first-seen order preserved, got %s then %s",
			entities[0].EntityID(), entities[1].EntityID())
	}
}

// TestAggregatorMaxBatchFlush verifies the size trigger flushes without
// waiting for the interval.
func TestAggregatorMaxBatchFlush(t *testing.T) {
	store := &captureStore{}
	agg := New(store, Config{FlushInterval: time.Hour, MaxBatch: 2})
	agg.Start()
	defer agg.Stop()

	agg.Submit([]*types.TimelineEntity{
		types.NewTimelineEntity(types.EntityTypeApplication, "x"),
		types.NewTimelineEntity(types.EntityTypeApplication, "y"),
	})

	deadline := time.After(2 * time.Second)
	for {
		store.mu.Lock()
		flushed := len(store.batches) > 0
		store.mu.Unlock()
		if flushed {
			break
		}
		select {
		case <-deadline:
			t.Fatal("expected size-triggered flush before the interval")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestAggregatorRejectsSubmitAfterStop verifies a late submission is refused
// instead of being queued with no worker left to flush it.
func TestAggregatorRejectsSubmitAfterStop(t *testing.T) {
	store := &captureStore{}
	agg := New(store, Config{FlushInterval: time.Hour})
	agg.Start()
	agg.Stop()

	late := types.NewTimelineEntity(types.EntityTypeApplication, "late")
	if accepted := agg.Submit([]*types.TimelineEntity{late}); accepted != 0 {
		t.Fatalf("expected 0 accepted after Stop, got %d", accepted)
	}
	if got := store.all(); len(got) != 0 {
		t.Errorf("late submission must not reach the store, got %d entities", len(got))
	}
}

// TestAggregatorOnFlushCallback verifies the flush callback fires with the
// accepted count.
func TestAggregatorOnFlushCallback(t *testing.T) {
	store := &captureStore{}
	agg := New(store, Config{FlushInterval: time.Hour})

	var (
		mu      sync.Mutex
		results []FlushResult
	)
	agg.OnFlush(func(r FlushResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})

	agg.Start()
	agg.Submit([]*types.TimelineEntity{types.NewTimelineEntity(types.EntityTypeApplication, "z")})
	agg.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 1 || results[0].Accepted != 1 {
		t.Errorf("expected one flush with 1 accepted entity, got %v", results)
	}
}
