package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/tracklight/tracklight/pkg/types"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejects
// store calls to keep a failing backend from cascading into the write path.
var ErrCircuitOpen = errors.New("storage circuit breaker is open")

// BreakerConfig holds the configuration for the storage circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures required to trip
	// the circuit. Default: 5.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before transitioning to
	// half-open. Default: 15 seconds.
	Timeout time.Duration

	// HalfOpenMaxRequests is the number of probe requests allowed while
	// half-open. Default: 2.
	HalfOpenMaxRequests uint32
}

// BreakerStore wraps a TimelineStore with a circuit breaker. It is meant for
// remote backends (PostgreSQL) where a dead database should fail fast rather
// than pile up blocked put batches; the local SQLite backend does not need it.
//
// Reads and writes share one breaker: the failure mode being guarded against
// is the backend as a whole going away.
type BreakerStore struct {
	inner   TimelineStore
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps inner with default breaker settings.
func NewBreakerStore(inner TimelineStore) *BreakerStore {
	return NewBreakerStoreWithConfig(inner, BreakerConfig{
		MaxFailures:         5,
		Timeout:             15 * time.Second,
		HalfOpenMaxRequests: 2,
	})
}

// NewBreakerStoreWithConfig wraps inner with custom breaker settings.
func NewBreakerStoreWithConfig(inner TimelineStore, config BreakerConfig) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        "TimelineStoreBreaker",
		MaxRequests: config.HalfOpenMaxRequests,
		Interval:    0, // Don't clear counts periodically.
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.MaxFailures
		},
	}

	return &BreakerStore{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// State returns the breaker state: "closed", "open", or "half-open".
func (b *BreakerStore) State() string {
	switch b.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// execute runs fn through the breaker, translating the open-state error.
func (b *BreakerStore) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := b.breaker.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return result, nil
}

// Put implements TimelineStore.
func (b *BreakerStore) Put(ctx context.Context, entities []*types.TimelineEntity) (*PutResponse, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.Put(ctx, entities)
	})
	if err != nil {
		return nil, err
	}
	return result.(*PutResponse), nil
}

// GetEntity implements TimelineStore. ErrNotFound passes through without
// counting as a backend failure.
func (b *BreakerStore) GetEntity(ctx context.Context, entityType, entityID string) (*types.TimelineEntity, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		entity, err := b.inner.GetEntity(ctx, entityType, entityID)
		if errors.Is(err, ErrNotFound) {
			return (*types.TimelineEntity)(nil), nil
		}
		return entity, err
	})
	if err != nil {
		return nil, err
	}
	entity := result.(*types.TimelineEntity)
	if entity == nil {
		return nil, ErrNotFound
	}
	return entity, nil
}

// GetEntities implements TimelineStore.
func (b *BreakerStore) GetEntities(ctx context.Context, entityType string, q EntityQuery) ([]*types.TimelineEntity, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.GetEntities(ctx, entityType, q)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*types.TimelineEntity), nil
}

// GetEvents implements TimelineStore.
func (b *BreakerStore) GetEvents(ctx context.Context, entityType string, entityIDs []string, q EventQuery) ([]EntityEvents, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.GetEvents(ctx, entityType, entityIDs, q)
	})
	if err != nil {
		return nil, err
	}
	return result.([]EntityEvents), nil
}

// EntityTypeCounts implements TimelineStore.
func (b *BreakerStore) EntityTypeCounts(ctx context.Context) (map[string]int, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.EntityTypeCounts(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string]int), nil
}

// Close implements TimelineStore. Close bypasses the breaker so shutdown
// always reaches the backend.
func (b *BreakerStore) Close() error {
	return b.inner.Close()
}

// Ensure *BreakerStore implements TimelineStore at compile time.
var _ TimelineStore = (*BreakerStore)(nil)
