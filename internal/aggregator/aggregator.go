// Package aggregator coalesces partial entity submissions before they reach
// the timeline store.
//
// Producers submit entities one batch at a time; the aggregator folds
// submissions that target the same (entity type, entity id) key into a
// single merged record using the pkg/types merge operations, then flushes
// merged batches to the store on a size or interval trigger. This keeps hot
// entities from turning every progress event into its own write transaction.
package aggregator

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tracklight/tracklight/internal/storage"
	"github.com/tracklight/tracklight/pkg/types"
)

// Config holds aggregator tuning knobs.
type Config struct {
	// QueueSize is the submission queue capacity. Default: 1024.
	QueueSize int

	// FlushInterval is the maximum time a submission waits before being
	// written to the store. Default: 1 second.
	FlushInterval time.Duration

	// MaxBatch flushes early once this many distinct entities have been
	// coalesced. Default: 256.
	MaxBatch int
}

// normalize applies defaults to unset fields.
func (c *Config) normalize() {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 256
	}
}

// FlushResult reports one flushed batch: how many merged entities were
// written and the per-entity errors the store returned.
type FlushResult struct {
	Accepted int
	Errors   []storage.PutError
}

// Aggregator accumulates submissions and writes merged batches to the store.
type Aggregator struct {
	store  storage.TimelineStore
	config Config

	queue   chan *types.TimelineEntity
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped atomic.Bool

	// onFlush, when set, is invoked after every store write. Used to feed
	// the WebSocket hub. Set before Start; not synchronized.
	onFlush func(FlushResult)
}

// identityKey addresses one logical entity in the pending map.
type identityKey struct {
	entityType string
	entityID   string
}

// New creates an aggregator writing to store.
func New(store storage.TimelineStore, config Config) *Aggregator {
	config.normalize()
	return &Aggregator{
		store:  store,
		config: config,
		queue:  make(chan *types.TimelineEntity, config.QueueSize),
	}
}

// OnFlush registers a callback invoked after every flush. Must be called
// before Start.
func (a *Aggregator) OnFlush(fn func(FlushResult)) {
	a.onFlush = fn
}

// Start launches the flush worker.
func (a *Aggregator) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(1)
	go a.run(ctx)
	log.Printf("aggregator: started (queue=%d, flush=%s, batch=%d)",
		a.config.QueueSize, a.config.FlushInterval, a.config.MaxBatch)
}

// Stop drains the queue, flushes pending entities, and waits for the worker
// to exit. Submissions after Stop are rejected with a zero count.
func (a *Aggregator) Stop() {
	a.stopped.Store(true)
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	log.Printf("aggregator: stopped")
}

// Submit queues entities for merging. It is non-blocking: when the queue is
// full the overflow entities are rejected and the count of accepted entities
// is returned, so callers can fall back to a direct store write or report
// backpressure. Once Stop has begun, nothing is accepted; enqueueing into a
// stopped aggregator would drop the entities silently.
func (a *Aggregator) Submit(entities []*types.TimelineEntity) int {
	if a.stopped.Load() {
		return 0
	}

	accepted := 0
	for _, entity := range entities {
		if entity == nil {
			continue
		}
		select {
		case a.queue <- entity:
			accepted++
		default:
			log.Printf("WARNING: aggregator queue full (size=%d), rejecting entity %s/%s",
				a.config.QueueSize, entity.EntityType(), entity.EntityID())
			return accepted
		}
	}
	return accepted
}

// QueueLen returns the current number of queued submissions, for stats.
func (a *Aggregator) QueueLen() int {
	return len(a.queue)
}

// run is the flush worker loop. Pending submissions coalesce per identity
// key; a flush is triggered by the interval tick, by the pending set
// reaching MaxBatch, or by shutdown.
func (a *Aggregator) run(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	pending := make(map[identityKey]*types.TimelineEntity)
	order := []identityKey{}

	absorb := func(entity *types.TimelineEntity) {
		key := identityKey{entity.EntityType(), entity.EntityID()}
		if current, ok := pending[key]; ok {
			current.Merge(entity)
			return
		}
		merged := types.NewTimelineEntity(entity.EntityType(), entity.EntityID())
		merged.Merge(entity)
		pending[key] = merged
		order = append(order, key)
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := make([]*types.TimelineEntity, 0, len(order))
		for _, key := range order {
			batch = append(batch, pending[key])
		}
		pending = make(map[identityKey]*types.TimelineEntity)
		order = order[:0]

		// Flushes use a background context so an in-flight batch still
		// lands during shutdown.
		resp, err := a.store.Put(context.Background(), batch)
		if err != nil {
			log.Printf("ERROR: aggregator flush of %d entities failed: %v", len(batch), err)
			return
		}
		if len(resp.Errors) > 0 {
			log.Printf("aggregator: flushed %d entities, %d rejected", len(batch), len(resp.Errors))
		}
		if a.onFlush != nil {
			a.onFlush(FlushResult{Accepted: len(batch) - len(resp.Errors), Errors: resp.Errors})
		}
	}

	for {
		select {
		case entity := <-a.queue:
			absorb(entity)
			if len(pending) >= a.config.MaxBatch {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-ctx.Done():
			// Drain whatever was queued before shutdown, then flush once.
			for {
				select {
				case entity := <-a.queue:
					absorb(entity)
				default:
					flush()
					return
				}
			}
		}
	}
}
