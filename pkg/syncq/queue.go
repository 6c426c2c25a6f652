// Package syncq buffers analytics events while offline and drains them to
// the backend in all-or-nothing batches.
package syncq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waytour/waytour/pkg"
	"github.com/waytour/waytour/pkg/logx"
	"github.com/waytour/waytour/pkg/store"
)

// Sink receives one batch of queued events. An error means the whole batch
// must be retried later; partial acknowledgement is never assumed.
type Sink interface {
	SendBatch(ctx context.Context, events []pkg.QueuedAnalyticsEvent) error
}

// StateListener observes sync disposition changes.
type StateListener func(state pkg.SyncState)

// Config controls queue behavior
type Config struct {
	Throttle time.Duration `json:"throttle"` // Minimum gap between sync attempts
}

// DefaultConfig returns default sync queue configuration
func DefaultConfig() Config {
	return Config{Throttle: 5 * time.Second}
}

// Queue is the persisted analytics FIFO. Enqueue is cheap and local;
// SyncNow flushes the whole queue in one batch, single-flight and
// throttled.
type Queue struct {
	mu          sync.Mutex
	config      Config
	kv          store.KV
	sink        Sink
	logger      *logx.Logger
	onState     StateListener
	events      []pkg.QueuedAnalyticsEvent
	syncing     bool
	lastAttempt time.Time
	now         func() time.Time
}

// New creates the queue, restoring any events persisted by an earlier
// session.
func New(config Config, kv store.KV, sink Sink, logger *logx.Logger) *Queue {
	if config.Throttle < 0 {
		config.Throttle = 0
	}
	q := &Queue{
		config: config,
		kv:     kv,
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
	if err := kv.Get(store.KeyAnalyticsQueue, &q.events); err != nil && err != store.ErrNotFound {
		if logger != nil {
			logger.Warn("failed to restore analytics queue", "error", err.Error())
		}
	}
	return q
}

// OnStateChange registers the sync state listener.
func (q *Queue) OnStateChange(fn StateListener) {
	q.mu.Lock()
	q.onState = fn
	q.mu.Unlock()
}

// SetClock overrides the time source for tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

// Enqueue appends an event with a fresh unique id and persists the queue.
func (q *Queue) Enqueue(payload map[string]interface{}) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	event := pkg.QueuedAnalyticsEvent{
		ID:         uuid.NewString(),
		Payload:    payload,
		EnqueuedAt: q.now(),
	}
	q.events = append(q.events, event)
	q.persistLocked()
	return event.ID
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Pending returns a copy of the queued events, oldest first.
func (q *Queue) Pending() []pkg.QueuedAnalyticsEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]pkg.QueuedAnalyticsEvent, len(q.events))
	copy(out, q.events)
	return out
}

// SyncNow flushes the queue as one batch. Calls while a sync is already in
// flight, or within the throttle window of the last attempt, are no-ops.
// On failure the queue is left intact for a later retry.
func (q *Queue) SyncNow(ctx context.Context) error {
	q.mu.Lock()
	if q.syncing {
		q.mu.Unlock()
		return nil
	}
	if len(q.events) == 0 {
		q.mu.Unlock()
		return nil
	}
	if !q.lastAttempt.IsZero() && q.now().Sub(q.lastAttempt) < q.config.Throttle {
		q.mu.Unlock()
		return nil
	}
	q.syncing = true
	q.lastAttempt = q.now()
	batch := make([]pkg.QueuedAnalyticsEvent, len(q.events))
	copy(batch, q.events)
	onState := q.onState
	q.mu.Unlock()

	notify(onState, pkg.SyncSyncing)

	err := q.sink.SendBatch(ctx, batch)

	q.mu.Lock()
	q.syncing = false
	if err != nil {
		q.mu.Unlock()
		notify(onState, pkg.SyncError)
		if q.logger != nil {
			q.logger.Warn("analytics sync failed, batch retained",
				"batch_size", len(batch),
				"error", err.Error(),
			)
		}
		return fmt.Errorf("analytics sync failed: %w", err)
	}

	// Drop exactly the sent batch; events enqueued mid-flight stay queued.
	q.events = q.events[len(batch):]
	q.persistLocked()
	if perr := q.kv.Put(store.KeyLastSync, q.now()); perr != nil && q.logger != nil {
		q.logger.Warn("failed to persist last-sync timestamp", "error", perr.Error())
	}
	remaining := len(q.events)
	q.mu.Unlock()

	notify(onState, pkg.SyncSuccess)
	if q.logger != nil {
		q.logger.Info("analytics batch synced",
			"batch_size", len(batch),
			"remaining", remaining,
		)
	}
	return nil
}

// LastSync returns the persisted timestamp of the last successful sync.
func (q *Queue) LastSync() (time.Time, bool) {
	var ts time.Time
	if err := q.kv.Get(store.KeyLastSync, &ts); err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func (q *Queue) persistLocked() {
	if err := q.kv.Put(store.KeyAnalyticsQueue, q.events); err != nil && q.logger != nil {
		q.logger.Warn("failed to persist analytics queue", "error", err.Error())
	}
}

func notify(fn StateListener, state pkg.SyncState) {
	if fn != nil {
		fn(state)
	}
}
