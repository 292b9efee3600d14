package imagestore

import (
	"context"
	"log"

	"go.uber.org/atomic"
)

// RetentionQueue runs image retention off the request path. Handlers call
// Kick after an upload and never block on it; a single worker coalesces
// bursts, and retention errors stay inside the worker.
type RetentionQueue struct {
	store   *Store
	keep    int
	kicks   chan struct{}
	running atomic.Bool
	runs    atomic.Int64
}

func NewRetentionQueue(store *Store, keep int) *RetentionQueue {
	return &RetentionQueue{
		store: store,
		keep:  keep,
		kicks: make(chan struct{}, 1),
	}
}

// Start launches the worker. It exits when ctx is cancelled.
func (q *RetentionQueue) Start(ctx context.Context) {
	if !q.running.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer q.running.Store(false)
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.kicks:
				q.store.Retain(q.keep)
				q.runs.Inc()
			}
		}
	}()
	log.Printf("[retention] worker started (keep=%d)", q.keep)
}

// Kick requests a retention pass. Non-blocking: if a pass is already pending
// the request is coalesced into it.
func (q *RetentionQueue) Kick() {
	select {
	case q.kicks <- struct{}{}:
	default:
	}
}

// Runs returns the number of completed retention passes.
func (q *RetentionQueue) Runs() int64 {
	return q.runs.Load()
}
