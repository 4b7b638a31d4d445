package router

import (
	"context"
	"sync"
	"time"

	"github.com/llmlb/llmlb/types"
)

// admissionQueue is a bounded count of waiters for one (model_id,
// capability) pair. It has no backing storage for the requests themselves
// — a waiter just blocks on ch until broadcast wakes it to retry
// selection from the top, exactly as the spec's step 4 describes.
type admissionQueue struct {
	mu      sync.Mutex
	waiting int
	cap     int
	ch      chan struct{}
}

func newAdmissionQueue(cap int) *admissionQueue {
	return &admissionQueue{cap: cap, ch: make(chan struct{})}
}

// broadcast wakes every current waiter to retry selection; called whenever
// an endpoint's in-flight count drops.
func (q *admissionQueue) broadcast() {
	q.mu.Lock()
	close(q.ch)
	q.ch = make(chan struct{})
	q.mu.Unlock()
}

// wait blocks until broadcast fires, ctx is canceled, or timeout elapses.
// woken=true means the caller should retry selection; it does not
// guarantee capacity is actually available.
func (q *admissionQueue) wait(ctx context.Context, timeout time.Duration) (woken bool, err error) {
	q.mu.Lock()
	if q.waiting >= q.cap {
		q.mu.Unlock()
		return false, types.NewError(types.ErrBackpressure, "admission queue is full")
	}
	q.waiting++
	ch := q.ch
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.waiting--
		q.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
