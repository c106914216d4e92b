package ratelimit

import (
	"context"
	"sync"
	"time"
)

// fifo is a ticket queue: waiters get the turn in the order they arrived.
type fifo struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

func newFIFO() *fifo { return &fifo{} }

// wait blocks until it is the caller's turn or the deadline passes. The
// returned release func hands the turn to the next waiter.
func (q *fifo) wait(ctx context.Context, deadline time.Time) (func(), error) {
	q.mu.Lock()
	if !q.busy {
		q.busy = true
		q.mu.Unlock()
		return q.release, nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	t := time.NewTimer(time.Until(deadline))
	defer t.Stop()
	select {
	case <-ch:
		return q.release, nil
	case <-t.C:
		if q.abandon(ch) {
			return nil, ErrTimeout
		}
		// The turn was handed to us concurrently; pass it on.
		q.release()
		return nil, ErrTimeout
	case <-ctx.Done():
		if !q.abandon(ch) {
			q.release()
		}
		return nil, ctx.Err()
	}
}

// abandon removes ch from the queue. It returns false if ch already got the turn.
func (q *fifo) abandon(ch chan struct{}) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, w := range q.waiters {
		if w == ch {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}

func (q *fifo) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiters) == 0 {
		q.busy = false
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	close(next)
}
