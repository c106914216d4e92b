// Package ratelimit throttles calls per source so that no external system is
// hit faster than its configured budget.
//
// Waiters are served in arrival order: each Acquire takes a reservation on the
// source's token bucket, and reservations are granted strictly in the order
// they were made. A caller whose reservation would take longer than the
// policy's MaxWait gets ErrTimeout immediately and its reservation is
// returned to the bucket.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrTimeout is returned when a permit cannot be granted within MaxWait.
var ErrTimeout = errors.New("rate limit timeout")

// TimeoutError is an ErrTimeout that knows how long until a fresh Acquire
// would be granted within MaxWait.
type TimeoutError struct {
	RetryAfter time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: retry in %s", ErrTimeout, e.RetryAfter.Round(time.Millisecond))
}

// Unwrap makes errors.Is(err, ErrTimeout) hold.
func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// RetryAfter returns the hint carried by err, or 0 when it has none.
func RetryAfter(err error) time.Duration {
	var te *TimeoutError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// Policy is the budget for one source: MaxRequests per Window.
type Policy struct {
	MaxRequests int           `json:"max_requests"`
	Window      time.Duration `json:"window"`
	MaxWait     time.Duration `json:"max_wait"`
}

// DefaultPolicy is applied to sources without an explicit policy.
func DefaultPolicy() Policy {
	return Policy{MaxRequests: 10, Window: time.Second, MaxWait: 5 * time.Second}
}

// Validate checks that the policy can be enforced.
func (p Policy) Validate() error {
	if p.MaxRequests <= 0 {
		return fmt.Errorf("max_requests must be greater than 0")
	}
	if p.Window <= 0 {
		return fmt.Errorf("window must be greater than 0")
	}
	if p.MaxWait < 0 {
		return fmt.Errorf("max_wait must be >= 0")
	}
	return nil
}

// interval is the steady-state spacing between permits.
func (p Policy) interval() time.Duration {
	return p.Window / time.Duration(p.MaxRequests)
}

// SourceStats are point-in-time counters for one source.
type SourceStats struct {
	Granted  int64 `json:"granted"`
	Timeouts int64 `json:"timeouts"`
	Waiting  int64 `json:"waiting"`
}

// Acquirer is the capability the orchestrator depends on.
type Acquirer interface {
	Acquire(ctx context.Context, sourceID string) error
}

type bucket struct {
	policy   Policy
	limiter  *rate.Limiter
	queue    *fifo
	granted  atomic.Int64
	timeouts atomic.Int64
	waiting  atomic.Int64
}

// Limiter enforces per-source policies. It is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	policies map[string]Policy
	fallback Policy
	remote   RemoteBucket
	logger   *slog.Logger
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithRemote makes the limiter consult a shared bucket (e.g. Redis) instead of
// an in-process token bucket, so several processes share one budget.
func WithRemote(rb RemoteBucket) Option {
	return func(l *Limiter) { l.remote = rb }
}

// WithDefaultPolicy sets the policy for sources that were not configured.
func WithDefaultPolicy(p Policy) Option {
	return func(l *Limiter) { l.fallback = p }
}

// New creates a Limiter with the given per-source policies.
func New(policies map[string]Policy, logger *slog.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		buckets:  make(map[string]*bucket),
		policies: make(map[string]Policy, len(policies)),
		fallback: DefaultPolicy(),
		logger:   logger,
	}
	for k, v := range policies {
		l.policies[k] = v
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) bucketFor(sourceID string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[sourceID]
	if ok {
		return b
	}
	p, ok := l.policies[sourceID]
	if !ok {
		p = l.fallback
	}
	b = &bucket{
		policy:  p,
		limiter: rate.NewLimiter(rate.Every(p.interval()), p.MaxRequests),
		queue:   newFIFO(),
	}
	l.buckets[sourceID] = b
	return b
}

// Acquire blocks until a permit for sourceID is available. It returns
// ErrTimeout when the wait would exceed the policy's MaxWait, and ctx.Err()
// if ctx is done first.
func (l *Limiter) Acquire(ctx context.Context, sourceID string) error {
	b := l.bucketFor(sourceID)
	b.waiting.Add(1)
	defer b.waiting.Add(-1)

	var err error
	if l.remote != nil {
		err = l.acquireRemote(ctx, sourceID, b)
	} else {
		err = l.acquireLocal(ctx, b)
	}
	switch {
	case err == nil:
		b.granted.Add(1)
	case errors.Is(err, ErrTimeout):
		b.timeouts.Add(1)
		l.logger.Debug("rate limit timeout", "source", sourceID, "max_wait", b.policy.MaxWait)
	}
	return err
}

func (l *Limiter) acquireLocal(ctx context.Context, b *bucket) error {
	r := b.limiter.Reserve()
	if !r.OK() {
		return ErrTimeout
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	if delay > b.policy.MaxWait {
		r.Cancel()
		return &TimeoutError{RetryAfter: delay - b.policy.MaxWait}
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	}
}

// acquireRemote polls the shared bucket. Only the head of the per-source queue
// polls, so local waiters keep their arrival order.
func (l *Limiter) acquireRemote(ctx context.Context, sourceID string, b *bucket) error {
	deadline := time.Now().Add(b.policy.MaxWait)
	release, err := b.queue.wait(ctx, deadline)
	if err != nil {
		return err
	}
	defer release()

	poll := b.policy.interval()
	if poll < 5*time.Millisecond {
		poll = 5 * time.Millisecond
	}
	for {
		ok, err := l.remote.Take(ctx, sourceID, b.policy)
		if err != nil {
			return fmt.Errorf("shared rate limit bucket %s: %w", sourceID, err)
		}
		if ok {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &TimeoutError{RetryAfter: poll}
		}
		wait := poll
		if wait > remaining {
			wait = remaining
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

// Stats returns counters for every source seen so far.
func (l *Limiter) Stats() map[string]SourceStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]SourceStats, len(l.buckets))
	for id, b := range l.buckets {
		out[id] = SourceStats{
			Granted:  b.granted.Load(),
			Timeouts: b.timeouts.Load(),
			Waiting:  b.waiting.Load(),
		}
	}
	return out
}
