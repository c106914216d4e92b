package swarm

import (
	"context"
	"hash/fnv"
	"strconv"
	"time"
)

// RetryPolicy controls adapter retries on transient errors.
type RetryPolicy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseBackoff time.Duration `mapstructure:"base_backoff"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// DefaultRetryPolicy returns 4 attempts starting at 500ms, capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 4, BaseBackoff: 500 * time.Millisecond, MaxBackoff: 10 * time.Second}
}

// backoff returns base*2^attempt capped at MaxBackoff, plus up to 25% jitter
// derived from seed so that a given item backs off the same way every run.
func (p RetryPolicy) backoff(attempt int, seed string) time.Duration {
	if p.BaseBackoff <= 0 {
		return 0
	}
	shift := attempt
	if shift > 30 {
		shift = 30
	}
	d := p.BaseBackoff << shift
	if d <= 0 || (p.MaxBackoff > 0 && d > p.MaxBackoff) {
		d = p.MaxBackoff
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed + "#" + strconv.Itoa(attempt)))
	if span := int64(d / 4); span > 0 {
		d += time.Duration(int64(h.Sum64()>>1) % span)
	}
	return d
}

// sleep waits for d or until ctx is done, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
