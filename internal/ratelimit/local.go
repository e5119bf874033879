package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter keeps token buckets in process memory. It serves a single
// gateway instance running without Redis.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	now     func() time.Time
}

type localBucket struct {
	lim    *rate.Limiter
	bucket Bucket
	seen   time.Time
}

func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{buckets: map[string]*localBucket{}, now: time.Now}
}

func (l *LocalLimiter) Allow(_ context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	key := subjectKey(scope, subject)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok || b.bucket != bucket {
		b = &localBucket{lim: rate.NewLimiter(rate.Limit(bucket.perSecond()), bucket.BurstSize), bucket: bucket}
		l.buckets[key] = b
	}
	b.seen = now
	l.evict(now)

	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return deny(time.Minute), nil
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return deny(wait), nil
	}
	return allow(b.lim.TokensAt(now)), nil
}

// evict drops buckets idle for longer than Redis would keep them.
func (l *LocalLimiter) evict(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) > b.bucket.idleTTL() {
			delete(l.buckets, k)
		}
	}
}
