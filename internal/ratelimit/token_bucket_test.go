package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newRedisLimiter(t *testing.T) (*TokenBucketLimiter, *clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	c := &clock{t: time.Unix(1700000000, 0)}
	lim := NewTokenBucketLimiter(rdb)
	lim.now = c.now
	return lim, c
}

func newLocalLimiter() (*LocalLimiter, *clock) {
	c := &clock{t: time.Unix(1700000000, 0)}
	lim := NewLocalLimiter()
	lim.now = c.now
	return lim, c
}

func TestLimiters(t *testing.T) {
	type limiterCase struct {
		name string
		make func(t *testing.T) (Limiter, *clock)
	}
	cases := []limiterCase{
		{"redis", func(t *testing.T) (Limiter, *clock) { return newRedisLimiter(t) }},
		{"local", func(t *testing.T) (Limiter, *clock) { return newLocalLimiter() }},
	}
	ctx := context.Background()

	for _, lc := range cases {
		t.Run(lc.name+"/disabled", func(t *testing.T) {
			lim, _ := lc.make(t)
			for i := 0; i < 5; i++ {
				if dec, err := lim.Allow(ctx, "submit", "u", Bucket{}); err != nil || !dec.Allowed {
					t.Fatalf("expected disabled bucket to allow: %+v %v", dec, err)
				}
			}
		})

		t.Run(lc.name+"/burst then limit", func(t *testing.T) {
			lim, _ := lc.make(t)
			bucket := Bucket{RequestsPerMinute: 60, BurstSize: 2}

			first, err := lim.Allow(ctx, "submit", "user-1", bucket)
			if err != nil || !first.Allowed || first.Remaining != 1 {
				t.Fatalf("first: %+v %v", first, err)
			}
			second, err := lim.Allow(ctx, "submit", "user-1", bucket)
			if err != nil || !second.Allowed || second.Remaining != 0 {
				t.Fatalf("second: %+v %v", second, err)
			}
			third, err := lim.Allow(ctx, "submit", "user-1", bucket)
			if err != nil {
				t.Fatalf("third: %v", err)
			}
			if third.Allowed || third.RetryAfter != time.Second {
				t.Fatalf("expected third to wait 1s, got %+v", third)
			}

			other, err := lim.Allow(ctx, "submit", "user-2", bucket)
			if err != nil || !other.Allowed {
				t.Fatalf("expected independent bucket for user-2: %+v %v", other, err)
			}
		})

		t.Run(lc.name+"/refill", func(t *testing.T) {
			lim, c := lc.make(t)
			bucket := Bucket{RequestsPerMinute: 30, BurstSize: 1}

			if dec, _ := lim.Allow(ctx, "submit", "u", bucket); !dec.Allowed {
				t.Fatalf("expected first request allowed")
			}
			dec, _ := lim.Allow(ctx, "submit", "u", bucket)
			if dec.Allowed || dec.RetryAfter != 2*time.Second {
				t.Fatalf("expected 2s wait at 30 rpm, got %+v", dec)
			}
			c.advance(2100 * time.Millisecond)
			if dec, _ := lim.Allow(ctx, "submit", "u", bucket); !dec.Allowed {
				t.Fatalf("expected request allowed after refill, got %+v", dec)
			}
		})
	}
}

func TestIdleTTL(t *testing.T) {
	tests := []struct {
		bucket Bucket
		want   time.Duration
	}{
		{Bucket{}, 2 * time.Minute},
		{Bucket{RequestsPerMinute: 600, BurstSize: 1}, 30 * time.Second},
		{Bucket{RequestsPerMinute: 60, BurstSize: 30}, 65 * time.Second},
		{Bucket{RequestsPerMinute: 1, BurstSize: 100}, time.Hour},
	}
	for _, tt := range tests {
		if got := tt.bucket.idleTTL(); got != tt.want {
			t.Errorf("idleTTL(%+v) = %v, want %v", tt.bucket, got, tt.want)
		}
	}
}

func TestLocalLimiterEvictsIdleBuckets(t *testing.T) {
	lim, c := newLocalLimiter()
	bucket := Bucket{RequestsPerMinute: 60, BurstSize: 1}
	_, _ = lim.Allow(context.Background(), "submit", "a", bucket)
	c.advance(time.Hour)
	_, _ = lim.Allow(context.Background(), "submit", "b", bucket)

	if len(lim.buckets) != 1 {
		t.Fatalf("expected idle bucket evicted, have %d", len(lim.buckets))
	}
}

func TestSubjectKeyHidesSubject(t *testing.T) {
	k := subjectKey("", " secret-token ")
	if k != subjectKey("default", "secret-token") {
		t.Fatalf("expected trimmed subject and default scope, got %q", k)
	}
	if len(k) != len("default:")+64 {
		t.Fatalf("unexpected key %q", k)
	}
}
