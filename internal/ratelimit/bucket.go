// Package ratelimit throttles scan submissions with token buckets, shared
// through Redis when the gateway runs more than one instance.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"time"
)

type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

func (b Bucket) perSecond() float64 {
	return float64(b.RequestsPerMinute) / 60.0
}

// idleTTL is how long an untouched bucket is kept: two full refills plus a
// little slack, bounded to [30s, 1h].
func (b Bucket) idleTTL() time.Duration {
	const (
		minTTL = 30 * time.Second
		maxTTL = time.Hour
	)
	if !b.Enabled() {
		return 2 * time.Minute
	}
	fill := float64(b.BurstSize) / b.perSecond()
	ttl := time.Duration(math.Ceil(fill*2))*time.Second + 5*time.Second
	switch {
	case ttl < minTTL:
		return minTTL
	case ttl > maxTTL:
		return maxTTL
	}
	return ttl
}

// Decision is the outcome of one Allow call. Remaining is the whole number of
// tokens left after the call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error)
}

func allow(remaining float64) Decision {
	return Decision{Allowed: true, Remaining: int(math.Max(0, math.Floor(remaining)))}
}

// deny rounds the wait up to whole seconds, the granularity of Retry-After.
func deny(wait time.Duration) Decision {
	secs := math.Ceil(wait.Seconds())
	if secs < 1 {
		secs = 1
	}
	return Decision{Allowed: false, RetryAfter: time.Duration(secs) * time.Second}
}

// subjectKey hashes the subject so bearer tokens never end up in Redis keys.
func subjectKey(scope, subject string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "unknown"
	}
	sum := sha256.Sum256([]byte(subject))
	return scope + ":" + hex.EncodeToString(sum[:])
}
