package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

const (
	PolicyFixed          = "fixed"
	PolicyLinear         = "linear"
	PolicyExponential    = "exponential"
	PolicyExpEqualJitter = "exp_equal_jitter"
	PolicyExpFullJitter  = "exp_full_jitter"
)

// Policies lists the accepted policy names.
var Policies = []string{PolicyFixed, PolicyLinear, PolicyExponential, PolicyExpEqualJitter, PolicyExpFullJitter}

// Known reports whether name is one of Policies.
func Known(name string) bool {
	for _, p := range Policies {
		if p == name {
			return true
		}
	}
	return false
}

// Policy describes how retry delays grow.
type Policy struct {
	Name string
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt (0-based).
func Delay(policy string, base, max time.Duration, attempt int, rng *rand.Rand) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if base <= 0 {
		base = time.Millisecond
	}
	if max <= 0 {
		max = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch policy {
	case PolicyFixed:
		return min(base, max)
	case PolicyLinear:
		return min(base*time.Duration(maxInt(1, attempt)), max)
	case PolicyExponential:
		return exp(base, max, attempt)
	case PolicyExpEqualJitter:
		d := exp(base, max, attempt)
		half := d / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	default: // exp_full_jitter
		d := exp(base, max, attempt)
		if d <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(d) + 1))
	}
}

// Delay evaluates the policy for the given attempt.
func (p Policy) Delay(attempt int, rng *rand.Rand) time.Duration {
	return Delay(p.Name, p.Base, p.Max, attempt, rng)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func exp(base, max time.Duration, attempt int) time.Duration {
	f := float64(base) * math.Pow(2, float64(attempt))
	if f >= float64(max) || math.IsInf(f, 0) {
		return max
	}
	return time.Duration(f)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
