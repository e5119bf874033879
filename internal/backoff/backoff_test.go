package backoff

import (
	"context"
	"math/rand"
	"testing"
	"time"
)

const s = time.Second

func TestDelayFixed(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		max      time.Duration
		attempts int
		want     time.Duration
	}{
		{"base 5 max 10", 5 * s, 10 * s, 0, 5 * s},
		{"base 5 max 10 many attempts", 5 * s, 10 * s, 100, 5 * s},
		{"base exceeds max", 20 * s, 10 * s, 0, 10 * s},
		{"zero base defaults to 1ms", 0, 10 * s, 0, time.Millisecond},
		{"zero max equals base", 5 * s, 0, 0, 5 * s},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			got := Delay(PolicyFixed, tt.base, tt.max, tt.attempts, rng)
			if got != tt.want {
				t.Errorf("Delay(fixed) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayLinear(t *testing.T) {
	tests := []struct {
		name     string
		attempts int
		max      time.Duration
		want     time.Duration
	}{
		{"zero attempts", 0, 100 * s, 5 * s},
		{"one attempt", 1, 100 * s, 5 * s},
		{"three attempts", 3, 100 * s, 15 * s},
		{"capped at max", 10, 20 * s, 20 * s},
		{"negative attempts treated as zero", -1, 100 * s, 5 * s},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Delay(PolicyLinear, 5*s, tt.max, tt.attempts, nil)
			if got != tt.want {
				t.Errorf("Delay(linear) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDelayExponential(t *testing.T) {
	tests := []struct {
		attempts int
		max      time.Duration
		want     time.Duration
	}{
		{0, 1000 * s, 5 * s},
		{1, 1000 * s, 10 * s},
		{3, 1000 * s, 40 * s},
		{10, 50 * s, 50 * s},
		{4000, 50 * s, 50 * s},
	}

	for _, tt := range tests {
		got := Delay(PolicyExponential, 5*s, tt.max, tt.attempts, nil)
		if got != tt.want {
			t.Errorf("Delay(exponential, %d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestDelayJitterBounds(t *testing.T) {
	tests := []struct {
		policy   string
		attempts int
		lo, hi   time.Duration
	}{
		{PolicyExpEqualJitter, 0, 2500 * time.Millisecond, 5 * s},
		{PolicyExpEqualJitter, 2, 10 * s, 20 * s},
		{PolicyExpFullJitter, 1, 0, 10 * s},
		{"unknown_policy", 2, 0, 20 * s},
	}

	for _, tt := range tests {
		rng := rand.New(rand.NewSource(42))
		for i := 0; i < 50; i++ {
			got := Delay(tt.policy, 5*s, 1000*s, tt.attempts, rng)
			if got < tt.lo || got > tt.hi {
				t.Fatalf("Delay(%s, %d) = %v, want between %v and %v", tt.policy, tt.attempts, got, tt.lo, tt.hi)
			}
		}
	}
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{Name: PolicyLinear, Base: 100 * time.Millisecond, Max: time.Second}
	if got := p.Delay(2, nil); got != 200*time.Millisecond {
		t.Fatalf("expected 200ms, got %v", got)
	}
}

func TestSleepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Minute); err == nil {
		t.Fatalf("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("sleep did not return promptly")
	}
	if err := Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
