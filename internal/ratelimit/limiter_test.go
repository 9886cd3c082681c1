package ratelimit

import (
	"testing"
	"time"
)

func TestLimiterAllowsUpToLimit(t *testing.T) {
	limiter := NewLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, _ := limiter.Allow("user@example.com")
		if !ok {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
	}

	ok, retryAfter := limiter.Allow("user@example.com")
	if ok {
		t.Fatal("fourth attempt should be denied")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("unexpected retry-after %v", retryAfter)
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(1, time.Minute)

	limiter.Allow("a@example.com")
	if ok, _ := limiter.Allow("b@example.com"); !ok {
		t.Fatal("distinct keys should not share a window")
	}
}

func TestLimiterWindowRollsOver(t *testing.T) {
	limiter := NewLimiter(1, time.Minute)
	current := time.Now()
	limiter.now = func() time.Time { return current }

	limiter.Allow("user@example.com")
	if ok, _ := limiter.Allow("user@example.com"); ok {
		t.Fatal("second attempt inside the window should be denied")
	}

	current = current.Add(time.Minute)
	if ok, _ := limiter.Allow("user@example.com"); !ok {
		t.Fatal("attempt after the window lapsed should be allowed")
	}
}

func TestLimiterReset(t *testing.T) {
	limiter := NewLimiter(1, time.Minute)

	limiter.Allow("user@example.com")
	limiter.Reset("user@example.com")

	if ok, _ := limiter.Allow("user@example.com"); !ok {
		t.Fatal("reset key should be allowed again")
	}
}

func TestLimiterPrune(t *testing.T) {
	limiter := NewLimiter(1, time.Minute)
	current := time.Now()
	limiter.now = func() time.Time { return current }

	limiter.Allow("a@example.com")
	current = current.Add(2 * time.Minute)
	limiter.Allow("b@example.com")
	limiter.Prune()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.windows["a@example.com"]; ok {
		t.Fatal("lapsed window should be pruned")
	}
	if _, ok := limiter.windows["b@example.com"]; !ok {
		t.Fatal("live window should survive pruning")
	}
}
