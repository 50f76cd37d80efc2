package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestBucketAllowAndRefill(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	b := newBucket(Config{RequestsPerSecond: 2, BurstSize: 3}, clock.now)

	for i := 0; i < 3; i++ {
		if !b.Allow() {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if b.Allow() {
		t.Fatal("bucket should be empty")
	}

	clock.advance(500 * time.Millisecond)
	if !b.Allow() {
		t.Error("one token should refill after 500ms at 2/s")
	}

	clock.advance(time.Hour)
	if got := b.Tokens(); got != 3 {
		t.Errorf("tokens = %v, want capped at 3", got)
	}
}

func TestBucketDefaults(t *testing.T) {
	tests := []struct {
		cfg       Config
		wantBurst float64
	}{
		{Config{}, 10},
		{Config{RequestsPerSecond: 0.2}, 1},
		{Config{RequestsPerSecond: 4, BurstSize: 1}, 1},
	}
	for _, tt := range tests {
		b := NewBucket(tt.cfg)
		if b.maxTokens != tt.wantBurst {
			t.Errorf("NewBucket(%+v) burst = %v, want %v", tt.cfg, b.maxTokens, tt.wantBurst)
		}
	}
}

func TestBucketWait(t *testing.T) {
	b := NewBucket(Config{RequestsPerSecond: 100, BurstSize: 1})
	if err := b.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := b.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Errorf("second Wait returned after %v, expected to block for a refill", elapsed)
	}
}

func TestBucketWaitCanceled(t *testing.T) {
	b := NewBucket(Config{RequestsPerSecond: 0.01, BurstSize: 1})
	b.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want deadline exceeded", err)
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1, Enabled: true})
	if !l.Allow("api.example.com") || l.Allow("api.example.com") {
		t.Error("first request allowed, second denied expected")
	}
	if !l.Allow("10.0.0.1") {
		t.Error("other key should have its own bucket")
	}
	if l.Len() != 2 {
		t.Errorf("Len() = %d", l.Len())
	}
}

func TestLimiterDisabledAndNil(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 1, BurstSize: 1})
	for i := 0; i < 5; i++ {
		if !l.Allow("k") {
			t.Fatal("disabled limiter denied a request")
		}
	}
	var nilLimiter *Limiter
	if !nilLimiter.Allow("k") || nilLimiter.Wait(context.Background(), "k") != nil {
		t.Error("nil limiter should allow everything")
	}
}

func TestLimiterPrunesQuietKeys(t *testing.T) {
	l := NewLimiter(Config{RequestsPerSecond: 10, BurstSize: 10, Enabled: true})
	l.maxKeys = 5
	for i := 0; i < 5; i++ {
		l.Allow(fmt.Sprintf("quiet-%d", i))
	}
	time.Sleep(150 * time.Millisecond)

	l.Allow("new")
	if l.Len() > 2 {
		t.Errorf("Len() = %d, quiet keys should be pruned", l.Len())
	}
}
