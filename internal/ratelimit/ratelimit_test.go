package ratelimit

import (
	"testing"
	"time"
)

func TestNilLimiterAllowsEverything(t *testing.T) {
	l := New(Config{Burst: 0})
	if l != nil {
		t.Fatal("New with zero burst should return nil")
	}
	for i := 0; i < 10; i++ {
		if ok, _, _ := l.Allow("10.0.0.1", time.Now()); !ok {
			t.Fatalf("nil limiter rejected call %d", i)
		}
	}
}

func TestBurstThenRefill(t *testing.T) {
	l := New(Config{Burst: 2, RefillPerMin: 60})
	now := time.Now()

	for i := 0; i < 2; i++ {
		if ok, _, _ := l.Allow("10.0.0.1", now); !ok {
			t.Fatalf("call %d within burst was rejected", i)
		}
	}

	ok, _, retry := l.Allow("10.0.0.1", now)
	if ok {
		t.Fatal("call over burst should be rejected")
	}
	if retry != time.Second {
		t.Errorf("retryAfter = %v, want 1s at 60/min", retry)
	}

	// Other keys have their own bucket.
	if ok, _, _ := l.Allow("10.0.0.2", now); !ok {
		t.Error("independent key was rejected")
	}

	if ok, _, _ := l.Allow("10.0.0.1", now.Add(time.Second)); !ok {
		t.Error("call after refill should be allowed")
	}
}

func TestIdleBucketsAreSwept(t *testing.T) {
	l := New(Config{Burst: 1, RefillPerMin: 1, SweepInterval: time.Second, IdleTTL: time.Minute})
	now := time.Now()

	l.Allow("10.0.0.1", now)
	l.Allow("10.0.0.2", now)
	if l.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", l.Len())
	}

	l.Allow("10.0.0.3", now.Add(2*time.Minute))
	if l.Len() != 1 {
		t.Errorf("Len() after sweep = %d, want 1", l.Len())
	}
}
