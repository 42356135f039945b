package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterAllow(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 1, Burst: 3})
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("expected allow on call %d", i)
		}
	}
	if l.Allow() {
		t.Fatal("expected rejection after burst exhausted")
	}
}

func TestLimiterUnlimited(t *testing.T) {
	l := NewLimiter(LimiterOpts{})
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatal("zero rate should not limit")
		}
	}
}

func TestLimiterWait(t *testing.T) {
	l := Every(10*time.Millisecond, 1)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatal(err)
		}
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatal("Wait should have blocked for refill")
	}
}

func TestLimiterWaitCancelled(t *testing.T) {
	l := Every(time.Hour, 1)
	l.Allow()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected error when token cannot arrive before deadline")
	}
}

func TestLimiterCall(t *testing.T) {
	l := NewLimiter(LimiterOpts{Rate: 0.001, Burst: 1})
	ctx := context.Background()
	called := 0
	f := func(context.Context) error { called++; return nil }

	if err := l.Call(ctx, f); err != nil {
		t.Fatal(err)
	}
	if err := l.Call(ctx, f); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if called != 1 {
		t.Fatalf("expected 1 call, got %d", called)
	}
}

func TestLimiterCallWait(t *testing.T) {
	l := Every(5*time.Millisecond, 1)
	called := 0
	for i := 0; i < 2; i++ {
		if err := l.CallWait(context.Background(), func(context.Context) error { called++; return nil }); err != nil {
			t.Fatal(err)
		}
	}
	if called != 2 {
		t.Fatalf("expected 2 calls, got %d", called)
	}
}
