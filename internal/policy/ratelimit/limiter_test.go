package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterWaitSpacesSameHost(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1 means one token every 100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "https://test.com/a"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://TEST.com/b"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 1, DefaultBurst: 1})
	ctx := context.Background()
	if err := l.Wait(ctx, "https://a.example.com"); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if err := l.Wait(ctx, "https://b.example.com"); err != nil {
		t.Fatal(err)
	}
	if dur := time.Since(start); dur > 50*time.Millisecond {
		t.Errorf("expected no wait for a different host, got %v", dur)
	}
}

func TestLimiterUnlimitedWhenRateUnset(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 50; i++ {
		if err := l.Wait(ctx, "https://example.com"); err != nil {
			t.Fatal(err)
		}
	}
	if dur := time.Since(start); dur > 50*time.Millisecond {
		t.Errorf("expected unlimited waits to be immediate, got %v", dur)
	}
}

func TestLimiterWaitCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.01, DefaultBurst: 1})
	if err := l.Wait(context.Background(), "https://slow.example.com"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "https://slow.example.com"); err == nil {
		t.Fatal("expected error when context deadline precedes next token")
	}
}
