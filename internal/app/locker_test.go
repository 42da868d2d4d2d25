package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// TestLocalLockerSerializesKey verifies that holders of one key never overlap.
func TestLocalLockerSerializesKey(t *testing.T) {
	locker := NewLocalLocker()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		peak    int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "tree:t1")
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			mu.Lock()
			holders++
			peak = max(peak, holders)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			holders--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("peak concurrent holders = %d, want 1", peak)
	}
	if len(locker.slots) != 0 {
		t.Fatalf("expected released slots to be cleaned up, got %d", len(locker.slots))
	}
}

// TestLocalLockerHonoursContext verifies waiting callers give up when their context ends.
func TestLocalLockerHonoursContext(t *testing.T) {
	locker := NewLocalLocker()
	unlock, err := locker.Lock(context.Background(), "rag:t1:p1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "rag:t1:p1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
	other, err := locker.Lock(context.Background(), "rag:t1:p2")
	if err != nil {
		t.Fatalf("Lock(other key) error = %v", err)
	}
	other()
	unlock()
	unlock()
	again, err := locker.Lock(context.Background(), "rag:t1:p1")
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	again()
}

// TestActorContextRoundTrip verifies normalization and fallback of caller identity.
func TestActorContextRoundTrip(t *testing.T) {
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Fatal("ActorFromContext() expected no actor for empty context")
	}
	ctx := WithActor(context.Background(), "  user-9 ")
	actor, ok := ActorFromContext(ctx)
	if !ok || actor != "user-9" {
		t.Fatalf("ActorFromContext() = %q, %v", actor, ok)
	}
	if got := actorOrDefault(WithActor(context.Background(), " ")); got != DefaultActorID {
		t.Fatalf("actorOrDefault() = %q, want %q", got, DefaultActorID)
	}
}
