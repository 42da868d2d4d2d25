package redislock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/hylla/bomcat/internal/app"
)

var _ app.Locker = (*Locker)(nil)

func setupTestLocker(t *testing.T, opts Options) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	locker, err := New(context.Background(), "redis://"+s.Addr(), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		_ = locker.Close()
	})
	return locker, s
}

func TestLockExcludesSecondHolder(t *testing.T) {
	locker, s := setupTestLocker(t, Options{WaitTimeout: 60 * time.Millisecond, RetryInterval: 5 * time.Millisecond})
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "tree:t1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if !s.Exists("bomcat:lock:tree:t1") {
		t.Fatal("expected lease key to exist")
	}
	if _, err := locker.Lock(ctx, "tree:t1"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	other, err := locker.Lock(ctx, "tree:t2")
	if err != nil {
		t.Fatalf("Lock(other tenant) error = %v", err)
	}
	other()

	unlock()
	unlock()
	if s.Exists("bomcat:lock:tree:t1") {
		t.Fatal("expected release to delete the lease key")
	}
	again, err := locker.Lock(ctx, "tree:t1")
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	again()
}

func TestLockHonoursContextCancel(t *testing.T) {
	locker, _ := setupTestLocker(t, Options{RetryInterval: 5 * time.Millisecond})
	unlock, err := locker.Lock(context.Background(), "rag:t1:p1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := locker.Lock(ctx, "rag:t1:p1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStaleReleaseKeepsNewLease(t *testing.T) {
	locker, s := setupTestLocker(t, Options{LeaseTTL: time.Second, RetryInterval: 5 * time.Millisecond})
	ctx := context.Background()

	stale, err := locker.Lock(ctx, "tree:t1")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	s.FastForward(2 * time.Second)

	fresh, err := locker.Lock(ctx, "tree:t1")
	if err != nil {
		t.Fatalf("Lock() after expiry error = %v", err)
	}
	stale()
	if !s.Exists("bomcat:lock:tree:t1") {
		t.Fatal("stale release must not delete the new holder's lease")
	}
	fresh()
	if s.Exists("bomcat:lock:tree:t1") {
		t.Fatal("expected fresh release to delete the lease key")
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New(context.Background(), "not-a-url", Options{}); err == nil {
		t.Fatal("expected parse error")
	}
}
